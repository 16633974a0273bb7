package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/d4l-network/d4l-gateway/internal/chain"
	"github.com/d4l-network/d4l-gateway/internal/repository"
	"github.com/d4l-network/d4l-gateway/internal/rpcproxy"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Order matters: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{service.ErrMissingCredentials, http.StatusBadRequest, CodeBadRequest, ""},
	{service.ErrInvalidAddress, http.StatusBadRequest, CodeValidation, "invalid ethereum address"},
	{service.ErrValidation, http.StatusBadRequest, CodeValidation, ""},
	{service.ErrUnknownAction, http.StatusBadRequest, CodeValidation, ""},
	{chain.ErrInvalidArguments, http.StatusBadRequest, CodeValidation, ""},
	{rpcproxy.ErrInvalidParams, http.StatusBadRequest, CodeValidation, ""},
	{service.ErrInvalidNonce, http.StatusUnauthorized, CodeUnauthorized, ""},
	{service.ErrInvalidSignature, http.StatusUnauthorized, CodeUnauthorized, ""},
	{service.ErrSessionInvalid, http.StatusUnauthorized, CodeUnauthorized, ""},
	{service.ErrAddressMismatch, http.StatusForbidden, CodeForbidden, ""},
	{rpcproxy.ErrMethodNotAllowed, http.StatusForbidden, CodeForbidden, ""},
	{repository.ErrProfileNotFound, http.StatusNotFound, CodeNotFound, "profile not found"},
	{repository.ErrClaimRequestNotFound, http.StatusNotFound, CodeNotFound, "claim request not found"},
	{repository.ErrClaimNotPending, http.StatusConflict, CodeConflict, ""},
	{rpcproxy.ErrThrottled, http.StatusTooManyRequests, CodeRateLimited, "rpc proxy is busy, retry shortly"},
	{rpcproxy.ErrUpstreamUnavailable, http.StatusServiceUnavailable, CodeBlockchainUnavailable, "rpc provider unavailable"},
	{chain.ErrTxPending, http.StatusGatewayTimeout, CodeBlockchainUnavailable, "transaction submitted, confirmation pending"},
	{chain.ErrSignerUnavailable, http.StatusServiceUnavailable, CodeBlockchainUnavailable, "relay is not configured"},
	{chain.ErrSignerClosed, http.StatusServiceUnavailable, CodeBlockchainUnavailable, "relay is shutting down"},
}

// FromError writes the envelope for an error returned by a service. Unknown
// errors are logged and reported as INTERNAL_ERROR without their text.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := Classify(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", code, "error", err)
	}
	Error(w, r, status, code, message, nil)
}

// Classify maps err onto the API taxonomy.
func Classify(err error) (status int, code, message string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			return m.status, m.code, msg
		}
	}
	var ce *chain.ContractError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case chain.KindNetwork:
			return http.StatusServiceUnavailable, CodeBlockchainUnavailable, "blockchain is unavailable, retry later"
		case chain.KindSubmission:
			return http.StatusServiceUnavailable, CodeBlockchainUnavailable, "relay could not submit the transaction, retry later"
		case chain.KindReverted:
			msg := "contract call reverted"
			if ce.Reason != "" {
				msg += ": " + ce.Reason
			}
			return http.StatusBadGateway, CodeContractError, msg
		default:
			return http.StatusBadGateway, CodeContractError, "contract function unavailable: " + string(ce.Contract) + "." + ce.Function
		}
	}
	if chain.IsUnavailable(err) {
		return http.StatusServiceUnavailable, CodeBlockchainUnavailable, "blockchain is unavailable, retry later"
	}
	return http.StatusInternalServerError, CodeInternal, "internal server error"
}
