package handler

import (
	"encoding/json"
	"net/http"

	"github.com/d4l-network/d4l-gateway/internal/http/middleware"
	"github.com/d4l-network/d4l-gateway/internal/http/response"
	"github.com/d4l-network/d4l-gateway/internal/observability"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

type TransactionHandler struct {
	relay service.RelayServiceInterface
}

func NewTransactionHandler(relay service.RelayServiceInterface) *TransactionHandler {
	return &TransactionHandler{relay: relay}
}

type transactionRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
}

// Execute answers 200 once the receipt is mined and 202 when the transaction
// was broadcast but is still pending.
func (h *TransactionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		badJSON(w, r, err)
		return
	}
	if req.Action == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "action is required", nil)
		return
	}
	result, err := h.relay.Execute(r.Context(), service.RelayRequest{Action: req.Action, Params: req.Params})
	if err != nil {
		observability.Audit(r, "relay.failed", "action", req.Action, "caller", caller(r), "error", err.Error())
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "relay.submitted", "action", result.Action, "caller", caller(r), "tx_hash", result.TransactionHash, "status", result.Status)
	status := http.StatusOK
	if result.Status == service.RelayStatusSubmitted {
		status = http.StatusAccepted
	}
	response.JSON(w, r, status, result)
}

func caller(r *http.Request) string {
	if middleware.IsAdminRequest(r.Context()) {
		return "admin_key"
	}
	if info, ok := middleware.SessionFromContext(r.Context()); ok {
		return info.Address
	}
	return "anonymous"
}
