package handler

import (
	"net/http"

	"github.com/d4l-network/d4l-gateway/internal/http/response"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

type ClaimHandler struct {
	claims service.ClaimServiceInterface
}

func NewClaimHandler(claims service.ClaimServiceInterface) *ClaimHandler {
	return &ClaimHandler{claims: claims}
}

// Claim returns 200 when the claim confirmed on-chain and 202 when it was
// recorded for the reconciler or is still waiting for its receipt.
func (h *ClaimHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var in service.ClaimInput
	if err := decodeJSON(r, &in); err != nil {
		badJSON(w, r, err)
		return
	}
	if !ownsAddress(r, in.Address) {
		response.FromError(w, r, service.ErrAddressMismatch)
		return
	}
	outcome, err := h.claims.Claim(r.Context(), in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	status := http.StatusOK
	if outcome.Status == service.ClaimStatusRecorded || outcome.Status == service.ClaimStatusSubmitted {
		status = http.StatusAccepted
	}
	response.JSON(w, r, status, outcome)
}

func (h *ClaimHandler) Status(w http.ResponseWriter, r *http.Request) {
	view, err := h.claims.Status(r.Context(), r.URL.Query().Get("address"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}
