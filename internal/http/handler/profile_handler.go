package handler

import (
	"net/http"

	"github.com/d4l-network/d4l-gateway/internal/domain"
	"github.com/d4l-network/d4l-gateway/internal/http/middleware"
	"github.com/d4l-network/d4l-gateway/internal/http/response"
	"github.com/d4l-network/d4l-gateway/internal/observability"
	"github.com/d4l-network/d4l-gateway/internal/security"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

// ProfileHandler serves the off-chain fallback profile store.
type ProfileHandler struct {
	profiles service.ProfileServiceInterface
}

func NewProfileHandler(profiles service.ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

type profileView struct {
	HasProfile bool                  `json:"hasProfile"`
	Profile    *domain.ProfileRecord `json:"profile,omitempty"`
}

type markClaimedRequest struct {
	Address string `json:"address"`
}

func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(r.Context(), r.URL.Query().Get("address"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, profileView{HasProfile: p != nil, Profile: p})
}

func (h *ProfileHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var in service.ProfileInput
	if err := decodeJSON(r, &in); err != nil {
		badJSON(w, r, err)
		return
	}
	if !ownsAddress(r, in.Address) {
		response.FromError(w, r, service.ErrAddressMismatch)
		return
	}
	p, err := h.profiles.Upsert(r.Context(), in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, profileView{HasProfile: true, Profile: p})
}

func (h *ProfileHandler) MarkClaimed(w http.ResponseWriter, r *http.Request) {
	var req markClaimedRequest
	if err := decodeJSON(r, &req); err != nil {
		badJSON(w, r, err)
		return
	}
	if !ownsAddress(r, req.Address) {
		response.FromError(w, r, service.ErrAddressMismatch)
		return
	}
	p, err := h.profiles.MarkClaimed(r.Context(), req.Address)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "profile.marked_claimed", "address", p.Address)
	response.JSON(w, r, http.StatusOK, profileView{HasProfile: true, Profile: p})
}

// ownsAddress allows admin-key callers everything and session callers only
// their own wallet. Malformed addresses pass through to service validation.
func ownsAddress(r *http.Request, address string) bool {
	if middleware.IsAdminRequest(r.Context()) {
		return true
	}
	info, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		return false
	}
	if !security.IsAddress(address) {
		return true
	}
	return security.SameAddress(info.Address, address)
}
