package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/http/middleware"
	"github.com/d4l-network/d4l-gateway/internal/http/response"
	"github.com/d4l-network/d4l-gateway/internal/observability"
	"github.com/d4l-network/d4l-gateway/internal/security"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

type AuthHandler struct {
	auth    service.AuthServiceInterface
	cookies security.CookieOptions
}

func NewAuthHandler(auth service.AuthServiceInterface, cookies security.CookieOptions) *AuthHandler {
	return &AuthHandler{auth: auth, cookies: cookies}
}

type nonceRequest struct {
	Address string `json:"address"`
}

type loginRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
}

type sessionResponse struct {
	Authenticated bool      `json:"authenticated"`
	Address       string    `json:"address"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Token         string    `json:"token,omitempty"`
}

func (h *AuthHandler) Nonce(w http.ResponseWriter, r *http.Request) {
	var req nonceRequest
	if err := decodeJSON(r, &req); err != nil {
		badJSON(w, r, err)
		return
	}
	challenge, err := h.auth.IssueNonce(r.Context(), req.Address)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, challenge)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			response.FromError(w, r, service.ErrMissingCredentials)
			return
		}
		badJSON(w, r, err)
		return
	}
	result, err := h.auth.Login(r.Context(), service.LoginInput{
		Address:   req.Address,
		Signature: req.Signature,
		Nonce:     req.Nonce,
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	})
	if err != nil {
		observability.Audit(r, "auth.login_failed", "address", security.NormalizeAddress(req.Address), "reason", err.Error())
		response.FromError(w, r, err)
		return
	}
	security.SetSessionCookie(w, h.cookies, result.Token, result.ExpiresAt)
	observability.Audit(r, "auth.login", "address", result.Address, "session_id", result.TokenID)
	response.JSON(w, r, http.StatusOK, sessionResponse{
		Authenticated: true,
		Address:       result.Address,
		ExpiresAt:     result.ExpiresAt,
		Token:         result.Token,
	})
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.FromError(w, r, service.ErrSessionInvalid)
		return
	}
	response.JSON(w, r, http.StatusOK, sessionResponse{Authenticated: true, Address: info.Address, ExpiresAt: info.ExpiresAt})
}

// Logout always clears the cookie, even when the token was already invalid.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if raw, _ := middleware.SessionToken(r); raw != "" {
		if err := h.auth.Logout(r.Context(), raw); err != nil {
			response.FromError(w, r, err)
			return
		}
	}
	security.ClearSessionCookie(w, h.cookies)
	observability.Audit(r, "auth.logout")
	response.JSON(w, r, http.StatusOK, map[string]bool{"loggedOut": true})
}

func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.FromError(w, r, service.ErrSessionInvalid)
		return
	}
	sessions, err := h.auth.ListSessions(r.Context(), info)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.FromError(w, r, service.ErrSessionInvalid)
		return
	}
	n, err := h.auth.LogoutAll(r.Context(), info.Address)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	security.ClearSessionCookie(w, h.cookies)
	observability.Audit(r, "auth.logout_all", "address", info.Address, "revoked", n)
	response.JSON(w, r, http.StatusOK, map[string]int64{"revoked": n})
}
