package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/d4l-network/d4l-gateway/internal/domain"
	"github.com/d4l-network/d4l-gateway/internal/http/response"
	"github.com/d4l-network/d4l-gateway/internal/observability"
	"github.com/d4l-network/d4l-gateway/internal/repository"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

type AdminHandler struct {
	claims     service.ClaimServiceInterface
	reconciler service.ReconcilerInterface
	analytics  service.AnalyticsServiceInterface
}

func NewAdminHandler(claims service.ClaimServiceInterface, reconciler service.ReconcilerInterface, analytics service.AnalyticsServiceInterface) *AdminHandler {
	return &AdminHandler{claims: claims, reconciler: reconciler, analytics: analytics}
}

type resolveClaimRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *AdminHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, err.Error(), nil)
		return
	}
	pageSize, err := queryInt(r, "page_size", 20)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, err.Error(), nil)
		return
	}
	status := domain.ClaimStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	if status != "" && !status.Valid() {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "status must be pending, confirmed or failed", nil)
		return
	}
	result, err := h.claims.List(r.Context(), repository.ClaimListQuery{
		PageRequest: repository.PageRequest{Page: page, PageSize: pageSize},
		Status:      status,
		Address:     r.URL.Query().Get("address"),
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.RunOnce(r.Context())
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "admin.reconcile", "scanned", report.Scanned, "confirmed", report.Confirmed, "failed", report.Failed)
	response.JSON(w, r, http.StatusOK, report)
}

func (h *AdminHandler) ResolveClaim(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "invalid claim id", nil)
		return
	}
	var req resolveClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		badJSON(w, r, err)
		return
	}
	claim, err := h.claims.Resolve(r.Context(), uint(id), domain.ClaimStatus(strings.ToLower(strings.TrimSpace(req.Status))), req.Note)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "admin.claim_resolved", "claim_id", claim.ID, "status", string(claim.Status))
	response.JSON(w, r, http.StatusOK, claim)
}

func (h *AdminHandler) AnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := strings.TrimSpace(r.URL.Query().Get("window")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "window must be a positive duration such as 24h", nil)
			return
		}
		window = d
	}
	summary, err := h.analytics.Summary(r.Context(), window)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, summary)
}
