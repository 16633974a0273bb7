package handler

import (
	"errors"
	"net/http"

	"github.com/d4l-network/d4l-gateway/internal/http/response"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

type AnalyticsHandler struct {
	analytics service.AnalyticsServiceInterface
}

func NewAnalyticsHandler(analytics service.AnalyticsServiceInterface) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// Event accepts after validation. Persistence is asynchronous and may drop
// under load; the caller is never told.
func (h *AnalyticsHandler) Event(w http.ResponseWriter, r *http.Request) {
	var in service.EventInput
	if err := decodeJSON(r, &in); err != nil {
		badJSON(w, r, err)
		return
	}
	if err := h.analytics.Track(r.Context(), in); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (h *AnalyticsHandler) Session(w http.ResponseWriter, r *http.Request) {
	var in service.SessionInput
	if err := decodeJSON(r, &in); err != nil && !errors.Is(err, errEmptyBody) {
		badJSON(w, r, err)
		return
	}
	in.UserAgent = r.UserAgent()
	session, err := h.analytics.StartSession(r.Context(), in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"sessionId": session.ID})
}
