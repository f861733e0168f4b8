package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/logging"
	"github.com/unclebandit/outreach-engine/internal/service"
)

type AnalyticsHandler struct {
	Analytics *service.AnalyticsService
	Logger    *zap.Logger
}

func NewAnalyticsHandler(analytics *service.AnalyticsService, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{Analytics: analytics, Logger: logging.OrNop(logger)}
}

func (h *AnalyticsHandler) Routes(r chi.Router) {
	r.Get("/analytics", h.GetAnalyticsHandler)
}

// GetAnalyticsHandler returns workspace totals for ?workspace_id=&timeframe=.
func (h *AnalyticsHandler) GetAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, err := h.Analytics.GetAnalytics(r.Context(), q.Get("workspace_id"), q.Get("timeframe"))
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, a)
}
