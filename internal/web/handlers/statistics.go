package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// StatisticsHandler reports hybrid recognition statistics.
type StatisticsHandler struct {
	svc *attendance.Service
}

// NewStatisticsHandler creates a new statistics handler.
func NewStatisticsHandler(svc *attendance.Service) *StatisticsHandler {
	return &StatisticsHandler{svc: svc}
}

// Get handles GET /api/v1/statistics over the recent decision window.
func (h *StatisticsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats := h.svc.Statistics()
	respondJSON(w, http.StatusOK, map[string]any{
		"statistics":    stats,
		"top_methods":   stats.SortedMethods(),
		"configuration": h.svc.Arbitrator().Config(),
	})
}
