package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/hybrid"
)

// healthChecker is implemented by extractors that can report their own health.
type healthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler reports the service and extractor status.
type HealthHandler struct {
	arb *hybrid.Arbitrator
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(arb *hybrid.Arbitrator) *HealthHandler {
	return &HealthHandler{arb: arb}
}

// Check handles GET /api/v1/health. Unreachable extractors degrade the
// status but the endpoint itself still answers 200.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	extractors := make(map[string]string, 2)
	for _, rec := range []hybrid.Recognizer{h.arb.Fast(), h.arb.Accurate()} {
		state := "unknown"
		if hc, ok := rec.Extractor.(healthChecker); ok {
			state = "ok"
			if err := hc.Health(ctx); err != nil {
				state = err.Error()
				status = "degraded"
			}
		}
		extractors[string(rec.Kind())] = state
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"extractors": extractors,
		"mode":       h.arb.Config().Mode,
	})
}
