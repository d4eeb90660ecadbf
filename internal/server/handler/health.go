package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthProbe checks one backing dependency. Name identifies the dependency
// in the response body.
type HealthProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	logger *slog.Logger
	probes []HealthProbe
}

// NewHealthHandler creates a HealthHandler. Probes are optional; without any,
// the endpoint only reports that the process is alive.
func NewHealthHandler(logger *slog.Logger, probes ...HealthProbe) *HealthHandler {
	return &HealthHandler{logger: logger, probes: probes}
}

// HealthCheck reports liveness plus the state of each backing dependency.
// A failing probe flips the overall status to degraded and the response code
// to 503 so load balancers stop routing here.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(h.probes))
	for _, p := range h.probes {
		if err := p.Check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health probe failed",
				slog.String("probe", p.Name),
				slog.String("error", err.Error()),
			)
			checks[p.Name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[p.Name] = "ok"
	}

	body := map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	writeJSON(w, code, body)
}
