package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves backend runtime metadata for dashboards.
type StatusHandler struct {
	Mode      string
	Version   string
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler for the given run mode and build
// version.
func NewStatusHandler(mode, version string, startedAt time.Time) *StatusHandler {
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &StatusHandler{Mode: mode, Version: version, StartedAt: startedAt}
}

// GetStatus responds with the current backend mode, build version and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"version":        h.Version,
		"started_at":     h.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": uptime,
	})
}
