package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gavelhouse/gavel/internal/domain"
)

// AuditLog defines the methods that the audit handler requires from the
// audit store.
type AuditLog interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	ListByEvent(ctx context.Context, eventPrefix string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit trail endpoint.
type AuditHandler struct {
	audit  AuditLog
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler with the given log and logger.
func NewAuditHandler(audit AuditLog, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// listAuditResponse wraps the audit trail output.
type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListEntries returns audit entries newest first, optionally filtered by an
// event name prefix such as "auction." or "settle".
// GET /api/audit?event=auction.&limit=50&offset=0
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	eventPrefix := r.URL.Query().Get("event")

	var (
		entries []domain.AuditEntry
		err     error
	)
	if eventPrefix != "" {
		entries, err = h.audit.ListByEvent(r.Context(), eventPrefix, opts)
	} else {
		entries, err = h.audit.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit entries failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, listAuditResponse{
		Entries: entries,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}
