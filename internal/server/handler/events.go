package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gavelhouse/gavel/internal/domain"
)

// EventStream defines what the events handler needs from the event bus: a
// read over the durable stream that event fan-out appends to.
type EventStream interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

const (
	defaultReplayCount = 100
	maxReplayCount     = 1000
)

// EventsHandler serves the event replay endpoint. WebSocket clients that
// miss events across a reconnect catch up here before resubscribing.
type EventsHandler struct {
	bus    EventStream
	stream string
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler reading from the named stream.
func NewEventsHandler(bus EventStream, stream string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		bus:    bus,
		stream: stream,
		logger: logger,
	}
}

// replayedEvent pairs a stream cursor with the event payload it carries.
type replayedEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// listEventsResponse wraps the replay output. Next is the cursor to pass as
// after on the following request, empty when the batch was empty.
type listEventsResponse struct {
	Events []replayedEvent `json:"events"`
	Next   string          `json:"next,omitempty"`
}

// ListEvents replays auction events from the durable stream in publish
// order. after is the last stream ID the client has seen, "0" for the
// beginning; limit caps the batch size.
// GET /api/events?after=1726000000000-0&limit=100
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}

	limit := defaultReplayCount
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxReplayCount)
	}

	msgs, err := h.bus.StreamRead(r.Context(), h.stream, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: event replay failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	resp := listEventsResponse{Events: make([]replayedEvent, 0, len(msgs))}
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			h.logger.WarnContext(r.Context(), "handler: skipping malformed stream entry",
				slog.String("stream_id", m.ID),
			)
			continue
		}
		resp.Events = append(resp.Events, replayedEvent{ID: m.ID, Event: m.Payload})
	}
	if len(msgs) > 0 {
		resp.Next = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}
