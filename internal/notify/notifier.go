// Package notify fans auction events out to operator channels. Each
// configured channel (Telegram, Discord, a signed webhook) is a Sender; the
// Notifier renders events, applies the configured event filter and delivers
// to every sender at once.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/gavelhouse/gavel/internal/domain"
)

// Sender delivers one rendered notification over a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs and joined errors.
	Name() string
}

// Notifier renders and fans out notifications. The event filter takes exact
// names ("auction.closed") and families ("auction.*"); an empty filter
// passes everything. NotifyAll skips the filter.
type Notifier struct {
	senders  []Sender
	exact    map[string]bool
	prefixes []string
	logger   *slog.Logger
}

// NewNotifier builds a Notifier delivering to senders. Filter entries
// ending in "*" match by prefix, the same shape the WebSocket channel
// subscriptions use.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	n := &Notifier{
		senders: senders,
		exact:   make(map[string]bool, len(events)),
		logger:  logger.With(slog.String("component", "notifier")),
	}
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if prefix, ok := strings.CutSuffix(e, "*"); ok {
			n.prefixes = append(n.prefixes, prefix)
			continue
		}
		n.exact[e] = true
	}
	return n
}

func (n *Notifier) allows(event string) bool {
	if len(n.exact) == 0 && len(n.prefixes) == 0 {
		return true
	}
	if n.exact[event] {
		return true
	}
	for _, p := range n.prefixes {
		if strings.HasPrefix(event, p) {
			return true
		}
	}
	return false
}

// Notify delivers to every sender when event passes the filter. A filtered
// event is not an error.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.allows(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// eventTitles maps auction event types to operator-facing headlines.
var eventTitles = map[string]string{
	"auction.created":              "Auction created",
	"auction.bid.leading":          "New leading bid",
	"auction.surplus.claimed":      "Surplus claimed",
	"auction.closed":               "Auction closed",
	"auction.suspended":            "Auction suspended",
	"auction.resumed":              "Auction resumed",
	"auction.emergency.withdrawal": "Emergency withdrawal",
	"auction.deadline.passed":      "Deadline passed",
}

// NotifyEvent renders an auction event and forwards it through the same
// event-type filter as Notify.
func (n *Notifier) NotifyEvent(ctx context.Context, evt domain.Event) error {
	title, message := renderEvent(evt)
	return n.Notify(ctx, evt.Type, title, message)
}

// renderEvent turns an event into a headline and a body with attributes in
// stable order.
func renderEvent(evt domain.Event) (title, message string) {
	title = eventTitles[evt.Type]
	if title == "" {
		title = evt.Type
	}
	if evt.AuctionID != "" {
		title = fmt.Sprintf("%s [%s]", title, evt.AuctionID)
	}

	keys := make([]string, 0, len(evt.Attributes))
	for k := range evt.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, evt.Attributes[k]))
	}
	return title, strings.Join(lines, "\n")
}

// dispatch delivers to every sender concurrently: each sender carries its
// own HTTP timeout, and one slow channel must not hold back the rest.
// Failures come back joined, one per failed sender.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range n.senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Send(ctx, title, message); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
				return
			}
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
