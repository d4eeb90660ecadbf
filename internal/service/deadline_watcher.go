package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gavelhouse/gavel/internal/auction"
	"github.com/gavelhouse/gavel/internal/domain"
	"github.com/gavelhouse/gavel/internal/notify"
)

// DeadlineWatcher walks the unsettled auctions on an interval, announces
// deadlines as they pass, and optionally settles the auction on the owner's
// behalf. Settlement retries every tick until it lands, so an interrupted
// run resumes without operator action.
type DeadlineWatcher struct {
	auctions   domain.AuctionStore
	svc        *AuctionService
	bus        EventPublisher
	notifier   *notify.Notifier
	pollDur    time.Duration
	autoSettle bool
	logger     *slog.Logger

	announced map[string]bool
}

// NewDeadlineWatcher creates a DeadlineWatcher. pollInterval is how often to
// scan for passed deadlines; autoSettle makes the watcher run settlement as
// the auction owner instead of waiting for an API call.
func NewDeadlineWatcher(
	auctions domain.AuctionStore,
	svc *AuctionService,
	bus EventPublisher,
	notifier *notify.Notifier,
	pollInterval time.Duration,
	autoSettle bool,
	logger *slog.Logger,
) *DeadlineWatcher {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &DeadlineWatcher{
		auctions:   auctions,
		svc:        svc,
		bus:        bus,
		notifier:   notifier,
		pollDur:    pollInterval,
		autoSettle: autoSettle,
		logger:     logger.With(slog.String("component", "deadline_watcher")),
		announced:  make(map[string]bool),
	}
}

// Run scans until the context is cancelled. Call in a goroutine.
func (w *DeadlineWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.scan(ctx); err != nil {
				w.logger.ErrorContext(ctx, "deadline scan failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (w *DeadlineWatcher) scan(ctx context.Context) error {
	unsettled, err := w.auctions.ListUnsettled(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	live := make(map[string]bool, len(unsettled))
	for _, a := range unsettled {
		live[a.ID] = true
		if !now.After(a.Deadline) {
			continue
		}
		if !w.announced[a.ID] {
			w.announce(ctx, a)
			w.announced[a.ID] = true
		}
		if w.autoSettle && !a.Suspended {
			w.settle(ctx, a)
		}
	}

	// Drop bookkeeping for auctions that settled or were removed.
	for id := range w.announced {
		if !live[id] {
			delete(w.announced, id)
		}
	}
	return nil
}

func (w *DeadlineWatcher) announce(ctx context.Context, a domain.Auction) {
	evt := auction.DeadlinePassedEvent(a.ID, a.Deadline)
	evt.At = time.Now().UTC()

	if w.bus != nil {
		if err := w.bus.PublishEvent(ctx, evt); err != nil {
			w.logger.WarnContext(ctx, "publish deadline event failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if w.notifier != nil {
		if err := w.notifier.NotifyEvent(ctx, evt); err != nil {
			w.logger.WarnContext(ctx, "notify deadline event failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	w.logger.InfoContext(ctx, "auction deadline passed",
		slog.String("auction_id", a.ID),
		slog.Time("deadline", a.Deadline),
	)
}

func (w *DeadlineWatcher) settle(ctx context.Context, a domain.Auction) {
	_, err := w.svc.Settle(ctx, a.ID, a.Owner)
	if err == nil {
		w.logger.InfoContext(ctx, "auction auto-settled", slog.String("auction_id", a.ID))
		return
	}

	// Benign races: another replica holds the lock, or settlement already
	// happened between the scan and this call.
	if errors.Is(err, domain.ErrLockHeld) || errors.Is(err, domain.ErrAlreadySettled) {
		w.logger.DebugContext(ctx, "auto-settle skipped",
			slog.String("auction_id", a.ID),
			slog.String("reason", err.Error()),
		)
		return
	}
	w.logger.ErrorContext(ctx, "auto-settle failed",
		slog.String("auction_id", a.ID),
		slog.String("error", err.Error()),
	)
}
