package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gavelhouse/gavel/internal/auction"
	rediscache "github.com/gavelhouse/gavel/internal/cache/redis"
	"github.com/gavelhouse/gavel/internal/crypto"
	"github.com/gavelhouse/gavel/internal/domain"
	"github.com/gavelhouse/gavel/internal/notify"
)

// AuctionConfig fixes the parameters stamped onto every auction this service
// creates, plus the request policies applied around engine operations.
type AuctionConfig struct {
	IncreasePct     int64
	DiscountPct     int64
	ExtensionWindow time.Duration

	ChainID           int
	RequireSignedBids bool

	BidRateLimit  int
	BidRateWindow time.Duration
	LockTTL       time.Duration
}

// withDefaults fills unset fields with the standard auction parameters.
func (c AuctionConfig) withDefaults() AuctionConfig {
	if c.IncreasePct <= 0 {
		c.IncreasePct = 5
	}
	if c.DiscountPct < 0 {
		c.DiscountPct = 2
	}
	if c.ExtensionWindow <= 0 {
		c.ExtensionWindow = 10 * time.Minute
	}
	if c.ChainID <= 0 {
		c.ChainID = 1
	}
	if c.BidRateLimit <= 0 {
		c.BidRateLimit = 10
	}
	if c.BidRateWindow <= 0 {
		c.BidRateWindow = time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 15 * time.Second
	}
	return c
}

// EventPublisher is the slice of the event bus the services need: fan-out
// of one event to subscribers and the durable stream.
type EventPublisher interface {
	PublishEvent(ctx context.Context, evt domain.Event) error
}

// engineEntry pairs one in-memory engine with the lock serializing its
// operations. Events the engine emits are buffered in pending and published
// only after the state they describe has been persisted.
type engineEntry struct {
	mu           sync.Mutex
	eng          *auction.Engine
	pending      []domain.Event
	persistedSeq int64
}

// AuctionService hosts the live auction engines and orchestrates every
// operation on them: request policy in front, persistence and event fan-out
// behind. Engines are the source of truth while an auction is open; the
// stores carry a write-behind copy that survives restarts.
type AuctionService struct {
	cfg      AuctionConfig
	auctions domain.AuctionStore
	parts    domain.ParticipantStore
	bids     domain.BidStore
	payouts  domain.PayoutStore
	audit    domain.AuditStore
	treasury domain.Treasury
	bus      EventPublisher
	limiter  domain.RateLimiter
	locks    domain.LockManager
	notifier *notify.Notifier
	archiver domain.Archiver
	logger   *slog.Logger

	mu      sync.RWMutex
	engines map[string]*engineEntry
}

// NewAuctionService creates an AuctionService with the required dependencies.
// Bus, limiter, locks, notifier and archiver are optional and attached with
// the With* methods.
func NewAuctionService(
	cfg AuctionConfig,
	auctions domain.AuctionStore,
	parts domain.ParticipantStore,
	bids domain.BidStore,
	payouts domain.PayoutStore,
	audit domain.AuditStore,
	treasury domain.Treasury,
	logger *slog.Logger,
) *AuctionService {
	return &AuctionService{
		cfg:      cfg.withDefaults(),
		auctions: auctions,
		parts:    parts,
		bids:     bids,
		payouts:  payouts,
		audit:    audit,
		treasury: treasury,
		logger:   logger,
		engines:  make(map[string]*engineEntry),
	}
}

// WithEventBus attaches a bus for event fan-out to subscribers.
func (s *AuctionService) WithEventBus(bus EventPublisher) *AuctionService {
	s.bus = bus
	return s
}

// WithRateLimiter attaches a per-bidder rate limiter.
func (s *AuctionService) WithRateLimiter(limiter domain.RateLimiter) *AuctionService {
	s.limiter = limiter
	return s
}

// WithLockManager attaches a distributed lock manager so multiple replicas
// never mutate the same auction concurrently.
func (s *AuctionService) WithLockManager(locks domain.LockManager) *AuctionService {
	s.locks = locks
	return s
}

// WithNotifier attaches outbound notifications for auction events.
func (s *AuctionService) WithNotifier(n *notify.Notifier) *AuctionService {
	s.notifier = n
	return s
}

// WithArchiver attaches blob archival of settled auctions.
func (s *AuctionService) WithArchiver(a domain.Archiver) *AuctionService {
	s.archiver = a
	return s
}

// Restore loads every unsettled auction from the stores and rebuilds its
// engine. Call once at startup before serving requests. A corrupt auction is
// logged and skipped rather than blocking the rest.
func (s *AuctionService) Restore(ctx context.Context) error {
	unsettled, err := s.auctions.ListUnsettled(ctx)
	if err != nil {
		return fmt.Errorf("auction_service: list unsettled: %w", err)
	}

	restored := 0
	for _, a := range unsettled {
		if _, err := s.load(ctx, a); err != nil {
			s.logger.ErrorContext(ctx, "auction_service: restore failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		restored++
	}

	s.logger.InfoContext(ctx, "auction_service: engines restored",
		slog.Int("restored", restored),
		slog.Int("total", len(unsettled)),
	)
	return nil
}

// load rebuilds one engine from its persisted rows and registers it.
func (s *AuctionService) load(ctx context.Context, a domain.Auction) (*engineEntry, error) {
	parts, err := s.parts.ListByAuction(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("auction_service: load participants %s: %w", a.ID, err)
	}
	bids, err := s.bids.ListByAuction(ctx, a.ID, domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("auction_service: load bids %s: %w", a.ID, err)
	}

	entry := &engineEntry{}
	eng, err := auction.Restore(auction.Snapshot{
		Auction:      a,
		Participants: parts,
		Bids:         bids,
	}, s.treasury, domain.EmitterFunc(func(evt domain.Event) {
		entry.pending = append(entry.pending, evt)
	}))
	if err != nil {
		return nil, fmt.Errorf("auction_service: restore engine %s: %w", a.ID, err)
	}
	entry.eng = eng
	if len(bids) > 0 {
		entry.persistedSeq = bids[len(bids)-1].Seq
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.engines[a.ID]; ok {
		return existing, nil
	}
	s.engines[a.ID] = entry
	return entry, nil
}

// resolve returns the engine entry for an auction, rebuilding it from the
// stores when it is not yet in memory.
func (s *AuctionService) resolve(ctx context.Context, auctionID string) (*engineEntry, error) {
	s.mu.RLock()
	entry, ok := s.engines[auctionID]
	s.mu.RUnlock()
	if ok {
		return entry, nil
	}

	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("auction_service: auction %s: %w", auctionID, err)
	}
	return s.load(ctx, a)
}

// lockAuction takes the cross-replica lock when a lock manager is attached.
// The in-process entry mutex alone is enough for a single replica.
func (s *AuctionService) lockAuction(ctx context.Context, auctionID string) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	unlock, err := s.locks.Acquire(ctx, rediscache.AuctionLockKey(auctionID), s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("auction_service: lock auction %s: %w", auctionID, err)
	}
	return unlock, nil
}

// persistLocked writes the engine's current state through to the stores.
// Callers must hold entry.mu. Bid rows past persistedSeq are appended so a
// previously failed write heals on the next successful one.
func (s *AuctionService) persistLocked(ctx context.Context, entry *engineEntry) error {
	snap := entry.eng.Snapshot()

	if err := s.auctions.Update(ctx, snap.Auction); err != nil {
		return fmt.Errorf("auction_service: persist auction %s: %w", snap.Auction.ID, err)
	}
	if len(snap.Participants) > 0 {
		if err := s.parts.UpsertBatch(ctx, snap.Participants); err != nil {
			return fmt.Errorf("auction_service: persist participants %s: %w", snap.Auction.ID, err)
		}
	}
	for _, b := range snap.Bids {
		if b.Seq <= entry.persistedSeq {
			continue
		}
		if err := s.bids.Append(ctx, b); err != nil {
			return fmt.Errorf("auction_service: persist bid %s/%d: %w", snap.Auction.ID, b.Seq, err)
		}
		entry.persistedSeq = b.Seq
	}
	return nil
}

// publishLocked drains the entry's buffered events to the bus and notifier.
// Failures are logged and never fail the operation that produced the events.
// Bus publishes stay synchronous so subscribers see events in order; slow
// notification senders run outside the auction lock. Callers must hold
// entry.mu.
func (s *AuctionService) publishLocked(ctx context.Context, entry *engineEntry) {
	events := entry.pending
	entry.pending = nil

	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
		if events[i].At.IsZero() {
			events[i].At = time.Now().UTC()
		}
		if s.bus != nil {
			if err := s.bus.PublishEvent(ctx, events[i]); err != nil {
				s.logger.WarnContext(ctx, "auction_service: publish event failed",
					slog.String("type", events[i].Type),
					slog.String("auction_id", events[i].AuctionID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if s.notifier != nil && len(events) > 0 {
		go s.notifyAll(events)
	}
}

// notifyAll delivers events to the notification senders in the background.
func (s *AuctionService) notifyAll(events []domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, evt := range events {
		if err := s.notifier.NotifyEvent(ctx, evt); err != nil {
			s.logger.Warn("auction_service: notify event failed",
				slog.String("type", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

// auditLog writes an audit row, logging instead of failing when the write
// does not land.
func (s *AuctionService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "auction_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// Create opens a new auction with the service's configured parameters and
// registers a live engine for it.
func (s *AuctionService) Create(ctx context.Context, owner common.Address, floor *big.Int, deadline time.Time) (domain.Auction, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	entry := &engineEntry{}
	eng, err := auction.New(auction.Config{
		ID:              id,
		Owner:           owner,
		IncreasePct:     s.cfg.IncreasePct,
		DiscountPct:     s.cfg.DiscountPct,
		ExtensionWindow: s.cfg.ExtensionWindow,
		StartingFloor:   floor,
		Deadline:        deadline,
		CreatedAt:       now,
		Treasury:        s.treasury,
		Emitter: domain.EmitterFunc(func(evt domain.Event) {
			entry.pending = append(entry.pending, evt)
		}),
	})
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: new engine: %w", err)
	}
	entry.eng = eng

	a := eng.Auction()
	if err := s.auctions.Create(ctx, a); err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: create auction %s: %w", id, err)
	}

	s.mu.Lock()
	s.engines[id] = entry
	s.mu.Unlock()

	entry.mu.Lock()
	entry.pending = append(entry.pending, auction.AuctionCreatedEvent(a))
	s.publishLocked(ctx, entry)
	entry.mu.Unlock()

	s.auditLog(ctx, "auction.created", map[string]any{
		"auction_id": id,
		"owner":      owner.Hex(),
		"floor":      floor.String(),
		"deadline":   deadline.UTC().Format(time.RFC3339),
	})
	s.logger.InfoContext(ctx, "auction_service: auction created",
		slog.String("auction_id", id),
		slog.String("owner", owner.Hex()),
		slog.String("floor", floor.String()),
		slog.Time("deadline", deadline),
	)
	return a, nil
}

// Get returns one auction, preferring the live engine state over the store.
func (s *AuctionService) Get(ctx context.Context, id string) (domain.Auction, error) {
	s.mu.RLock()
	entry, ok := s.engines[id]
	s.mu.RUnlock()
	if ok {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return entry.eng.Auction(), nil
	}

	a, err := s.auctions.GetByID(ctx, id)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: get auction %s: %w", id, err)
	}
	return a, nil
}

// List returns auctions from the store, newest first.
func (s *AuctionService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	auctions, err := s.auctions.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("auction_service: list auctions: %w", err)
	}
	return auctions, nil
}

// Participants returns the accounting records of one auction in first-bid
// order, live when the engine is in memory.
func (s *AuctionService) Participants(ctx context.Context, auctionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	entry, ok := s.engines[auctionID]
	s.mu.RUnlock()
	if ok {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return entry.eng.Snapshot().Participants, nil
	}

	if _, err := s.auctions.GetByID(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("auction_service: auction %s: %w", auctionID, err)
	}
	parts, err := s.parts.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("auction_service: list participants %s: %w", auctionID, err)
	}
	return parts, nil
}

// Participant returns one identity's accounting record for an auction,
// live when the engine is in memory. Unregistered identities are NotFound.
func (s *AuctionService) Participant(ctx context.Context, auctionID string, identity common.Address) (domain.Participant, error) {
	s.mu.RLock()
	entry, ok := s.engines[auctionID]
	s.mu.RUnlock()
	if ok {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		p, found := entry.eng.Participant(identity)
		if !found {
			return domain.Participant{}, fmt.Errorf("auction_service: participant %s in %s: %w",
				identity.Hex(), auctionID, domain.ErrNotFound)
		}
		return p, nil
	}

	if _, err := s.auctions.GetByID(ctx, auctionID); err != nil {
		return domain.Participant{}, fmt.Errorf("auction_service: auction %s: %w", auctionID, err)
	}
	p, err := s.parts.GetByAddress(ctx, auctionID, identity)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("auction_service: participant %s in %s: %w",
			identity.Hex(), auctionID, err)
	}
	return p, nil
}

// Bids returns ledger entries for one auction in sequence order.
func (s *AuctionService) Bids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.BidEntry, error) {
	if _, err := s.auctions.GetByID(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("auction_service: auction %s: %w", auctionID, err)
	}
	bids, err := s.bids.ListByAuction(ctx, auctionID, opts)
	if err != nil {
		return nil, fmt.Errorf("auction_service: list bids %s: %w", auctionID, err)
	}
	return bids, nil
}

// Payouts returns the settlement disbursements recorded for one auction.
func (s *AuctionService) Payouts(ctx context.Context, auctionID string) ([]domain.Payout, error) {
	if _, err := s.auctions.GetByID(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("auction_service: auction %s: %w", auctionID, err)
	}
	payouts, err := s.payouts.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("auction_service: list payouts %s: %w", auctionID, err)
	}
	return payouts, nil
}

// PlaceBid verifies and applies one bid envelope. The deposit moves into
// custody and the new ledger tail is returned. The server clock, not the
// envelope's placed_at, drives deadline decisions.
func (s *AuctionService) PlaceBid(ctx context.Context, env crypto.BidEnvelope, signature string) (domain.BidReceipt, error) {
	if !common.IsHexAddress(env.Bidder) {
		return domain.BidReceipt{}, fmt.Errorf("auction_service: bidder %q: %w", env.Bidder, domain.ErrInvalidAddress)
	}
	bidder := common.HexToAddress(env.Bidder)

	if s.limiter != nil {
		dec, err := s.limiter.Allow(ctx, "bids:"+bidder.Hex(), s.cfg.BidRateLimit, s.cfg.BidRateWindow)
		if err != nil {
			return domain.BidReceipt{}, fmt.Errorf("auction_service: rate limiter: %w", err)
		}
		if !dec.Allowed {
			return domain.BidReceipt{}, domain.ErrRateLimited
		}
	}

	switch {
	case signature != "":
		recovered, err := crypto.RecoverBidder(env, signature, s.cfg.ChainID)
		if err != nil {
			return domain.BidReceipt{}, fmt.Errorf("auction_service: recover bidder: %w", err)
		}
		if recovered != bidder {
			return domain.BidReceipt{}, fmt.Errorf("auction_service: envelope signed by %s, not %s: %w",
				recovered.Hex(), bidder.Hex(), domain.ErrInvalidSignature)
		}
	case s.cfg.RequireSignedBids:
		return domain.BidReceipt{}, fmt.Errorf("auction_service: bid envelope is unsigned: %w", domain.ErrInvalidSignature)
	}

	amount, ok := new(big.Int).SetString(env.Amount, 10)
	if !ok {
		return domain.BidReceipt{}, fmt.Errorf("auction_service: amount %q: %w", env.Amount, domain.ErrInvalidAmount)
	}

	entry, err := s.resolve(ctx, env.AuctionID)
	if err != nil {
		return domain.BidReceipt{}, err
	}
	unlock, err := s.lockAuction(ctx, env.AuctionID)
	if err != nil {
		return domain.BidReceipt{}, err
	}
	defer unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := entry.eng.PlaceBid(ctx, bidder, amount, time.Now().UTC()); err != nil {
		return domain.BidReceipt{}, err
	}
	if err := s.persistLocked(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "auction_service: bid accepted but persistence failed",
			slog.String("auction_id", env.AuctionID),
			slog.String("bidder", bidder.Hex()),
			slog.String("error", err.Error()),
		)
		return domain.BidReceipt{}, err
	}
	s.publishLocked(ctx, entry)

	bids := entry.eng.Bids()
	tail := bids[len(bids)-1]
	s.auditLog(ctx, "bid.placed", map[string]any{
		"auction_id": env.AuctionID,
		"bidder":     bidder.Hex(),
		"amount":     amount.String(),
		"seq":        tail.Seq,
	})
	s.logger.InfoContext(ctx, "auction_service: bid placed",
		slog.String("auction_id", env.AuctionID),
		slog.String("bidder", bidder.Hex()),
		slog.String("amount", amount.String()),
		slog.Int64("seq", tail.Seq),
	)

	return domain.BidReceipt{
		Entry:         tail,
		Deadline:      entry.eng.Deadline(),
		HighestAmount: entry.eng.HighestAmount(),
	}, nil
}

// ClaimSurplus returns the caller's deposit not backing its current offer.
// A zero claim is a successful no-op.
func (s *AuctionService) ClaimSurplus(ctx context.Context, auctionID string, identity common.Address) (*big.Int, error) {
	entry, err := s.resolve(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	amount, err := entry.eng.ClaimSurplus(ctx, identity, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return amount, nil
	}

	if err := s.persistLocked(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "auction_service: surplus paid but persistence failed",
			slog.String("auction_id", auctionID),
			slog.String("identity", identity.Hex()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.publishLocked(ctx, entry)

	s.auditLog(ctx, "surplus.claimed", map[string]any{
		"auction_id": auctionID,
		"identity":   identity.Hex(),
		"amount":     amount.String(),
	})
	s.logger.InfoContext(ctx, "auction_service: surplus claimed",
		slog.String("auction_id", auctionID),
		slog.String("identity", identity.Hex()),
		slog.String("amount", amount.String()),
	)
	return amount, nil
}

// RevealWinner reports the current leader of an auction whose deadline has
// passed. It never mutates state and works during suspension.
func (s *AuctionService) RevealWinner(ctx context.Context, auctionID string) (domain.WinnerReveal, error) {
	entry, err := s.resolve(ctx, auctionID)
	if err != nil {
		return domain.WinnerReveal{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	winner, amount, err := entry.eng.RevealWinner(time.Now().UTC())
	if err != nil {
		return domain.WinnerReveal{}, err
	}
	return domain.WinnerReveal{
		AuctionID: auctionID,
		Winner:    winner,
		Amount:    amount,
		Settled:   entry.eng.Settled(),
	}, nil
}

// Settle runs the settlement distribution. On a mid-run transfer failure the
// completed payouts are persisted, the error is returned, and the auction
// stays open for another attempt.
func (s *AuctionService) Settle(ctx context.Context, auctionID string, caller common.Address) ([]domain.Payout, error) {
	entry, err := s.resolve(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	payouts, settleErr := entry.eng.Settle(ctx, caller, time.Now().UTC())
	for i := range payouts {
		payouts[i].ID = uuid.NewString()
	}

	// Nothing moved: gate errors leave no state to persist.
	if settleErr != nil && len(payouts) == 0 {
		return nil, settleErr
	}

	if len(payouts) > 0 {
		if err := s.payouts.CreateBatch(ctx, payouts); err != nil {
			s.logger.ErrorContext(ctx, "auction_service: persist payouts failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
			return payouts, fmt.Errorf("auction_service: persist payouts %s: %w", auctionID, err)
		}
	}
	if err := s.persistLocked(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "auction_service: persist settlement failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		return payouts, err
	}
	s.publishLocked(ctx, entry)

	if settleErr != nil {
		s.auditLog(ctx, "auction.settle.interrupted", map[string]any{
			"auction_id": auctionID,
			"paid":       len(payouts),
			"error":      settleErr.Error(),
		})
		return payouts, settleErr
	}

	s.auditLog(ctx, "auction.settled", map[string]any{
		"auction_id": auctionID,
		"caller":     caller.Hex(),
		"payouts":    len(payouts),
	})
	s.logger.InfoContext(ctx, "auction_service: auction settled",
		slog.String("auction_id", auctionID),
		slog.Int("payouts", len(payouts)),
	)

	if s.archiver != nil {
		go s.archive(auctionID)
	}
	return payouts, nil
}

// archive uploads the settled auction's record in the background. Archival
// is best effort; a failure leaves the rows in place for a manual retry.
func (s *AuctionService) archive(auctionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.archiver.ArchiveAuction(ctx, auctionID); err != nil {
		s.logger.Error("auction_service: archive failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
}

// Suspend sets the pause gate on an auction. Owner only; idempotent.
func (s *AuctionService) Suspend(ctx context.Context, auctionID string, caller common.Address) error {
	return s.setSuspended(ctx, auctionID, caller, true)
}

// Resume clears the pause gate on an auction. Owner only; idempotent.
func (s *AuctionService) Resume(ctx context.Context, auctionID string, caller common.Address) error {
	return s.setSuspended(ctx, auctionID, caller, false)
}

func (s *AuctionService) setSuspended(ctx context.Context, auctionID string, caller common.Address, suspended bool) error {
	entry, err := s.resolve(ctx, auctionID)
	if err != nil {
		return err
	}
	unlock, err := s.lockAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	defer unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if caller != entry.eng.Owner() {
		return fmt.Errorf("auction_service: %s is not the owner of %s: %w",
			caller.Hex(), auctionID, domain.ErrUnauthorized)
	}
	if entry.eng.Suspended() == suspended {
		return nil
	}
	entry.eng.SetSuspended(suspended)

	if err := s.persistLocked(ctx, entry); err != nil {
		return err
	}

	event := "auction.resumed"
	if suspended {
		entry.pending = append(entry.pending, auction.SuspendedEvent(auctionID))
		event = "auction.suspended"
	} else {
		entry.pending = append(entry.pending, auction.ResumedEvent(auctionID))
	}
	s.publishLocked(ctx, entry)

	s.auditLog(ctx, event, map[string]any{
		"auction_id": auctionID,
		"caller":     caller.Hex(),
	})
	s.logger.InfoContext(ctx, "auction_service: suspension changed",
		slog.String("auction_id", auctionID),
		slog.Bool("suspended", suspended),
	)
	return nil
}

// EmergencyWithdraw evacuates the custody balance of a suspended auction to
// its owner, bypassing settlement accounting.
func (s *AuctionService) EmergencyWithdraw(ctx context.Context, auctionID string, caller common.Address) (*big.Int, error) {
	entry, err := s.resolve(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	amount, err := entry.eng.EmergencyWithdraw(ctx, caller)
	if err != nil {
		return nil, err
	}

	if err := s.persistLocked(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "auction_service: withdrawal done but persistence failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.publishLocked(ctx, entry)

	s.auditLog(ctx, "auction.emergency.withdrawal", map[string]any{
		"auction_id": auctionID,
		"caller":     caller.Hex(),
		"amount":     amount.String(),
	})
	s.logger.WarnContext(ctx, "auction_service: emergency withdrawal",
		slog.String("auction_id", auctionID),
		slog.String("amount", amount.String()),
	)
	return amount, nil
}
