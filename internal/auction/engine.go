package auction

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/gavelhouse/gavel/internal/domain"
)

var (
	errNilTreasury  = errors.New("auction engine: treasury not configured")
	errEmptyID      = errors.New("auction engine: id not set")
	errZeroDeadline = errors.New("auction engine: deadline not set")
	errWindow       = errors.New("auction engine: extension window must be positive")
	errIncreasePct  = errors.New("auction engine: increase pct must not be negative")
	errDiscountPct  = errors.New("auction engine: discount pct must be between 0 and 100")
	errNegFloor     = errors.New("auction engine: starting floor must not be negative")
)

// Treasury is the value-movement primitive the engine relies on. A transfer
// either completes fully or reports an error with both balances untouched;
// it never partially transfers.
type Treasury interface {
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Config fixes an auction's parameters at construction. None of them can
// change afterwards.
type Config struct {
	ID              string
	Owner           common.Address
	IncreasePct     int64         // minimum percentage a bid must beat the running maximum by
	DiscountPct     int64         // percentage withheld from every settlement payout
	ExtensionWindow time.Duration // anti-sniping window and extension size
	StartingFloor   *big.Int      // running maximum before any bid
	Deadline        time.Time
	CreatedAt       time.Time
	Treasury        Treasury
	Emitter         domain.Emitter
}

// Engine holds the accounting state of one single-lot english auction and
// applies the bid-acceptance and settlement rules to it. The engine does no
// internal locking: the hosting service runs one operation at a time. Its
// correctness obligation is that every operation either completes all of its
// state mutations plus at most one value transfer, or leaves every mutated
// field exactly as it was before the call.
type Engine struct {
	id          string
	owner       common.Address
	custody     common.Address
	increasePct int64
	discountPct int64
	window      time.Duration
	floor       *big.Int
	createdAt   time.Time

	deadline  time.Time
	highest   *big.Int
	registry  *Registry
	ledger    *Ledger
	suspended bool
	settled   bool

	treasury Treasury
	emitter  domain.Emitter
}

// New creates an engine with the running maximum at the starting floor and
// an empty registry and ledger.
func New(cfg Config) (*Engine, error) {
	if cfg.ID == "" {
		return nil, errEmptyID
	}
	if cfg.Treasury == nil {
		return nil, errNilTreasury
	}
	if cfg.Deadline.IsZero() {
		return nil, errZeroDeadline
	}
	if cfg.ExtensionWindow <= 0 {
		return nil, errWindow
	}
	if cfg.IncreasePct < 0 {
		return nil, errIncreasePct
	}
	if cfg.DiscountPct < 0 || cfg.DiscountPct > 100 {
		return nil, errDiscountPct
	}
	floor := cloneBigInt(cfg.StartingFloor)
	if floor.Sign() < 0 {
		return nil, errNegFloor
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = domain.NoopEmitter{}
	}
	return &Engine{
		id:          cfg.ID,
		owner:       cfg.Owner,
		custody:     CustodyAddress(cfg.ID),
		increasePct: cfg.IncreasePct,
		discountPct: cfg.DiscountPct,
		window:      cfg.ExtensionWindow,
		floor:       floor,
		createdAt:   cfg.CreatedAt,
		deadline:    cfg.Deadline,
		highest:     cloneBigInt(floor),
		registry:    NewRegistry(cfg.ID),
		ledger:      NewLedger(),
		treasury:    cfg.Treasury,
		emitter:     emitter,
	}, nil
}

// CustodyAddress derives the deterministic escrow account holding an
// auction's deposited value.
func CustodyAddress(auctionID string) common.Address {
	digest := ethcrypto.Keccak256([]byte("gavel/custody/" + auctionID))
	return common.BytesToAddress(digest[12:])
}

// PlaceBid validates a bid of amount from bidder at time now and applies it.
// The bid's value moves from the bidder's account into the auction's custody
// inside the same atomic unit, after every precondition has passed and
// before any state mutation; a failed deposit therefore leaves the engine
// untouched. On success the registry, ledger, running maximum and deadline
// are updated together and a new-leading-bid event is emitted.
func (e *Engine) PlaceBid(ctx context.Context, bidder common.Address, amount *big.Int, now time.Time) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	if e.settled || now.After(e.deadline) {
		return domain.ErrAuctionClosed
	}
	if e.suspended {
		return domain.ErrSuspended
	}
	// The threshold uses truncating division; a bid tying the truncated
	// value is rejected, so the minimum acceptable amount is threshold+1.
	threshold := scalePct(e.highest, 100+e.increasePct)
	if amount.Cmp(threshold) <= 0 {
		return &domain.BidTooLowError{Min: threshold.Add(threshold, big.NewInt(1))}
	}

	if err := e.treasury.Transfer(ctx, bidder, e.custody, amount); err != nil {
		return fmt.Errorf("auction %s: deposit: %w", e.id, err)
	}

	rec := e.registry.Register(bidder)
	rec.CurrentOffer = cloneBigInt(amount)
	rec.TotalDeposited = new(big.Int).Add(rec.TotalDeposited, amount)
	e.ledger.Append(domain.BidEntry{
		AuctionID: e.id,
		Seq:       int64(e.ledger.Len()) + 1,
		Bidder:    bidder,
		Amount:    cloneBigInt(amount),
		PlacedAt:  now,
	})
	e.highest = cloneBigInt(amount)
	if now.Add(e.window).After(e.deadline) {
		// The full window is added to the old deadline, not clipped to
		// now+window; repeated late bids keep extending.
		e.deadline = e.deadline.Add(e.window)
	}

	e.emit(NewLeadingBidEvent(e.id, bidder, amount, e.deadline))
	return nil
}

// ClaimSurplus transfers the difference between an identity's cumulative
// deposit and its current offer back to that identity. Unregistered
// identities and zero differences are a successful no-op. The deposit
// decrement and the transfer form one atomic unit: a failed transfer
// restores the deposit and fails the call. The current offer is never
// touched.
func (e *Engine) ClaimSurplus(ctx context.Context, identity common.Address, now time.Time) (*big.Int, error) {
	if e.settled || now.After(e.deadline) {
		return nil, domain.ErrAuctionClosed
	}
	if e.suspended {
		return nil, domain.ErrSuspended
	}
	rec, ok := e.registry.Get(identity)
	if !ok {
		return big.NewInt(0), nil
	}
	excess := new(big.Int).Sub(rec.TotalDeposited, rec.CurrentOffer)
	if excess.Sign() <= 0 {
		return big.NewInt(0), nil
	}

	prev := rec.TotalDeposited
	rec.TotalDeposited = new(big.Int).Sub(prev, excess)
	if err := e.treasury.Transfer(ctx, e.custody, identity, excess); err != nil {
		rec.TotalDeposited = prev
		return nil, &domain.TransferFailedError{Identity: identity, Err: err}
	}

	e.emit(SurplusClaimedEvent(e.id, identity, excess))
	return excess, nil
}

// RevealWinner reports the ledger-tail identity and the winning amount once
// the deadline has passed. It mutates nothing and is not blocked by
// suspension or settlement.
func (e *Engine) RevealWinner(now time.Time) (common.Address, *big.Int, error) {
	if !now.After(e.deadline) {
		return common.Address{}, nil, domain.ErrAuctionStillActive
	}
	tail, ok := e.ledger.Tail()
	if !ok {
		return common.Address{}, nil, domain.ErrNoBids
	}
	return tail.Bidder, cloneBigInt(tail.Amount), nil
}

// Settle disburses the auction's custody once the deadline has passed:
// every loser receives their full deposit and the winner the surplus above
// the winning amount, each discounted by the configured percentage and
// walked in registry order, then whatever custody remains is swept to the
// owner. A failed transfer fails the whole call with that identity's
// bookkeeping restored; payouts already made stand and the auction remains
// unsettled, so the owner can re-invoke once the transfer path works again.
// A second call after a successful run fails with ErrAlreadySettled.
func (e *Engine) Settle(ctx context.Context, caller common.Address, now time.Time) ([]domain.Payout, error) {
	if caller != e.owner {
		return nil, domain.ErrUnauthorized
	}
	if !now.After(e.deadline) {
		return nil, domain.ErrAuctionStillActive
	}
	if e.suspended {
		return nil, domain.ErrSuspended
	}
	if e.settled {
		return nil, domain.ErrAlreadySettled
	}

	tail, ok := e.ledger.Tail()
	if !ok {
		// An auction can end with zero bids. No funds move, but observers
		// still learn that closing happened.
		e.settled = true
		e.emit(AuctionClosedEvent(e.id))
		return nil, nil
	}
	winner := tail.Bidder

	payouts := make([]domain.Payout, 0, e.registry.Len()+1)
	for _, addr := range e.registry.Addresses() {
		rec, _ := e.registry.Get(addr)
		prevOffer := rec.CurrentOffer
		prevDeposited := rec.TotalDeposited

		var refundable *big.Int
		kind := domain.PayoutKindLoser
		if addr == winner {
			kind = domain.PayoutKindWinner
			refundable = new(big.Int).Sub(prevDeposited, e.highest)
			if refundable.Sign() < 0 {
				// Re-invocation after a partial failure: the winner was
				// already zeroed and is owed nothing further.
				refundable = big.NewInt(0)
			}
		} else {
			// The loser's offer no longer represents a live claim once
			// settlement runs.
			refundable = cloneBigInt(prevDeposited)
			rec.CurrentOffer = big.NewInt(0)
		}

		payout := scalePct(refundable, 100-e.discountPct)
		rec.TotalDeposited = big.NewInt(0)
		if payout.Sign() > 0 {
			if err := e.treasury.Transfer(ctx, e.custody, addr, payout); err != nil {
				rec.CurrentOffer = prevOffer
				rec.TotalDeposited = prevDeposited
				return payouts, &domain.TransferFailedError{Identity: addr, Err: err}
			}
		}
		payouts = append(payouts, domain.Payout{
			AuctionID:  e.id,
			Address:    addr,
			Refundable: refundable,
			Amount:     payout,
			Kind:       kind,
			CreatedAt:  now,
		})
	}

	// The remainder is the discount skim plus the winning amount plus any
	// value that arrived outside the bidding path.
	remainder, err := e.treasury.Balance(ctx, e.custody)
	if err != nil {
		return payouts, fmt.Errorf("auction %s: custody balance: %w", e.id, err)
	}
	if remainder.Sign() > 0 {
		if err := e.treasury.Transfer(ctx, e.custody, e.owner, remainder); err != nil {
			return payouts, &domain.TransferFailedError{Identity: e.owner, Err: err}
		}
		payouts = append(payouts, domain.Payout{
			AuctionID:  e.id,
			Address:    e.owner,
			Refundable: cloneBigInt(remainder),
			Amount:     cloneBigInt(remainder),
			Kind:       domain.PayoutKindSweep,
			CreatedAt:  now,
		})
	}

	e.settled = true
	e.emit(AuctionClosedEvent(e.id))
	return payouts, nil
}

// EmergencyWithdraw sweeps the full custody balance to the owner while the
// auction is suspended, bypassing the registry and ledger accounting
// entirely. Participant records are left as they are, so the solvency
// guarantee no longer holds afterwards; callers get exactly the escape
// hatch they asked for.
func (e *Engine) EmergencyWithdraw(ctx context.Context, caller common.Address) (*big.Int, error) {
	if caller != e.owner {
		return nil, domain.ErrUnauthorized
	}
	if !e.suspended {
		return nil, domain.ErrNotSuspended
	}
	bal, err := e.treasury.Balance(ctx, e.custody)
	if err != nil {
		return nil, fmt.Errorf("auction %s: custody balance: %w", e.id, err)
	}
	if bal.Sign() > 0 {
		if err := e.treasury.Transfer(ctx, e.custody, e.owner, bal); err != nil {
			return nil, &domain.TransferFailedError{Identity: e.owner, Err: err}
		}
	}
	e.emit(EmergencyWithdrawalEvent(e.id, e.owner, bal))
	return bal, nil
}

// SetSuspended flips the administrative pause gate. The toggle belongs to
// the owner-facing overlay; the engine itself only reads the flag to gate
// bidding, surplus claims and settlement.
func (e *Engine) SetSuspended(v bool) { e.suspended = v }

// Suspended reports whether the pause gate is set.
func (e *Engine) Suspended() bool { return e.suspended }

// ID returns the auction identifier.
func (e *Engine) ID() string { return e.id }

// Owner returns the auction owner.
func (e *Engine) Owner() common.Address { return e.owner }

// Custody returns the auction's escrow account.
func (e *Engine) Custody() common.Address { return e.custody }

// Deadline returns the current deadline.
func (e *Engine) Deadline() time.Time { return e.deadline }

// HighestAmount returns the running maximum: the last accepted bid, or the
// starting floor before any bid.
func (e *Engine) HighestAmount() *big.Int { return cloneBigInt(e.highest) }

// Settled reports whether a settlement run has completed.
func (e *Engine) Settled() bool { return e.settled }

// Bids returns the full ledger in chronological order.
func (e *Engine) Bids() []domain.BidEntry { return e.ledger.Entries() }

// Bidders returns the registered identities in order of first bid.
func (e *Engine) Bidders() []common.Address { return e.registry.Addresses() }

// Participant returns a copy of one identity's accounting record.
func (e *Engine) Participant(addr common.Address) (domain.Participant, bool) {
	rec, ok := e.registry.Get(addr)
	if !ok {
		return domain.Participant{}, false
	}
	out := *rec
	out.CurrentOffer = cloneBigInt(rec.CurrentOffer)
	out.TotalDeposited = cloneBigInt(rec.TotalDeposited)
	return out, true
}

// Auction returns the persistable view of the engine's current state.
func (e *Engine) Auction() domain.Auction {
	return domain.Auction{
		ID:              e.id,
		Owner:           e.owner,
		Custody:         e.custody,
		IncreasePct:     e.increasePct,
		DiscountPct:     e.discountPct,
		ExtensionWindow: e.window,
		StartingFloor:   cloneBigInt(e.floor),
		Deadline:        e.deadline,
		HighestAmount:   cloneBigInt(e.highest),
		Suspended:       e.suspended,
		Settled:         e.settled,
		CreatedAt:       e.createdAt,
	}
}

// StatusAt derives the lifecycle phase at the given instant.
func (e *Engine) StatusAt(now time.Time) domain.AuctionStatus {
	switch {
	case e.settled:
		return domain.AuctionStatusSettled
	case now.After(e.deadline):
		return domain.AuctionStatusClosed
	default:
		return domain.AuctionStatusActive
	}
}

func (e *Engine) emit(evt domain.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

// scalePct returns v*pct/100 truncated toward zero.
func scalePct(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(pct))
	return out.Quo(out, big.NewInt(100))
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
