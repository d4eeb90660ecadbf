package auction

import (
	"fmt"

	"github.com/gavelhouse/gavel/internal/domain"
)

// Snapshot is the complete engine state needed to rebuild it after a
// restart: the auction row plus participants in insertion order and the
// ledger in chronological order.
type Snapshot struct {
	Auction      domain.Auction
	Participants []domain.Participant
	Bids         []domain.BidEntry
}

// Snapshot captures the engine's current state for persistence.
func (e *Engine) Snapshot() Snapshot {
	parts := make([]domain.Participant, 0, e.registry.Len())
	for _, addr := range e.registry.Addresses() {
		p, _ := e.Participant(addr)
		parts = append(parts, p)
	}
	return Snapshot{
		Auction:      e.Auction(),
		Participants: parts,
		Bids:         e.ledger.Entries(),
	}
}

// Restore rebuilds an engine from a stored snapshot. Restoring performs no
// treasury side effects; the balances already live there. The stored running
// maximum must agree with the ledger tail, which remains the source of
// truth.
func Restore(snap Snapshot, treasury Treasury, emitter domain.Emitter) (*Engine, error) {
	eng, err := New(Config{
		ID:              snap.Auction.ID,
		Owner:           snap.Auction.Owner,
		IncreasePct:     snap.Auction.IncreasePct,
		DiscountPct:     snap.Auction.DiscountPct,
		ExtensionWindow: snap.Auction.ExtensionWindow,
		StartingFloor:   snap.Auction.StartingFloor,
		Deadline:        snap.Auction.Deadline,
		CreatedAt:       snap.Auction.CreatedAt,
		Treasury:        treasury,
		Emitter:         emitter,
	})
	if err != nil {
		return nil, err
	}
	eng.suspended = snap.Auction.Suspended
	eng.settled = snap.Auction.Settled

	for i, p := range snap.Participants {
		if p.Position != i {
			return nil, fmt.Errorf("auction %s: participant %s out of order: position %d at index %d",
				snap.Auction.ID, p.Address.Hex(), p.Position, i)
		}
		rec := eng.registry.Register(p.Address)
		if rec.Position != i {
			return nil, fmt.Errorf("auction %s: participant %s listed twice", snap.Auction.ID, p.Address.Hex())
		}
		rec.CurrentOffer = cloneBigInt(p.CurrentOffer)
		rec.TotalDeposited = cloneBigInt(p.TotalDeposited)
	}

	for i, b := range snap.Bids {
		if b.Seq != int64(i)+1 {
			return nil, fmt.Errorf("auction %s: ledger gap: seq %d at index %d", snap.Auction.ID, b.Seq, i)
		}
		if _, ok := eng.registry.Get(b.Bidder); !ok {
			return nil, fmt.Errorf("auction %s: ledger entry %d names unregistered bidder %s",
				snap.Auction.ID, b.Seq, b.Bidder.Hex())
		}
		eng.ledger.Append(domain.BidEntry{
			AuctionID: snap.Auction.ID,
			Seq:       b.Seq,
			Bidder:    b.Bidder,
			Amount:    cloneBigInt(b.Amount),
			PlacedAt:  b.PlacedAt,
		})
	}

	if tail, ok := eng.ledger.Tail(); ok {
		eng.highest = cloneBigInt(tail.Amount)
		if snap.Auction.HighestAmount != nil && snap.Auction.HighestAmount.Cmp(eng.highest) != 0 {
			return nil, fmt.Errorf("auction %s: stored running maximum %s disagrees with ledger tail %s",
				snap.Auction.ID, snap.Auction.HighestAmount, eng.highest)
		}
	} else if snap.Auction.HighestAmount != nil {
		eng.highest = cloneBigInt(snap.Auction.HighestAmount)
	}

	return eng, nil
}
