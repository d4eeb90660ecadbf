package auction

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gavelhouse/gavel/internal/domain"
)

// Registry is the iterable mapping of every identity that has ever bid: one
// accounting record per identity plus the insertion-ordered identity list.
// Register is the single insertion path, which keeps the record map and the
// list in lockstep: an identity is registered iff it appears exactly once in
// the list.
type Registry struct {
	auctionID string
	records   map[common.Address]*domain.Participant
	order     []common.Address
}

// NewRegistry creates an empty registry for the given auction.
func NewRegistry(auctionID string) *Registry {
	return &Registry{
		auctionID: auctionID,
		records:   make(map[common.Address]*domain.Participant),
	}
}

// Register returns the record for addr, creating it and appending addr to
// the ordered list on first sight. Records enter the registry through this
// path only.
func (r *Registry) Register(addr common.Address) *domain.Participant {
	if rec, ok := r.records[addr]; ok {
		return rec
	}
	rec := &domain.Participant{
		AuctionID:      r.auctionID,
		Address:        addr,
		CurrentOffer:   big.NewInt(0),
		TotalDeposited: big.NewInt(0),
		Registered:     true,
		Position:       len(r.order),
	}
	r.records[addr] = rec
	r.order = append(r.order, addr)
	return rec
}

// Get returns the live record for addr, if registered.
func (r *Registry) Get(addr common.Address) (*domain.Participant, bool) {
	rec, ok := r.records[addr]
	return rec, ok
}

// Addresses returns the registered identities in order of first bid.
func (r *Registry) Addresses() []common.Address {
	out := make([]common.Address, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered identities.
func (r *Registry) Len() int { return len(r.order) }
