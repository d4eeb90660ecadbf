package auction

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gavelhouse/gavel/internal/domain"
)

const (
	EventTypeAuctionCreated      = "auction.created"
	EventTypeNewLeadingBid       = "auction.bid.leading"
	EventTypeSurplusClaimed      = "auction.surplus.claimed"
	EventTypeAuctionClosed       = "auction.closed"
	EventTypeSuspended           = "auction.suspended"
	EventTypeResumed             = "auction.resumed"
	EventTypeEmergencyWithdrawal = "auction.emergency.withdrawal"
	EventTypeDeadlinePassed      = "auction.deadline.passed"
)

// NewLeadingBidEvent is emitted once per accepted bid, at the end of the
// bid's atomic unit.
func NewLeadingBidEvent(auctionID string, bidder common.Address, amount *big.Int, deadline time.Time) domain.Event {
	return domain.Event{
		Type:      EventTypeNewLeadingBid,
		AuctionID: auctionID,
		Attributes: map[string]string{
			"bidder":   bidder.Hex(),
			"amount":   cloneBigInt(amount).String(),
			"deadline": deadline.UTC().Format(time.RFC3339),
		},
	}
}

// AuctionClosedEvent is emitted exactly once per successful settlement,
// including the zero-bid case. It carries no payload beyond the auction ID.
func AuctionClosedEvent(auctionID string) domain.Event {
	return domain.Event{
		Type:      EventTypeAuctionClosed,
		AuctionID: auctionID,
	}
}

// SurplusClaimedEvent is emitted after a surplus transfer has completed.
func SurplusClaimedEvent(auctionID string, identity common.Address, amount *big.Int) domain.Event {
	return domain.Event{
		Type:      EventTypeSurplusClaimed,
		AuctionID: auctionID,
		Attributes: map[string]string{
			"identity": identity.Hex(),
			"amount":   cloneBigInt(amount).String(),
		},
	}
}

// EmergencyWithdrawalEvent is emitted after the owner has evacuated the
// custody balance while suspended.
func EmergencyWithdrawalEvent(auctionID string, owner common.Address, amount *big.Int) domain.Event {
	return domain.Event{
		Type:      EventTypeEmergencyWithdrawal,
		AuctionID: auctionID,
		Attributes: map[string]string{
			"owner":  owner.Hex(),
			"amount": cloneBigInt(amount).String(),
		},
	}
}

// AuctionCreatedEvent announces a newly created auction.
func AuctionCreatedEvent(a domain.Auction) domain.Event {
	return domain.Event{
		Type:      EventTypeAuctionCreated,
		AuctionID: a.ID,
		Attributes: map[string]string{
			"owner":    a.Owner.Hex(),
			"floor":    cloneBigInt(a.StartingFloor).String(),
			"deadline": a.Deadline.UTC().Format(time.RFC3339),
		},
	}
}

// SuspendedEvent announces that the pause gate was set.
func SuspendedEvent(auctionID string) domain.Event {
	return domain.Event{Type: EventTypeSuspended, AuctionID: auctionID}
}

// ResumedEvent announces that the pause gate was cleared.
func ResumedEvent(auctionID string) domain.Event {
	return domain.Event{Type: EventTypeResumed, AuctionID: auctionID}
}

// DeadlinePassedEvent announces that an auction's deadline has passed with
// settlement still pending.
func DeadlinePassedEvent(auctionID string, deadline time.Time) domain.Event {
	return domain.Event{
		Type:      EventTypeDeadlinePassed,
		AuctionID: auctionID,
		Attributes: map[string]string{
			"deadline": deadline.UTC().Format(time.RFC3339),
		},
	}
}
