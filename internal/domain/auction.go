package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AuctionStatus represents the lifecycle phase of an auction.
type AuctionStatus string

const (
	AuctionStatusActive  AuctionStatus = "active"  // now <= deadline
	AuctionStatusClosed  AuctionStatus = "closed"  // past deadline, not settled
	AuctionStatusSettled AuctionStatus = "settled" // settlement completed
)

// Auction is the persisted state of a single-lot english auction. The
// increase/discount/extension parameters are snapshotted at creation and
// never change afterwards.
type Auction struct {
	ID              string         `json:"id"`
	Owner           common.Address `json:"owner"`
	Custody         common.Address `json:"custody"` // escrow account holding deposited value
	IncreasePct     int64          `json:"increase_pct"`        // minimum percentage a new bid must beat the running maximum by
	DiscountPct     int64          `json:"discount_pct"`        // percentage withheld from every settlement payout
	ExtensionWindow time.Duration  `json:"extension_window_ns"` // anti-sniping window; also the size of each extension
	StartingFloor   *big.Int       `json:"starting_floor"`      // initial running maximum before any bid
	Deadline        time.Time      `json:"deadline"`
	HighestAmount   *big.Int       `json:"highest_amount"` // running maximum: last accepted bid, or the floor
	Suspended       bool           `json:"suspended"`
	Settled         bool           `json:"settled"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// StatusAt derives the lifecycle phase at the given instant.
func (a Auction) StatusAt(now time.Time) AuctionStatus {
	switch {
	case a.Settled:
		return AuctionStatusSettled
	case now.After(a.Deadline):
		return AuctionStatusClosed
	default:
		return AuctionStatusActive
	}
}

// Participant is the per-identity accounting record of an auction. Records
// are created on first accepted bid and never deleted; settlement zeroes the
// amounts but keeps the row.
type Participant struct {
	AuctionID      string         `json:"auction_id"`
	Address        common.Address `json:"address"`
	CurrentOffer   *big.Int       `json:"current_offer"`   // most recent bid still active toward winning
	TotalDeposited *big.Int       `json:"total_deposited"` // cumulative value sent and not yet withdrawn
	Registered     bool           `json:"registered"`
	Position       int            `json:"position"` // insertion order, 0-based; order of first bid
}

// BidEntry is one immutable row of the append-only bid ledger. The ledger's
// tail identifies the current leader.
type BidEntry struct {
	AuctionID string         `json:"auction_id"`
	Seq       int64          `json:"seq"` // 1-based position in the ledger
	Bidder    common.Address `json:"bidder"`
	Amount    *big.Int       `json:"amount"`
	PlacedAt  time.Time      `json:"placed_at"`
}

// PayoutKind classifies a settlement disbursement.
type PayoutKind string

const (
	PayoutKindLoser  PayoutKind = "loser"  // discounted refund of a loser's full deposit
	PayoutKindWinner PayoutKind = "winner" // discounted refund of the winner's surplus
	PayoutKindSweep  PayoutKind = "sweep"  // residual custody swept to the owner
)

// Payout records one transfer made by a successful settlement run.
type Payout struct {
	ID         string         `json:"id"`
	AuctionID  string         `json:"auction_id"`
	Address    common.Address `json:"address"`
	Refundable *big.Int       `json:"refundable"` // pre-discount amount
	Amount     *big.Int       `json:"amount"`     // actually transferred
	Kind       PayoutKind     `json:"kind"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Account is a treasury balance row.
type Account struct {
	Address   common.Address `json:"address"`
	Balance   *big.Int       `json:"balance"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// BidReceipt is returned to a bidder whose bid was accepted. Deadline is the
// auction deadline after the acceptance, which may have moved.
type BidReceipt struct {
	Entry         BidEntry  `json:"entry"`
	Deadline      time.Time `json:"deadline"`
	HighestAmount *big.Int  `json:"highest_amount"`
}

// WinnerReveal is the outcome of an auction whose deadline has passed.
type WinnerReveal struct {
	AuctionID string         `json:"auction_id"`
	Winner    common.Address `json:"winner"`
	Amount    *big.Int       `json:"amount"`
	Settled   bool           `json:"settled"`
}
