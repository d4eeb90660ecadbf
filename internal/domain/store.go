package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuctionStore persists auction metadata and mutable engine state.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	Update(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	List(ctx context.Context, opts ListOpts) ([]Auction, error)
	ListUnsettled(ctx context.Context) ([]Auction, error)
}

// ParticipantStore persists per-identity accounting records.
type ParticipantStore interface {
	Upsert(ctx context.Context, p Participant) error
	UpsertBatch(ctx context.Context, ps []Participant) error
	GetByAddress(ctx context.Context, auctionID string, addr common.Address) (Participant, error)
	// ListByAuction returns records in insertion (Position) order.
	ListByAuction(ctx context.Context, auctionID string) ([]Participant, error)
}

// BidStore persists the append-only bid ledger.
type BidStore interface {
	Append(ctx context.Context, b BidEntry) error
	// ListByAuction returns entries in chronological (Seq) order.
	ListByAuction(ctx context.Context, auctionID string, opts ListOpts) ([]BidEntry, error)
	CountByAuction(ctx context.Context, auctionID string) (int64, error)
}

// PayoutStore persists settlement disbursement records.
type PayoutStore interface {
	CreateBatch(ctx context.Context, ps []Payout) error
	ListByAuction(ctx context.Context, auctionID string) ([]Payout, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListByEvent(ctx context.Context, eventPrefix string, opts ListOpts) ([]AuditEntry, error)
}
