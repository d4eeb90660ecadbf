package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelhouse/gavel/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL. The bids table is
// append-only; rows are never updated or deleted while the auction lives.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a new BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

// Append writes one ledger entry. The (auction_id, seq) primary key makes a
// replayed append fail with domain.ErrAlreadyExists instead of corrupting
// history.
func (s *BidStore) Append(ctx context.Context, b domain.BidEntry) error {
	const query = `
		INSERT INTO bids (auction_id, seq, bidder, amount, placed_at)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (auction_id, seq) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		b.AuctionID, b.Seq, addrArg(b.Bidder), bigArg(b.Amount), b.PlacedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append bid %s/%d: %w", b.AuctionID, b.Seq, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// scanBid scans a single ledger row.
func scanBid(row pgx.Row) (domain.BidEntry, error) {
	var (
		b         domain.BidEntry
		bidderHex string
		amountStr string
	)
	err := row.Scan(&b.AuctionID, &b.Seq, &bidderHex, &amountStr, &b.PlacedAt)
	if err != nil {
		return domain.BidEntry{}, err
	}
	b.Bidder = parseAddr(bidderHex)
	if b.Amount, err = parseBig(amountStr); err != nil {
		return domain.BidEntry{}, err
	}
	return b, nil
}

// ListByAuction returns ledger entries in chronological order.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.BidEntry, error) {
	query := `SELECT auction_id, seq, bidder, amount::text, placed_at
		FROM bids WHERE auction_id = $1`
	args := []any{auctionID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND placed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND placed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY seq ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids %s: %w", auctionID, err)
	}
	defer rows.Close()

	var bids []domain.BidEntry
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids rows: %w", err)
	}
	return bids, nil
}

// CountByAuction returns the number of ledger entries for an auction.
func (s *BidStore) CountByAuction(ctx context.Context, auctionID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM bids WHERE auction_id = $1", auctionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count bids %s: %w", auctionID, err)
	}
	return count, nil
}
