package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelhouse/gavel/internal/domain"
)

// PayoutStore implements domain.PayoutStore using PostgreSQL.
type PayoutStore struct {
	pool *pgxpool.Pool
}

// NewPayoutStore creates a new PayoutStore backed by the given connection pool.
func NewPayoutStore(pool *pgxpool.Pool) *PayoutStore {
	return &PayoutStore{pool: pool}
}

// CreateBatch writes settlement disbursement rows. Rows carry ids generated
// by the caller, so a retried write after a partial settlement failure is
// idempotent per row.
func (s *PayoutStore) CreateBatch(ctx context.Context, ps []domain.Payout) error {
	if len(ps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO payouts (id, auction_id, address, refundable, amount, kind, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	for _, p := range ps {
		batch.Queue(query,
			p.ID, p.AuctionID, addrArg(p.Address),
			bigArg(p.Refundable), bigArg(p.Amount),
			string(p.Kind), p.CreatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range ps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: create payout batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByAuction returns an auction's disbursements in the order they were
// made.
func (s *PayoutStore) ListByAuction(ctx context.Context, auctionID string) ([]domain.Payout, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, auction_id, address, refundable::text, amount::text, kind, created_at
		FROM payouts WHERE auction_id = $1 ORDER BY created_at ASC, id ASC`,
		auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list payouts %s: %w", auctionID, err)
	}
	defer rows.Close()

	var ps []domain.Payout
	for rows.Next() {
		var (
			p                 domain.Payout
			addrHex           string
			refundStr, amtStr string
			kind              string
		)
		if err := rows.Scan(&p.ID, &p.AuctionID, &addrHex, &refundStr, &amtStr, &kind, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan payout: %w", err)
		}
		p.Address = parseAddr(addrHex)
		p.Kind = domain.PayoutKind(kind)
		if p.Refundable, err = parseBig(refundStr); err != nil {
			return nil, err
		}
		if p.Amount, err = parseBig(amtStr); err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list payouts rows: %w", err)
	}
	return ps, nil
}
