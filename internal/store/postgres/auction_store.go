package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelhouse/gavel/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionCols = `id, owner_addr, custody_addr, increase_pct, discount_pct,
	extension_window_ms, starting_floor::text, deadline, highest_amount::text,
	suspended, settled, created_at, updated_at`

// Create inserts a new auction row. A duplicate id fails with
// domain.ErrAlreadyExists.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, owner_addr, custody_addr, increase_pct, discount_pct,
			extension_window_ms, starting_floor, deadline, highest_amount,
			suspended, settled, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7::numeric, $8, $9::numeric,
			$10, $11, $12, NOW()
		)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		a.ID, addrArg(a.Owner), addrArg(a.Custody),
		a.IncreasePct, a.DiscountPct,
		a.ExtensionWindow.Milliseconds(),
		bigArg(a.StartingFloor), a.Deadline, bigArg(a.HighestAmount),
		a.Suspended, a.Settled, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Update rewrites the mutable columns of an auction row.
func (s *AuctionStore) Update(ctx context.Context, a domain.Auction) error {
	const query = `
		UPDATE auctions SET
			deadline       = $2,
			highest_amount = $3::numeric,
			suspended      = $4,
			settled        = $5,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		a.ID, a.Deadline, bigArg(a.HighestAmount), a.Suspended, a.Settled,
	)
	if err != nil {
		return fmt.Errorf("postgres: update auction %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// scanAuction scans a single auction row into a domain.Auction.
func scanAuction(row pgx.Row) (domain.Auction, error) {
	var (
		a                    domain.Auction
		ownerHex, custodyHex string
		windowMs             int64
		floorStr, highStr    string
	)
	err := row.Scan(
		&a.ID, &ownerHex, &custodyHex, &a.IncreasePct, &a.DiscountPct,
		&windowMs, &floorStr, &a.Deadline, &highStr,
		&a.Suspended, &a.Settled, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}
	a.Owner = parseAddr(ownerHex)
	a.Custody = parseAddr(custodyHex)
	a.ExtensionWindow = time.Duration(windowMs) * time.Millisecond
	if a.StartingFloor, err = parseBig(floorStr); err != nil {
		return domain.Auction{}, err
	}
	if a.HighestAmount, err = parseBig(highStr); err != nil {
		return domain.Auction{}, err
	}
	return a, nil
}

// GetByID retrieves an auction by its primary key.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// List returns auctions with pagination and optional time filtering, newest
// first.
func (s *AuctionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	query := `SELECT ` + auctionCols + ` FROM auctions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	defer rows.Close()

	var auctions []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list auctions rows: %w", err)
	}
	return auctions, nil
}

// ListUnsettled returns every auction that has not completed a settlement
// run, oldest deadline first. Used at startup to rebuild engines and by the
// deadline watcher.
func (s *AuctionStore) ListUnsettled(ctx context.Context) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE settled = FALSE ORDER BY deadline ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unsettled auctions: %w", err)
	}
	defer rows.Close()

	var auctions []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan unsettled auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unsettled auctions rows: %w", err)
	}
	return auctions, nil
}
