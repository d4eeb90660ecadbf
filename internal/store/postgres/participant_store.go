package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelhouse/gavel/internal/domain"
)

// ParticipantStore implements domain.ParticipantStore using PostgreSQL.
type ParticipantStore struct {
	pool *pgxpool.Pool
}

// NewParticipantStore creates a new ParticipantStore backed by the given
// connection pool.
func NewParticipantStore(pool *pgxpool.Pool) *ParticipantStore {
	return &ParticipantStore{pool: pool}
}

const participantUpsert = `
	INSERT INTO participants (
		auction_id, address, current_offer, total_deposited,
		registered, position, updated_at
	) VALUES (
		$1, $2, $3::numeric, $4::numeric, $5, $6, NOW()
	)
	ON CONFLICT (auction_id, address) DO UPDATE SET
		current_offer   = EXCLUDED.current_offer,
		total_deposited = EXCLUDED.total_deposited,
		registered      = EXCLUDED.registered,
		updated_at      = NOW()`

// Upsert inserts or updates a single accounting record. The position column
// is written on first insert and never moves afterwards.
func (s *ParticipantStore) Upsert(ctx context.Context, p domain.Participant) error {
	_, err := s.pool.Exec(ctx, participantUpsert,
		p.AuctionID, addrArg(p.Address),
		bigArg(p.CurrentOffer), bigArg(p.TotalDeposited),
		p.Registered, p.Position,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert participant %s/%s: %w", p.AuctionID, p.Address.Hex(), err)
	}
	return nil
}

// UpsertBatch inserts or updates multiple records in a single batch operation.
func (s *ParticipantStore) UpsertBatch(ctx context.Context, ps []domain.Participant) error {
	if len(ps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range ps {
		batch.Queue(participantUpsert,
			p.AuctionID, addrArg(p.Address),
			bigArg(p.CurrentOffer), bigArg(p.TotalDeposited),
			p.Registered, p.Position,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range ps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert participant batch item %d: %w", i, err)
		}
	}
	return nil
}

// scanParticipant scans a single participant row.
func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var (
		p                domain.Participant
		addrHex          string
		offerStr, depStr string
	)
	err := row.Scan(
		&p.AuctionID, &addrHex, &offerStr, &depStr,
		&p.Registered, &p.Position,
	)
	if err != nil {
		return domain.Participant{}, err
	}
	p.Address = parseAddr(addrHex)
	if p.CurrentOffer, err = parseBig(offerStr); err != nil {
		return domain.Participant{}, err
	}
	if p.TotalDeposited, err = parseBig(depStr); err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}

const participantCols = `auction_id, address, current_offer::text, total_deposited::text,
	registered, position`

// GetByAddress retrieves one identity's record for an auction.
func (s *ParticipantStore) GetByAddress(ctx context.Context, auctionID string, addr common.Address) (domain.Participant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+participantCols+` FROM participants WHERE auction_id = $1 AND address = $2`,
		auctionID, addrArg(addr))
	p, err := scanParticipant(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Participant{}, domain.ErrNotFound
		}
		return domain.Participant{}, fmt.Errorf("postgres: get participant %s/%s: %w", auctionID, addr.Hex(), err)
	}
	return p, nil
}

// ListByAuction returns an auction's records in insertion order.
func (s *ParticipantStore) ListByAuction(ctx context.Context, auctionID string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantCols+` FROM participants WHERE auction_id = $1 ORDER BY position ASC`,
		auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list participants %s: %w", auctionID, err)
	}
	defer rows.Close()

	var ps []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan participant: %w", err)
		}
		ps = append(ps, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list participants rows: %w", err)
	}
	return ps, nil
}
