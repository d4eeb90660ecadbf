package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gavelhouse/gavel/internal/domain"
)

// In-memory store stubs backing the service tests. They mirror the Postgres
// stores' observable behavior: upserts, append-only bids, newest-first audit.

type memAuctionStore struct {
	mu   sync.Mutex
	rows map[string]domain.Auction
}

func newMemAuctionStore() *memAuctionStore {
	return &memAuctionStore{rows: make(map[string]domain.Auction)}
}

func (m *memAuctionStore) Create(_ context.Context, a domain.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[a.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.rows[a.ID] = a
	return nil
}

func (m *memAuctionStore) Update(_ context.Context, a domain.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[a.ID]; !ok {
		return domain.ErrNotFound
	}
	m.rows[a.ID] = a
	return nil
}

func (m *memAuctionStore) GetByID(_ context.Context, id string) (domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *memAuctionStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Auction, 0, len(m.rows))
	for _, a := range m.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memAuctionStore) ListUnsettled(_ context.Context) ([]domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Auction
	for _, a := range m.rows {
		if !a.Settled {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out, nil
}

type memParticipantStore struct {
	mu   sync.Mutex
	rows map[string]map[common.Address]domain.Participant
}

func newMemParticipantStore() *memParticipantStore {
	return &memParticipantStore{rows: make(map[string]map[common.Address]domain.Participant)}
}

func (m *memParticipantStore) Upsert(_ context.Context, p domain.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[p.AuctionID] == nil {
		m.rows[p.AuctionID] = make(map[common.Address]domain.Participant)
	}
	m.rows[p.AuctionID][p.Address] = p
	return nil
}

func (m *memParticipantStore) UpsertBatch(ctx context.Context, ps []domain.Participant) error {
	for _, p := range ps {
		if err := m.Upsert(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *memParticipantStore) GetByAddress(_ context.Context, auctionID string, addr common.Address) (domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[auctionID][addr]
	if !ok {
		return domain.Participant{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memParticipantStore) ListByAuction(_ context.Context, auctionID string) ([]domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Participant
	for _, p := range m.rows[auctionID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

type memBidStore struct {
	mu   sync.Mutex
	rows map[string][]domain.BidEntry
}

func newMemBidStore() *memBidStore {
	return &memBidStore{rows: make(map[string][]domain.BidEntry)}
}

func (m *memBidStore) Append(_ context.Context, b domain.BidEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows[b.AuctionID] {
		if existing.Seq == b.Seq {
			return domain.ErrAlreadyExists
		}
	}
	m.rows[b.AuctionID] = append(m.rows[b.AuctionID], b)
	return nil
}

func (m *memBidStore) ListByAuction(_ context.Context, auctionID string, opts domain.ListOpts) ([]domain.BidEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.BidEntry(nil), m.rows[auctionID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memBidStore) CountByAuction(_ context.Context, auctionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows[auctionID])), nil
}

type memPayoutStore struct {
	mu   sync.Mutex
	rows map[string][]domain.Payout
}

func newMemPayoutStore() *memPayoutStore {
	return &memPayoutStore{rows: make(map[string][]domain.Payout)}
}

func (m *memPayoutStore) CreateBatch(_ context.Context, ps []domain.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		dup := false
		for _, existing := range m.rows[p.AuctionID] {
			if existing.ID == p.ID {
				dup = true
				break
			}
		}
		if !dup {
			m.rows[p.AuctionID] = append(m.rows[p.AuctionID], p)
		}
	}
	return nil
}

func (m *memPayoutStore) ListByAuction(_ context.Context, auctionID string) ([]domain.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Payout(nil), m.rows[auctionID]...), nil
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func newMemAuditStore() *memAuditStore { return &memAuditStore{} }

func (m *memAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{
		ID:        int64(len(m.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *memAuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.AuditEntry(nil), m.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memAuditStore) ListByEvent(_ context.Context, prefix string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if len(e.Event) >= len(prefix) && e.Event[:len(prefix)] == prefix {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memAuditStore) byEvent(event string) []domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// stubBus records every published event for assertions.
type stubBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *stubBus) PublishEvent(_ context.Context, evt domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}

func (b *stubBus) byType(eventType string) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, e := range b.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// stubLimiter denies everything when tripped.
type stubLimiter struct {
	deny bool
}

func (l *stubLimiter) Allow(context.Context, string, int, time.Duration) (domain.RateDecision, error) {
	return domain.RateDecision{Allowed: !l.deny}, nil
}
