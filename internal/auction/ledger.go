package auction

import "github.com/gavelhouse/gavel/internal/domain"

// Ledger is the append-only chronological record of accepted bids. Entries
// are never mutated or truncated after append, and the tail entry always
// names the current leader; no separate leader field exists anywhere.
type Ledger struct {
	entries []domain.BidEntry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger { return &Ledger{} }

// Append adds an accepted bid at the end of the ledger.
func (l *Ledger) Append(e domain.BidEntry) { l.entries = append(l.entries, e) }

// Len returns the number of entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Tail returns the most recent entry. The second return is false when the
// ledger is empty.
func (l *Ledger) Tail() (domain.BidEntry, bool) {
	if len(l.entries) == 0 {
		return domain.BidEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Entries returns a copy of the ledger in chronological order.
func (l *Ledger) Entries() []domain.BidEntry {
	out := make([]domain.BidEntry, len(l.entries))
	copy(out, l.entries)
	for i := range out {
		out[i].Amount = cloneBigInt(out[i].Amount)
	}
	return out
}
