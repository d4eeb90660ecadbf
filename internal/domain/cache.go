package domain

import (
	"context"
	"time"
)

// RateDecision reports one rate limit check. Remaining counts attempts left
// in the window after this one; RetryAfter is how long until the oldest
// counted attempt slides out, zero when the attempt was allowed.
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter bounds how often a keyed actor may act inside a sliding
// window. The bid path keys it by bidder address, the HTTP layer by client
// IP.
type RateLimiter interface {
	// Allow records one attempt for key and reports whether it stays within
	// limit attempts per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// LockManager serializes settlement runs across replicas.
type LockManager interface {
	// Acquire takes the named lock for at most ttl. On success the returned
	// unlock releases it early; a concurrent holder surfaces as ErrLockHeld.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry read back from the durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus fans auction events out to live subscribers and appends them to
// a durable stream for replay. Consumers take narrower slices of it: the
// services publish, the WebSocket hub subscribes, the replay endpoint reads
// the stream.
type EventBus interface {
	// PublishEvent fans one auction event out to the per-auction channel,
	// the firehose channel and the durable stream.
	PublishEvent(ctx context.Context, evt Event) error
	// Subscribe opens a live feed of raw payloads for one channel. The feed
	// closes with the context.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	// StreamRead returns up to count stream entries appended after lastID,
	// oldest first; "0" starts from the beginning.
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
