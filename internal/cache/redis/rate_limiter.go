package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gavelhouse/gavel/internal/domain"
)

// slidingWindowLua counts attempts in a sorted set scored by microsecond
// timestamps and replies {allowed, remaining, retry_after_micro}. Running it
// as a script keeps trim, count and insert atomic, so concurrent attempts
// through several replicas cannot overshoot the limit.
//
//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter is the Redis-backed domain.RateLimiter. One instance serves
// both the per-bidder bid throttle and the per-IP API throttle; callers
// namespace their own keys ("bids:0xabc...", "api:198.51.100.7") and the
// prefix here keeps them clear of other gavel state.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying(), script: redis.NewScript(slidingWindowLua)}
}

// Allow counts one attempt for key and reports the decision. A denied
// attempt is not counted, so probing a closed window does not extend it.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	reply, err := rl.script.Run(
		ctx,
		rl.rdb,
		[]string{"gavel:ratelimit:" + key},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(reply) != 3 {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: unexpected reply %v", key, reply)
	}

	return domain.RateDecision{
		Allowed:    reply[0] == 1,
		Remaining:  int(reply[1]),
		RetryAfter: time.Duration(reply[2]) * time.Microsecond,
	}, nil
}
