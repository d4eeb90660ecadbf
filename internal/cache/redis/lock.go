package redis

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gavelhouse/gavel/internal/domain"
)

//go:embed scripts/unlock.lua
var unlockLua string

// LockManager implements domain.LockManager: SET NX with a TTL to take the
// lock, a random holder token plus a conditional Lua delete to release it.
// The token keeps a replica whose lock already expired from deleting the
// next holder's lock.
type LockManager struct {
	rdb    *redis.Client
	unlock *redis.Script
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:    c.Underlying(),
		unlock: redis.NewScript(unlockLua),
	}
}

func lockKey(key string) string {
	return "gavel:lock:" + key
}

// AuctionLockKey names the lock serializing mutations of one auction across
// replicas.
func AuctionLockKey(auctionID string) string {
	return "auction:" + auctionID
}

// Acquire takes the named lock for at most ttl. On success the returned
// unlock releases it early and is safe to call more than once. A lock held
// elsewhere reports domain.ErrLockHeld.
func (m *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := m.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context is often cancelled by the time the
			// deferred unlock runs, so release on a fresh one.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = m.unlock.Run(unlockCtx, m.rdb, []string{lk}, token).Err()
		})
	}, nil
}
