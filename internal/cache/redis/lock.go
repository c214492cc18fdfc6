package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so one holder can never release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const defaultRetryInterval = 10 * time.Millisecond

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// a Lua-based conditional unlock. It lets several ledger processes share one
// set of entity locks.
type LockManager struct {
	client        *Client
	rdb           *redis.Client
	unlockSc      *redis.Script
	retryInterval time.Duration
}

// NewLockManager creates a LockManager backed by the given Client.
// retryInterval is how often a blocked Acquire polls; zero picks a default.
func NewLockManager(c *Client, retryInterval time.Duration) *LockManager {
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	return &LockManager{
		client:        c,
		rdb:           c.Underlying(),
		unlockSc:      redis.NewScript(unlockLua),
		retryInterval: retryInterval,
	}
}

// TryAcquire makes a single attempt and returns domain.ErrLockHeld when the
// key is taken. The returned unlock is safe to call more than once.
func (lm *LockManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.client.Key("lock", key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}, nil
}

// Acquire polls TryAcquire until the lock is obtained or ctx ends.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	ticker := time.NewTicker(lm.retryInterval)
	defer ticker.Stop()

	for {
		unlock, err := lm.TryAcquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
