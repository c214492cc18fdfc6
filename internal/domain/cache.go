package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager serializes mutations of a single entity. Acquire blocks until
// the lock is held or ctx ends.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Lock key helpers.
func DelegationLockKey(user Identity) string {
	return "delegation:" + user.Hex()
}

func PositionLockKey(key PositionKey) string {
	return "position:" + key.String()
}

// NonceStore remembers request signatures so a signed request cannot be
// replayed inside its validity window. FirstSeen reports true exactly once
// per key until ttl passes.
type NonceStore interface {
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
