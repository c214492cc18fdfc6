package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// NonceStore implements domain.NonceStore with SETNX so replay protection
// holds across every API replica.
type NonceStore struct {
	client *Client
	rdb    *redis.Client
}

var _ domain.NonceStore = (*NonceStore)(nil)

// NewNonceStore creates a NonceStore backed by the given Client.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{client: c, rdb: c.Underlying()}
}

func (n *NonceStore) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := n.rdb.SetNX(ctx, n.client.Key("nonce", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: nonce %s: %w", key, err)
	}
	return ok, nil
}
