// Package store provides implementations of domain.OrderedStore: a Redis
// client for shared deployments and an in-memory store for standalone mode.
package store

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"taskgrid/internal/domain"
)

// RedisStore implements domain.OrderedStore on a go-redis client.
// Sorted sets back the queue partitions (ZADD/ZCARD/ZPOPMAX) and plain
// counters with TTL back the rate-limit windows.
type RedisStore struct {
	client *goredis.Client
}

// NewRedisStore parses the URL, connects, and verifies the server with a ping.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %v", domain.ErrStoreUnavailable, err)
	}
	return &RedisStore{client: client}, nil
}

// ZAdd implements domain.OrderedStore.
func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := s.client.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("%w: zadd %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return nil
}

// ZCard implements domain.OrderedStore.
func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: zcard %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return n, nil
}

// ZPopMax implements domain.OrderedStore. ZPOPMAX is atomic server-side, so
// concurrent workers never receive the same member twice.
func (s *RedisStore) ZPopMax(ctx context.Context, key string) (string, bool, error) {
	res, err := s.client.ZPopMax(ctx, key, 1).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: zpopmax %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	if len(res) == 0 {
		return "", false, nil
	}
	member, ok := res[0].Member.(string)
	if !ok {
		return "", false, fmt.Errorf("zpopmax %s: unexpected member type %T", key, res[0].Member)
	}
	return member, true, nil
}

// IncrWithTTL implements domain.OrderedStore. The expiry is set only when the
// increment created the key, so the window keeps its original deadline.
func (s *RedisStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	if n == 1 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("%w: expire %s: %v", domain.ErrStoreUnavailable, key, err)
		}
	}
	return n, nil
}

// Ping implements domain.OrderedStore.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Close implements domain.OrderedStore.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ domain.OrderedStore = (*RedisStore)(nil)
