package domain

import (
	"context"
	"time"
)

// OrderedStore abstracts the shared ordered store backing queue partitions and
// rate-window counters. This allows a real go-redis client or the in-memory
// standalone store to be used interchangeably.
type OrderedStore interface {
	// ZAdd inserts member into the sorted set at key with the given score.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZCard returns the number of members in the sorted set at key.
	ZCard(ctx context.Context, key string) (int64, error)
	// ZPopMax atomically removes and returns the highest-scored member at key.
	// The second return is false when the set is empty.
	ZPopMax(ctx context.Context, key string) (string, bool, error)
	// IncrWithTTL atomically increments the counter at key and returns the new
	// value. The key expires ttl after its first increment.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	// Close releases store connections.
	Close() error
}
