package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liqwatch/liqwatch/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache using Redis string keys. Each
// (wallet, protocol) pair's latest snapshot is stored JSON-encoded under the
// process namespace with a TTL so stale entries age out on their own.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client. A
// non-positive ttl disables expiry.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: c.rdb, ttl: ttl}
}

// snapshotKey lowercases the wallet so mixed-case configuration of the same
// address hits one cache entry.
func snapshotKey(wallet, protocol string) string {
	return key("snapshot", strings.ToLower(wallet), protocol)
}

// Set stores the snapshot as the latest for its (wallet, protocol) pair.
func (sc *SnapshotCache) Set(ctx context.Context, pos domain.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", pos.ID, err)
	}
	key := snapshotKey(pos.WalletAddress, pos.Protocol)
	if err := sc.rdb.Set(ctx, key, data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", key, err)
	}
	return nil
}

// Get retrieves the cached snapshot. It returns domain.ErrNotFound when the
// pair has no cached entry.
func (sc *SnapshotCache) Get(ctx context.Context, wallet, protocol string) (domain.Position, error) {
	key := snapshotKey(wallet, protocol)
	data, err := sc.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("redis: get snapshot %s: %w", key, err)
	}

	var pos domain.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return domain.Position{}, fmt.Errorf("redis: decode snapshot %s: %w: %w", key, err, domain.ErrDataIntegrity)
	}
	return pos, nil
}

// Invalidate drops the cached snapshot for the pair. Missing keys are not an
// error.
func (sc *SnapshotCache) Invalidate(ctx context.Context, wallet, protocol string) error {
	key := snapshotKey(wallet, protocol)
	if err := sc.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
