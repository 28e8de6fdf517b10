package domain

import (
	"context"
	"time"
)

// SnapshotCache caches the latest position snapshot per (wallet, protocol) so
// the monitoring diff does not hit the database on every poll.
type SnapshotCache interface {
	Set(ctx context.Context, pos Position) error
	Get(ctx context.Context, wallet, protocol string) (Position, error)
	Invalidate(ctx context.Context, wallet, protocol string) error
}

// LockManager provides distributed locking so that only one process instance
// monitors a given (wallet, protocol) pair at a time. Acquire returns
// ErrLockHeld when another instance owns the pair.
type LockManager interface {
	Acquire(ctx context.Context, wallet, protocol string, ttl time.Duration) (unlock func(), err error)
}
