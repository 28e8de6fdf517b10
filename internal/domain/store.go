package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists position snapshots. Snapshots are append-only per
// (wallet, protocol); Save upserts by id but a fresh snapshot always carries a
// fresh id, so history accumulates.
type PositionStore interface {
	FindByID(ctx context.Context, id string) (Position, error)
	FindByUserID(ctx context.Context, userID string) ([]Position, error)
	FindByWalletAddress(ctx context.Context, wallet string) ([]Position, error)
	// FindLatestByWalletAndProtocol returns the most recent snapshot by
	// SnapshotAt, or ErrNotFound when the pair has no history.
	FindLatestByWalletAndProtocol(ctx context.Context, wallet, protocol string) (Position, error)
	Save(ctx context.Context, pos Position) error
	Delete(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) error
	// ListBefore returns snapshots older than the cutoff, for archival.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Position, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserStore persists users and their alerting preferences.
type UserStore interface {
	FindByID(ctx context.Context, id string) (User, error)
	FindByWalletAddress(ctx context.Context, wallet string) (User, error)
	Save(ctx context.Context, u User) error
	List(ctx context.Context, opts ListOpts) ([]User, error)
}

// AlertStore persists dispatched alerts (the in-app channel).
type AlertStore interface {
	Create(ctx context.Context, a Alert) error
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Alert, error)
	// LastForPosition returns the most recent alert for a position, used for
	// cooldown checks. ErrNotFound when the position never alerted.
	LastForPosition(ctx context.Context, positionID string) (Alert, error)
}
