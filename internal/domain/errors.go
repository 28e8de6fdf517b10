package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrDataSourceUnavailable marks an upstream fetch failure (RPC node or
	// indexer unreachable). Retryable with backoff.
	ErrDataSourceUnavailable = errors.New("data source unavailable")

	// ErrDataIntegrity marks a malformed numeric or decimal field. Not
	// retryable; the snapshot carrying it must be rejected, never partially
	// stored.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrVersionConflict marks a concurrent event-store append racing on the
	// same aggregate version. Retryable after re-reading the current version.
	ErrVersionConflict = errors.New("event version conflict")

	// ErrDuplicateEvent marks a re-delivered event id already present in the
	// store. The append is rejected without creating a new version.
	ErrDuplicateEvent = errors.New("duplicate event id")

	ErrInvalidAddress = errors.New("invalid wallet address")
	ErrLockHeld       = errors.New("lock already held")
)
