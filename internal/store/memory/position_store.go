package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liqwatch/liqwatch/internal/domain"
)

// PositionStore is an in-memory domain.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	byID map[string]domain.Position
}

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{byID: make(map[string]domain.Position)}
}

// FindByID returns the snapshot with the given id.
func (s *PositionStore) FindByID(ctx context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (s *PositionStore) filter(keep func(domain.Position) bool) []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, p := range s.byID {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotAt.Before(out[j].SnapshotAt) })
	return out
}

// FindByUserID returns all snapshots owned by the user.
func (s *PositionStore) FindByUserID(ctx context.Context, userID string) ([]domain.Position, error) {
	return s.filter(func(p domain.Position) bool { return p.UserID == userID }), nil
}

// FindByWalletAddress returns all snapshots for the wallet.
func (s *PositionStore) FindByWalletAddress(ctx context.Context, wallet string) ([]domain.Position, error) {
	return s.filter(func(p domain.Position) bool { return p.WalletAddress == wallet }), nil
}

// FindLatestByWalletAndProtocol returns the most recent snapshot by
// SnapshotAt for the pair.
func (s *PositionStore) FindLatestByWalletAndProtocol(ctx context.Context, wallet, protocol string) (domain.Position, error) {
	matches := s.filter(func(p domain.Position) bool {
		return p.WalletAddress == wallet && p.Protocol == protocol
	})
	if len(matches) == 0 {
		return domain.Position{}, fmt.Errorf("memory: latest position %s/%s: %w", wallet, protocol, domain.ErrNotFound)
	}
	return matches[len(matches)-1], nil
}

// Save upserts the snapshot by id.
func (s *PositionStore) Save(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[pos.ID] = pos
	return nil
}

// Delete removes one snapshot.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

// DeleteByUserID removes all of a user's snapshots.
func (s *PositionStore) DeleteByUserID(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.byID {
		if p.UserID == userID {
			delete(s.byID, id)
		}
	}
	return nil
}

// ListBefore returns snapshots older than the cutoff.
func (s *PositionStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	out := s.filter(func(p domain.Position) bool { return p.SnapshotAt.Before(cutoff) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteBefore removes snapshots older than the cutoff.
func (s *PositionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, p := range s.byID {
		if p.SnapshotAt.Before(cutoff) {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
