package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/liqwatch/liqwatch/internal/domain"
)

// UserStore is an in-memory domain.UserStore.
type UserStore struct {
	mu   sync.RWMutex
	byID map[string]domain.User
}

// NewUserStore creates an empty store.
func NewUserStore() *UserStore {
	return &UserStore{byID: make(map[string]domain.User)}
}

// FindByID returns the user with the given id.
func (s *UserStore) FindByID(ctx context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return domain.User{}, fmt.Errorf("memory: user %s: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

// FindByWalletAddress returns the user owning the wallet.
func (s *UserStore) FindByWalletAddress(ctx context.Context, wallet string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.byID {
		if u.WalletAddress == wallet {
			return u, nil
		}
	}
	return domain.User{}, fmt.Errorf("memory: user by wallet %s: %w", wallet, domain.ErrNotFound)
}

// Save upserts the user by id.
func (s *UserStore) Save(ctx context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[u.ID] = u
	return nil
}

// List returns users ordered by creation time.
func (s *UserStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.User, error) {
	s.mu.RLock()
	out := make([]domain.User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

var _ domain.UserStore = (*UserStore)(nil)

// AlertStore is an in-memory domain.AlertStore.
type AlertStore struct {
	mu     sync.RWMutex
	alerts []domain.Alert
}

// NewAlertStore creates an empty store.
func NewAlertStore() *AlertStore {
	return &AlertStore{}
}

// Create appends an alert.
func (s *AlertStore) Create(ctx context.Context, a domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

// ListByUser returns a user's alerts, newest first.
func (s *AlertStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Alert, error) {
	s.mu.RLock()
	var out []domain.Alert
	for _, a := range s.alerts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// LastForPosition returns the most recent alert for a position.
func (s *AlertStore) LastForPosition(ctx context.Context, positionID string) (domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *domain.Alert
	for i := range s.alerts {
		a := s.alerts[i]
		if a.PositionID != positionID {
			continue
		}
		if last == nil || a.CreatedAt.After(last.CreatedAt) {
			last = &a
		}
	}
	if last == nil {
		return domain.Alert{}, fmt.Errorf("memory: last alert for %s: %w", positionID, domain.ErrNotFound)
	}
	return *last, nil
}

var _ domain.AlertStore = (*AlertStore)(nil)
