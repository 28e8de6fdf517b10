package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liqwatch/liqwatch/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a UserStore backed by the given pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userSelectCols = `id, wallet_address, email, telegram_chat_id, preferences, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u              domain.User
		preferencesRaw []byte
	)
	err := row.Scan(&u.ID, &u.WalletAddress, &u.Email, &u.TelegramChatID, &preferencesRaw, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, err
	}
	if len(preferencesRaw) > 0 {
		var prefs domain.UserPreferences
		if err := json.Unmarshal(preferencesRaw, &prefs); err != nil {
			return domain.User{}, fmt.Errorf("postgres: decode preferences for %s: %w", u.ID, domain.ErrDataIntegrity)
		}
		u.Preferences = &prefs
	}
	return u, nil
}

// FindByID returns one user by id.
func (s *UserStore) FindByID(ctx context.Context, id string) (domain.User, error) {
	query := `SELECT ` + userSelectCols + ` FROM users WHERE id = $1`
	u, err := scanUser(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, fmt.Errorf("postgres: user %s: %w", id, domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("postgres: find user %s: %w", id, err)
	}
	return u, nil
}

// FindByWalletAddress returns the user owning the wallet.
func (s *UserStore) FindByWalletAddress(ctx context.Context, wallet string) (domain.User, error) {
	query := `SELECT ` + userSelectCols + ` FROM users WHERE wallet_address = $1`
	u, err := scanUser(s.pool.QueryRow(ctx, query, wallet))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, fmt.Errorf("postgres: user by wallet %s: %w", wallet, domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("postgres: find user by wallet %s: %w", wallet, err)
	}
	return u, nil
}

// Save upserts the user by id.
func (s *UserStore) Save(ctx context.Context, u domain.User) error {
	var preferences []byte
	if u.Preferences != nil {
		var err error
		preferences, err = json.Marshal(u.Preferences)
		if err != nil {
			return fmt.Errorf("postgres: encode preferences for %s: %w", u.ID, err)
		}
	}

	const query = `
		INSERT INTO users (id, wallet_address, email, telegram_chat_id, preferences, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			wallet_address   = EXCLUDED.wallet_address,
			email            = EXCLUDED.email,
			telegram_chat_id = EXCLUDED.telegram_chat_id,
			preferences      = EXCLUDED.preferences,
			updated_at       = NOW()`

	_, err := s.pool.Exec(ctx, query, u.ID, u.WalletAddress, u.Email, u.TelegramChatID, preferences)
	if err != nil {
		return fmt.Errorf("postgres: save user %s: %w", u.ID, err)
	}
	return nil
}

// List returns users ordered by creation time.
func (s *UserStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.User, error) {
	query := `SELECT ` + userSelectCols + ` FROM users ORDER BY created_at`
	args := []any{}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

var _ domain.UserStore = (*UserStore)(nil)
