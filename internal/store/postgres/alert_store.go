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

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates an AlertStore backed by the given pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertSelectCols = `id, user_id, position_id, severity, title, message,
	health_factor, threshold, channels, created_at`

func scanAlert(row pgx.Row) (domain.Alert, error) {
	var (
		a           domain.Alert
		severity    string
		channelsRaw []byte
	)
	err := row.Scan(&a.ID, &a.UserID, &a.PositionID, &severity, &a.Title, &a.Message,
		&a.HealthFactor, &a.Threshold, &channelsRaw, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Alert{}, domain.ErrNotFound
		}
		return domain.Alert{}, err
	}
	a.Severity = domain.AlertSeverity(severity)
	if err := json.Unmarshal(channelsRaw, &a.Channels); err != nil {
		return domain.Alert{}, fmt.Errorf("postgres: decode channels for alert %s: %w", a.ID, domain.ErrDataIntegrity)
	}
	return a, nil
}

// Create inserts a new alert row.
func (s *AlertStore) Create(ctx context.Context, a domain.Alert) error {
	channels, err := json.Marshal(a.Channels)
	if err != nil {
		return fmt.Errorf("postgres: encode channels for alert %s: %w", a.ID, err)
	}

	const query = `
		INSERT INTO alerts (
			id, user_id, position_id, severity, title, message,
			health_factor, threshold, channels, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.pool.Exec(ctx, query,
		a.ID, a.UserID, a.PositionID, string(a.Severity), a.Title, a.Message,
		a.HealthFactor, a.Threshold, channels, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create alert %s: %w", a.ID, err)
	}
	return nil
}

// ListByUser returns a user's alerts, newest first.
func (s *AlertStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Alert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM alerts WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{userID}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: alerts for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LastForPosition returns the most recent alert for a position, for cooldown
// checks.
func (s *AlertStore) LastForPosition(ctx context.Context, positionID string) (domain.Alert, error) {
	query := `SELECT ` + alertSelectCols + `
		FROM alerts WHERE position_id = $1 ORDER BY created_at DESC LIMIT 1`
	a, err := scanAlert(s.pool.QueryRow(ctx, query, positionID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Alert{}, fmt.Errorf("postgres: last alert for %s: %w", positionID, domain.ErrNotFound)
		}
		return domain.Alert{}, fmt.Errorf("postgres: last alert for %s: %w", positionID, err)
	}
	return a, nil
}

var _ domain.AlertStore = (*AlertStore)(nil)
