package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liqwatch/liqwatch/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Collateral,
// debt, and metadata are stored as jsonb so protocol-specific fields round-trip
// untouched.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, user_id, wallet_address, protocol, chain_id,
	health_factor, collateral, debt, metadata, snapshot_at, created_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                          domain.Position
		collateralRaw, debtRaw     []byte
		metadataRaw                []byte
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.WalletAddress, &p.Protocol, &p.ChainID,
		&p.HealthFactor, &collateralRaw, &debtRaw, &metadataRaw,
		&p.SnapshotAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, err
	}

	if err := json.Unmarshal(collateralRaw, &p.Collateral); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: decode collateral for %s: %w", p.ID, domain.ErrDataIntegrity)
	}
	if err := json.Unmarshal(debtRaw, &p.Debt); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: decode debt for %s: %w", p.ID, domain.ErrDataIntegrity)
	}
	if len(metadataRaw) > 0 {
		var md domain.PositionMetadata
		if err := json.Unmarshal(metadataRaw, &md); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: decode metadata for %s: %w", p.ID, domain.ErrDataIntegrity)
		}
		p.Metadata = &md
	}
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindByID returns one snapshot by id.
func (s *PositionStore) FindByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: find position %s: %w", id, err)
	}
	return p, nil
}

// FindByUserID returns all snapshots owned by the user, oldest first.
func (s *PositionStore) FindByUserID(ctx context.Context, userID string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE user_id = $1 ORDER BY snapshot_at`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: positions by user %s: %w", userID, err)
	}
	return collectPositions(rows)
}

// FindByWalletAddress returns all snapshots for the wallet, oldest first.
func (s *PositionStore) FindByWalletAddress(ctx context.Context, wallet string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE wallet_address = $1 ORDER BY snapshot_at`
	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("postgres: positions by wallet %s: %w", wallet, err)
	}
	return collectPositions(rows)
}

// FindLatestByWalletAndProtocol returns the most recent snapshot by
// snapshot_at for the pair.
func (s *PositionStore) FindLatestByWalletAndProtocol(ctx context.Context, wallet, protocol string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions
		WHERE wallet_address = $1 AND protocol = $2
		ORDER BY snapshot_at DESC
		LIMIT 1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, wallet, protocol))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, fmt.Errorf("postgres: latest position %s/%s: %w", wallet, protocol, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: latest position %s/%s: %w", wallet, protocol, err)
	}
	return p, nil
}

// Save upserts the snapshot by id.
func (s *PositionStore) Save(ctx context.Context, pos domain.Position) error {
	collateral, err := json.Marshal(pos.Collateral)
	if err != nil {
		return fmt.Errorf("postgres: encode collateral for %s: %w", pos.ID, err)
	}
	debt, err := json.Marshal(pos.Debt)
	if err != nil {
		return fmt.Errorf("postgres: encode debt for %s: %w", pos.ID, err)
	}
	var metadata []byte
	if pos.Metadata != nil {
		metadata, err = json.Marshal(pos.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: encode metadata for %s: %w", pos.ID, err)
		}
	}

	const query = `
		INSERT INTO positions (
			id, user_id, wallet_address, protocol, chain_id,
			health_factor, collateral, debt, metadata, snapshot_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			user_id        = EXCLUDED.user_id,
			wallet_address = EXCLUDED.wallet_address,
			protocol       = EXCLUDED.protocol,
			chain_id       = EXCLUDED.chain_id,
			health_factor  = EXCLUDED.health_factor,
			collateral     = EXCLUDED.collateral,
			debt           = EXCLUDED.debt,
			metadata       = EXCLUDED.metadata,
			snapshot_at    = EXCLUDED.snapshot_at,
			updated_at     = NOW()`

	_, err = s.pool.Exec(ctx, query,
		pos.ID, pos.UserID, pos.WalletAddress, pos.Protocol, pos.ChainID,
		pos.HealthFactor, collateral, debt, metadata, pos.SnapshotAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", pos.ID, err)
	}
	return nil
}

// Delete removes one snapshot.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", id, err)
	}
	return nil
}

// DeleteByUserID removes all of a user's snapshots.
func (s *PositionStore) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("postgres: delete positions for user %s: %w", userID, err)
	}
	return nil
}

// ListBefore returns snapshots older than the cutoff, oldest first, for
// archival. A non-positive limit returns every matching row.
func (s *PositionStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE snapshot_at < $1 ORDER BY snapshot_at`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: positions before %s: %w", cutoff, err)
	}
	return collectPositions(rows)
}

// DeleteBefore removes snapshots older than the cutoff and reports how many
// rows went away.
func (s *PositionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE snapshot_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete positions before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
