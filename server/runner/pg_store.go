package runner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nomis52/gosdm/lifecycle"
)

const (
	defaultPingTimeout  = 5 * time.Second
	defaultMaxOpenConns = 10
)

const schema = `
CREATE TABLE IF NOT EXISTS sdm_lifecycles (
	id         TEXT PRIMARY KEY,
	plan       TEXT NOT NULL,
	active     BOOLEAN NOT NULL,
	revision   INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	snapshot   JSONB NOT NULL
)`

// PostgresStore persists lifecycles in a PostgreSQL table. The full snapshot
// is kept as JSONB; the other columns exist for ordering and pruning.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgresStore connects to databaseURL through the pgx driver and
// creates the table if it is missing.
func OpenPostgresStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s, err := NewPostgresStore(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore uses an open database handle.
func NewPostgresStore(ctx context.Context, db *sql.DB, logger *slog.Logger) (*PostgresStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{
		db:     db,
		logger: logger.With("component", "postgres_store"),
	}, nil
}

// Ping checks the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Save upserts the snapshot. An older revision never overwrites a newer one.
func (s *PostgresStore) Save(ctx context.Context, lc *lifecycle.Lifecycle) error {
	data, err := json.Marshal(lc)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sdm_lifecycles (id, plan, active, revision, created_at, updated_at, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		   SET active = EXCLUDED.active,
		       revision = EXCLUDED.revision,
		       updated_at = EXCLUDED.updated_at,
		       snapshot = EXCLUDED.snapshot
		 WHERE sdm_lifecycles.revision <= EXCLUDED.revision
	`, lc.ID, lc.Plan, lc.Active(), lc.Revision, lc.CreatedAt, lc.UpdatedAt, data)
	if err != nil {
		return fmt.Errorf("failed to save lifecycle %s: %w", lc.ID, err)
	}
	return nil
}

// Load returns the lifecycle or ErrNotFound.
func (s *PostgresStore) Load(ctx context.Context, id string) (*lifecycle.Lifecycle, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM sdm_lifecycles WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lifecycle %s: %w", id, err)
	}
	return decodeSnapshot(data)
}

// List returns every lifecycle, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]*lifecycle.Lifecycle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM sdm_lifecycles ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list lifecycles: %w", err)
	}
	defer rows.Close()

	var result []*lifecycle.Lifecycle
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan lifecycle: %w", err)
		}
		lc, err := decodeSnapshot(data)
		if err != nil {
			s.logger.Warn("skipping unreadable lifecycle", "error", err)
			continue
		}
		result = append(result, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list lifecycles: %w", err)
	}
	return result, nil
}

// Prune deletes finished lifecycles last updated before the cutoff.
func (s *PostgresStore) Prune(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM sdm_lifecycles
		 WHERE NOT active AND updated_at < $1
		RETURNING id
	`, before)
	if err != nil {
		return nil, fmt.Errorf("failed to prune lifecycles: %w", err)
	}
	defer rows.Close()

	var pruned []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return pruned, fmt.Errorf("failed to scan pruned id: %w", err)
		}
		pruned = append(pruned, id)
	}
	return pruned, rows.Err()
}

func decodeSnapshot(data []byte) (*lifecycle.Lifecycle, error) {
	var lc lifecycle.Lifecycle
	if err := json.Unmarshal(data, &lc); err != nil {
		return nil, fmt.Errorf("failed to decode lifecycle snapshot: %w", err)
	}
	return &lc, nil
}
