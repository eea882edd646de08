// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/migration-progress/internal/store"
)

// Schema creates the tables used by RunStore. It is safe to apply repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS migration_runs (
	id               TEXT PRIMARY KEY,
	previous_version TEXT NOT NULL DEFAULT '',
	current_version  TEXT NOT NULL DEFAULT '',
	total_items      INTEGER NOT NULL,
	completed_items  INTEGER NOT NULL DEFAULT 0,
	started_at       TIMESTAMPTZ NOT NULL,
	finished_at      TIMESTAMPTZ,
	status           TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS migration_items (
	run_id            TEXT NOT NULL REFERENCES migration_runs (id) ON DELETE CASCADE,
	ordinal           INTEGER NOT NULL,
	name              TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	registered_number INTEGER NOT NULL DEFAULT 0,
	total_records     INTEGER NOT NULL,
	completed_records INTEGER NOT NULL DEFAULT 0,
	started_at        TIMESTAMPTZ NOT NULL,
	finished_at       TIMESTAMPTZ,
	status            TEXT NOT NULL,
	PRIMARY KEY (run_id, ordinal)
);`

// RunStoreConfig controls the Postgres connection pool used for run history.
type RunStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// ApplySchema runs Schema once the pool is connected.
	ApplySchema bool
}

// Pool is the subset of *pgxpool.Pool used by RunStore. pgxmock pools satisfy it.
type Pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool Pool
}

// NewRunStore connects a pgx pool using cfg and returns a RunStore.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &RunStore{pool: pool}
	if cfg.ApplySchema {
		if err := s.ApplySchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// ApplySchema creates the history tables if they do not exist.
func (s *RunStore) ApplySchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply run history schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertRunStart inserts a run in running status; a repeated insert only
// refreshes the descriptive columns.
func (s *RunStore) UpsertRunStart(ctx context.Context, run store.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	query := `
		INSERT INTO migration_runs (id, previous_version, current_version, total_items, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET previous_version = EXCLUDED.previous_version,
			current_version = EXCLUDED.current_version,
			total_items = EXCLUDED.total_items;
	`
	_, err := s.pool.Exec(ctx, query,
		run.ID,
		run.PreviousVersion,
		run.CurrentVersion,
		run.TotalItems,
		run.StartedAt,
		store.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with the provided status.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status store.Status,
	completedItems int,
) error {
	query := `
		UPDATE migration_runs
		SET finished_at = $1, status = $2, completed_items = $3
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, completedItems, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpsertItemStart inserts an item in running status.
func (s *RunStore) UpsertItemStart(ctx context.Context, item store.ItemRecord) error {
	query := `
		INSERT INTO migration_items (
			run_id, ordinal, name, description, registered_number, total_records, started_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, ordinal) DO UPDATE
		SET name = EXCLUDED.name,
			description = EXCLUDED.description,
			registered_number = EXCLUDED.registered_number,
			total_records = EXCLUDED.total_records;
	`
	_, err := s.pool.Exec(ctx, query,
		item.RunID,
		item.Ordinal,
		item.Name,
		item.Description,
		item.RegisteredNumber,
		item.TotalRecords,
		item.StartedAt,
		store.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("upsert item start: %w", err)
	}
	return nil
}

// CompleteItem marks an item finished with the provided status.
func (s *RunStore) CompleteItem(
	ctx context.Context,
	runID string,
	ordinal int,
	finishedAt time.Time,
	status store.Status,
	completedRecords int,
) error {
	query := `
		UPDATE migration_items
		SET finished_at = $1, status = $2, completed_records = $3
		WHERE run_id = $4 AND ordinal = $5;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, completedRecords, runID, ordinal)
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const runColumns = `id, previous_version, current_version, total_items, completed_items, started_at, finished_at, status`

// GetRun retrieves a single run by its correlation id.
func (s *RunStore) GetRun(ctx context.Context, runID string) (store.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM migration_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RunRecord{}, store.ErrNotFound
		}
		return store.RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(
	ctx context.Context,
	status *store.Status,
	limit,
	offset int,
) ([]store.RunRecord, error) {
	query := `SELECT ` + runColumns + `
		FROM migration_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// ListRunItems retrieves the items of one run in ordinal order.
func (s *RunStore) ListRunItems(
	ctx context.Context,
	runID string,
	limit,
	offset int,
) ([]store.ItemRecord, error) {
	query := `
		SELECT run_id, ordinal, name, description, registered_number, total_records,
			completed_records, started_at, finished_at, status
		FROM migration_items
		WHERE run_id = $1
		ORDER BY ordinal ASC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run items: %w", err)
	}
	defer rows.Close()

	items := []store.ItemRecord{}
	for rows.Next() {
		var item store.ItemRecord
		err := rows.Scan(
			&item.RunID,
			&item.Ordinal,
			&item.Name,
			&item.Description,
			&item.RegisteredNumber,
			&item.TotalRecords,
			&item.CompletedRecords,
			&item.StartedAt,
			&item.FinishedAt,
			&item.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item rows: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (store.RunRecord, error) {
	var run store.RunRecord
	err := row.Scan(
		&run.ID,
		&run.PreviousVersion,
		&run.CurrentVersion,
		&run.TotalItems,
		&run.CompletedItems,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
	)
	if err != nil {
		return store.RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}
