// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/bytewatch/internal/store"
)

// Config controls the pgx connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of pgxpool.Pool the store needs. pgxmock pools
// satisfy it in tests.
type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// ResolutionStore implements store.ResolutionRepository.
type ResolutionStore struct {
	pool querier
}

var _ store.ResolutionRepository = (*ResolutionStore)(nil)

// NewResolutionStore connects a pool using cfg.
func NewResolutionStore(ctx context.Context, cfg Config) (*ResolutionStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
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
	return &ResolutionStore{pool: pool}, nil
}

// NewResolutionStoreWithPool wraps an existing pool (primarily for testing).
func NewResolutionStoreWithPool(pool querier) (*ResolutionStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ResolutionStore{pool: pool}, nil
}

//go:embed schema.sql
var schemaSQL string

// Migrate creates the history tables if they do not exist.
func (s *ResolutionStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *ResolutionStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *ResolutionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const upsertStartSQL = `
INSERT INTO resolution_runs (id, content_key, started_at, status, candidates)
VALUES ($1, $2, $3, $4, 0)
ON CONFLICT (id) DO NOTHING;`

// UpsertResolutionStart inserts a running row.
func (s *ResolutionStore) UpsertResolutionStart(
	ctx context.Context,
	id uuid.UUID,
	contentKey string,
	startedAt time.Time,
) error {
	if _, err := s.pool.Exec(ctx, upsertStartSQL, id, contentKey, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("upsert resolution start: %w", err)
	}
	return nil
}

const completeSQL = `
UPDATE resolution_runs
SET finished_at = $1, status = $2, candidates = $3, error_message = $4
WHERE id = $5;`

// CompleteResolution marks a run finished.
func (s *ResolutionStore) CompleteResolution(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	candidates int,
	errMsg *string,
) error {
	if !status.Valid() {
		return fmt.Errorf("invalid run status %q", status)
	}
	tag, err := s.pool.Exec(ctx, completeSQL, finishedAt, string(status), candidates, errMsg, id)
	if err != nil {
		return fmt.Errorf("complete resolution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete resolution %s: %w", id, store.ErrNotFound)
	}
	return nil
}

const recordOutcomeSQL = `
INSERT INTO source_outcomes (resolution_id, source, status, candidates, duration_ms, error_message, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (resolution_id, source) DO UPDATE
SET status = EXCLUDED.status,
	candidates = EXCLUDED.candidates,
	duration_ms = EXCLUDED.duration_ms,
	error_message = EXCLUDED.error_message,
	recorded_at = EXCLUDED.recorded_at;`

// RecordSourceOutcome upserts one source outcome.
func (s *ResolutionStore) RecordSourceOutcome(ctx context.Context, o store.SourceOutcome) error {
	if o.Source == "" {
		return errors.New("source is required")
	}
	_, err := s.pool.Exec(ctx, recordOutcomeSQL,
		o.ResolutionID,
		o.Source,
		o.Status,
		o.Candidates,
		o.Duration.Milliseconds(),
		o.ErrorMessage,
		o.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("record source outcome: %w", err)
	}
	return nil
}

const getResolutionSQL = `
SELECT id, content_key, started_at, finished_at, status, candidates, error_message
FROM resolution_runs
WHERE id = $1;`

// GetResolution loads a run by id.
func (s *ResolutionStore) GetResolution(ctx context.Context, id uuid.UUID) (store.ResolutionRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, getResolutionSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ResolutionRun{}, store.ErrNotFound
		}
		return store.ResolutionRun{}, fmt.Errorf("get resolution: %w", err)
	}
	return run, nil
}

const listResolutionsSQL = `
SELECT id, content_key, started_at, finished_at, status, candidates, error_message
FROM resolution_runs
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3;`

// ListResolutions returns runs newest first.
func (s *ResolutionStore) ListResolutions(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.ResolutionRun, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, listResolutionsSQL, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list resolutions: %w", err)
	}
	defer rows.Close()

	runs := []store.ResolutionRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resolution row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolutions: %w", err)
	}
	return runs, nil
}

const listOutcomesSQL = `
SELECT resolution_id, source, status, candidates, duration_ms, error_message, recorded_at
FROM source_outcomes
WHERE resolution_id = $1
ORDER BY source ASC
LIMIT $2 OFFSET $3;`

// ListSourceOutcomes returns per-source outcomes for a run.
func (s *ResolutionStore) ListSourceOutcomes(
	ctx context.Context,
	id uuid.UUID,
	limit,
	offset int,
) ([]store.SourceOutcome, error) {
	rows, err := s.pool.Query(ctx, listOutcomesSQL, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list source outcomes: %w", err)
	}
	defer rows.Close()

	out := []store.SourceOutcome{}
	for rows.Next() {
		var (
			o  store.SourceOutcome
			ms int64
		)
		if err := rows.Scan(&o.ResolutionID, &o.Source, &o.Status, &o.Candidates, &ms, &o.ErrorMessage, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan source outcome row: %w", err)
		}
		o.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source outcomes: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (store.ResolutionRun, error) {
	var (
		run    store.ResolutionRun
		status string
	)
	if err := row.Scan(
		&run.ID,
		&run.ContentKey,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Candidates,
		&run.ErrorMessage,
	); err != nil {
		return store.ResolutionRun{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
