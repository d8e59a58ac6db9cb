// Package postgres provides the PostgreSQL-backed implementation of the
// state store, built on pgx connection pools.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolforge/stresslab/internal/ratio"
	"github.com/poolforge/stresslab/internal/store"
)

// Store persists worker and pool records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store backed by the provided pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect dials the database and returns a Store wrapping the pool.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("state store: dsn required")
	}
	pool, err := pgxpool.New(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("state store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("state store: ping: %w", err)
	}
	return New(pool), nil
}

var _ store.Store = (*Store)(nil)

const (
	workerUpsertSQL = `
INSERT INTO workers (
    id,
    kind,
    pool_id,
    token_side,
    swap_direction,
    wallet_address,
    wallet_secret,
    initial_amount,
    auto_refill,
    share_output,
    status,
    created_at,
    last_operation_at,
    updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    auto_refill = EXCLUDED.auto_refill,
    share_output = EXCLUDED.share_output,
    last_operation_at = EXCLUDED.last_operation_at,
    updated_at = NOW();
`
	workerSelectSQL = `
SELECT id, kind, pool_id, token_side, swap_direction, wallet_address, wallet_secret,
       initial_amount, auto_refill, share_output, status, created_at, last_operation_at
FROM workers
WHERE id = $1;
`
	workerListSQL = `
SELECT id, kind, pool_id, token_side, swap_direction, wallet_address, wallet_secret,
       initial_amount, auto_refill, share_output, status, created_at, last_operation_at
FROM workers
ORDER BY id;
`
	workerDeleteSQL = `DELETE FROM workers WHERE id = $1;`

	statsUpsertSQL = `
INSERT INTO worker_stats (
    worker_id,
    succeeded,
    failed,
    volume_processed,
    last_operation_at,
    last_error,
    updated_at
)
VALUES ($1, $2, $3, $4::numeric, $5, $6, NOW())
ON CONFLICT (worker_id) DO UPDATE SET
    succeeded = EXCLUDED.succeeded,
    failed = EXCLUDED.failed,
    volume_processed = EXCLUDED.volume_processed,
    last_operation_at = EXCLUDED.last_operation_at,
    last_error = EXCLUDED.last_error,
    updated_at = NOW();
`
	statsSelectSQL = `
SELECT worker_id, succeeded, failed, volume_processed::text, last_operation_at, last_error
FROM worker_stats
WHERE worker_id = $1;
`

	errorInsertSQL = `
INSERT INTO worker_errors (worker_id, occurred_at, kind, message)
VALUES ($1, $2, $3, $4);
`
	errorSelectSQL = `
SELECT worker_id, occurred_at, kind, message
FROM worker_errors
WHERE worker_id = $1
ORDER BY occurred_at;
`

	poolUpsertSQL = `
INSERT INTO pools (pool_id, token_a, token_b, ratio_a, ratio_b, was_swapped, updated_at)
VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, NOW())
ON CONFLICT (pool_id) DO UPDATE SET
    token_a = EXCLUDED.token_a,
    token_b = EXCLUDED.token_b,
    ratio_a = EXCLUDED.ratio_a,
    ratio_b = EXCLUDED.ratio_b,
    was_swapped = EXCLUDED.was_swapped,
    updated_at = NOW();
`
	poolListSQL = `
SELECT pool_id, token_a, token_b, ratio_a::text, ratio_b::text, was_swapped
FROM pools
ORDER BY pool_id;
`
)

// SaveWorker upserts a worker snapshot.
func (s *Store) SaveWorker(ctx context.Context, snapshot store.WorkerSnapshot) error {
	if s.pool == nil {
		return fmt.Errorf("state store: nil pool")
	}
	id := strings.TrimSpace(snapshot.ID)
	if id == "" {
		return fmt.Errorf("state store: worker id required")
	}
	createdAt := snapshot.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, workerUpsertSQL,
		id, snapshot.Kind, snapshot.PoolID, snapshot.TokenSide, snapshot.SwapDirection,
		snapshot.WalletAddress, snapshot.WalletSecret, int64(snapshot.InitialAmount),
		snapshot.AutoRefill, snapshot.ShareOutput, snapshot.Status,
		createdAt, nullableTime(snapshot.LastOperationAt)); err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}

// LoadWorker retrieves one worker snapshot by id.
func (s *Store) LoadWorker(ctx context.Context, id string) (store.WorkerSnapshot, error) {
	if s.pool == nil {
		return store.WorkerSnapshot{}, fmt.Errorf("state store: nil pool")
	}
	row := s.pool.QueryRow(ctx, workerSelectSQL, id)
	snapshot, err := scanWorker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.WorkerSnapshot{}, store.ErrNotFound
		}
		return store.WorkerSnapshot{}, fmt.Errorf("select worker: %w", err)
	}
	return snapshot, nil
}

// DeleteWorker removes a worker and its dependent records.
func (s *Store) DeleteWorker(ctx context.Context, id string) error {
	if s.pool == nil {
		return fmt.Errorf("state store: nil pool")
	}
	tag, err := s.pool.Exec(ctx, workerDeleteSQL, id)
	if err != nil {
		return fmt.Errorf("delete worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListWorkers retrieves all worker snapshots ordered by id.
func (s *Store) ListWorkers(ctx context.Context) ([]store.WorkerSnapshot, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("state store: nil pool")
	}
	rows, err := s.pool.Query(ctx, workerListSQL)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var snapshots []store.WorkerSnapshot
	for rows.Next() {
		snapshot, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workers: %w", err)
	}
	return snapshots, nil
}

// SaveStatistics upserts a worker's counters.
func (s *Store) SaveStatistics(ctx context.Context, snapshot store.StatsSnapshot) error {
	if s.pool == nil {
		return fmt.Errorf("state store: nil pool")
	}
	id := strings.TrimSpace(snapshot.WorkerID)
	if id == "" {
		return fmt.Errorf("state store: worker id required")
	}
	volume := strings.TrimSpace(snapshot.VolumeProcessed)
	if volume == "" {
		volume = "0"
	}
	if _, err := s.pool.Exec(ctx, statsUpsertSQL,
		id, int64(snapshot.Succeeded), int64(snapshot.Failed), volume,
		nullableTime(snapshot.LastOperationAt), snapshot.LastError); err != nil {
		return fmt.Errorf("upsert statistics: %w", err)
	}
	return nil
}

// LoadStatistics retrieves a worker's counters.
func (s *Store) LoadStatistics(ctx context.Context, id string) (store.StatsSnapshot, error) {
	if s.pool == nil {
		return store.StatsSnapshot{}, fmt.Errorf("state store: nil pool")
	}
	row := s.pool.QueryRow(ctx, statsSelectSQL, id)
	var snapshot store.StatsSnapshot
	var succeeded, failed int64
	var lastOp *time.Time
	if err := row.Scan(&snapshot.WorkerID, &succeeded, &failed, &snapshot.VolumeProcessed, &lastOp, &snapshot.LastError); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.StatsSnapshot{}, store.ErrNotFound
		}
		return store.StatsSnapshot{}, fmt.Errorf("select statistics: %w", err)
	}
	snapshot.Succeeded = uint64(succeeded)
	snapshot.Failed = uint64(failed)
	if lastOp != nil {
		snapshot.LastOperationAt = *lastOp
	}
	return snapshot, nil
}

// AppendError records one failure entry for a worker.
func (s *Store) AppendError(ctx context.Context, record store.ErrorRecord) error {
	if s.pool == nil {
		return fmt.Errorf("state store: nil pool")
	}
	id := strings.TrimSpace(record.WorkerID)
	if id == "" {
		return fmt.Errorf("state store: worker id required")
	}
	at := record.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, errorInsertSQL, id, at, record.Kind, record.Message); err != nil {
		return fmt.Errorf("append error: %w", err)
	}
	return nil
}

// LoadErrors retrieves the failure entries recorded for a worker.
func (s *Store) LoadErrors(ctx context.Context, id string) ([]store.ErrorRecord, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("state store: nil pool")
	}
	rows, err := s.pool.Query(ctx, errorSelectSQL, id)
	if err != nil {
		return nil, fmt.Errorf("select errors: %w", err)
	}
	defer rows.Close()

	var records []store.ErrorRecord
	for rows.Next() {
		var record store.ErrorRecord
		if err := rows.Scan(&record.WorkerID, &record.At, &record.Kind, &record.Message); err != nil {
			return nil, fmt.Errorf("scan error record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error records: %w", err)
	}
	return records, nil
}

// SavePool upserts one pool registry entry.
func (s *Store) SavePool(ctx context.Context, cfg ratio.PoolRatioConfig) error {
	if s.pool == nil {
		return fmt.Errorf("state store: nil pool")
	}
	if strings.TrimSpace(cfg.PoolID) == "" {
		return fmt.Errorf("state store: pool id required")
	}
	if _, err := s.pool.Exec(ctx, poolUpsertSQL,
		cfg.PoolID, cfg.TokenA, cfg.TokenB,
		strconv.FormatUint(cfg.RatioA, 10), strconv.FormatUint(cfg.RatioB, 10),
		cfg.WasSwapped); err != nil {
		return fmt.Errorf("upsert pool: %w", err)
	}
	return nil
}

// LoadPools retrieves the full pool registry ordered by pool id.
func (s *Store) LoadPools(ctx context.Context) ([]ratio.PoolRatioConfig, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("state store: nil pool")
	}
	rows, err := s.pool.Query(ctx, poolListSQL)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []ratio.PoolRatioConfig
	for rows.Next() {
		var cfg ratio.PoolRatioConfig
		var ratioA, ratioB string
		if err := rows.Scan(&cfg.PoolID, &cfg.TokenA, &cfg.TokenB, &ratioA, &ratioB, &cfg.WasSwapped); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		if cfg.RatioA, err = strconv.ParseUint(ratioA, 10, 64); err != nil {
			return nil, fmt.Errorf("parse pool ratio: %w", err)
		}
		if cfg.RatioB, err = strconv.ParseUint(ratioB, 10, 64); err != nil {
			return nil, fmt.Errorf("parse pool ratio: %w", err)
		}
		pools = append(pools, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return pools, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorker(row rowScanner) (store.WorkerSnapshot, error) {
	var snapshot store.WorkerSnapshot
	var initialAmount int64
	var lastOp *time.Time
	if err := row.Scan(&snapshot.ID, &snapshot.Kind, &snapshot.PoolID, &snapshot.TokenSide,
		&snapshot.SwapDirection, &snapshot.WalletAddress, &snapshot.WalletSecret,
		&initialAmount, &snapshot.AutoRefill, &snapshot.ShareOutput, &snapshot.Status,
		&snapshot.CreatedAt, &lastOp); err != nil {
		return store.WorkerSnapshot{}, err
	}
	snapshot.InitialAmount = uint64(initialAmount)
	if lastOp != nil {
		snapshot.LastOperationAt = *lastOp
	}
	return snapshot, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
