package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"listings_sync/models"
)

//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	config.MaxConns = maxConns
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates every table and view the sync and the API read from. It is
// idempotent and runs on each start unless DB_MIGRATE=false.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// =============================================================================
// Sync State
// =============================================================================

const syncStateColumns = `sync_type, last_timestamp, last_key, status, last_run_started,
	last_run_completed, last_error, records_processed, updated_at`

func (s *PostgresStore) GetSyncState(ctx context.Context, syncType models.SyncType) (*models.SyncState, error) {
	query := `SELECT ` + syncStateColumns + ` FROM sync_state WHERE sync_type = $1`

	st, err := scanSyncState(s.pool.QueryRow(ctx, query, syncType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state %s: %w", syncType, err)
	}
	return st, nil
}

func (s *PostgresStore) ListSyncStates(ctx context.Context) ([]models.SyncState, error) {
	query := `SELECT ` + syncStateColumns + ` FROM sync_state ORDER BY sync_type`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []models.SyncState
	for rows.Next() {
		st, err := scanSyncState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *st)
	}
	return states, rows.Err()
}

func scanSyncState(row pgx.Row) (*models.SyncState, error) {
	var st models.SyncState
	err := row.Scan(
		&st.SyncType, &st.LastTimestamp, &st.LastKey, &st.Status, &st.LastRunStarted,
		&st.LastRunCompleted, &st.LastError, &st.RecordsProcessed, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpdateSyncState writes the whole row, creating it on first use.
func (s *PostgresStore) UpdateSyncState(ctx context.Context, st *models.SyncState) error {
	query := `
		INSERT INTO sync_state (sync_type, last_timestamp, last_key, status, last_run_started,
			last_run_completed, last_error, records_processed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (sync_type) DO UPDATE SET
			last_timestamp = EXCLUDED.last_timestamp,
			last_key = EXCLUDED.last_key,
			status = EXCLUDED.status,
			last_run_started = EXCLUDED.last_run_started,
			last_run_completed = EXCLUDED.last_run_completed,
			last_error = EXCLUDED.last_error,
			records_processed = EXCLUDED.records_processed,
			updated_at = NOW()
		RETURNING updated_at`

	return s.pool.QueryRow(ctx, query,
		st.SyncType, st.LastTimestamp, st.LastKey, st.Status, st.LastRunStarted,
		st.LastRunCompleted, st.LastError, st.RecordsProcessed,
	).Scan(&st.UpdatedAt)
}

func (s *PostgresStore) CompleteSyncState(ctx context.Context, syncType models.SyncType, processed int) error {
	query := `
		UPDATE sync_state SET
			status = $2, last_run_completed = NOW(), last_error = NULL,
			records_processed = $3, updated_at = NOW()
		WHERE sync_type = $1`

	_, err := s.pool.Exec(ctx, query, syncType, models.SyncStatusCompleted, processed)
	return err
}

// FailSyncState leaves the cursor alone so the next run resumes from the last
// checkpoint.
func (s *PostgresStore) FailSyncState(ctx context.Context, syncType models.SyncType, message string) error {
	query := `UPDATE sync_state SET status = $2, last_error = $3, updated_at = NOW() WHERE sync_type = $1`

	_, err := s.pool.Exec(ctx, query, syncType, models.SyncStatusFailed, message)
	return err
}
