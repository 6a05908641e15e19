package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/types"
)

// RunRepository persists batch runs and their completed records
type RunRepository struct {
	db *PostgresDB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *PostgresDB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateRun records the start of a run
func (r *RunRepository) CreateRun(ctx context.Context, run *types.RunSummary) error {
	query := `
		INSERT INTO runs (run_id, mode, started_at)
		VALUES ($1, $2, $3)
	`

	if _, err := r.db.Pool().Exec(ctx, query, run.ID, run.Mode, run.StartedAt); err != nil {
		return errors.NewDatabaseError("create run", err)
	}
	return nil
}

// FinishRun stores the final counters of a run
func (r *RunRepository) FinishRun(ctx context.Context, runID string, processed, dropped int) error {
	query := `
		UPDATE runs
		SET finished_at = $2, processed = $3, dropped = $4
		WHERE run_id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, runID, time.Now().UTC(), processed, dropped)
	if err != nil {
		return errors.NewDatabaseError("finish run", err)
	}
	if result.RowsAffected() == 0 {
		return errors.NewNotFoundError("run", runID)
	}
	return nil
}

// SaveRecord stores one completed record. Saving the same index twice
// replaces the earlier payload.
func (r *RunRepository) SaveRecord(ctx context.Context, rec *types.RunRecord) error {
	query := `
		INSERT INTO run_records (run_id, record_index, status, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, record_index)
		DO UPDATE SET status = EXCLUDED.status, payload = EXCLUDED.payload
	`

	if _, err := r.db.Pool().Exec(ctx, query, rec.RunID, rec.Index, string(rec.Status), rec.Payload); err != nil {
		return errors.NewDatabaseError("save record", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (r *RunRepository) GetRun(ctx context.Context, runID string) (*types.RunSummary, error) {
	query := `
		SELECT run_id::text, mode, started_at, finished_at, processed, dropped
		FROM runs
		WHERE run_id = $1
	`

	var run types.RunSummary
	err := r.db.Pool().QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.Mode,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Processed,
		&run.Dropped,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("run", runID)
		}
		return nil, errors.NewDatabaseError("get run", err)
	}

	return &run, nil
}

// ListRecords returns the records of a run in input order
func (r *RunRepository) ListRecords(ctx context.Context, runID string) ([]types.RunRecord, error) {
	query := `
		SELECT run_id::text, record_index, status, payload, created_at
		FROM run_records
		WHERE run_id = $1
		ORDER BY record_index
	`

	rows, err := r.db.Pool().Query(ctx, query, runID)
	if err != nil {
		return nil, errors.NewDatabaseError("list records", err)
	}
	defer rows.Close()

	records := []types.RunRecord{}
	for rows.Next() {
		var rec types.RunRecord
		var status string
		if err := rows.Scan(&rec.RunID, &rec.Index, &status, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		rec.Status = types.Status(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("list records", err)
	}

	return records, nil
}
