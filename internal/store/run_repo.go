package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
)

// RunRepo handles persistence for experiment run records.
type RunRepo struct{}

// Create inserts a new run in its starting phase and returns the run ID.
// An empty RunID gets a fresh UUID.
func (r *RunRepo) Create(ctx context.Context, db *sql.DB, rec domain.RunRecord) (string, error) {
	if rec.RunID == "" {
		rec.RunID = uuid.NewString()
	}
	const q = `INSERT INTO experiment_runs (run_id, experiment_id, description, phase, started_at)
VALUES (?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		rec.RunID,
		rec.ExperimentID,
		rec.Description,
		string(rec.Phase),
		rec.StartedAt,
	)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrStoreWrite.Code, "create run", err)
	}
	return rec.RunID, nil
}

// Finish records the terminal phase and outcome of a run.
func (r *RunRepo) Finish(ctx context.Context, db *sql.DB, rec domain.RunRecord) error {
	logJSON, err := json.Marshal(rec.Log)
	if err != nil {
		return fmt.Errorf("encode run log: %w", err)
	}

	const q = `UPDATE experiment_runs SET
		phase = ?,
		success = ?,
		reward = ?,
		log_json = ?,
		finished_at = ?
	WHERE run_id = ?`
	res, err := db.ExecContext(ctx, q,
		string(rec.Phase),
		boolToInt(rec.Success),
		rec.Reward,
		string(logJSON),
		rec.FinishedAt,
		rec.RunID,
	)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "finish run", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepo) GetByID(ctx context.Context, db *sql.DB, runID string) (*domain.RunRecord, error) {
	const q = `SELECT run_id, experiment_id, description, phase, success, reward, log_json, started_at, finished_at
FROM experiment_runs WHERE run_id = ?`

	row := db.QueryRowContext(ctx, q, runID)
	rec, err := scanRun(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrRunNotFound
		}
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "get run", err)
	}
	return rec, nil
}

// ListRecent returns up to limit runs, newest first.
func (r *RunRepo) ListRecent(ctx context.Context, db *sql.DB, limit int) ([]domain.RunRecord, error) {
	const q = `SELECT run_id, experiment_id, description, phase, success, reward, log_json, started_at, finished_at
FROM experiment_runs
ORDER BY started_at DESC, run_id DESC
LIMIT ?`

	rows, err := db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list runs", err)
	}
	defer rows.Close()

	var records []domain.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanRun(scan func(...any) error) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	var phase, logJSON string
	var success int
	if err := scan(&rec.RunID, &rec.ExperimentID, &rec.Description, &phase,
		&success, &rec.Reward, &logJSON, &rec.StartedAt, &rec.FinishedAt); err != nil {
		return nil, err
	}
	rec.Phase = domain.ExperimentPhase(phase)
	rec.Success = success != 0
	if err := json.Unmarshal([]byte(logJSON), &rec.Log); err != nil {
		return nil, fmt.Errorf("decode run log: %w", err)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
