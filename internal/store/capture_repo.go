package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
)

// CaptureRepo handles persistence for image capture artifacts.
type CaptureRepo struct{}

// Record inserts a capture reference and returns the capture ID. An empty
// CaptureID gets a fresh UUID; a capture taken outside any experiment run
// may carry an empty RunID.
func (r *CaptureRepo) Record(ctx context.Context, db *sql.DB, rec domain.CaptureRecord) (string, error) {
	if rec.CaptureID == "" {
		rec.CaptureID = uuid.NewString()
	}
	const q = `INSERT INTO captures (capture_id, run_id, path, rows, cols, dtype, detector, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		rec.CaptureID,
		rec.RunID,
		rec.Path,
		rec.Rows,
		rec.Cols,
		rec.Dtype,
		rec.Detector,
		rec.CreatedAt,
	)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrStoreWrite.Code, "record capture", err)
	}
	return rec.CaptureID, nil
}

// ListByRun returns all captures for a run, oldest first.
func (r *CaptureRepo) ListByRun(ctx context.Context, db *sql.DB, runID string) ([]domain.CaptureRecord, error) {
	const q = `SELECT capture_id, run_id, path, rows, cols, dtype, detector, created_at
FROM captures
WHERE run_id = ?
ORDER BY created_at ASC, capture_id ASC`

	rows, err := db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list captures", err)
	}
	defer rows.Close()

	var records []domain.CaptureRecord
	for rows.Next() {
		var c domain.CaptureRecord
		if err := rows.Scan(&c.CaptureID, &c.RunID, &c.Path, &c.Rows, &c.Cols,
			&c.Dtype, &c.Detector, &c.CreatedAt); err != nil {
			return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "scan capture", err)
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

// CountByRun returns the number of captures recorded for a run.
func (r *CaptureRepo) CountByRun(ctx context.Context, db *sql.DB, runID string) (int, error) {
	const q = `SELECT COUNT(*) FROM captures WHERE run_id = ?`

	var n int
	if err := db.QueryRowContext(ctx, q, runID).Scan(&n); err != nil {
		return 0, domain.WrapEngineError(domain.ErrStoreQuery.Code, "count captures", err)
	}
	return n, nil
}
