package storage

import (
	"context"
	"fmt"

	"reddot-watch/breakingnews/internal/database"
	"reddot-watch/breakingnews/internal/models"
)

// RunRepository records pipeline runs.
type RunRepository interface {
	Save(ctx context.Context, run models.PipelineRun) error
	Recent(ctx context.Context, limit int) ([]models.PipelineRun, error)
}

type sqlxRuns struct {
	db *database.DB
}

// NewRunRepository creates a new repository instance.
func NewRunRepository(db *database.DB) RunRepository {
	return &sqlxRuns{db: db}
}

// Save inserts run, replacing an earlier row with the same id.
func (r *sqlxRuns) Save(ctx context.Context, run models.PipelineRun) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO pipeline_runs (id, started_at, finished_at, collected, deduplicated, processed,
			saved, failed, purged, duration_ms, error)
		VALUES (:id, :started_at, :finished_at, :collected, :deduplicated, :processed,
			:saved, :failed, :purged, :duration_ms, :error)
		ON CONFLICT(id) DO UPDATE SET
			finished_at  = excluded.finished_at,
			collected    = excluded.collected,
			deduplicated = excluded.deduplicated,
			processed    = excluded.processed,
			saved        = excluded.saved,
			failed       = excluded.failed,
			purged       = excluded.purged,
			duration_ms  = excluded.duration_ms,
			error        = excluded.error`, run)
	if err != nil {
		return fmt.Errorf("save pipeline run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (r *sqlxRuns) Recent(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	runs := []models.PipelineRun{}
	err := r.db.SelectContext(ctx, &runs, `
		SELECT id, started_at, finished_at, collected, deduplicated, processed, saved, failed,
			purged, duration_ms, error
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	return runs, nil
}
