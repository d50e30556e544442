package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS extraction_jobs (
	id               TEXT PRIMARY KEY,
	target_filename  TEXT NOT NULL,
	status           TEXT NOT NULL,
	source_item_id   TEXT NOT NULL,
	source_item_name TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extraction_jobs_target ON extraction_jobs (target_filename);
CREATE INDEX IF NOT EXISTS idx_extraction_jobs_item ON extraction_jobs (source_item_id);
`

// JobStore keeps the extraction job audit trail in Postgres.
type JobStore struct {
	db     *DB
	logger *logging.Logger
}

// NewJobStore creates a job store
func NewJobStore(db *DB, logger *logging.Logger) *JobStore {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &JobStore{db: db, logger: logger.WithComponent("database")}
}

// Migrate creates the jobs table if it does not exist
func (s *JobStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate extraction_jobs: %w", err)
	}
	return nil
}

// SaveJob inserts or updates a job record
func (s *JobStore) SaveJob(ctx context.Context, job *models.ExtractionJob) error {
	start := time.Now()

	query := `
		INSERT INTO extraction_jobs (id, target_filename, status, source_item_id, source_item_name,
		                             error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, error_message = EXCLUDED.error_message, updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.Pool.Exec(ctx, query,
		job.ID, job.TargetFilename, string(job.Status), job.SourceItemID, job.SourceItemName,
		job.ErrorMessage, job.CreatedAt, job.UpdatedAt,
	)
	s.logger.LogDatabaseOperation("save_job", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}

	return nil
}

// LoadJobs returns every stored job, oldest first
func (s *JobStore) LoadJobs(ctx context.Context) ([]*models.ExtractionJob, error) {
	start := time.Now()

	query := `
		SELECT id, target_filename, status, source_item_id, source_item_name,
		       error_message, created_at, updated_at
		FROM extraction_jobs
		ORDER BY created_at, id
	`

	rows, err := s.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs, err := pgx.CollectRows(rows, scanJob)
	s.logger.LogDatabaseOperation("load_jobs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}

	return jobs, nil
}

func scanJob(row pgx.CollectableRow) (*models.ExtractionJob, error) {
	var job models.ExtractionJob
	var status string
	err := row.Scan(
		&job.ID, &job.TargetFilename, &status, &job.SourceItemID, &job.SourceItemName,
		&job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	return &job, nil
}
