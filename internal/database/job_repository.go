package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

const (
	jobSelectColumns = `id, status, source_ids, priority, trigger_origin, overrides,
		started_at, finished_at, error_summary, task_handle,
		pages_fetched, total_found, new_documents, duplicates, errors,
		created_at, updated_at`

	resultSelectColumns = `id, job_id, source_id, status, strategy, error_message, task_handle,
		started_at, finished_at,
		pages_fetched, total_found, new_documents, duplicates, errors,
		created_at, updated_at`
)

// JobRepository persists jobs and their source results. Mutations that
// recompute a job take the job row lock with SELECT ... FOR UPDATE.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob inserts a new job, assigning an ID when empty.
func (r *JobRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}

	query := `
		INSERT INTO jobs (id, status, source_ids, priority, trigger_origin, overrides)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		job.ID,
		job.Status,
		job.SourceIDs,
		job.Priority,
		job.TriggerOrigin,
		job.Overrides,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by its ID.
func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return getJob(ctx, r.db, jobID, false)
}

func getJob(ctx context.Context, q sqlx.QueryerContext, jobID string, lock bool) (*domain.Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var job domain.Job
	if err := sqlx.GetContext(ctx, q, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListSourceResults returns the job's results in source order.
func (r *JobRepository) ListSourceResults(ctx context.Context, jobID string) ([]*domain.SourceResult, error) {
	results, err := listResults(ctx, r.db, jobID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		if existsErr := r.requireJob(ctx, jobID); existsErr != nil {
			return nil, existsErr
		}
	}
	return results, nil
}

func listResults(ctx context.Context, q sqlx.QueryerContext, jobID string) ([]*domain.SourceResult, error) {
	query := `SELECT ` + resultSelectColumns + ` FROM source_results WHERE job_id = $1 ORDER BY position`

	results := []*domain.SourceResult{}
	if err := sqlx.SelectContext(ctx, q, &results, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list source results: %w", err)
	}
	return results, nil
}

func (r *JobRepository) requireJob(ctx context.Context, jobID string) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID); err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	return nil
}

// Dispatch locks a pending job, creates one pending result per source, and
// moves the job to running in one transaction.
func (r *JobRepository) Dispatch(
	ctx context.Context,
	jobID string,
	now time.Time,
) (*domain.Job, []*domain.SourceResult, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to begin dispatch transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	job, err := getJob(ctx, tx, jobID, true)
	if err != nil {
		return nil, nil, false, err
	}

	dispatched := job.Status == domain.JobStatusPending
	if dispatched {
		insert := `
			INSERT INTO source_results (id, job_id, source_id, position, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'pending', $5, $5)
			ON CONFLICT (job_id, source_id) DO NOTHING
		`
		for i, sourceID := range job.SourceIDs {
			if _, execErr := tx.ExecContext(ctx, insert, uuid.NewString(), jobID, sourceID, i, now); execErr != nil {
				return nil, nil, false, fmt.Errorf("failed to create source result: %w", execErr)
			}
		}

		update := `UPDATE jobs SET status = 'running', started_at = $2, updated_at = $2 WHERE id = $1`
		if _, execErr := tx.ExecContext(ctx, update, jobID, now); execErr != nil {
			return nil, nil, false, fmt.Errorf("failed to mark job running: %w", execErr)
		}
		started := now
		job.Status = domain.JobStatusRunning
		job.StartedAt = &started
		job.UpdatedAt = now
	}

	results, err := listResults(ctx, tx, jobID)
	if err != nil {
		return nil, nil, false, err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, nil, false, fmt.Errorf("failed to commit dispatch transaction: %w", commitErr)
	}
	return job, results, dispatched, nil
}

// StartSource moves an unsettled result to running.
func (r *JobRepository) StartSource(ctx context.Context, jobID, sourceID string, now time.Time) (bool, error) {
	query := `
		UPDATE source_results
		SET status = 'running', started_at = $3, updated_at = $3
		WHERE job_id = $1 AND source_id = $2 AND status IN ('pending', 'running')
	`

	result, err := r.db.ExecContext(ctx, query, jobID, sourceID, now)
	if err != nil {
		return false, fmt.Errorf("failed to start source: %w", err)
	}
	return r.resultTransition(ctx, result, jobID, sourceID)
}

// SettleSource records the outcome of an unsettled result.
func (r *JobRepository) SettleSource(
	ctx context.Context,
	jobID, sourceID string,
	outcome domain.SourceOutcome,
	now time.Time,
) (bool, error) {
	query := `
		UPDATE source_results
		SET status = $3, strategy = $4, error_message = $5,
		    pages_fetched = $6, total_found = $7, new_documents = $8, duplicates = $9, errors = $10,
		    finished_at = $11, updated_at = $11
		WHERE job_id = $1 AND source_id = $2 AND status IN ('pending', 'running')
	`

	c := outcome.Counters
	result, err := r.db.ExecContext(
		ctx, query,
		jobID, sourceID,
		outcome.Status, nullString(outcome.Strategy), nullString(outcome.ErrorMessage),
		c.PagesFetched, c.TotalFound, c.NewDocuments, c.Duplicates, c.Errors,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to settle source: %w", err)
	}
	return r.resultTransition(ctx, result, jobID, sourceID)
}

// resultTransition tells a settled result apart from a missing one when a
// conditional update matched no rows.
func (r *JobRepository) resultTransition(ctx context.Context, result sql.Result, jobID, sourceID string) (bool, error) {
	changed, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	if changed {
		return true, nil
	}

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM source_results WHERE job_id = $1 AND source_id = $2)`
	if getErr := r.db.GetContext(ctx, &exists, query, jobID, sourceID); getErr != nil {
		return false, fmt.Errorf("failed to check source result: %w", getErr)
	}
	if !exists {
		return false, fmt.Errorf("%w: job %s source %s", domain.ErrResultNotFound, jobID, sourceID)
	}
	return false, nil
}

// CancelJob moves a pending or running job to cancelled.
func (r *JobRepository) CancelJob(ctx context.Context, jobID string, now time.Time) (bool, error) {
	query := `
		UPDATE jobs SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'running')
	`

	result, err := r.db.ExecContext(ctx, query, jobID, now)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	changed, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, r.requireJob(ctx, jobID)
	}
	return true, nil
}

// Finalize recomputes the job from its results under the job row lock and
// commits the terminal state once every result has settled.
func (r *JobRepository) Finalize(ctx context.Context, jobID string, now time.Time) (*domain.Job, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin finalize transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	job, err := getJob(ctx, tx, jobID, true)
	if err != nil {
		return nil, false, err
	}
	if job.IsFinalized() {
		return job, false, tx.Commit()
	}

	results, err := listResults(ctx, tx, jobID)
	if err != nil {
		return nil, false, err
	}

	finalized, err := applyAggregate(ctx, tx, job, results, now)
	if err != nil {
		return nil, false, err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, false, fmt.Errorf("failed to commit finalize transaction: %w", commitErr)
	}
	return job, finalized, nil
}

func applyAggregate(ctx context.Context, tx *sqlx.Tx, job *domain.Job, results []*domain.SourceResult, now time.Time) (bool, error) {
	if len(results) == 0 {
		if job.Status != domain.JobStatusCancelled {
			return false, nil
		}
		query := `UPDATE jobs SET finished_at = $2, updated_at = $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, query, job.ID, now); err != nil {
			return false, fmt.Errorf("failed to finish cancelled job: %w", err)
		}
		finished := now
		job.FinishedAt = &finished
		job.UpdatedAt = now
		return true, nil
	}

	agg, err := domain.Aggregate(job.Status, results)
	if err != nil {
		return false, fmt.Errorf("finalize job %s: %w", job.ID, err)
	}

	job.Counters = agg.Counters
	job.Status = agg.Status
	job.UpdatedAt = now
	if agg.Terminal {
		finished := now
		job.FinishedAt = &finished
		job.ErrorSummary = nullString(agg.ErrorSummary)
	}

	query := `
		UPDATE jobs
		SET status = $2, pages_fetched = $3, total_found = $4, new_documents = $5, duplicates = $6, errors = $7,
		    finished_at = $8, error_summary = $9, updated_at = $10
		WHERE id = $1
	`
	c := job.Counters
	if _, execErr := tx.ExecContext(
		ctx, query,
		job.ID, job.Status,
		c.PagesFetched, c.TotalFound, c.NewDocuments, c.Duplicates, c.Errors,
		job.FinishedAt, job.ErrorSummary, now,
	); execErr != nil {
		return false, fmt.Errorf("failed to update job aggregate: %w", execErr)
	}
	return agg.Terminal, nil
}

// ForceFail marks an unfinished job failed.
func (r *JobRepository) ForceFail(ctx context.Context, jobID, message string, now time.Time) error {
	query := `
		UPDATE jobs SET status = 'failed', finished_at = $2, error_summary = $3, updated_at = $2
		WHERE id = $1 AND finished_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, jobID, now, message)
	if err != nil {
		return fmt.Errorf("failed to force-fail job: %w", err)
	}
	changed, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if !changed {
		return r.requireJob(ctx, jobID)
	}
	return nil
}

// SetTaskHandle records a unit's queue handle, mirrored onto single-source jobs.
func (r *JobRepository) SetTaskHandle(ctx context.Context, jobID, sourceID, handle string) error {
	query := `UPDATE source_results SET task_handle = $3 WHERE job_id = $1 AND source_id = $2`

	result, execErr := r.db.ExecContext(ctx, query, jobID, sourceID, handle)
	notFound := fmt.Errorf("%w: job %s source %s", domain.ErrResultNotFound, jobID, sourceID)
	if err := execRequireRows(result, execErr, notFound); err != nil {
		return err
	}

	jobQuery := `UPDATE jobs SET task_handle = $2 WHERE id = $1 AND cardinality(source_ids) = 1`
	if _, err := r.db.ExecContext(ctx, jobQuery, jobID, handle); err != nil {
		return fmt.Errorf("failed to set job task handle: %w", err)
	}
	return nil
}

// ListJobsParams filters ListJobs.
type ListJobsParams struct {
	Status string
	Limit  int
	Offset int
}

// Default page size for ListJobs.
const defaultListLimit = 50

// ListJobs returns jobs newest first.
func (r *JobRepository) ListJobs(ctx context.Context, params ListJobsParams) ([]*domain.Job, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var query string
	var args []any
	if params.Status != "" {
		query = `SELECT ` + jobSelectColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = []any{params.Status, limit, params.Offset}
	} else {
		query = `SELECT ` + jobSelectColumns + ` FROM jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = []any{limit, params.Offset}
	}

	jobs := []*domain.Job{}
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}
