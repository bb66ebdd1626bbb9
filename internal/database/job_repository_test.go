package database_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/harvester/internal/database"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

var jobColumns = []string{
	"id", "status", "source_ids", "priority", "trigger_origin", "overrides",
	"started_at", "finished_at", "error_summary", "task_handle",
	"pages_fetched", "total_found", "new_documents", "duplicates", "errors",
	"created_at", "updated_at",
}

var resultColumns = []string{
	"id", "job_id", "source_id", "status", "strategy", "error_message", "task_handle",
	"started_at", "finished_at",
	"pages_fetched", "total_found", "new_documents", "duplicates", "errors",
	"created_at", "updated_at",
}

func newSQLMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	return sqlx.NewDb(mockDB, "postgres"), mock
}

func newJobRepo(t *testing.T) (*database.JobRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock := newSQLMock(t)
	return database.NewJobRepository(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func jobRow(id, status, sourceIDs string, finishedAt any, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(jobColumns).AddRow(
		id, status, sourceIDs, 5, "manual", []byte("{}"),
		now, finishedAt, nil, nil,
		0, 0, 0, 0, 0,
		now, now,
	)
}

func resultRow(rows *sqlmock.Rows, jobID, sourceID, status string, errMsg any, found int, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		"r-"+sourceID, jobID, sourceID, status, "next_link", errMsg, nil,
		now, now,
		1, found, found, 0, 0,
		now, now,
	)
}

var (
	lockJobQuery    = regexp.QuoteMeta("FROM jobs WHERE id = $1 FOR UPDATE")
	listResultQuery = regexp.QuoteMeta("FROM source_results WHERE job_id = $1 ORDER BY position")
)

func TestJobRepository_CreateJob(t *testing.T) {
	repo, mock := newJobRepo(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs(sqlmock.AnyArg(), "pending", sqlmock.AnyArg(), 5, "api", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	job := &domain.Job{SourceIDs: []string{"a", "b"}, Priority: 5, TriggerOrigin: domain.TriggerAPI}
	if err := repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if job.ID == "" {
		t.Error("expected an assigned job ID")
	}
	if job.Status != domain.JobStatusPending {
		t.Errorf("expected status=pending, got %s", job.Status)
	}
	if !job.CreatedAt.Equal(now) {
		t.Errorf("expected created_at from RETURNING, got %v", job.CreatedAt)
	}

	expectationsMet(t, mock)
}

func TestJobRepository_GetJob_NotFound(t *testing.T) {
	repo, mock := newJobRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(jobColumns))

	_, err := repo.GetJob(context.Background(), "missing")
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	expectationsMet(t, mock)
}

func TestJobRepository_GetJob_ScansCountersAndArrays(t *testing.T) {
	repo, mock := newJobRepo(t)
	now := time.Now()

	rows := sqlmock.NewRows(jobColumns).AddRow(
		"job-1", "completed", "{a,b}", 7, "scheduled", []byte(`{"max_pages":2}`),
		now, now, nil, "handle-1",
		4, 9, 8, 1, 0,
		now, now,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1")).WithArgs("job-1").WillReturnRows(rows)

	job, err := repo.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if len(job.SourceIDs) != 2 || job.SourceIDs[1] != "b" {
		t.Errorf("expected source_ids [a b], got %v", job.SourceIDs)
	}
	if job.NewDocuments != 8 || job.TotalFound != 9 {
		t.Errorf("unexpected counters %+v", job.Counters)
	}
	if job.Overrides["max_pages"] != float64(2) {
		t.Errorf("expected overrides max_pages=2, got %v", job.Overrides)
	}
	if job.TaskHandle == nil || *job.TaskHandle != "handle-1" {
		t.Errorf("expected task handle, got %v", job.TaskHandle)
	}

	expectationsMet(t, mock)
}

func TestJobRepository_Dispatch_Pending(t *testing.T) {
	repo, mock := newJobRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(lockJobQuery).WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "pending", "{a,b}", nil, now))
	mock.ExpectExec("INSERT INTO source_results").
		WithArgs(sqlmock.AnyArg(), "job-1", "a", 0, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO source_results").
		WithArgs(sqlmock.AnyArg(), "job-1", "b", 1, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET status = 'running'")).
		WithArgs("job-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	results := sqlmock.NewRows(resultColumns)
	resultRow(results, "job-1", "a", "pending", nil, 0, now)
	resultRow(results, "job-1", "b", "pending", nil, 0, now)
	mock.ExpectQuery(listResultQuery).WithArgs("job-1").WillReturnRows(results)
	mock.ExpectCommit()

	job, got, dispatched, err := repo.Dispatch(context.Background(), "job-1", now)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !dispatched {
		t.Error("expected dispatched=true")
	}
	if job.Status != domain.JobStatusRunning || job.StartedAt == nil {
		t.Errorf("expected running job with started_at, got %s %v", job.Status, job.StartedAt)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 source results, got %d", len(got))
	}

	expectationsMet(t, mock)
}

func TestJobRepository_Dispatch_NotPending(t *testing.T) {
	repo, mock := newJobRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(lockJobQuery).WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "running", "{a}", nil, now))
	mock.ExpectQuery(listResultQuery).WithArgs("job-1").
		WillReturnRows(resultRow(sqlmock.NewRows(resultColumns), "job-1", "a", "running", nil, 0, now))
	mock.ExpectCommit()

	job, _, dispatched, err := repo.Dispatch(context.Background(), "job-1", now)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if dispatched {
		t.Error("expected dispatched=false for a running job")
	}
	if job.Status != domain.JobStatusRunning {
		t.Errorf("expected status unchanged, got %s", job.Status)
	}

	expectationsMet(t, mock)
}

func TestJobRepository_StartSource(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		exists   bool
		want     bool
		wantErr  error
	}{
		{name: "unsettled result starts", affected: 1, want: true},
		{name: "settled result is left alone", affected: 0, exists: true, want: false},
		{name: "missing result", affected: 0, exists: false, wantErr: domain.ErrResultNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newJobRepo(t)
			now := time.Now()

			mock.ExpectExec("UPDATE source_results SET status = 'running'").
				WithArgs("job-1", "a", now).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.affected == 0 {
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs("job-1", "a").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			}

			got, err := repo.StartSource(context.Background(), "job-1", "a", now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("StartSource() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("StartSource() = %v, want %v", got, tt.want)
			}

			expectationsMet(t, mock)
		})
	}
}

func TestJobRepository_SettleSource(t *testing.T) {
	repo, mock := newJobRepo(t)
	now := time.Now()

	mock.ExpectExec("UPDATE source_results").
		WithArgs("job-1", "a", domain.SourceStatusFailed, "path", "http_status: 500",
			1, 0, 0, 0, 1, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	settled, err := repo.SettleSource(context.Background(), "job-1", "a", domain.SourceOutcome{
		Status:       domain.SourceStatusFailed,
		Counters:     domain.Counters{PagesFetched: 1, Errors: 1},
		Strategy:     "path",
		ErrorMessage: "http_status: 500",
	}, now)
	if err != nil {
		t.Fatalf("SettleSource() error = %v", err)
	}
	if !settled {
		t.Error("expected settled=true")
	}

	expectationsMet(t, mock)
}

func TestJobRepository_CancelJob(t *testing.T) {
	repo, mock := newJobRepo(t)
	now := time.Now()

	mock.ExpectExec("UPDATE jobs SET status = 'cancelled'").
		WithArgs("job-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET status = 'cancelled'").
		WithArgs("job-2", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("job-2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("UPDATE jobs SET status = 'cancelled'").
		WithArgs("job-3", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("job-3").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ctx := context.Background()
	if ok, err := repo.CancelJob(ctx, "job-1", now); err != nil || !ok {
		t.Errorf("running job: got (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := repo.CancelJob(ctx, "job-2", now); err != nil || ok {
		t.Errorf("terminal job: got (%v, %v), want (false, nil)", ok, err)
	}
	if _, err := repo.CancelJob(ctx, "job-3", now); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("missing job: expected ErrJobNotFound, got %v", err)
	}

	expectationsMet(t, mock)
}

func TestJobRepository_Finalize_AllSettled(t *testing.T) {
	repo, mock := newJobRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(lockJobQuery).WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "running", "{a,b}", nil, now))
	results := sqlmock.NewRows(resultColumns)
	resultRow(results, "job-1", "a", "completed", nil, 5, now)
	resultRow(results, "job-1", "b", "failed", "network_error: refused", 0, now)
	mock.ExpectQuery(listResultQuery).WithArgs("job-1").WillReturnRows(results)
	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", domain.JobStatusFailed, 2, 5, 5, 0, 0,
			sqlmock.AnyArg(), sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, finalized, err := repo.Finalize(context.Background(), "job-1", now)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if !finalized {
		t.Error("expected finalized=true")
	}
	if job.Status != domain.JobStatusFailed {
		t.Errorf("expected status=failed, got %s", job.Status)
	}
	if job.ErrorSummary == nil || *job.ErrorSummary != "1 of 2 sources failed: b: network_error: refused" {
		t.Errorf("unexpected error summary %v", job.ErrorSummary)
	}
	if job.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}

	expectationsMet(t, mock)
}

func TestJobRepository_Finalize_Unsettled(t *testing.T) {
	repo, mock := newJobRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(lockJobQuery).WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "running", "{a,b}", nil, now))
	results := sqlmock.NewRows(resultColumns)
	resultRow(results, "job-1", "a", "completed", nil, 3, now)
	resultRow(results, "job-1", "b", "running", nil, 0, now)
	mock.ExpectQuery(listResultQuery).WithArgs("job-1").WillReturnRows(results)
	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", domain.JobStatusRunning, 2, 3, 3, 0, 0, nil, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, finalized, err := repo.Finalize(context.Background(), "job-1", now)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if finalized {
		t.Error("expected finalized=false while a source is running")
	}
	if job.FinishedAt != nil {
		t.Error("expected finished_at to stay unset")
	}

	expectationsMet(t, mock)
}

func TestJobRepository_Finalize_AlreadyFinished(t *testing.T) {
	repo, mock := newJobRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(lockJobQuery).WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "completed", "{a}", now, now))
	mock.ExpectCommit()

	_, finalized, err := repo.Finalize(context.Background(), "job-1", now)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if finalized {
		t.Error("expected finalized=false for a finished job")
	}

	expectationsMet(t, mock)
}

func TestJobRepository_Finalize_CancelledWithoutResults(t *testing.T) {
	repo, mock := newJobRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(lockJobQuery).WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "cancelled", "{a}", nil, now))
	mock.ExpectQuery(listResultQuery).WithArgs("job-1").WillReturnRows(sqlmock.NewRows(resultColumns))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET finished_at = $2")).
		WithArgs("job-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, finalized, err := repo.Finalize(context.Background(), "job-1", now)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if !finalized || job.FinishedAt == nil {
		t.Errorf("expected the cancelled job to be finished, got finalized=%v", finalized)
	}

	expectationsMet(t, mock)
}

func TestJobRepository_Finalize_RollsBackOnError(t *testing.T) {
	repo, mock := newJobRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(lockJobQuery).WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "running", "{a}", nil, now))
	mock.ExpectQuery(listResultQuery).WithArgs("job-1").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if _, _, err := repo.Finalize(context.Background(), "job-1", now); err == nil {
		t.Fatal("expected an error")
	}

	expectationsMet(t, mock)
}

func TestJobRepository_ForceFail_IgnoresFinishedJob(t *testing.T) {
	repo, mock := newJobRepo(t)
	now := time.Now()

	mock.ExpectExec("UPDATE jobs SET status = 'failed'").
		WithArgs("job-1", now, "finalize: boom").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := repo.ForceFail(context.Background(), "job-1", "finalize: boom", now); err != nil {
		t.Fatalf("ForceFail() error = %v", err)
	}

	expectationsMet(t, mock)
}

func TestJobRepository_SetTaskHandle(t *testing.T) {
	repo, mock := newJobRepo(t)

	mock.ExpectExec("UPDATE source_results SET task_handle").
		WithArgs("job-1", "a", "1700000000000-0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET task_handle").
		WithArgs("job-1", "1700000000000-0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE source_results SET task_handle").
		WithArgs("job-1", "zz", "h").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if err := repo.SetTaskHandle(ctx, "job-1", "a", "1700000000000-0"); err != nil {
		t.Fatalf("SetTaskHandle() error = %v", err)
	}
	if err := repo.SetTaskHandle(ctx, "job-1", "zz", "h"); !errors.Is(err, domain.ErrResultNotFound) {
		t.Errorf("expected ErrResultNotFound, got %v", err)
	}

	expectationsMet(t, mock)
}
