package orchestrator

import (
	"context"
	"time"

	"github.com/jonesrussell/north-cloud/harvester/internal/crawler"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

// JobStore persists Jobs and SourceResults. Every method that mutates the
// job row outside Dispatch and CancelJob does so under the job's row lock.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListSourceResults(ctx context.Context, jobID string) ([]*domain.SourceResult, error)

	// Dispatch locks the job and, when it is pending, creates one pending
	// SourceResult per source and moves the job to running in a single
	// transaction. dispatched is false when the job was not pending; the
	// current job is returned either way.
	Dispatch(ctx context.Context, jobID string, now time.Time) (job *domain.Job, results []*domain.SourceResult, dispatched bool, err error)

	// StartSource moves a pending or running SourceResult to running. It
	// returns false, without error, when the result is already settled.
	StartSource(ctx context.Context, jobID, sourceID string, now time.Time) (bool, error)

	// SettleSource records the outcome of a pending or running SourceResult.
	// It returns false when the result was already settled.
	SettleSource(ctx context.Context, jobID, sourceID string, outcome domain.SourceOutcome, now time.Time) (bool, error)

	// CancelJob moves a pending or running job to cancelled and reports
	// whether it did.
	CancelJob(ctx context.Context, jobID string, now time.Time) (bool, error)

	// Finalize recomputes the job from all its SourceResults under the job's
	// row lock. It is a no-op once the job has a finish time. finalized is
	// true only for the call that committed the terminal state.
	Finalize(ctx context.Context, jobID string, now time.Time) (job *domain.Job, finalized bool, err error)

	// ForceFail marks an unfinished job failed with message.
	ForceFail(ctx context.Context, jobID, message string, now time.Time) error

	// SetTaskHandle records the execution-substrate handle of a unit.
	SetTaskHandle(ctx context.Context, jobID, sourceID, handle string) error
}

// SourceStore reads sources and takes the crawler's writes to them.
type SourceStore interface {
	crawler.SourceStore
	GetSource(ctx context.Context, sourceID string) (*domain.Source, error)
}

// Crawl runs one source. *crawler.Crawler satisfies it.
type Crawl interface {
	Crawl(ctx context.Context, req crawler.Request) (*crawler.Result, error)
}

// Dispatcher submits work units to the execution substrate.
type Dispatcher interface {
	// Enqueue submits unit and returns a handle usable for inspection.
	Enqueue(ctx context.Context, unit domain.WorkUnit, priority int) (string, error)
}

// Recorder receives orchestration observations.
type Recorder interface {
	JobDispatched(origin domain.TriggerOrigin)
	SourceSettled(status domain.SourceResultStatus)
	JobFinalized(status domain.JobStatus)
}

type nopRecorder struct{}

func (nopRecorder) JobDispatched(domain.TriggerOrigin)      {}
func (nopRecorder) SourceSettled(domain.SourceResultStatus) {}
func (nopRecorder) JobFinalized(domain.JobStatus)           {}
