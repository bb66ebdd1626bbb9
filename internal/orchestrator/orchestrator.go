// Package orchestrator owns the Job and SourceResult lifecycle: it dispatches
// one work unit per source, runs a unit through the crawler, settles its
// SourceResult, and finalizes the parent Job from the full set of results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/harvester/internal/crawler"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
)

// finalizeTimeout bounds the finalize that runs after a unit, which uses a
// context detached from the unit's own.
const finalizeTimeout = 30 * time.Second

// Params holds the collaborators of an Orchestrator.
type Params struct {
	Logger     logger.Logger
	Jobs       JobStore
	Sources    SourceStore
	Crawler    Crawl
	Dispatcher Dispatcher
	Recorder   Recorder
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator implements dispatch, runOne, finalize, and cancel.
type Orchestrator struct {
	logger     logger.Logger
	jobs       JobStore
	sources    SourceStore
	crawler    Crawl
	dispatcher Dispatcher
	recorder   Recorder
	now        func() time.Time
}

// New creates an Orchestrator.
func New(p Params) (*Orchestrator, error) {
	switch {
	case p.Jobs == nil:
		return nil, errors.New("orchestrator: job store is required")
	case p.Sources == nil:
		return nil, errors.New("orchestrator: source store is required")
	case p.Crawler == nil:
		return nil, errors.New("orchestrator: crawler is required")
	case p.Dispatcher == nil:
		return nil, errors.New("orchestrator: dispatcher is required")
	}

	o := &Orchestrator{
		logger:     p.Logger,
		jobs:       p.Jobs,
		sources:    p.Sources,
		crawler:    p.Crawler,
		dispatcher: p.Dispatcher,
		recorder:   p.Recorder,
		now:        p.Now,
	}
	if o.logger == nil {
		o.logger = logger.NewNop()
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// timestamp is truncated to the precision PostgreSQL stores.
func (o *Orchestrator) timestamp() time.Time {
	return o.now().UTC().Truncate(time.Microsecond)
}

// Dispatch creates the job's SourceResults, moves it to running, and
// enqueues one unit per source. Dispatching a job that is not pending is a
// no-op reporting its current status.
func (o *Orchestrator) Dispatch(ctx context.Context, jobID string) (domain.JobStatus, error) {
	log := o.logger.With(logger.String("job_id", jobID))

	job, results, dispatched, err := o.jobs.Dispatch(ctx, jobID, o.timestamp())
	if err != nil {
		return "", fmt.Errorf("dispatch job %s: %w", jobID, err)
	}
	if !dispatched {
		log.Info("Job already dispatched", logger.String("status", string(job.Status)))
		return job.Status, nil
	}
	o.recorder.JobDispatched(job.TriggerOrigin)

	var enqueueFailed bool
	for _, r := range results {
		unit := domain.WorkUnit{JobID: jobID, SourceID: r.SourceID}
		handle, enqueueErr := o.dispatcher.Enqueue(ctx, unit, job.Priority)
		if enqueueErr != nil {
			enqueueFailed = true
			log.Error("Failed to enqueue source",
				logger.String("source_id", r.SourceID),
				logger.Error(enqueueErr),
			)
			_ = o.settle(ctx, log, unit, domain.SourceOutcome{
				Status:       domain.SourceStatusFailed,
				ErrorMessage: "enqueue: " + enqueueErr.Error(),
			})
			continue
		}
		if handleErr := o.jobs.SetTaskHandle(ctx, jobID, r.SourceID, handle); handleErr != nil {
			log.Warn("Failed to record task handle",
				logger.String("source_id", r.SourceID),
				logger.Error(handleErr),
			)
		}
	}

	log.Info("Job dispatched",
		logger.Int("sources", len(results)),
		logger.Int("priority", job.Priority),
		logger.String("trigger", string(job.TriggerOrigin)),
	)

	if enqueueFailed {
		if finalized, finErr := o.Finalize(ctx, jobID); finErr == nil {
			return finalized.Status, nil
		}
	}
	return domain.JobStatusRunning, nil
}

// RunOne executes one work unit. A unit whose SourceResult already settled
// is not run again, only finalized. Finalize runs after every unit, including
// one whose crawl panicked. The returned error means the unit should be
// redelivered, which includes a failed finalize.
func (o *Orchestrator) RunOne(ctx context.Context, unit domain.WorkUnit) (err error) {
	log := o.logger.With(logger.String("job_id", unit.JobID), logger.String("source_id", unit.SourceID))

	started, err := o.jobs.StartSource(ctx, unit.JobID, unit.SourceID, o.timestamp())
	if err != nil {
		return fmt.Errorf("start source %s of job %s: %w", unit.SourceID, unit.JobID, err)
	}
	if !started {
		// The worker that settled it may have died before finalizing.
		log.Info("Source already settled, finalizing redelivered unit")
		return o.finalizeDetached(ctx, unit.JobID)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Crawl panicked", logger.Any("panic", r))
			err = o.settle(ctx, log, unit, domain.SourceOutcome{
				Status:       domain.SourceStatusFailed,
				ErrorMessage: fmt.Sprintf("panic: %v", r),
			})
		}
		if finErr := o.finalizeDetached(ctx, unit.JobID); finErr != nil && err == nil {
			err = finErr
		}
	}()

	outcome, retry := o.execute(ctx, log, unit)
	if retry != nil {
		log.Warn("Unit interrupted, leaving source running for redelivery", logger.Error(retry))
		return retry
	}
	return o.settle(ctx, log, unit, outcome)
}

// finalizeDetached finalizes jobID even when ctx is already cancelled. An
// error is returned only while the job is still not finalized, so the unit
// is redelivered and finalize retried.
func (o *Orchestrator) finalizeDetached(ctx context.Context, jobID string) error {
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	_, err := o.Finalize(finCtx, jobID)
	if err == nil {
		return nil
	}
	if job, getErr := o.jobs.GetJob(finCtx, jobID); getErr == nil && job.IsFinalized() {
		return nil
	}
	return err
}

// execute runs the crawl and derives its outcome. A non-nil error means the
// worker itself is stopping and the unit must be retried.
func (o *Orchestrator) execute(ctx context.Context, log logger.Logger, unit domain.WorkUnit) (domain.SourceOutcome, error) {
	job, err := o.jobs.GetJob(ctx, unit.JobID)
	if err != nil {
		return failedOutcome(nil, fmt.Errorf("load job: %w", err)), nil
	}
	if job.Status == domain.JobStatusCancelled {
		log.Info("Job cancelled before source started")
		return domain.SourceOutcome{
			Status:       domain.SourceStatusSkipped,
			ErrorMessage: "job cancelled before source started",
		}, nil
	}

	source, err := o.sources.GetSource(ctx, unit.SourceID)
	if err != nil {
		return failedOutcome(nil, fmt.Errorf("load source: %w", err)), nil
	}

	res, crawlErr := o.crawler.Crawl(ctx, crawler.Request{
		JobID:     unit.JobID,
		Source:    source,
		Overrides: job.Overrides,
		Cancelled: o.cancelCheck(unit.JobID),
	})
	if crawlErr != nil && ctx.Err() != nil && errors.Is(crawlErr, domain.ErrCancelled) {
		return domain.SourceOutcome{}, ctx.Err()
	}
	if res == nil {
		res = &crawler.Result{}
	}

	switch {
	case res.Cancelled:
		return domain.SourceOutcome{
			Status:       domain.SourceStatusSkipped,
			Counters:     res.Counters(),
			Strategy:     res.Strategy,
			ErrorMessage: fmt.Sprintf("job cancelled after %d pages", res.PagesFetched),
		}, nil
	case crawlErr != nil:
		log.Warn("Source crawl failed", logger.String("kind", domain.ErrorKind(crawlErr)), logger.Error(crawlErr))
		return failedOutcome(res, crawlErr), nil
	default:
		return domain.SourceOutcome{
			Status:   domain.SourceStatusCompleted,
			Counters: res.Counters(),
			Strategy: res.Strategy,
		}, nil
	}
}

func failedOutcome(res *crawler.Result, err error) domain.SourceOutcome {
	out := domain.SourceOutcome{
		Status:       domain.SourceStatusFailed,
		ErrorMessage: fmt.Sprintf("%s: %v", domain.ErrorKind(err), err),
	}
	if res != nil {
		out.Counters = res.Counters()
		out.Strategy = res.Strategy
	}
	return out
}

// settle records outcome. An error leaves the result unsettled and the unit
// must be redelivered.
func (o *Orchestrator) settle(ctx context.Context, log logger.Logger, unit domain.WorkUnit, outcome domain.SourceOutcome) error {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	settled, err := o.jobs.SettleSource(settleCtx, unit.JobID, unit.SourceID, outcome, o.timestamp())
	if err != nil {
		log.Error("Failed to settle source", logger.String("status", string(outcome.Status)), logger.Error(err))
		return fmt.Errorf("settle source %s of job %s: %w", unit.SourceID, unit.JobID, err)
	}
	if !settled {
		log.Info("Source was settled concurrently", logger.String("status", string(outcome.Status)))
		return nil
	}
	o.recorder.SourceSettled(outcome.Status)
	log.Info("Source settled",
		logger.String("status", string(outcome.Status)),
		logger.Int("pages_fetched", outcome.Counters.PagesFetched),
		logger.Int("new_documents", outcome.Counters.NewDocuments),
	)
	return nil
}

func (o *Orchestrator) cancelCheck(jobID string) crawler.CancelCheck {
	return func(ctx context.Context) (bool, error) {
		job, err := o.jobs.GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		return job.Status == domain.JobStatusCancelled, nil
	}
}

// Finalize recomputes the job from its SourceResults under the job's row
// lock. Calls after the terminal state was committed change nothing. If the
// recomputation itself fails the job is marked failed rather than left running.
func (o *Orchestrator) Finalize(ctx context.Context, jobID string) (*domain.Job, error) {
	log := o.logger.With(logger.String("job_id", jobID))
	now := o.timestamp()

	job, finalized, err := o.jobs.Finalize(ctx, jobID, now)
	if err != nil {
		log.Error("Finalize failed, failing job", logger.Error(err))
		if failErr := o.jobs.ForceFail(ctx, jobID, "finalize: "+err.Error(), now); failErr != nil {
			log.Error("Failed to mark job failed", logger.Error(failErr))
		} else {
			o.recorder.JobFinalized(domain.JobStatusFailed)
		}
		return nil, fmt.Errorf("finalize job %s: %w", jobID, err)
	}

	if finalized {
		o.recorder.JobFinalized(job.Status)
		fields := []logger.Field{
			logger.String("status", string(job.Status)),
			logger.Int("pages_fetched", job.PagesFetched),
			logger.Int("total_found", job.TotalFound),
			logger.Int("new_documents", job.NewDocuments),
			logger.Int("errors", job.Errors),
		}
		if job.ErrorSummary != nil {
			fields = append(fields, logger.String("error_summary", *job.ErrorSummary))
		}
		log.Info("Job finalized", fields...)
	}
	return job, nil
}

// Cancel moves a pending or running job to cancelled. In-flight sources see
// it at their next page; sources not yet started settle as skipped. It
// returns false when the job was already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (bool, error) {
	cancelled, err := o.jobs.CancelJob(ctx, jobID, o.timestamp())
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	if !cancelled {
		return false, nil
	}
	o.logger.Info("Job cancelled", logger.String("job_id", jobID))

	if _, finErr := o.Finalize(ctx, jobID); finErr != nil {
		o.logger.Warn("Finalize after cancel failed", logger.String("job_id", jobID), logger.Error(finErr))
	}
	return true, nil
}

// CreateJobRequest is the input of CreateAndDispatchJob.
type CreateJobRequest struct {
	SourceIDs []string
	// Priority defaults to domain.DefaultPriority when nil.
	Priority  *int
	Trigger   domain.TriggerOrigin
	Overrides map[string]any
}

// CreateAndDispatchJob validates req, stores a pending job, and dispatches it.
func (o *Orchestrator) CreateAndDispatchJob(ctx context.Context, req CreateJobRequest) (string, error) {
	job, err := o.newJob(ctx, req)
	if err != nil {
		return "", err
	}
	if createErr := o.jobs.CreateJob(ctx, job); createErr != nil {
		return "", fmt.Errorf("create job: %w", createErr)
	}
	if _, dispatchErr := o.Dispatch(ctx, job.ID); dispatchErr != nil {
		return job.ID, dispatchErr
	}
	return job.ID, nil
}

func (o *Orchestrator) newJob(ctx context.Context, req CreateJobRequest) (*domain.Job, error) {
	sourceIDs := make([]string, 0, len(req.SourceIDs))
	seen := make(map[string]bool, len(req.SourceIDs))
	for _, id := range req.SourceIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		sourceIDs = append(sourceIDs, id)
	}
	if len(sourceIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one source id is required", domain.ErrInvalidJobRequest)
	}

	priority := domain.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	if priority < domain.MinPriority || priority > domain.MaxPriority {
		return nil, fmt.Errorf("%w: priority %d outside %d..%d",
			domain.ErrInvalidJobRequest, priority, domain.MinPriority, domain.MaxPriority)
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = domain.TriggerManual
	}
	if !trigger.Valid() {
		return nil, fmt.Errorf("%w: unknown trigger %q", domain.ErrInvalidJobRequest, trigger)
	}

	if len(req.Overrides) > 0 {
		probe := &domain.Source{}
		if _, err := crawler.Resolve(crawler.Defaults{}, nil, probe, req.Overrides, o.now()); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidJobRequest, err)
		}
	}

	for _, id := range sourceIDs {
		if _, err := o.sources.GetSource(ctx, id); err != nil {
			return nil, err
		}
	}

	return &domain.Job{
		ID:            uuid.NewString(),
		Status:        domain.JobStatusPending,
		SourceIDs:     sourceIDs,
		Priority:      priority,
		TriggerOrigin: trigger,
		Overrides:     domain.JSONBMap(req.Overrides),
	}, nil
}

// GetJobStatus returns the job with its per-source results.
func (o *Orchestrator) GetJobStatus(ctx context.Context, jobID string) (*domain.JobStatusView, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	results, err := o.jobs.ListSourceResults(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &domain.JobStatusView{Job: job, Sources: results}, nil
}

// CancelJob cancels the job, returning false when it was already terminal.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) (bool, error) {
	return o.Cancel(ctx, jobID)
}
