// Package scheduler creates jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/harvester/internal/config"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
	"github.com/jonesrussell/north-cloud/harvester/internal/orchestrator"
)

// JobCreator creates and dispatches a job. *orchestrator.Orchestrator satisfies it.
type JobCreator interface {
	CreateAndDispatchJob(ctx context.Context, req orchestrator.CreateJobRequest) (string, error)
}

const defaultTriggerTimeout = time.Minute

// Scheduler fires configured schedules and turns each firing into a job.
type Scheduler struct {
	creator JobCreator
	logger  logger.Logger
	cron    *cron.Cron
	parser  cron.Parser
	timeout time.Duration
	entries map[string]cron.EntryID

	// ctx is the context handed to cron-triggered jobs. It is renewed by
	// each Start and cancelled by Stop.
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler and registers every schedule. An invalid cron
// expression fails construction.
func New(creator JobCreator, schedules []config.ScheduleConfig, log logger.Logger) (*Scheduler, error) {
	if creator == nil {
		return nil, errors.New("job creator cannot be nil")
	}
	if log == nil {
		log = logger.NewNop()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Scheduler{
		creator: creator,
		logger:  log,
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		parser:  parser,
		timeout: defaultTriggerTimeout,
		entries: make(map[string]cron.EntryID, len(schedules)),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for i, sched := range schedules {
		if sched.Name == "" {
			sched.Name = fmt.Sprintf("schedule-%d", i)
		}
		if err := s.add(sched); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(sched config.ScheduleConfig) error {
	if _, exists := s.entries[sched.Name]; exists {
		return fmt.Errorf("duplicate schedule name %q", sched.Name)
	}
	schedule, err := s.parser.Parse(sched.Cron)
	if err != nil {
		return fmt.Errorf("schedule %q: failed to parse cron expression: %w", sched.Name, err)
	}

	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.Trigger(s.triggerContext(), sched)
	}))
	s.entries[sched.Name] = entryID

	s.logger.Info("Schedule registered",
		logger.String("schedule", sched.Name),
		logger.String("cron", sched.Cron),
		logger.Strings("source_ids", sched.SourceIDs),
		logger.Time("next_run", schedule.Next(time.Now())),
	)
	return nil
}

// Trigger creates one job for sched. Each cron firing runs it.
func (s *Scheduler) Trigger(ctx context.Context, sched config.ScheduleConfig) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := s.logger.With(logger.String("schedule", sched.Name))
	jobID, err := s.creator.CreateAndDispatchJob(ctx, orchestrator.CreateJobRequest{
		SourceIDs: sched.SourceIDs,
		Priority:  sched.Priority,
		Trigger:   domain.TriggerScheduled,
		Overrides: sched.Overrides,
	})
	if err != nil {
		log.Error("Scheduled job failed", logger.String("job_id", jobID), logger.Error(err))
		return
	}
	log.Info("Scheduled job dispatched", logger.String("job_id", jobID))
}

func (s *Scheduler) triggerContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Start begins firing schedules. A stopped scheduler can be started again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("Scheduler started", logger.Int("schedules", len(s.entries)))
}

// Stop stops firing and waits for running triggers to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// Run starts the scheduler and stops it when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

// NextRuns returns the next firing time of each schedule, keyed by name.
func (s *Scheduler) NextRuns(now time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		if entry := s.cron.Entry(id); entry.Schedule != nil {
			out[name] = entry.Schedule.Next(now)
		}
	}
	return out
}
