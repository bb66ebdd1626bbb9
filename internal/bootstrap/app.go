// Package bootstrap handles application initialization and lifecycle management
// for the harvester service.
//
// The bootstrap process follows these phases:
//   - Phase 1: Config & Logger - Load configuration and create logger
//   - Phase 2: Database - Connect to PostgreSQL, migrate, and create repositories
//   - Phase 3: Queue - Connect the Redis Streams or Kafka execution substrate
//   - Phase 4: Services - Create sink, crawler, orchestrator, and worker pool
//   - Phase 5: Components - Select the API server, workers, and scheduler
//   - Phase 6: Run - Wait for interrupt signal or error
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jonesrussell/north-cloud/harvester/internal/api"
	"github.com/jonesrussell/north-cloud/harvester/internal/coordination"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
	"github.com/jonesrussell/north-cloud/harvester/internal/scheduler"
)

// Roles selects the components a process runs.
type Roles struct {
	API       bool
	Workers   bool
	Scheduler bool
}

// AllRoles runs every component in one process.
var AllRoles = Roles{API: true, Workers: true, Scheduler: true}

// Start initializes the harvester and runs the selected roles until
// interrupted or a component fails.
func Start(ctx context.Context, opts Options, roles Roles) error {
	if !roles.API && !roles.Workers && !roles.Scheduler {
		return errors.New("no components selected")
	}

	// Phase 1: Initialize config and logger
	deps, err := NewCommandDeps(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() {
		if syncErr := deps.Logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", syncErr)
		}
	}()

	// Phase 2: Setup database (PostgreSQL) and repositories
	db, err := SetupDatabase(ctx, deps.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to setup database: %w", err)
	}
	defer db.Close()

	// Phase 3: Setup execution substrate
	qc, err := SetupQueue(ctx, deps.Config, deps.Logger)
	if err != nil {
		return fmt.Errorf("failed to setup queue: %w", err)
	}
	defer qc.Queue.Close()

	// Phase 4: Setup services
	svc, err := SetupServices(ctx, deps, Stores{
		Jobs:      db.JobRepo,
		Sources:   db.SourceRepo,
		Documents: db.DocumentRepo,
	}, qc.Queue, nil)
	if err != nil {
		return fmt.Errorf("failed to setup services: %w", err)
	}

	// Phase 5: Select components
	runners := []Runner{{
		Name: "metrics",
		Run: func(ctx context.Context) error {
			svc.Metrics.Collect(ctx, qc.Depths, svc.Pool, 0, deps.Logger)
			return nil
		},
	}}

	if roles.Workers {
		runners = append(runners, Runner{
			Name: "workers",
			Run:  func(ctx context.Context) error { return svc.Pool.Run(ctx, qc.Queue) },
		})
	}

	if roles.Scheduler {
		sched, schedErr := scheduler.New(svc.Orchestrator, deps.Config.Schedules, deps.Logger)
		if schedErr != nil {
			return fmt.Errorf("failed to setup scheduler: %w", schedErr)
		}
		if len(deps.Config.Schedules) == 0 {
			deps.Logger.Info("No schedules configured")
		} else {
			run, leaderErr := schedulerRunner(sched, qc, deps)
			if leaderErr != nil {
				return leaderErr
			}
			runners = append(runners, Runner{Name: "scheduler", Run: run})
		}
	}

	if roles.API {
		checks := map[string]api.HealthCheck{"database": db.Ping}
		if qc.Ping != nil {
			checks["queue"] = qc.Ping
		}
		server := SetupHTTPServer(HTTPServerDeps{
			Deps:     deps,
			Services: svc,
			Lister:   db.JobRepo,
			Checks:   checks,
		})
		runners = append(runners, Runner{Name: "api", Run: server.Run})
	}

	deps.Logger.Info("Harvester started",
		logger.Bool("api", roles.API),
		logger.Bool("workers", roles.Workers),
		logger.Bool("scheduler", roles.Scheduler),
	)

	// Phase 6: Run until interrupt or error
	return RunUntilInterrupt(ctx, deps.Logger, runners...)
}

// schedulerRunner gates the scheduler behind a Redis lease when Redis is the
// queue backend, so replicas started with the scheduler role fire each
// schedule once.
func schedulerRunner(sched *scheduler.Scheduler, qc *QueueComponents, deps *CommandDeps) (func(context.Context) error, error) {
	if qc.Redis == nil {
		deps.Logger.Warn("Scheduler runs without leader election on this queue backend")
		return sched.Run, nil
	}
	leader, err := coordination.NewLeader(qc.Redis, coordination.LeaderConfig{
		Key: deps.Config.Queue.StreamPrefix + ":scheduler:leader",
	}, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to setup scheduler leader election: %w", err)
	}
	return func(ctx context.Context) error { return leader.Run(ctx, sched.Run) }, nil
}
