package bootstrap

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/harvester/internal/database"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
	"github.com/jonesrussell/north-cloud/harvester/internal/orchestrator"
)

// JobClient exposes job and source operations to one-shot CLI commands.
type JobClient struct {
	Deps         *CommandDeps
	Orchestrator *orchestrator.Orchestrator
	Jobs         *database.JobRepository
	Sources      *database.SourceRepository
	Documents    *database.DocumentRepository

	closers []func() error
}

// OpenJobClient connects the database and queue and builds an orchestrator
// that can create, inspect, and cancel jobs. Documents are not indexed from
// this client since it never runs crawls itself.
func OpenJobClient(ctx context.Context, opts Options) (*JobClient, error) {
	deps, err := NewCommandDeps(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	db, err := SetupDatabase(ctx, deps.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to setup database: %w", err)
	}
	client := &JobClient{
		Deps:      deps,
		Jobs:      db.JobRepo,
		Sources:   db.SourceRepo,
		Documents: db.DocumentRepo,
		closers:   []func() error{db.Close},
	}

	qc, err := SetupQueue(ctx, deps.Config, deps.Logger)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to setup queue: %w", err)
	}
	client.closers = append(client.closers, qc.Queue.Close)

	c, err := SetupCrawler(deps.Config, deps.Logger, CrawlerDeps{
		Documents: db.DocumentRepo,
		Sources:   db.SourceRepo,
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	client.Orchestrator, err = orchestrator.New(orchestrator.Params{
		Logger:     deps.Logger,
		Jobs:       db.JobRepo,
		Sources:    db.SourceRepo,
		Crawler:    c,
		Dispatcher: qc.Queue,
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Close releases the queue and database connections in reverse order.
func (c *JobClient) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Deps.Logger.Warn("Close failed", logger.Error(err))
		}
	}
	_ = c.Deps.Logger.Sync()
}
