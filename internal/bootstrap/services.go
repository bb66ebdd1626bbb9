package bootstrap

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/harvester/internal/crawler"
	"github.com/jonesrussell/north-cloud/harvester/internal/metrics"
	"github.com/jonesrussell/north-cloud/harvester/internal/orchestrator"
	"github.com/jonesrussell/north-cloud/harvester/internal/queue"
	"github.com/jonesrussell/north-cloud/harvester/internal/worker"
)

// Stores are the persistence collaborators of the services. The PostgreSQL
// repositories and memstore.Store both provide them.
type Stores struct {
	Jobs      orchestrator.JobStore
	Sources   orchestrator.SourceStore
	Documents crawler.DocumentStore
}

// ServiceComponents holds the crawl and orchestration services.
type ServiceComponents struct {
	Metrics      *metrics.Metrics
	Crawler      *crawler.Crawler
	Orchestrator *orchestrator.Orchestrator
	Pool         *worker.Pool
}

// SetupServices wires the crawler, orchestrator, and worker pool over stores,
// dispatching work units through q.
func SetupServices(
	ctx context.Context,
	deps *CommandDeps,
	stores Stores,
	q queue.Queue,
	m *metrics.Metrics,
) (*ServiceComponents, error) {
	if m == nil {
		m = metrics.New(nil)
	}

	docSink, err := SetupSink(ctx, deps.Config.Elasticsearch, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to setup sink: %w", err)
	}

	c, err := SetupCrawler(deps.Config, deps.Logger, CrawlerDeps{
		Documents: stores.Documents,
		Sources:   stores.Sources,
		Sink:      docSink,
		Recorder:  m,
	})
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(orchestrator.Params{
		Logger:     deps.Logger,
		Jobs:       stores.Jobs,
		Sources:    stores.Sources,
		Crawler:    c,
		Dispatcher: q,
		Recorder:   m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	poolCfg := worker.DefaultConfig()
	poolCfg.WithPoolSize(deps.Config.Worker.PoolSize).WithUnitTimeout(deps.Config.Worker.Timeout)
	pool, err := worker.NewPool(poolCfg, orch.RunOne, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &ServiceComponents{
		Metrics:      m,
		Crawler:      c,
		Orchestrator: orch,
		Pool:         pool,
	}, nil
}
