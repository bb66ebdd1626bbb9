package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/harvester/internal/database/memstore"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/fetcher"
	"github.com/jonesrussell/north-cloud/harvester/internal/orchestrator"
	"github.com/jonesrussell/north-cloud/harvester/internal/queue"
)

// LocalCrawlRequest is one in-process crawl of a single URL.
type LocalCrawlRequest struct {
	URL       string
	Overrides map[string]any
	// CrawlerConfig is stored as the throwaway source's own crawler config.
	CrawlerConfig map[string]any
}

// LocalCrawlResult is the settled job and the documents it saved.
type LocalCrawlResult struct {
	Status    *domain.JobStatusView
	Source    *domain.Source
	Documents []*domain.Document
}

// RunLocalCrawl runs one single-source job against in-memory stores and an
// in-memory queue. Nothing is persisted beyond the optional document sink.
func RunLocalCrawl(ctx context.Context, deps *CommandDeps, req LocalCrawlRequest) (*LocalCrawlResult, error) {
	if _, err := fetcher.ParseURL(req.URL); err != nil {
		return nil, err
	}

	store := memstore.New()
	source := &domain.Source{
		ID:            uuid.NewString(),
		Name:          domain.DomainOf(req.URL),
		URL:           req.URL,
		Enabled:       true,
		CrawlerConfig: domain.JSONBMap(req.CrawlerConfig),
	}
	store.PutSource(source)

	q := queue.NewMemoryQueue(1)
	defer q.Close()

	svc, err := SetupServices(ctx, deps, Stores{Jobs: store, Sources: store, Documents: store}, q, nil)
	if err != nil {
		return nil, err
	}

	jobID, err := svc.Orchestrator.CreateAndDispatchJob(ctx, orchestrator.CreateJobRequest{
		SourceIDs: []string{source.ID},
		Trigger:   domain.TriggerManual,
		Overrides: req.Overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch local job: %w", err)
	}

	deliveries, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read local unit: %w", err)
	}
	for _, d := range deliveries {
		if runErr := svc.Orchestrator.RunOne(ctx, d.Unit); runErr != nil && !errors.Is(runErr, context.Canceled) {
			return nil, runErr
		}
	}

	view, err := svc.Orchestrator.GetJobStatus(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return nil, err
	}
	stored, err := store.GetSource(context.WithoutCancel(ctx), source.ID)
	if err != nil {
		return nil, err
	}
	return &LocalCrawlResult{
		Status:    view,
		Source:    stored,
		Documents: store.Documents(),
	}, nil
}
