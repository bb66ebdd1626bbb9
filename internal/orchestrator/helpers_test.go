package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/harvester/internal/crawler"
	"github.com/jonesrussell/north-cloud/harvester/internal/database/memstore"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
	"github.com/jonesrussell/north-cloud/harvester/internal/orchestrator"
)

var (
	_ orchestrator.JobStore    = (*memstore.Store)(nil)
	_ orchestrator.SourceStore = (*memstore.Store)(nil)
	_ crawler.DocumentStore    = (*memstore.Store)(nil)
)

// recordingDispatcher keeps enqueued units in order.
type recordingDispatcher struct {
	mu    sync.Mutex
	units []domain.WorkUnit
	fail  map[string]bool
}

func (d *recordingDispatcher) Enqueue(_ context.Context, unit domain.WorkUnit, _ int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[unit.SourceID] {
		return "", errors.New("queue unavailable")
	}
	d.units = append(d.units, unit)
	return fmt.Sprintf("handle-%d", len(d.units)), nil
}

func (d *recordingDispatcher) drain() []domain.WorkUnit {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.units
	d.units = nil
	return out
}

// crawlFunc adapts a function to orchestrator.Crawl and counts calls.
type crawlFunc struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req crawler.Request) (*crawler.Result, error)
}

func (c *crawlFunc) Crawl(ctx context.Context, req crawler.Request) (*crawler.Result, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.fn(ctx, req)
}

func (c *crawlFunc) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func pages(n, found int) func(context.Context, crawler.Request) (*crawler.Result, error) {
	return func(context.Context, crawler.Request) (*crawler.Result, error) {
		return &crawler.Result{PagesFetched: n, TotalFound: found, NewDocuments: found, Strategy: "next_link"}, nil
	}
}

// countingRecorder counts orchestration events.
type countingRecorder struct {
	mu        sync.Mutex
	finalized map[domain.JobStatus]int
	settled   map[domain.SourceResultStatus]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		finalized: map[domain.JobStatus]int{},
		settled:   map[domain.SourceResultStatus]int{},
	}
}

func (r *countingRecorder) JobDispatched(domain.TriggerOrigin) {}

func (r *countingRecorder) SourceSettled(s domain.SourceResultStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled[s]++
}

func (r *countingRecorder) JobFinalized(s domain.JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized[s]++
}

func (r *countingRecorder) finalizedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.finalized {
		total += n
	}
	return total
}

type harness struct {
	store      *memstore.Store
	dispatcher *recordingDispatcher
	crawl      *crawlFunc
	recorder   *countingRecorder
	orch       *orchestrator.Orchestrator
}

func newHarness(t *testing.T, fn func(context.Context, crawler.Request) (*crawler.Result, error), sourceIDs ...string) *harness {
	t.Helper()

	h := &harness{
		store:      memstore.New(),
		dispatcher: &recordingDispatcher{fail: map[string]bool{}},
		crawl:      &crawlFunc{fn: fn},
		recorder:   newCountingRecorder(),
	}
	for _, id := range sourceIDs {
		h.store.PutSource(&domain.Source{ID: id, Name: id, URL: "https://" + id + ".example.com/", Enabled: true})
	}

	var err error
	h.orch, err = orchestrator.New(orchestrator.Params{
		Logger:     logger.NewNop(),
		Jobs:       h.store,
		Sources:    h.store,
		Crawler:    h.crawl,
		Dispatcher: h.dispatcher,
		Recorder:   h.recorder,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) create(t *testing.T, sourceIDs ...string) string {
	t.Helper()

	id, err := h.orch.CreateAndDispatchJob(context.Background(), orchestrator.CreateJobRequest{
		SourceIDs: sourceIDs,
		Trigger:   domain.TriggerAPI,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) runAll(t *testing.T) {
	t.Helper()
	for _, unit := range h.dispatcher.drain() {
		require.NoError(t, h.orch.RunOne(context.Background(), unit))
	}
}

func (h *harness) status(t *testing.T, jobID string) *domain.JobStatusView {
	t.Helper()
	view, err := h.orch.GetJobStatus(context.Background(), jobID)
	require.NoError(t, err)
	return view
}

func resultFor(view *domain.JobStatusView, sourceID string) *domain.SourceResult {
	for _, r := range view.Sources {
		if r.SourceID == sourceID {
			return r
		}
	}
	return nil
}

func sumCounters(results []*domain.SourceResult) domain.Counters {
	var c domain.Counters
	for _, r := range results {
		c.Add(r.Counters)
	}
	return c
}
