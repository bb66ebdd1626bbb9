package orchestrator_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/harvester/internal/crawler"
	"github.com/jonesrussell/north-cloud/harvester/internal/database/memstore"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/fetcher"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
	"github.com/jonesrussell/north-cloud/harvester/internal/orchestrator"
	"github.com/jonesrussell/north-cloud/harvester/internal/ratelimit"
)

func listingHTML(prefix string, n int, next string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<a href="/news/2026/10/%s-headline-number-%d">%s %d</a>`, prefix, i, prefix, i)
	}
	if next != "" {
		fmt.Fprintf(&b, `<a rel="next" href="%s">Next</a>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

type e2e struct {
	store      *memstore.Store
	dispatcher *recordingDispatcher
	orch       *orchestrator.Orchestrator
}

func newE2E(t *testing.T) *e2e {
	t.Helper()

	dl, err := fetcher.NewDenylist(nil, []string{"127.0.0.0/8"})
	require.NoError(t, err)
	store := memstore.New()

	c, err := crawler.New(crawler.Params{
		Logger:     logger.NewNop(),
		Limiter:    ratelimit.New(0),
		Transports: map[string]crawler.PageFetcher{fetcher.TransportHTTP: fetcher.NewSafeFetcher(fetcher.Config{Denylist: dl})},
		Documents:  store,
		Sources:    store,
		Defaults:   crawler.Defaults{Delay: time.Millisecond},
	})
	require.NoError(t, err)

	env := &e2e{store: store, dispatcher: &recordingDispatcher{fail: map[string]bool{}}}
	env.orch, err = orchestrator.New(orchestrator.Params{
		Logger:     logger.NewNop(),
		Jobs:       store,
		Sources:    store,
		Crawler:    c,
		Dispatcher: env.dispatcher,
	})
	require.NoError(t, err)
	return env
}

func (e *e2e) addSource(id, url string) {
	e.store.PutSource(&domain.Source{
		ID:            id,
		Name:          id,
		URL:           url,
		Enabled:       true,
		CrawlerConfig: domain.JSONBMap{"strategy": "next_link"},
	})
}

// Source A paginates over two pages, B fails on its first fetch, and the job
// is cancelled while C serves its first page.
func TestEndToEnd_MixedOutcomeJobFails(t *testing.T) {
	t.Parallel()

	env := newE2E(t)

	var (
		mu    sync.Mutex
		jobID string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/a/news", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(listingHTML("a2", 5, "")))
			return
		}
		_, _ = w.Write([]byte(listingHTML("a1", 5, "/a/news?page=2")))
	})
	mux.HandleFunc("/b/news", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/c/news", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(listingHTML("c2", 5, "")))
			return
		}
		mu.Lock()
		id := jobID
		mu.Unlock()
		cancelled, err := env.orch.CancelJob(context.Background(), id)
		assert.NoError(t, err)
		assert.True(t, cancelled)
		_, _ = w.Write([]byte(listingHTML("c1", 5, "/c/news?page=2")))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	env.addSource("A", srv.URL+"/a/news")
	env.addSource("B", srv.URL+"/b/news")
	env.addSource("C", srv.URL+"/c/news")

	id, err := env.orch.CreateAndDispatchJob(context.Background(), orchestrator.CreateJobRequest{
		SourceIDs: []string{"A", "B", "C"},
		Trigger:   domain.TriggerManual,
	})
	require.NoError(t, err)
	mu.Lock()
	jobID = id
	mu.Unlock()

	for _, unit := range env.dispatcher.drain() {
		require.NoError(t, env.orch.RunOne(context.Background(), unit))
	}

	view, err := env.orch.GetJobStatus(context.Background(), id)
	require.NoError(t, err)

	a, b, c := resultFor(view, "A"), resultFor(view, "B"), resultFor(view, "C")
	assert.Equal(t, domain.SourceStatusCompleted, a.Status)
	assert.Equal(t, 10, a.NewDocuments)
	assert.Equal(t, 2, a.PagesFetched)
	assert.Equal(t, domain.SourceStatusFailed, b.Status)
	assert.Equal(t, domain.SourceStatusSkipped, c.Status)
	assert.Equal(t, 1, c.PagesFetched)

	assert.Equal(t, domain.JobStatusFailed, view.Job.Status)
	assert.NotNil(t, view.Job.FinishedAt)
	assert.Equal(t, sumCounters(view.Sources), view.Job.Counters)
	assert.Equal(t, 15, view.Job.NewDocuments)

	srcA, _ := env.store.GetSource(context.Background(), "A")
	_, remembered := domain.ParsePaginationMemory(srcA.PaginationMemory)
	assert.True(t, remembered, "a two-page crawl is remembered")

	srcC, _ := env.store.GetSource(context.Background(), "C")
	assert.Empty(t, srcC.PaginationMemory, "a cancelled crawl is not remembered")

	cancelled, err := env.orch.CancelJob(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestEndToEnd_SinglePageNoLinks(t *testing.T) {
	t.Parallel()

	env := newE2E(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h1>Quiet day</h1></body></html>`))
	}))
	t.Cleanup(srv.Close)
	env.addSource("solo", srv.URL+"/")

	id, err := env.orch.CreateAndDispatchJob(context.Background(), orchestrator.CreateJobRequest{SourceIDs: []string{"solo"}})
	require.NoError(t, err)
	for _, unit := range env.dispatcher.drain() {
		require.NoError(t, env.orch.RunOne(context.Background(), unit))
	}

	view, err := env.orch.GetJobStatus(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, view.IsSingleSource())
	assert.Equal(t, domain.JobStatusCompleted, view.Job.Status)
	assert.Zero(t, view.Job.TotalFound)
	assert.Equal(t, 1, view.Job.PagesFetched)

	src, _ := env.store.GetSource(context.Background(), "solo")
	assert.Empty(t, src.PaginationMemory)
	assert.NotNil(t, src.LastSuccessAt)
}

// The worker stops while the second page is in flight. The source must stay
// running with no counters so a redelivery crawls it again.
func TestEndToEnd_WorkerStopMidPaginationIsRedelivered(t *testing.T) {
	t.Parallel()

	env := newE2E(t)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	var stopped sync.Once
	mux := http.NewServeMux()
	mux.HandleFunc("/news", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			interrupt := false
			stopped.Do(func() { interrupt = true })
			if interrupt {
				stopWorker()
				<-r.Context().Done()
				return
			}
			_, _ = w.Write([]byte(listingHTML("p2", 3, "")))
			return
		}
		_, _ = w.Write([]byte(listingHTML("p1", 3, "/news?page=2")))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	env.addSource("a", srv.URL+"/news")
	jobID, err := env.orch.CreateAndDispatchJob(context.Background(), orchestrator.CreateJobRequest{SourceIDs: []string{"a"}})
	require.NoError(t, err)
	units := env.dispatcher.drain()
	require.Len(t, units, 1)

	err = env.orch.RunOne(workerCtx, units[0])
	require.ErrorIs(t, err, context.Canceled)

	view, err := env.orch.GetJobStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, view.Job.Status)
	result := resultFor(view, "a")
	assert.Equal(t, domain.SourceStatusRunning, result.Status)
	assert.Zero(t, result.PagesFetched)

	require.NoError(t, env.orch.RunOne(context.Background(), units[0]))
	view, err = env.orch.GetJobStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, view.Job.Status)
	assert.Equal(t, 2, resultFor(view, "a").PagesFetched)
}
