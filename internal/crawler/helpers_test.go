package crawler_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/harvester/internal/crawler"
	"github.com/jonesrussell/north-cloud/harvester/internal/database/memstore"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/fetcher"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
	"github.com/jonesrussell/north-cloud/harvester/internal/ratelimit"
)

// site serves fixed HTML by request URI and counts hits.
type site struct {
	*httptest.Server
	mu    sync.Mutex
	pages map[string]string
	codes map[string]int
	hits  map[string]int
}

func newSite(t *testing.T) *site {
	t.Helper()

	s := &site{pages: map[string]string{}, codes: map[string]int{}, hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.RequestURI()]++
		body, ok := s.pages[r.URL.RequestURI()]
		code := s.codes[r.URL.RequestURI()]
		s.mu.Unlock()

		if code != 0 {
			w.WriteHeader(code)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *site) page(uri, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[uri] = body
}

func (s *site) fail(uri string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[uri] = code
}

func (s *site) hitCount(uri string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[uri]
}

// listing renders n article links under prefix, plus an optional rel=next anchor.
func listing(prefix string, n int, next string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<li><a href="/news/2026/10/%s-story-number-%d">Story %d</a></li>`, prefix, i, i)
	}
	b.WriteString("</ul>")
	if next != "" {
		fmt.Fprintf(&b, `<a rel="next" href="%s">Next</a>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func loopbackFetcher(t *testing.T) *fetcher.SafeFetcher {
	t.Helper()

	dl, err := fetcher.NewDenylist(nil, []string{"127.0.0.0/8"})
	require.NoError(t, err)
	return fetcher.NewSafeFetcher(fetcher.Config{Denylist: dl})
}

type testEnv struct {
	store   *memstore.Store
	crawler *crawler.Crawler
}

func newEnv(t *testing.T, transports map[string]crawler.PageFetcher, mutate ...func(*crawler.Params)) *testEnv {
	t.Helper()

	store := memstore.New()
	if transports == nil {
		transports = map[string]crawler.PageFetcher{fetcher.TransportHTTP: loopbackFetcher(t)}
	}
	params := crawler.Params{
		Logger:     logger.NewNop(),
		Limiter:    ratelimit.New(0),
		Transports: transports,
		Documents:  store,
		Sources:    store,
		Defaults:   crawler.Defaults{Delay: time.Millisecond, UserAgent: "TestBot/1.0"},
	}
	for _, m := range mutate {
		m(&params)
	}
	c, err := crawler.New(params)
	require.NoError(t, err)
	return &testEnv{store: store, crawler: c}
}

func (e *testEnv) source(id, url string, cfg domain.JSONBMap) *domain.Source {
	src := &domain.Source{ID: id, Name: id, URL: url, Enabled: true, CrawlerConfig: cfg}
	e.store.PutSource(src)
	return src
}
