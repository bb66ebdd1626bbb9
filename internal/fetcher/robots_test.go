package fetcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/harvester/internal/fetcher"
)

const testCacheTTL = time.Hour

func newTestChecker(t *testing.T) *fetcher.RobotsChecker {
	t.Helper()
	return fetcher.NewRobotsChecker(newLoopbackFetcher(t, fetcher.Config{}), "TestBot/1.0", testCacheTTL)
}

func robotsServer(t *testing.T, body string, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestIsAllowed_AllowedAndDisallowed(t *testing.T) {
	t.Parallel()

	server := robotsServer(t, "User-agent: *\nDisallow: /private/\nCrawl-delay: 3\n", http.StatusOK, nil)
	checker := newTestChecker(t)
	ctx := context.Background()

	allowed, err := checker.IsAllowed(ctx, server.URL+"/public/page")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("expected /public/page to be allowed")
	}

	allowed, err = checker.IsAllowed(ctx, server.URL+"/private/secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("expected /private/secret to be disallowed")
	}

	host := strings.TrimPrefix(server.URL, "http://")
	if got := checker.CrawlDelay(host); got != 3*time.Second {
		t.Errorf("CrawlDelay() = %v, want 3s", got)
	}
}

func TestIsAllowed_Missing404AllowsAll(t *testing.T) {
	t.Parallel()

	server := robotsServer(t, "", http.StatusNotFound, nil)
	checker := newTestChecker(t)

	allowed, err := checker.IsAllowed(context.Background(), server.URL+"/any/path")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("expected allow-all when robots.txt is missing")
	}
}

func TestIsAllowed_CachesPerHost(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := robotsServer(t, "User-agent: *\nDisallow:\n", http.StatusOK, &hits)
	checker := newTestChecker(t)

	for range 3 {
		if _, err := checker.IsAllowed(context.Background(), server.URL+"/x"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("expected robots.txt to be fetched once, got %d", got)
	}
}

func TestIsAllowed_EmptyHost(t *testing.T) {
	t.Parallel()

	if _, err := newTestChecker(t).IsAllowed(context.Background(), "/relative"); err == nil {
		t.Error("expected error for url without host")
	}
}
