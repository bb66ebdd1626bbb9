package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	defaultRobotsCacheTTL = 24 * time.Hour
	robotsTxtPath         = "/robots.txt"
	robotsFetchTimeout    = 10 * time.Second
)

// RobotsChecker checks and caches robots.txt rules per host. robots.txt is
// fetched through the given Transport, so it is subject to the same SSRF checks.
type RobotsChecker struct {
	transport Transport
	userAgent string
	cacheTTL  time.Duration

	mu    sync.RWMutex
	cache map[string]*robotsCacheEntry
}

type robotsCacheEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	// allowAll is set when robots.txt was missing, unreadable, or unparsable.
	allowAll bool
}

// NewRobotsChecker creates a RobotsChecker.
func NewRobotsChecker(transport Transport, userAgent string, cacheTTL time.Duration) *RobotsChecker {
	if cacheTTL <= 0 {
		cacheTTL = defaultRobotsCacheTTL
	}
	return &RobotsChecker{
		transport: transport,
		userAgent: userAgent,
		cacheTTL:  cacheTTL,
		cache:     make(map[string]*robotsCacheEntry),
	}
}

// IsAllowed reports whether rawURL may be fetched. A missing or failing
// robots.txt allows everything.
func (r *RobotsChecker) IsAllowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("robots: parse url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	if host == "" {
		return false, fmt.Errorf("robots: empty host in url %q", rawURL)
	}

	entry := r.entry(ctx, parsed.Scheme, host)
	if entry.allowAll {
		return true, nil
	}

	path := parsed.EscapedPath()
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	if path == "" {
		path = "/"
	}
	return entry.data.TestAgent(path, r.userAgent), nil
}

// CrawlDelay returns the Crawl-delay declared for the user agent, or zero.
func (r *RobotsChecker) CrawlDelay(host string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.cache[strings.ToLower(host)]
	if !ok || entry.allowAll || entry.data == nil {
		return 0
	}
	group := entry.data.FindGroup(r.userAgent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

func (r *RobotsChecker) entry(ctx context.Context, scheme, host string) *robotsCacheEntry {
	r.mu.RLock()
	entry, ok := r.cache[host]
	r.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) <= r.cacheTTL {
		return entry
	}

	entry = r.fetch(ctx, scheme, host)

	r.mu.Lock()
	r.cache[host] = entry
	r.mu.Unlock()
	return entry
}

func (r *RobotsChecker) fetch(ctx context.Context, scheme, host string) *robotsCacheEntry {
	if scheme == "" {
		scheme = "https"
	}

	res, err := r.transport.Fetch(ctx, Request{
		URL:       scheme + "://" + host + robotsTxtPath,
		Timeout:   robotsFetchTimeout,
		UserAgent: r.userAgent,
	})
	if err != nil || res.StatusCode < 200 || res.StatusCode >= 300 {
		return &robotsCacheEntry{fetchedAt: time.Now(), allowAll: true}
	}

	data, err := robotstxt.FromBytes(res.Body)
	if err != nil {
		return &robotsCacheEntry{fetchedAt: time.Now(), allowAll: true}
	}
	return &robotsCacheEntry{data: data, fetchedAt: time.Now()}
}
