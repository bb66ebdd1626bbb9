package crawler_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/harvester/internal/crawler"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

func TestResolve_DefaultsOnly(t *testing.T) {
	t.Parallel()

	res, err := crawler.Resolve(crawler.Defaults{}, nil, &domain.Source{URL: "https://example.com/"}, nil, time.Now())
	require.NoError(t, err)

	assert.Equal(t, crawler.DefaultMaxPages, res.Config.MaxPages)
	assert.Equal(t, crawler.DefaultDelay, res.Config.Delay)
	assert.Equal(t, crawler.DefaultUserAgent, res.Config.UserAgent)
	assert.Equal(t, crawler.DefaultStrategy, res.Config.Strategy)
	assert.Equal(t, []string{crawler.LayerDefaults}, res.Layers)
}

func TestResolve_LayerPrecedence(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	registry := crawler.NewRegistry(map[string]map[string]any{
		"example.com": {"strategy": "path", "max_pages": 5, "delay": "4s", "path_prefix": "page"},
	})
	source := &domain.Source{
		URL:           "https://www.example.com/news",
		CrawlerConfig: domain.JSONBMap{"max_pages": 6, "link_filter": "all"},
		PaginationMemory: domain.PaginationMemory{
			Strategy:  "parameter",
			Config:    map[string]any{"pagination_param": "p"},
			UpdatedAt: now.Add(-time.Hour),
		}.ToJSONB(),
	}
	overrides := map[string]any{"max_pages": 2, "delay": 1}

	res, err := crawler.Resolve(crawler.Defaults{MemoryTTL: 24 * time.Hour}, registry, source, overrides, now)
	require.NoError(t, err)

	cfg := res.Config
	assert.Equal(t, 2, cfg.MaxPages, "overrides win")
	assert.Equal(t, time.Second, cfg.Delay, "bare numbers are seconds")
	assert.Equal(t, "parameter", cfg.Strategy, "memory beats registry")
	assert.Equal(t, "p", cfg.Param)
	assert.Equal(t, "page", cfg.PathPrefix, "registry values survive where nothing overrides them")
	assert.Equal(t, "all", cfg.LinkFilter)
	assert.Equal(t, []string{
		crawler.LayerDefaults, crawler.LayerRegistry, crawler.LayerSource, crawler.LayerMemory, crawler.LayerOverrides,
	}, res.Layers)
}

func TestResolve_StaleMemoryIgnored(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	source := &domain.Source{
		URL: "https://example.com/",
		PaginationMemory: domain.PaginationMemory{
			Strategy:  "offset",
			UpdatedAt: now.Add(-48 * time.Hour),
		}.ToJSONB(),
	}

	res, err := crawler.Resolve(crawler.Defaults{MemoryTTL: 24 * time.Hour}, nil, source, nil, now)
	require.NoError(t, err)
	assert.True(t, res.MemoryIgnored)
	assert.Equal(t, crawler.DefaultStrategy, res.Config.Strategy)
	assert.NotContains(t, res.Layers, crawler.LayerMemory)
}

func TestResolve_JSONNumbersAndDurations(t *testing.T) {
	t.Parallel()

	overrides := map[string]any{
		"max-pages":        float64(7),
		"timeout":          "45s",
		"article_patterns": "/story/,/news/",
		"respect_robots":   "true",
	}
	res, err := crawler.Resolve(crawler.Defaults{}, nil, &domain.Source{URL: "https://example.com/"}, overrides, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 7, res.Config.MaxPages)
	assert.Equal(t, 45*time.Second, res.Config.Timeout)
	assert.Equal(t, []string{"/story/", "/news/"}, res.Config.ArticlePatterns)
	assert.True(t, res.Config.RespectRobots)
}

func TestResolve_InvalidOverride(t *testing.T) {
	t.Parallel()

	_, err := crawler.Resolve(crawler.Defaults{}, nil, &domain.Source{URL: "https://example.com/"},
		map[string]any{"timeout": "soon"}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), crawler.LayerOverrides)
}

func TestResolve_NonPositiveMaxPagesFallsBack(t *testing.T) {
	t.Parallel()

	res, err := crawler.Resolve(crawler.Defaults{MaxPages: 4}, nil, &domain.Source{URL: "https://example.com/"},
		map[string]any{"max_pages": 0}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Config.MaxPages)
}

func TestRegistry_LookupWalksParents(t *testing.T) {
	t.Parallel()

	r := crawler.NewRegistry(map[string]map[string]any{
		"WWW.Example.com": {"strategy": "path"},
	})

	assert.Equal(t, "path", r.Lookup("example.com")["strategy"])
	assert.Equal(t, "path", r.Lookup("news.example.com")["strategy"])
	assert.Nil(t, r.Lookup("example.org"))
	assert.Nil(t, r.Lookup("com"))

	var empty *crawler.Registry
	assert.Nil(t, empty.Lookup("example.com"))
	assert.Zero(t, empty.Len())
}

func TestRegistry_Builtin(t *testing.T) {
	t.Parallel()

	r := crawler.BuiltinRegistry()
	assert.Positive(t, r.Len())
	assert.Equal(t, "next_link", r.Lookup("www.cbc.ca")["strategy"])
}

func TestLoadRegistry_LayersFileOverBuiltin(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "registry.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
domains:
  cbc.ca:
    strategy: offset
    page_size: 50
  example.net:
    strategy: path
`), 0o600))

	r, err := crawler.LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, "offset", r.Lookup("cbc.ca")["strategy"])
	assert.Equal(t, 50, r.Lookup("cbc.ca")["page_size"])
	assert.Equal(t, "path", r.Lookup("example.net")["strategy"])
	assert.NotNil(t, r.Lookup("sudbury.com"))
}

func TestLoadRegistry_Errors(t *testing.T) {
	t.Parallel()

	_, err := crawler.LoadRegistry(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("domains: [unterminated"), 0o600))
	_, err = crawler.LoadRegistry(path)
	assert.Error(t, err)
}
