package domain

import (
	"net/url"
	"strings"
	"time"
)

// Source is a crawl target owned by the source configuration store.
type Source struct {
	ID                string     `db:"id"                   json:"id"`
	Name              string     `db:"name"                 json:"name"`
	URL               string     `db:"url"                  json:"url"`
	Enabled           bool       `db:"enabled"              json:"enabled"`
	CrawlerConfig     JSONBMap   `db:"crawler_config"       json:"crawler_config,omitempty"`
	PaginationMemory  JSONBMap   `db:"pagination_memory"    json:"pagination_memory,omitempty"`
	TotalDocuments    int        `db:"total_documents"      json:"total_documents"`
	LastCrawledAt     *time.Time `db:"last_crawled_at"      json:"last_crawled_at,omitempty"`
	LastSuccessAt     *time.Time `db:"last_success_at"      json:"last_success_at,omitempty"`
	ConsecutiveErrors int        `db:"consecutive_errors"   json:"consecutive_errors"`
	CreatedAt         time.Time  `db:"created_at"           json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"           json:"updated_at"`
}

// Domain returns the lowercase host of the source URL without a leading "www.".
func (s *Source) Domain() string {
	return DomainOf(s.URL)
}

// DomainOf returns the lowercase host of rawURL without port or leading "www.".
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// PaginationMemory is the last pagination approach that worked for a source.
type PaginationMemory struct {
	Strategy  string
	Config    map[string]any
	UpdatedAt time.Time
}

const (
	memoryKeyStrategy  = "strategy"
	memoryKeyConfig    = "config"
	memoryKeyUpdatedAt = "updated_at"
)

// ToJSONB encodes the memory in its stored form.
func (m PaginationMemory) ToJSONB() JSONBMap {
	cfg := m.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	return JSONBMap{
		memoryKeyStrategy:  m.Strategy,
		memoryKeyConfig:    cfg,
		memoryKeyUpdatedAt: m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ParsePaginationMemory decodes the stored form. It returns false when the
// field is empty or malformed.
func ParsePaginationMemory(raw JSONBMap) (PaginationMemory, bool) {
	var m PaginationMemory
	if len(raw) == 0 {
		return m, false
	}

	strategy, ok := raw[memoryKeyStrategy].(string)
	if !ok || strategy == "" {
		return m, false
	}
	m.Strategy = strategy

	if cfg, isMap := raw[memoryKeyConfig].(map[string]any); isMap {
		m.Config = cfg
	}
	if ts, isString := raw[memoryKeyUpdatedAt].(string); isString {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.UpdatedAt = parsed
		}
	}
	return m, true
}

// IsStale reports whether the memory is older than ttl. A zero ttl never expires.
func (m PaginationMemory) IsStale(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	if m.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(m.UpdatedAt) > ttl
}

// CrawlStats is the aggregate update applied to a source after each crawl.
type CrawlStats struct {
	NewDocuments int
	Success      bool
	CrawledAt    time.Time
}
