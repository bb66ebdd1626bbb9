// Package pagination finds the next page of a listing. Every strategy
// refuses to propose a URL already visited in the current crawl.
package pagination

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/extract"
)

// Strategy names.
const (
	NameParameter = "parameter"
	NamePath      = "path"
	NameNextLink  = "next_link"
	NameOffset    = "offset"
	NameAdaptive  = "adaptive"
)

// emptyPagesToStop is how many consecutive link-less pages end counting strategies.
const emptyPagesToStop = 2

// Page is what a strategy sees of the page just fetched.
type Page struct {
	// URL is the URL that was requested.
	URL string
	// FinalURL is the URL after redirects; relative links resolve against it.
	FinalURL string
	Doc      *goquery.Document
	// LinkCount is the number of candidate links extracted from the page.
	LinkCount int
}

func (p Page) base() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}

// Strategy proposes the next page of a listing.
type Strategy interface {
	Name() string
	InitialCursor() *Cursor
	// Next returns the next page URL, "" when pagination is exhausted, or an
	// error wrapping domain.ErrPaginationCycle when the only way forward was
	// already visited.
	Next(page Page, cursor *Cursor) (string, error)
}

// Cursor is the running state of one crawl's pagination.
type Cursor struct {
	visited     map[string]struct{}
	EmptyStreak int
	// Effective names the strategy that actually paginated, set by Adaptive.
	Effective string
}

// NewCursor returns an empty cursor.
func NewCursor() *Cursor {
	return &Cursor{visited: make(map[string]struct{})}
}

// Visit marks rawURL as seen.
func (c *Cursor) Visit(rawURL string) {
	c.visited[visitKey(rawURL)] = struct{}{}
}

// Seen reports whether rawURL was visited in this crawl.
func (c *Cursor) Seen(rawURL string) bool {
	_, ok := c.visited[visitKey(rawURL)]
	return ok
}

// Visited returns the number of distinct URLs seen.
func (c *Cursor) Visited() int {
	return len(c.visited)
}

// observe updates the empty-page streak and reports whether it reached the stop threshold.
func (c *Cursor) observe(page Page) bool {
	if page.LinkCount == 0 {
		c.EmptyStreak++
	} else {
		c.EmptyStreak = 0
	}
	return c.EmptyStreak >= emptyPagesToStop
}

func visitKey(rawURL string) string {
	if key, err := extract.NormalizeURL(rawURL); err == nil {
		return key
	}
	return strings.TrimSpace(rawURL)
}

// guard returns next, or a cycle error when it was already visited.
func guard(strategy, next string, cursor *Cursor) (string, error) {
	if next == "" {
		return "", nil
	}
	if cursor.Seen(next) {
		return "", fmt.Errorf("%w: %s proposed visited url %s", domain.ErrPaginationCycle, strategy, next)
	}
	return next, nil
}

// New returns the strategy called name. Unknown names fall back to the
// next-link strategy and report false.
func New(name string, opts Options) (Strategy, bool) {
	opts = opts.WithDefaults()
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameParameter:
		return NewParameter(opts), true
	case NamePath:
		return NewPath(opts), true
	case NameNextLink:
		return NewNextLink(opts), true
	case NameOffset:
		return NewOffset(opts), true
	case NameAdaptive:
		return NewAdaptive(opts), true
	default:
		return NewNextLink(opts), false
	}
}
