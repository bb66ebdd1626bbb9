package pagination

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/north-cloud/harvester/internal/extract"
)

// nextTextPattern matches anchor text and labels such as "Next", "Next page ›",
// "Older posts", "»".
var nextTextPattern = regexp.MustCompile(`(?i)^(next( page| posts?| articles?)?|older( posts| entries| articles)?|more( stories| articles)?|load more|suivant|siguiente|[›»→]+)(\s*[›»→]+)?$`)

// relNextSelectors are checked before any text heuristics.
var relNextSelectors = []string{`link[rel~="next"]`, `a[rel~="next"]`}

// NextLink follows an explicit "next page" anchor.
type NextLink struct {
	opts Options
}

// NewNextLink creates a NextLink strategy.
func NewNextLink(opts Options) *NextLink {
	return &NextLink{opts: opts.WithDefaults()}
}

// Name implements Strategy.
func (s *NextLink) Name() string { return NameNextLink }

// InitialCursor implements Strategy.
func (s *NextLink) InitialCursor() *Cursor { return NewCursor() }

// Next implements Strategy. It returns the first unvisited next-page
// candidate; when every candidate was visited it reports a cycle.
func (s *NextLink) Next(page Page, cursor *Cursor) (string, error) {
	cursor.observe(page)

	candidates := s.candidates(page)
	if len(candidates) == 0 {
		return "", nil
	}
	for _, c := range candidates {
		if !cursor.Seen(c) {
			return c, nil
		}
	}
	return guard(s.Name(), candidates[0], cursor)
}

// Find reports the first next-page URL on the page without consulting a cursor.
func (s *NextLink) Find(page Page) string {
	if c := s.candidates(page); len(c) > 0 {
		return c[0]
	}
	return ""
}

func (s *NextLink) candidates(page Page) []string {
	if page.Doc == nil {
		return nil
	}

	base := page.base()
	self := visitKey(base)
	var out []string
	seen := map[string]struct{}{}
	add := func(href string) {
		link := extract.ResolveReference(base, href)
		if link == "" || !strings.HasPrefix(link, "http") {
			return
		}
		key := visitKey(link)
		if key == self {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, link)
	}

	selectors := relNextSelectors
	if s.opts.NextSelector != "" {
		selectors = append([]string{s.opts.NextSelector}, selectors...)
	}
	for _, sel := range selectors {
		page.Doc.Find(sel).Each(func(_ int, node *goquery.Selection) {
			if href, ok := node.Attr("href"); ok {
				add(href)
			}
		})
	}

	page.Doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if looksLikeNext(a) {
			href, _ := a.Attr("href")
			add(href)
		}
	})
	return out
}

func looksLikeNext(a *goquery.Selection) bool {
	text := strings.Join(strings.Fields(a.Text()), " ")
	if text != "" && nextTextPattern.MatchString(text) {
		return true
	}
	if label, ok := a.Attr("aria-label"); ok && nextTextPattern.MatchString(strings.TrimSpace(label)) {
		return true
	}
	class, _ := a.Attr("class")
	for _, c := range strings.Fields(strings.ToLower(class)) {
		if c == "next" || strings.HasSuffix(c, "-next") || strings.HasPrefix(c, "next-page") {
			return true
		}
	}
	return false
}
