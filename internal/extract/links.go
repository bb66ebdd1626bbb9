// Package extract turns a fetched page into candidate document links and an
// "is this page an article" signal.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

// Link filter modes.
const (
	FilterArticle = "article"
	FilterAll     = "all"
)

const defaultLinkSelector = "a[href]"

// skippedPrefixes are hrefs that never lead to a document.
var skippedPrefixes = []string{"#", "javascript:", "mailto:", "tel:", "sms:", "ftp:", "data:"}

// Options tunes a LinkExtractor.
type Options struct {
	// LinkSelector selects anchors; defaults to "a[href]".
	LinkSelector string
	// Filter is FilterArticle (default) or FilterAll.
	Filter string
	// ArticlePatterns, when set, replace the URL heuristics.
	ArticlePatterns []string
	// AllowExternal keeps links to other hosts.
	AllowExternal bool
}

// Page is the parsed view of one fetched document.
type Page struct {
	URL       string
	Doc       *goquery.Document
	Links     []string
	IsArticle bool
}

// LinkExtractor parses HTML into candidate links.
type LinkExtractor struct {
	selector      string
	filter        string
	patterns      []*regexp.Regexp
	allowExternal bool
}

// NewLinkExtractor creates a LinkExtractor.
func NewLinkExtractor(opts Options) *LinkExtractor {
	selector := strings.TrimSpace(opts.LinkSelector)
	if selector == "" {
		selector = defaultLinkSelector
	}
	filter := strings.ToLower(opts.Filter)
	if filter != FilterAll {
		filter = FilterArticle
	}
	return &LinkExtractor{
		selector:      selector,
		filter:        filter,
		patterns:      CompilePatterns(opts.ArticlePatterns),
		allowExternal: opts.AllowExternal,
	}
}

// Extract parses body, fetched from pageURL, into a Page. Links are absolute,
// unique by normalized URL, in document order, and never the page itself.
func (e *LinkExtractor) Extract(pageURL string, body []byte) (*Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("%w: page url %q is not absolute", domain.ErrParse, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html of %s: %w", domain.ErrParse, pageURL, err)
	}

	page := &Page{URL: pageURL, Doc: doc, IsArticle: IsArticlePage(doc)}

	self, _ := NormalizeURL(pageURL)
	seen := map[string]struct{}{self: {}}
	baseHost := hostKey(base)

	doc.Find(e.selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		link, keep := e.candidate(base, baseHost, href)
		if !keep {
			return
		}
		key, normErr := NormalizeURL(link)
		if normErr != nil {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		page.Links = append(page.Links, link)
	})

	return page, nil
}

func (e *LinkExtractor) candidate(base *url.URL, baseHost, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}

	resolved, err := base.Parse(href)
	if err != nil {
		return "", false
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	resolved.Fragment = ""
	if !e.allowExternal && hostKey(resolved) != baseHost {
		return "", false
	}

	link := resolved.String()
	if e.filter == FilterArticle && !IsArticleURL(link, e.patterns) {
		return "", false
	}
	return link, true
}

func hostKey(u *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// ResolveReference resolves href against pageURL, returning "" when either is unusable.
func ResolveReference(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	ref, err := base.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}
