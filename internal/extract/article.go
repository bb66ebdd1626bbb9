package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// minSlugWordCount is the number of hyphenated words that makes a slug article-like.
const minSlugWordCount = 4

// articleJSONLDTypes are schema.org types that mark a page as an article.
var articleJSONLDTypes = []string{
	"NewsArticle", "Article", "BlogPosting", "PressRelease", "Report", "ReportageNewsArticle",
}

// nonArticleSegments mark listing, utility, and account pages.
var nonArticleSegments = map[string]bool{
	"login":    true,
	"signin":   true,
	"signup":   true,
	"register": true,
	"search":   true,
	"contact":  true,
	"about":    true,
	"privacy":  true,
	"terms":    true,
	"tag":      true,
	"tags":     true,
	"category": true,
	"author":   true,
	"page":     true,
	"feed":     true,
	"rss":      true,
	"sitemap":  true,
	"admin":    true,
	"wp-admin": true,
	"account":  true,
	"cart":     true,
	"checkout": true,
}

var nonArticleExtensions = []string{
	".pdf", ".xml", ".json", ".css", ".js", ".png", ".jpg", ".jpeg",
	".gif", ".svg", ".ico", ".woff", ".zip", ".mp3", ".mp4",
}

// articlePathSegments suggest an article when followed by more path.
var articlePathSegments = map[string]bool{
	"article":  true,
	"articles": true,
	"story":    true,
	"stories":  true,
	"post":     true,
	"posts":    true,
	"news":     true,
	"press":    true,
	"newsroom": true,
	"blog":     true,
	"reports":  true,
	"report":   true,
	"updates":  true,
}

// datePathPattern matches /2026/02/14/headline and /2026/02/headline.
var datePathPattern = regexp.MustCompile(`/\d{4}/\d{2}(/\d{2})?/[^/]+`)

// IsArticleURL applies explicit patterns when given, otherwise the built-in
// URL heuristics.
func IsArticleURL(pageURL string, explicit []*regexp.Regexp) bool {
	if len(explicit) > 0 {
		for _, p := range explicit {
			if p.MatchString(pageURL) {
				return true
			}
		}
		return false
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	p := strings.TrimRight(parsed.Path, "/")
	if p == "" {
		return false
	}

	lower := strings.ToLower(p)
	segments := strings.Split(strings.TrimLeft(lower, "/"), "/")
	for _, seg := range segments {
		if nonArticleSegments[seg] {
			return false
		}
	}
	for _, ext := range nonArticleExtensions {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}

	if len(segments) == 1 && !hasLongSlug(segments[0]) {
		return false
	}
	if datePathPattern.MatchString(p) {
		return true
	}
	for i, seg := range segments {
		if articlePathSegments[seg] && i < len(segments)-1 {
			return true
		}
	}
	for _, seg := range segments {
		if hasLongSlug(seg) {
			return true
		}
	}
	return false
}

func hasLongSlug(segment string) bool {
	return len(strings.Split(segment, "-")) >= minSlugWordCount
}

// IsArticlePage reports whether the parsed page itself looks like an article,
// from JSON-LD, og:type, or a single <article> element.
func IsArticlePage(doc *goquery.Document) bool {
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		for _, t := range articleJSONLDTypes {
			if strings.Contains(text, `"`+t+`"`) {
				found = true
				return false
			}
		}
		return true
	})
	if found {
		return true
	}

	ogType, _ := doc.Find(`meta[property="og:type"]`).Attr("content")
	if strings.EqualFold(strings.TrimSpace(ogType), "article") {
		return true
	}
	return doc.Find("article").Length() == 1
}

// CompilePatterns compiles patterns, skipping invalid ones.
func CompilePatterns(patterns []string) []*regexp.Regexp {
	if len(patterns) == 0 {
		return nil
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}
	if len(compiled) == 0 {
		return nil
	}
	return compiled
}
