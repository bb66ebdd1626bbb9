package pagination

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Path increments a numeric path segment, /news/2/ to /news/3/. With a
// PathPrefix it looks for /<prefix>/N instead of the last numeric segment.
type Path struct {
	opts Options
}

// NewPath creates a Path strategy.
func NewPath(opts Options) *Path {
	return &Path{opts: opts.WithDefaults()}
}

// Name implements Strategy.
func (s *Path) Name() string { return NamePath }

// InitialCursor implements Strategy.
func (s *Path) InitialCursor() *Cursor { return NewCursor() }

// Next implements Strategy. It stops after two consecutive pages without links.
func (s *Path) Next(page Page, cursor *Cursor) (string, error) {
	if cursor.observe(page) {
		return "", nil
	}

	u, err := url.Parse(page.URL)
	if err != nil {
		return "", nil
	}
	next, ok := s.nextPath(u.Path)
	if !ok {
		return "", nil
	}
	u.Path = next
	u.RawPath = ""
	u.Fragment = ""

	return guard(s.Name(), u.String(), cursor)
}

// nextPath returns the path of the following page. It reports false when
// the page number cannot be advanced.
func (s *Path) nextPath(p string) (string, bool) {
	trailing := strings.HasSuffix(p, "/")
	segments := strings.Split(strings.Trim(p, "/"), "/")
	if len(segments) == 1 && segments[0] == "" {
		segments = nil
	}

	idx := s.numericIndex(segments)
	if idx >= 0 {
		n, err := strconv.Atoi(segments[idx])
		if err != nil || n > math.MaxInt-s.opts.Step {
			return "", false
		}
		segments[idx] = strconv.Itoa(n + s.opts.Step)
	} else {
		if s.opts.PathPrefix != "" {
			segments = append(segments, s.opts.PathPrefix)
		}
		segments = append(segments, strconv.Itoa(s.opts.StartPage+s.opts.Step))
	}

	out := "/" + strings.Join(segments, "/")
	if trailing {
		out += "/"
	}
	return out, true
}

func (s *Path) numericIndex(segments []string) int {
	if s.opts.PathPrefix != "" {
		for i := len(segments) - 2; i >= 0; i-- {
			if segments[i] == s.opts.PathPrefix && isNumber(segments[i+1]) {
				return i + 1
			}
		}
		return -1
	}
	for i := len(segments) - 1; i >= 0; i-- {
		if isNumber(segments[i]) {
			return i
		}
	}
	return -1
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
