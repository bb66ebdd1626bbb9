package pagination

import (
	"net/url"
	"strconv"
)

// Parameter increments a query parameter such as ?page=N.
type Parameter struct {
	opts Options
}

// NewParameter creates a Parameter strategy.
func NewParameter(opts Options) *Parameter {
	return &Parameter{opts: opts.WithDefaults()}
}

// Name implements Strategy.
func (s *Parameter) Name() string { return NameParameter }

// InitialCursor implements Strategy.
func (s *Parameter) InitialCursor() *Cursor { return NewCursor() }

// Next implements Strategy. It stops after two consecutive pages without links.
func (s *Parameter) Next(page Page, cursor *Cursor) (string, error) {
	if cursor.observe(page) {
		return "", nil
	}

	u, err := url.Parse(page.URL)
	if err != nil {
		return "", nil
	}
	q := u.Query()
	current, convErr := strconv.Atoi(q.Get(s.opts.Param))
	if convErr != nil {
		current = s.opts.StartPage
	}
	q.Set(s.opts.Param, strconv.Itoa(current+s.opts.Step))
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return guard(s.Name(), u.String(), cursor)
}
