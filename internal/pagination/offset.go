package pagination

import (
	"net/url"
	"strconv"
)

// Offset advances a numeric offset query parameter by the page size.
type Offset struct {
	opts Options
}

// NewOffset creates an Offset strategy.
func NewOffset(opts Options) *Offset {
	return &Offset{opts: opts.WithDefaults()}
}

// Name implements Strategy.
func (s *Offset) Name() string { return NameOffset }

// InitialCursor implements Strategy.
func (s *Offset) InitialCursor() *Cursor { return NewCursor() }

// Next implements Strategy. An empty result set ends pagination.
func (s *Offset) Next(page Page, cursor *Cursor) (string, error) {
	cursor.observe(page)
	if page.LinkCount == 0 {
		return "", nil
	}

	u, err := url.Parse(page.URL)
	if err != nil {
		return "", nil
	}
	q := u.Query()
	current, convErr := strconv.Atoi(q.Get(s.opts.OffsetParam))
	if convErr != nil || current < 0 {
		current = 0
	}
	q.Set(s.opts.OffsetParam, strconv.Itoa(current+s.opts.PageSize))
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return guard(s.Name(), u.String(), cursor)
}
