package pagination

// Adaptive follows next links when the first page has one and falls back to
// the Parameter strategy otherwise. The choice is recorded in Cursor.Effective.
type Adaptive struct {
	nextLink  *NextLink
	parameter *Parameter
}

// NewAdaptive creates an Adaptive strategy.
func NewAdaptive(opts Options) *Adaptive {
	return &Adaptive{nextLink: NewNextLink(opts), parameter: NewParameter(opts)}
}

// Name implements Strategy.
func (s *Adaptive) Name() string { return NameAdaptive }

// InitialCursor implements Strategy.
func (s *Adaptive) InitialCursor() *Cursor { return NewCursor() }

// Next implements Strategy.
func (s *Adaptive) Next(page Page, cursor *Cursor) (string, error) {
	switch cursor.Effective {
	case NameNextLink:
		return s.nextLink.Next(page, cursor)
	case NameParameter:
		return s.parameter.Next(page, cursor)
	}

	if s.nextLink.Find(page) != "" {
		cursor.Effective = NameNextLink
		return s.nextLink.Next(page, cursor)
	}
	cursor.Effective = NameParameter
	return s.parameter.Next(page, cursor)
}

// EffectiveName returns the strategy that actually paginated: the cursor's
// recorded choice when set, otherwise the strategy's own name.
func EffectiveName(s Strategy, cursor *Cursor) string {
	if cursor != nil && cursor.Effective != "" {
		return cursor.Effective
	}
	return s.Name()
}
