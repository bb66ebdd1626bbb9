package domain

import (
	"context"
	"errors"
)

// Crawl error taxonomy. Producers wrap these with fmt.Errorf("%w: ...").
var (
	ErrInvalidURL       = errors.New("invalid url")
	ErrBlockedTarget    = errors.New("blocked target")
	ErrNetwork          = errors.New("network error")
	ErrHTTPStatus       = errors.New("unexpected http status")
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrParse            = errors.New("parse error")
	ErrPaginationCycle  = errors.New("pagination cycle")
	ErrCancelled        = errors.New("cancelled")
)

// Store errors.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrSourceNotFound    = errors.New("source not found")
	ErrResultNotFound    = errors.New("source result not found")
	ErrDuplicateURL      = errors.New("document url already stored")
	ErrNoSourceResults   = errors.New("job has no source results")
	ErrInvalidJobRequest = errors.New("invalid job request")
)

// Error kinds returned by ErrorKind.
const (
	KindInvalidURL       = "invalid_url"
	KindBlockedTarget    = "blocked_target"
	KindNetwork          = "network_error"
	KindHTTPStatus       = "http_status"
	KindRobotsDisallowed = "robots_disallowed"
	KindParse            = "parse_error"
	KindPaginationCycle  = "pagination_cycle"
	KindCancelled        = "cancelled"
	KindUnknown          = "unknown"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidURL, KindInvalidURL},
	{ErrBlockedTarget, KindBlockedTarget},
	{ErrNetwork, KindNetwork},
	{ErrHTTPStatus, KindHTTPStatus},
	{ErrRobotsDisallowed, KindRobotsDisallowed},
	{ErrParse, KindParse},
	{ErrPaginationCycle, KindPaginationCycle},
	{ErrCancelled, KindCancelled},
}

// ErrorKind classifies err into the taxonomy. Context cancellation maps to
// KindCancelled and deadline expiry to KindNetwork.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	}
	return KindUnknown
}
