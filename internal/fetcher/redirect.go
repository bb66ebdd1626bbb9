package fetcher

import (
	"errors"
	"net/http"
)

// ErrTooManyRedirects is returned when the redirect hop limit is exceeded.
var ErrTooManyRedirects = errors.New("too many redirects")

// defaultMaxRedirects matches net/http's own limit.
const defaultMaxRedirects = 10

// redirectPolicy returns a CheckRedirect function that enforces maxHops and
// runs validate against every redirect target before it is followed.
func redirectPolicy(maxHops int, validate func(*http.Request) error) func(*http.Request, []*http.Request) error {
	if maxHops <= 0 {
		maxHops = defaultMaxRedirects
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxHops {
			return ErrTooManyRedirects
		}
		return validate(req)
	}
}
