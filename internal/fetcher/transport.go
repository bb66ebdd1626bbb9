package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

// Transport names.
const (
	TransportHTTP  = "http"
	TransportColly = "colly"
)

// Transport is the capability every fetch transport variant provides.
type Transport interface {
	Name() string
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// Name implements Transport.
func (f *SafeFetcher) Name() string { return TransportHTTP }

// NewTransport returns the transport called name, falling back to the plain
// SafeFetcher for unknown names.
func NewTransport(name string, safe *SafeFetcher) Transport {
	switch strings.ToLower(name) {
	case TransportColly:
		return NewCollyTransport(safe)
	default:
		return safe
	}
}

// CollyTransport fetches through a colly collector wired to the SafeFetcher's
// round tripper and redirect checks.
type CollyTransport struct {
	safe *SafeFetcher
}

// NewCollyTransport creates a CollyTransport.
func NewCollyTransport(safe *SafeFetcher) *CollyTransport {
	return &CollyTransport{safe: safe}
}

// Name implements Transport.
func (t *CollyTransport) Name() string { return TransportColly }

// Fetch implements Transport. A collector is built per request so the
// request context and timeout apply to it alone.
func (t *CollyTransport) Fetch(ctx context.Context, req Request) (*Result, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodHead {
		return nil, fmt.Errorf("%w: method %s not supported", domain.ErrInvalidURL, req.Method)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u, err := t.safe.Validate(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = t.safe.cfg.UserAgent
	}

	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.UserAgent(userAgent),
		colly.MaxBodySize(int(t.safe.cfg.MaxBodyBytes)),
	)
	c.WithTransport(t.safe.RoundTripper())
	c.SetRequestTimeout(timeout)
	c.SetRedirectHandler(redirectPolicy(t.safe.cfg.MaxRedirects, t.safe.CheckRedirect))

	var result *Result
	var fetchErr error
	start := time.Now()

	c.OnResponse(func(r *colly.Response) {
		result = &Result{
			StatusCode: r.StatusCode,
			FinalURL:   r.Request.URL.String(),
			Body:       r.Body,
			Truncated:  int64(len(r.Body)) >= t.safe.cfg.MaxBodyBytes,
			Elapsed:    time.Since(start),
		}
		if r.Headers != nil {
			result.Header = pickHeaders(*r.Headers)
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})

	if visitErr := c.Request(method, u.String(), nil, nil, nil); visitErr != nil && fetchErr == nil {
		fetchErr = visitErr
	}
	if fetchErr != nil {
		return nil, classifyTransportError(req.URL, fetchErr)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: fetch %s: no response", domain.ErrNetwork, req.URL)
	}
	return result, nil
}
