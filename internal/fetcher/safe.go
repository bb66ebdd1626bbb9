// Package fetcher is the only network path used by crawls. SafeFetcher
// resolves every host before connecting, refuses private and metadata
// addresses, dials the validated IP, and re-validates each redirect.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

// Default fetch limits.
const (
	DefaultMaxBodyBytes = 10 * 1024 * 1024
	DefaultTimeout      = 30 * time.Second
	defaultDialTimeout  = 10 * time.Second
)

// selectedHeaders are copied from the response into Result.Header.
var selectedHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Language",
	"Last-Modified",
	"ETag",
	"Cache-Control",
	"Retry-After",
	"X-Robots-Tag",
}

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Request describes one fetch.
type Request struct {
	URL       string
	Method    string
	Timeout   time.Duration
	UserAgent string
}

// Result is a completed fetch. Non-2xx responses are results, not errors.
type Result struct {
	StatusCode int
	FinalURL   string
	Header     http.Header
	Body       []byte
	Truncated  bool
	Elapsed    time.Duration
}

// Config configures a SafeFetcher.
type Config struct {
	UserAgent    string
	MaxBodyBytes int64
	MaxRedirects int
	Denylist     *Denylist
	Resolver     Resolver
}

// SafeFetcher performs SSRF-checked HTTP requests.
type SafeFetcher struct {
	cfg      Config
	client   *http.Client
	resolver Resolver
	denylist *Denylist
	dialer   *net.Dialer
}

// NewSafeFetcher creates a SafeFetcher.
func NewSafeFetcher(cfg Config) *SafeFetcher {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Denylist == nil {
		cfg.Denylist = DefaultDenylist()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = net.DefaultResolver
	}

	f := &SafeFetcher{
		cfg:      cfg,
		resolver: cfg.Resolver,
		denylist: cfg.Denylist,
		dialer:   &net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second},
	}

	transport := &http.Transport{
		// environment proxies would dial on our behalf and bypass the checks
		Proxy:                 nil,
		DialContext:           f.dialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: DefaultTimeout,
	}
	f.client = &http.Client{
		Transport:     transport,
		CheckRedirect: redirectPolicy(cfg.MaxRedirects, f.CheckRedirect),
	}
	return f
}

// RoundTripper returns the SSRF-checked transport for other HTTP clients.
func (f *SafeFetcher) RoundTripper() http.RoundTripper {
	return f.client.Transport
}

// CheckRedirect validates a redirect target. It is installed on the
// fetcher's own client and exposed for other transports.
func (f *SafeFetcher) CheckRedirect(req *http.Request) error {
	_, err := f.Validate(req.Context(), req.URL.String())
	return err
}

// Validate parses rawURL, requires http or https, and resolves the host,
// failing with ErrBlockedTarget when any resolved address is denied.
func (f *SafeFetcher) Validate(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if _, resolveErr := f.resolve(ctx, u.Hostname()); resolveErr != nil {
		return nil, resolveErr
	}
	return u, nil
}

// ParseURL checks the scheme and host of rawURL without touching the network.
func ParseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: scheme %q not allowed", domain.ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %q", domain.ErrInvalidURL, rawURL)
	}
	return u, nil
}

// resolve returns the addresses of host, refusing the host if any address is
// denied. IP literals are checked without a lookup.
func (f *SafeFetcher) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if f.denylist.Blocked(addr) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBlockedTarget, addr)
		}
		return []netip.Addr{addr}, nil
	}

	addrs, err := f.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", domain.ErrNetwork, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no addresses for %s", domain.ErrNetwork, host)
	}
	for _, addr := range addrs {
		if f.denylist.Blocked(addr) {
			return nil, fmt.Errorf("%w: %s resolves to %s", domain.ErrBlockedTarget, host, addr)
		}
	}
	return addrs, nil
}

// dialContext resolves and checks the host again at connect time and dials
// the checked address, so a DNS answer that changes after Validate cannot
// redirect the connection.
func (f *SafeFetcher) dialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidURL, err)
	}

	addrs, err := f.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, addr := range addrs {
		conn, dialErr := f.dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
		if dialErr == nil {
			return conn, nil
		}
		lastErr = dialErr
	}
	return nil, lastErr
}

// Fetch performs one GET or HEAD request.
func (f *SafeFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
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

	u, err := f.Validate(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidURL, err)
	}
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = f.cfg.UserAgent
	}
	if userAgent != "" {
		httpReq.Header.Set("User-Agent", userAgent)
	}
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(req.URL, err)
	}
	defer resp.Body.Close()

	body, truncated, err := readLimited(resp.Body, f.cfg.MaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: read body of %s: %w", domain.ErrNetwork, req.URL, err)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
		Header:     pickHeaders(resp.Header),
		Body:       body,
		Truncated:  truncated,
		Elapsed:    time.Since(start),
	}, nil
}

func classifyTransportError(rawURL string, err error) error {
	switch {
	case errors.Is(err, domain.ErrBlockedTarget), errors.Is(err, domain.ErrInvalidURL):
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	default:
		return fmt.Errorf("%w: fetch %s: %w", domain.ErrNetwork, rawURL, err)
	}
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > maxBytes {
		return body[:maxBytes], true, nil
	}
	return body, false, nil
}

func pickHeaders(h http.Header) http.Header {
	out := make(http.Header, len(selectedHeaders))
	for _, name := range selectedHeaders {
		if v := h.Values(name); len(v) > 0 {
			out[http.CanonicalHeaderKey(name)] = append([]string(nil), v...)
		}
	}
	return out
}
