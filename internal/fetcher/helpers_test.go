package fetcher_test

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/jonesrussell/north-cloud/harvester/internal/fetcher"
)

// fakeResolver answers lookups from a fixed table and counts calls per host.
type fakeResolver struct {
	mu      sync.Mutex
	answers map[string][][]netip.Addr
	calls   map[string]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{answers: map[string][][]netip.Addr{}, calls: map[string]int{}}
}

// set registers successive answers for host; the last answer repeats.
func (r *fakeResolver) set(host string, answers ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range answers {
		r.answers[host] = append(r.answers[host], []netip.Addr{netip.MustParseAddr(a)})
	}
}

func (r *fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	answers, ok := r.answers[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	i := r.calls[host]
	r.calls[host]++
	if i >= len(answers) {
		i = len(answers) - 1
	}
	return answers[i], nil
}

// newLoopbackFetcher permits 127.0.0.0/8 so httptest servers are reachable.
func newLoopbackFetcher(t *testing.T, cfg fetcher.Config) *fetcher.SafeFetcher {
	t.Helper()

	dl, err := fetcher.NewDenylist(nil, []string{"127.0.0.0/8"})
	if err != nil {
		t.Fatalf("NewDenylist() error = %v", err)
	}
	cfg.Denylist = dl
	if cfg.UserAgent == "" {
		cfg.UserAgent = "TestBot/1.0"
	}
	return fetcher.NewSafeFetcher(cfg)
}
