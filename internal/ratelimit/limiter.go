// Package ratelimit gates outbound requests per domain.
//
// State is process-local: each worker process has its own limiter and the
// state resets on restart, so several processes can together exceed the
// intended per-domain rate.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter grants at most one acquisition per domain per interval.
type Limiter struct {
	mu              sync.Mutex
	domains         map[string]*domainLimiter
	defaultInterval time.Duration
	now             func() time.Time
}

type domainLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// New creates a Limiter whose domains default to interval.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		domains:         make(map[string]*domainLimiter),
		defaultInterval: interval,
		now:             time.Now,
	}
}

func every(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

func (l *Limiter) get(key string) *domainLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.domains[key]
	if !ok {
		d = &domainLimiter{
			limiter:  rate.NewLimiter(every(l.defaultInterval), 1),
			interval: l.defaultInterval,
		}
		l.domains[key] = d
	}
	return d
}

// SetInterval changes the minimum interval for one domain.
func (l *Limiter) SetInterval(domainKey string, interval time.Duration) {
	d := l.get(normalizeKey(domainKey))

	l.mu.Lock()
	defer l.mu.Unlock()
	if d.interval == interval {
		return
	}
	d.interval = interval
	d.limiter.SetLimitAt(l.now(), every(interval))
}

// Interval returns the minimum interval currently applied to domainKey.
func (l *Limiter) Interval(domainKey string) time.Duration {
	d := l.get(normalizeKey(domainKey))

	l.mu.Lock()
	defer l.mu.Unlock()
	return d.interval
}

// Acquire blocks until domainKey may be requested again, returning how long
// it waited. Different domains never wait on each other.
func (l *Limiter) Acquire(ctx context.Context, domainKey string) (time.Duration, error) {
	d := l.get(normalizeKey(domainKey))

	start := l.now()
	if err := d.limiter.Wait(ctx); err != nil {
		return l.now().Sub(start), fmt.Errorf("rate limit wait for %s: %w", domainKey, err)
	}
	return l.now().Sub(start), nil
}

// Len returns the number of domains tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.domains)
}

// Reset drops all per-domain state.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.domains = make(map[string]*domainLimiter)
}

func normalizeKey(key string) string {
	return strings.TrimPrefix(strings.ToLower(key), "www.")
}
