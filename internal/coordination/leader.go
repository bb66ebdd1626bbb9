// Package coordination elects a single holder of a Redis lease so that
// a component runs in exactly one process of a deployment.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
)

const (
	// DefaultLeaseTTL is how long a lease survives without renewal.
	DefaultLeaseTTL = 30 * time.Second
	// DefaultRetryInterval is how often a follower retries the lease.
	DefaultRetryInterval = 5 * time.Second

	renewalDivisor = 3
)

// ErrLeaseRequired is returned by NewLeader when no key is given.
var ErrLeaseRequired = errors.New("lease key is required")

var (
	renewScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
)

// LeaderConfig configures a Leader.
type LeaderConfig struct {
	Key           string
	TTL           time.Duration
	RetryInterval time.Duration
	// ID identifies this process in the lease. A random one is used when empty.
	ID string
}

// Leader runs a function only while it holds the lease.
type Leader struct {
	client redis.UniversalClient
	key    string
	id     string
	ttl    time.Duration
	renew  time.Duration
	retry  time.Duration
	logger logger.Logger

	leading atomic.Bool
}

// NewLeader creates a Leader over client.
func NewLeader(client redis.UniversalClient, cfg LeaderConfig, log logger.Logger) (*Leader, error) {
	if cfg.Key == "" {
		return nil, ErrLeaseRequired
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultLeaseTTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Leader{
		client: client,
		key:    cfg.Key,
		id:     cfg.ID,
		ttl:    cfg.TTL,
		renew:  cfg.TTL / renewalDivisor,
		retry:  cfg.RetryInterval,
		logger: log.With(logger.String("lease", cfg.Key), logger.String("holder", cfg.ID)),
	}, nil
}

// ID returns this process's lease identity.
func (l *Leader) ID() string { return l.id }

// IsLeader reports whether the lease is currently held.
func (l *Leader) IsLeader() bool { return l.leading.Load() }

// Run waits for the lease, then runs fn with a context that is cancelled
// if the lease is lost. When fn returns because leadership was lost, Run
// goes back to waiting. Run returns when ctx is done or fn fails while
// leading.
func (l *Leader) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	for {
		acquired, err := l.acquire(ctx)
		if err != nil {
			l.logger.Warn("Lease acquisition failed", logger.Error(err))
		}
		if acquired {
			if runErr := l.lead(ctx, fn); runErr != nil {
				return runErr
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retry):
		}
	}
}

func (l *Leader) acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.id, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return ok, nil
}

// lead runs fn while renewing the lease. It returns fn's error only when fn
// failed on its own, not when it stopped because the lease or ctx ended.
func (l *Leader) lead(ctx context.Context, fn func(ctx context.Context) error) error {
	l.leading.Store(true)
	l.logger.Info("Acquired lease")

	leadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(leadCtx) }()

	ticker := time.NewTicker(l.renew)
	defer ticker.Stop()

	var lost bool
	var runErr error
loop:
	for {
		select {
		case runErr = <-done:
			break loop
		case <-ticker.C:
			if !l.renewLease(ctx) {
				lost = true
				cancel()
				runErr = <-done
				break loop
			}
		}
	}

	l.leading.Store(false)
	if !lost {
		l.release()
	}
	l.logger.Info("Released lease", logger.Bool("lost", lost))

	if lost || ctx.Err() != nil || errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func (l *Leader) renewLease(ctx context.Context) bool {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.id, l.ttl.Milliseconds()).Int()
	if err != nil {
		l.logger.Error("Lease renewal failed", logger.Error(err))
		return false
	}
	if n == 0 {
		l.logger.Warn("Lease taken by another holder")
		return false
	}
	return true
}

// release deletes the lease if still held, on a context detached from the
// caller since it usually runs during shutdown.
func (l *Leader) release() {
	ctx, cancel := context.WithTimeout(context.Background(), l.renew)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.id).Err(); err != nil {
		l.logger.Warn("Lease release failed", logger.Error(err))
	}
}
