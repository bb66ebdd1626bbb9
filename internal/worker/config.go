// Package worker runs work units from a queue on a bounded pool of workers.
package worker

import (
	"errors"
	"time"
)

const (
	// DefaultPoolSize is the default number of workers in the pool.
	DefaultPoolSize = 4

	// DefaultDrainTimeout is the default timeout for graceful shutdown.
	DefaultDrainTimeout = 30 * time.Second

	// DefaultUnitTimeout is the default timeout for one work unit.
	DefaultUnitTimeout = 30 * time.Minute

	// DefaultReadBackoff is how long the runner waits after a failed queue read.
	DefaultReadBackoff = time.Second

	// MinPoolSize is the minimum allowed pool size.
	MinPoolSize = 1

	// MaxPoolSize is the maximum allowed pool size.
	MaxPoolSize = 100
)

// Config holds configuration for the worker pool.
type Config struct {
	// PoolSize is the number of concurrent workers.
	PoolSize int

	// DrainTimeout is the maximum time to wait for workers to finish during shutdown.
	DrainTimeout time.Duration

	// UnitTimeout bounds one work unit's execution.
	UnitTimeout time.Duration

	// ReadBackoff is the pause after a failed queue read.
	ReadBackoff time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:     DefaultPoolSize,
		DrainTimeout: DefaultDrainTimeout,
		UnitTimeout:  DefaultUnitTimeout,
		ReadBackoff:  DefaultReadBackoff,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.PoolSize < MinPoolSize {
		return errors.New("pool size must be at least 1")
	}
	if c.PoolSize > MaxPoolSize {
		return errors.New("pool size cannot exceed 100")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain timeout must be positive")
	}
	if c.UnitTimeout <= 0 {
		return errors.New("unit timeout must be positive")
	}
	if c.ReadBackoff < 0 {
		return errors.New("read backoff cannot be negative")
	}
	return nil
}

// WithPoolSize sets the pool size. Non-positive sizes keep the current value.
func (c *Config) WithPoolSize(size int) *Config {
	if size > 0 {
		c.PoolSize = size
	}
	return c
}

// WithUnitTimeout sets the unit timeout. Non-positive timeouts keep the current value.
func (c *Config) WithUnitTimeout(timeout time.Duration) *Config {
	if timeout > 0 {
		c.UnitTimeout = timeout
	}
	return c
}
