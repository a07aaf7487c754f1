// Package await provides bounded polling for conditions that become true
// eventually, such as publish-to-pull visibility on a message broker.
// The waiting stays in the caller; the code under test remains synchronous.
package await

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultTimeout  = 60 * time.Second
	DefaultInterval = 500 * time.Millisecond
)

type config struct {
	timeout  time.Duration
	interval time.Duration
}

type Option func(*config)

func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.interval = d
		}
	}
}

// Until polls fn at the configured interval until it returns true or the
// timeout elapses. The last observation decides the outcome.
func Until(ctx context.Context, fn func(ctx context.Context) bool, opts ...Option) error {
	return UntilNoError(ctx, func(ctx context.Context) error {
		if !fn(ctx) {
			return fmt.Errorf("condition not met")
		}
		return nil
	}, opts...)
}

// UntilNoError polls fn until it returns nil. On timeout the last error is
// wrapped so the caller sees why the final attempt failed.
func UntilNoError(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) error {
	cfg := config{timeout: DefaultTimeout, interval: DefaultInterval}
	for _, opt := range opts {
		opt(&cfg)
	}

	deadline := time.Now().Add(cfg.timeout)
	var lastErr error
	for {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("await: timed out after %s: %w", cfg.timeout, lastErr)
		}
		timer := time.NewTimer(cfg.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
