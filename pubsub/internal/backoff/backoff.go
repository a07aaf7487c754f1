// Package backoff implements jittered exponential delays for reconnect and
// publish-retry loops.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

type Config struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

type Exponential struct {
	mu      sync.Mutex
	current time.Duration
	cfg     Config
}

func New(cfg Config) *Exponential {
	if cfg.Initial <= 0 {
		cfg.Initial = 200 * time.Millisecond
	}
	if cfg.Max <= 0 {
		cfg.Max = 30 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2
	}
	return &Exponential{cfg: cfg}
}

// Next returns the delay before the following attempt, growing by the
// multiplier up to the cap, with symmetric jitter applied.
func (e *Exponential) Next() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.current <= 0:
		e.current = e.cfg.Initial
	default:
		e.current = time.Duration(float64(e.current) * e.cfg.Multiplier)
		if e.current > e.cfg.Max {
			e.current = e.cfg.Max
		}
	}
	return jittered(e.current, e.cfg.Jitter, e.cfg.Initial)
}

func (e *Exponential) Reset() {
	e.mu.Lock()
	e.current = 0
	e.mu.Unlock()
}

func jittered(interval time.Duration, jitter float64, floor time.Duration) time.Duration {
	if jitter <= 0 {
		return interval
	}
	span := float64(interval) * jitter
	interval += time.Duration((rand.Float64()*2 - 1) * span)
	if interval < 0 {
		return floor
	}
	return interval
}
