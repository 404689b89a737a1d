package fetch

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

// Policy bounds the retries of a single Fetch.
type Policy struct {
	// Attempts is the maximum number of requests. 0 means unlimited within Budget.
	Attempts int

	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// Jitter randomizes each interval by +/- Jitter*interval.
	Jitter float64

	// Budget is the wall-clock limit across all attempts and waits.
	Budget time.Duration

	// Timeout limits each individual request.
	Timeout time.Duration
}

// DefaultPolicy returns the policy used when a datasource does not configure one.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:        5,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
		Budget:          10 * time.Second,
		Timeout:         2 * time.Second,
	}
}

func (p Policy) backOff(ctx context.Context, clk clock.Clock) backoff.BackOff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      p.Budget,
		Stop:                backoff.Stop,
		Clock:               clk,
	}
	exp.Reset()

	var b backoff.BackOff = exp
	if p.Attempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.Attempts-1))
	}

	return backoff.WithContext(b, ctx)
}

// clockTimer satisfies backoff.Timer using a clock.Clock so waits follow simulated time.
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.Timer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
