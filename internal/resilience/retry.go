// Package resilience retries source reads that fail for transient reasons.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retry behavior with exponential backoff and jitter.
type Policy struct {
	// Attempts is the total number of tries including the first. Default: 3.
	Attempts int
	// Initial is the delay before the first retry. Default: 500ms.
	Initial time.Duration
	// Max caps any single delay. Default: 30s.
	Max time.Duration
	// Jitter is the fraction of each delay randomised in both directions.
	Jitter float64
	// Retryable overrides IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used for Salesforce queries.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 3,
		Initial:  500 * time.Millisecond,
		Max:      30 * time.Second,
		Jitter:   0.25,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// Do runs fn until it succeeds, fails with a non-retryable error, the
// attempts run out, or ctx is done. The last error is returned unchanged.
// op names the operation in retry logs.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || !p.Retryable(err) || attempt == p.Attempts-1 {
			return err
		}

		delay := p.backoff(attempt)
		zap.L().Warn("resilience: retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// backoff is Initial * 2^attempt, capped at Max, then jittered.
func (p Policy) backoff(attempt int) time.Duration {
	delay := math.Min(float64(p.Initial)*math.Pow(2, float64(attempt)), float64(p.Max))
	if p.Jitter > 0 {
		delay += (rand.Float64()*2 - 1) * delay * p.Jitter
	}
	return time.Duration(math.Max(delay, 0))
}
