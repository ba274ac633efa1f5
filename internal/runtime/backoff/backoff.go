// Package backoff implements the retry policy shared by the hybrid client
// and the tool-call dispatcher: exponential delays with proportional jitter,
// attempted only on faults the taxonomy marks retryable.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/meshwire/meshwire/internal/runtime/faults"
)

// Policy describes the retry schedule. The zero value gets defaults from
// withDefaults; JitterFactor is proportional, not additive.
type Policy struct {
	// InitialDelay is the base delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Multiplier grows the delay per attempt.
	Multiplier float64

	// JitterFactor spreads each delay by ±(factor × delay).
	JitterFactor float64

	// MaxRetries bounds the number of retries after the first attempt.
	// Zero means the default; negative disables retries entirely.
	MaxRetries int
}

// DefaultPolicy returns the policy used when callers pass a zero value.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.25,
		MaxRetries:   3,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = def.Multiplier
	}
	if p.JitterFactor < 0 || p.JitterFactor >= 1 {
		p.JitterFactor = def.JitterFactor
	}
	switch {
	case p.MaxRetries == 0:
		p.MaxRetries = def.MaxRetries
	case p.MaxRetries < 0:
		p.MaxRetries = 0
	}
	return p
}

// Delay returns the sleep before retry number attempt (0-based):
// min(max, initial × multiplier^attempt) scaled by (1 ± jitter).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()

	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}

	if p.JitterFactor > 0 {
		// Uniform in [1-jitter, 1+jitter].
		base *= 1 + p.JitterFactor*(2*rand.Float64()-1)
	}
	return time.Duration(base)
}

// Do runs op, retrying on retryable faults up to MaxRetries times. The
// last error is returned unwrapped so callers keep the taxonomy type.
// Non-retryable errors and context cancellation end the loop immediately.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil || !faults.Retryable(err) || attempt >= p.MaxRetries {
			return err
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
