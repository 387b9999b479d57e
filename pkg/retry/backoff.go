package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// BackoffStrategy yields the pause before the next attempt
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff doubles (by Multiplier) from BaseDelay up to MaxDelay,
// spreading each delay by up to ±JitterFactor of itself.
type ExponentialBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// NewExponentialBackoff builds the page-retry backoff used by scans: doubling
// from base, capped at ceiling, with 10% jitter. A ceiling below base is raised to base.
func NewExponentialBackoff(base, ceiling time.Duration) *ExponentialBackoff {
	if ceiling < base {
		ceiling = base
	}
	return &ExponentialBackoff{
		BaseDelay:    base,
		MaxDelay:     ceiling,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay returns the pause after the given failed attempt (1-based)
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 || eb.BaseDelay <= 0 {
		return 0
	}

	mult := eb.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := eb.BaseDelay
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(delay) * mult)
		if eb.MaxDelay > 0 && next >= eb.MaxDelay {
			delay = eb.MaxDelay
			break
		}
		delay = next
	}
	if eb.MaxDelay > 0 {
		delay = min(delay, eb.MaxDelay)
	}

	if eb.JitterFactor > 0 {
		spread := float64(delay) * eb.JitterFactor
		delay += time.Duration(spread * (2*rand.Float64() - 1))
	}
	return max(delay, 0)
}

// Wait sleeps for delay unless ctx ends first. An ended ctx is reported even
// when delay is zero.
func Wait(ctx context.Context, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
