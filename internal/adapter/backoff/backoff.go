// Package backoff computes retry delays, grounded on the
// CheckInterval*Multiplier-capped-at-MaxBackoffMultiplier arithmetic used
// to back off an unhealthy endpoint, with jitter added per-attempt so a
// thundering herd of retrying requests doesn't resync on the same clock.
package backoff

import (
	"math/rand"
	"time"
)

const (
	DefaultMultiplier    = 2.0
	DefaultMaxMultiplier = 32.0
	DefaultJitterFrac    = 0.2
)

// Policy computes exponential backoff with a multiplier cap and jitter.
type Policy struct {
	Base          time.Duration
	Cap           time.Duration
	Multiplier    float64
	MaxMultiplier float64
	JitterFrac    float64
}

func Default(base, maxDelay time.Duration) Policy {
	return Policy{
		Base:          base,
		Cap:           maxDelay,
		Multiplier:    DefaultMultiplier,
		MaxMultiplier: DefaultMaxMultiplier,
		JitterFrac:    DefaultJitterFrac,
	}
}

// Delay returns the backoff delay for the given zero-indexed attempt
// number, capped and then jittered by +/- JitterFrac.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = DefaultMultiplier
	}
	maxMult := p.MaxMultiplier
	if maxMult <= 0 {
		maxMult = DefaultMaxMultiplier
	}

	factor := 1.0
	for i := 0; i < attempt; i++ {
		factor *= mult
		if factor > maxMult {
			factor = maxMult
			break
		}
	}

	d := time.Duration(float64(p.Base) * factor)
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}

	return jitter(d, p.JitterFrac)
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	delta := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * delta //nolint:gosec // timing jitter, not security sensitive
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		return 0
	}
	return result
}
