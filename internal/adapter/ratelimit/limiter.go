// Package ratelimit provides the per-credential token bucket used by the
// credential pool to cap outbound request rate, grounded on the edge
// IP-limiter's Reserve()/Cancel() non-blocking peek pattern.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate.Limiter for a single credential.
// Peek mirrors the teacher's pattern of reserving a token, checking for a
// required delay, and cancelling the reservation if the caller only wants
// to look rather than consume.
type Limiter struct {
	limiter *rate.Limiter
}

func New(requestsPerMinute, burst int) *Limiter {
	if requestsPerMinute <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, burst)}
	}
	r := rate.Limit(float64(requestsPerMinute) / 60.0)
	return &Limiter{limiter: rate.NewLimiter(r, burst)}
}

// Peek reports whether a token is available without consuming it.
func (l *Limiter) Peek() bool {
	now := time.Now()
	reservation := l.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false
	}
	delay := reservation.DelayFrom(now)
	reservation.CancelAt(now)
	return delay <= 0
}

// Allow consumes a token if one is immediately available.
func (l *Limiter) Allow() bool {
	reservation := l.limiter.Reserve()
	if !reservation.OK() {
		return false
	}
	if reservation.Delay() > 0 {
		reservation.Cancel()
		return false
	}
	return true
}

// SetLimit updates the bucket's refill rate and burst, used when a
// credential's effective limit is reduced under adaptive pressure.
func (l *Limiter) SetLimit(requestsPerMinute, burst int) {
	if requestsPerMinute <= 0 {
		l.limiter.SetLimit(rate.Inf)
	} else {
		l.limiter.SetLimit(rate.Limit(float64(requestsPerMinute) / 60.0))
	}
	l.limiter.SetBurst(burst)
}
