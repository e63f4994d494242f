// Package breaker implements a three-state circuit breaker for a single
// credential, following the atomic-counter-and-CAS-gate shape of the
// teacher's per-endpoint breaker but generalised to closed/open/half-open
// with a bounded failure-timestamp window instead of a raw counter.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftwell/relay/internal/core/domain"
)

// Breaker is a per-credential circuit breaker. One instance is owned by
// each pool entry; there is no map keyed by URL because the pool already
// indexes credentials by slot.
type Breaker struct {
	halfOpenAttemptAt int64 // unix nano; not read or written (the half-open probe gate is halfOpenInFlight)

	openedAt int64 // unix nano

	failureThreshold int
	failureWindow     time.Duration
	cooldownPeriod    time.Duration
	halfOpenTimeout   time.Duration

	mu        sync.Mutex
	failures  []time.Time // timestamps within failureWindow
	state     domain.BreakerState
	halfOpenInFlight int32
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 60 * time.Second
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = 30 * time.Second
	}
	if cfg.HalfOpenTimeout <= 0 {
		cfg.HalfOpenTimeout = 10 * time.Second
	}
	return &Breaker{
		failureThreshold: cfg.FailureThreshold,
		failureWindow:     cfg.FailureWindow,
		cooldownPeriod:    cfg.CooldownPeriod,
		halfOpenTimeout:   cfg.HalfOpenTimeout,
	}
}

// Config mirrors config.CircuitBreakerConfig without importing the config
// package (keeps the adapter dependency direction from core outward).
type Config struct {
	FailureThreshold int
	FailureWindow    time.Duration
	CooldownPeriod   time.Duration
	HalfOpenTimeout  time.Duration
}

// Allow reports whether a request may proceed. In the open state it allows
// exactly one probe through once the cooldown elapses (CAS-gated, same
// pattern as the teacher's lastAttempt gate), and fails the rest closed
// until that probe resolves.
func (b *Breaker) Allow() bool {
	state := b.State()
	b.mu.Lock()
	openedAt := b.openedAt
	b.mu.Unlock()

	switch state {
	case domain.BreakerClosed:
		return true
	case domain.BreakerHalfOpen:
		return atomic.CompareAndSwapInt32(&b.halfOpenInFlight, 0, 1)
	case domain.BreakerOpen:
		if time.Now().UnixNano()-openedAt < int64(b.cooldownPeriod) {
			return false
		}
		// Cooldown elapsed: transition to half-open and allow a single probe.
		b.mu.Lock()
		if b.state == domain.BreakerOpen {
			b.state = domain.BreakerHalfOpen
		}
		b.mu.Unlock()
		return atomic.CompareAndSwapInt32(&b.halfOpenInFlight, 0, 1)
	default:
		return true
	}
}

// RecordSuccess clears the failure window. In half-open it closes the
// breaker; a stuck half-open probe that never resolves reverts to open
// after halfOpenTimeout (checked lazily on the next Allow/State call).
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = b.failures[:0]
	if b.state != domain.BreakerClosed {
		b.state = domain.BreakerClosed
	}
	atomic.StoreInt32(&b.halfOpenInFlight, 0)
}

// RecordFailure appends a failure timestamp, trims the window, and trips
// the breaker open once failureThreshold failures fall within
// failureWindow. In half-open, any failure re-opens immediately.
func (b *Breaker) RecordFailure() {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == domain.BreakerHalfOpen {
		b.trip(now)
		atomic.StoreInt32(&b.halfOpenInFlight, 0)
		return
	}

	b.failures = append(b.failures, now)
	cutoff := now.Add(-b.failureWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept

	if len(b.failures) >= b.failureThreshold {
		b.trip(now)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.state = domain.BreakerOpen
	b.openedAt = now.UnixNano()
}

// State reports the current breaker state, reverting a half-open probe
// that has been in flight longer than halfOpenTimeout back to open.
func (b *Breaker) State() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == domain.BreakerHalfOpen && atomic.LoadInt32(&b.halfOpenInFlight) == 1 {
		// no separate probe-start timestamp is kept; openedAt from the
		// prior trip is reused as the reference point for the timeout.
		if time.Now().UnixNano()-b.openedAt > int64(b.cooldownPeriod+b.halfOpenTimeout) {
			b.trip(time.Now())
			atomic.StoreInt32(&b.halfOpenInFlight, 0)
		}
	}
	return b.state
}

// Stats returns a read-only snapshot for tracing/observability.
func (b *Breaker) Stats() domain.BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var openedAt time.Time
	if b.openedAt != 0 {
		openedAt = time.Unix(0, b.openedAt)
	}

	return domain.BreakerStats{
		State:            b.state,
		OpenedAt:         openedAt,
		RecentFailures:   len(b.failures),
		FailureThreshold: b.failureThreshold,
	}
}

// Predict computes a 0-100 risk score from the recent failure timestamps:
// how close to tripping (ratio), how fast failures are accelerating, and
// how recent the last one was. Observability only: the pool does not
// consult it when selecting a credential.
func (b *Breaker) Predict() domain.PredictionData {
	b.mu.Lock()
	failures := append([]time.Time(nil), b.failures...)
	threshold := b.failureThreshold
	b.mu.Unlock()

	n := len(failures)
	if n == 0 {
		return domain.PredictionData{Severity: domain.PredictionSeverityOK}
	}

	ratioScore := n * 100 / threshold
	if ratioScore > 100 {
		ratioScore = 100
	}

	accelerationScore := 0
	if n >= 2 {
		first := failures[0]
		last := failures[n-1]
		span := last.Sub(first)
		if span > 0 {
			rate := float64(n) / span.Seconds()
			accelerationScore = int(rate * 10)
			if accelerationScore > 100 {
				accelerationScore = 100
			}
		}
	}

	recencyScore := 0
	age := time.Since(failures[n-1])
	switch {
	case age < 5*time.Second:
		recencyScore = 100
	case age < 30*time.Second:
		recencyScore = 60
	case age < 2*time.Minute:
		recencyScore = 20
	}

	score := (ratioScore + accelerationScore + recencyScore) / 3
	severity := domain.PredictionSeverityOK
	switch {
	case score >= 70:
		severity = domain.PredictionSeverityCritical
	case score >= 35:
		severity = domain.PredictionSeverityWarning
	}

	return domain.PredictionData{
		Score:             score,
		RatioScore:        ratioScore,
		AccelerationScore: accelerationScore,
		RecencyScore:      recencyScore,
		Severity:          severity,
	}
}
