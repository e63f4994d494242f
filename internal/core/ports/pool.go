package ports

import (
	"context"
	"time"

	"github.com/driftwell/relay/internal/core/domain"
)

// CredentialPool is the C5 component: the stateful registry of every
// configured credential, responsible for selection, cooldown tracking and
// health-score bookkeeping.
type CredentialPool interface {
	// AcquireKey selects a credential for the given model, honouring
	// breaker state, rate limiting, the model's pool-level cooldown,
	// per-credential rate-limit cooldowns, and the provider filter's
	// cost-safety rule (an untagged credential is only eligible for the
	// default provider). It returns the chosen credential index and that
	// credential's secret. The per-model concurrency gate is not checked
	// here; it is taken separately with AcquireModelSlot.
	AcquireKey(ctx context.Context, model string, filter domain.ProviderFilter, exclude map[int]bool) (int, string, error)
	ReleaseKey(index int)

	RecordSuccess(index int, latency time.Duration)
	RecordFailure(index int, kind domain.ErrorKind)
	RecordRateLimit(index int, retryAfter time.Duration)
	RecordRateLimitHeaders(index int, headers map[string][]string)

	AcquireModelSlot(model string) bool
	ReleaseModelSlot(model string)

	RecordPoolRateLimitHit(model string) domain.PoolRateLimitHit
	DetectAccountLevelRateLimit(index int) domain.AccountRateLimitResult

	Snapshot(index int) (domain.Snapshot, bool)
	Snapshots() []domain.Snapshot
	Len() int

	ReloadKeys(keyFile string) error
}

// Breaker is the C2 component: a per-credential circuit breaker.
type Breaker interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
	State() domain.BreakerState
	Stats() domain.BreakerStats
}

// RateLimiter is the C3 component: a per-credential token bucket.
type RateLimiter interface {
	// Peek reports whether a token is currently available without
	// consuming one.
	Peek() bool
	// Allow consumes a token if available, returning false otherwise.
	Allow() bool
}
