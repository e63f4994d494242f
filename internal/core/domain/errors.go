package domain

import "errors"

// Sentinel errors for conditions callers need to distinguish with
// errors.Is rather than by matching a formatted message.
var (
	// ErrNoCredentialsAvailable is returned when every credential for a
	// model is excluded, quarantined, breaker-open, rate-limited, or
	// filtered out by the provider's cost-safety rule.
	ErrNoCredentialsAvailable = errors.New("no credentials available")

	// ErrPoolCooledDown is returned when every credential for a model is
	// blocked by a pool-level cooldown, which takes precedence over
	// per-credential cooldowns.
	ErrPoolCooledDown = errors.New("model is pool-cooled-down")

	// ErrCircuitBreakerOpen is returned when dispatch is refused because
	// the acquired credential's breaker has tripped.
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrContextOverflow is returned when a provider rejects a request
	// because it exceeds the model's context window.
	ErrContextOverflow = errors.New("context window exceeded")
)
