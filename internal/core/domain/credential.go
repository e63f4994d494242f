package domain

import (
	"time"
)

// Credential is a single API key in a pool, tagged with an optional
// provider. It mirrors the teacher's Endpoint record in shape (identity +
// live health state living on the same struct) but the identity here is an
// opaque secret prefix rather than a URL, and the live state tracks
// in-flight concurrency and rate-limit cooldown rather than HTTP health
// checks.
type Credential struct {
	LastSuccess time.Time

	RateLimitedAt *time.Time

	Secret string

	KeyID    string
	Provider string

	Index int

	InFlight      int64
	TotalRequests int64
	SuccessCount  int64

	RateLimitCooldownMs int64
	RateLimitedCount     int64

	IsSlow        bool
	IsQuarantined bool
}

// Snapshot is a read-only, race-free copy of a credential's live state for
// observability (getKeySnapshot / getStats / compareKeys).
type Snapshot struct {
	LastSuccess         time.Time
	RateLimitedAt        *time.Time
	KeyID                string
	Provider             string
	Index                int
	InFlight             int64
	TotalRequests        int64
	SuccessCount         int64
	RateLimitCooldownMs  int64
	RateLimitedCount     int64
	HealthScore          float64
	IsSlow               bool
	IsQuarantined        bool
	BreakerState         BreakerState
	LatencyP50Ms         int64
	LatencyP95Ms         int64
	LatencyP99Ms         int64
}

// MaskedKeyID derives the never-exposed-secret stable identity: a short
// prefix of the secret, long enough to disambiguate in logs but never the
// whole key.
func MaskedKeyID(secret string) string {
	const prefixLen = 8
	if len(secret) <= prefixLen {
		return secret
	}
	return secret[:prefixLen]
}
