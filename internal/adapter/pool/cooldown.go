package pool

import (
	"strconv"
	"time"
)

// nextKeyCooldownMs computes one credential's adaptive 429 cooldown: it
// starts at BaseCooldownMs, doubles on repeated hits that land before the
// prior cooldown decayed away, and decays back to the base once enough
// quiet time (CooldownDecayMs) has passed since the last hit. A provider
// Retry-After, when present and larger, always wins.
func (p *Pool) nextKeyCooldownMs(e *entry, now time.Time, retryAfter time.Duration) int64 {
	base := p.cfg.KeyRateLimitCooldown.BaseCooldownMs
	if base <= 0 {
		base = 1000
	}

	cooldownMs := base
	if e.cred.RateLimitedAt != nil {
		sinceLastHit := now.Sub(*e.cred.RateLimitedAt).Milliseconds()
		if sinceLastHit < p.cfg.KeyRateLimitCooldown.CooldownDecayMs {
			cooldownMs = e.cred.RateLimitCooldownMs * 2
			if cooldownMs <= 0 {
				cooldownMs = base
			}
		}
	}

	if ms := retryAfter.Milliseconds(); ms > cooldownMs {
		cooldownMs = ms
	}

	return cooldownMs
}

// parseRateLimitReset reads the first of X-RateLimit-Reset or
// Retry-After found in the given header map (already lower-cased keys are
// not assumed; both common cases are checked) and returns the delay in
// seconds.
func parseRateLimitReset(headers map[string][]string) (int64, bool) {
	for _, name := range []string{"X-RateLimit-Reset", "X-Ratelimit-Reset", "x-ratelimit-reset", "Retry-After", "retry-after"} {
		if vals, ok := headers[name]; ok && len(vals) > 0 {
			if n, err := strconv.ParseInt(vals[0], 10, 64); err == nil && n > 0 {
				return n, true
			}
		}
	}
	return 0, false
}
