package security

import (
	"sync"
	"time"

	"github.com/driftwell/relay/internal/core/constants"
	"github.com/driftwell/relay/internal/core/ports"
	"github.com/puzpuzpuz/xsync/v4"
)

// StatsRecorder is the in-process ports.SecurityStatsRecorder. It tracks
// only violation counters and the rolling set of recently rate-limited
// client IDs, narrowed from the teacher's all-in-one stats collector down
// to just the security slice of that surface.
type StatsRecorder struct {
	rateLimitViolations *xsync.Counter
	sizeLimitViolations *xsync.Counter

	mu                   sync.RWMutex
	rateLimitedRecently  map[string]int64 // clientID -> unix nano of last violation
}

func NewStatsRecorder() *StatsRecorder {
	return &StatsRecorder{
		rateLimitViolations: xsync.NewCounter(),
		sizeLimitViolations: xsync.NewCounter(),
		rateLimitedRecently: make(map[string]int64),
	}
}

func (r *StatsRecorder) RecordSecurityViolation(violation ports.SecurityViolation) {
	switch violation.ViolationType {
	case constants.ViolationRateLimit:
		r.rateLimitViolations.Inc()
		r.recordRateLimitedIP(violation.ClientID)
	case constants.ViolationSizeLimit:
		r.sizeLimitViolations.Inc()
	}
}

func (r *StatsRecorder) recordRateLimitedIP(clientID string) {
	now := time.Now().UnixNano()
	cutoff := now - int64(time.Hour)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimitedRecently[clientID] = now
	for id, ts := range r.rateLimitedRecently {
		if ts < cutoff {
			delete(r.rateLimitedRecently, id)
		}
	}
}

func (r *StatsRecorder) GetSecurityStats() ports.SecurityStats {
	r.mu.RLock()
	uniqueIPs := len(r.rateLimitedRecently)
	r.mu.RUnlock()

	return ports.SecurityStats{
		RateLimitViolations:  r.rateLimitViolations.Value(),
		SizeLimitViolations:  r.sizeLimitViolations.Value(),
		UniqueRateLimitedIPs: uniqueIPs,
	}
}
