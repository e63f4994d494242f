package pool

import "time"

// healthScore blends latency, recent success rate and recency-of-use into
// a single 0..1 weight used for weighted credential selection. The
// three weights come from config and are expected to sum to 1.0
// but are not required to - the ratio still behaves sensibly either way.
func (p *Pool) healthScore(e *entry) float64 {
	e.mu.RLock()
	total := e.cred.TotalRequests
	success := e.cred.SuccessCount
	lastSuccess := e.cred.LastSuccess
	quarantined := e.cred.IsQuarantined
	e.mu.RUnlock()

	if quarantined {
		return 0
	}

	weights := p.cfg.KeySelection.HealthScoreWeights

	successRate := 1.0
	if total > 0 {
		successRate = float64(success) / float64(total)
	}

	p50, _, _ := e.latency.Percentiles()
	latencyScore := latencyToScore(p50)

	recencyScore := 1.0
	if !lastSuccess.IsZero() {
		age := time.Since(lastSuccess)
		switch {
		case age < time.Minute:
			recencyScore = 1.0
		case age < 10*time.Minute:
			recencyScore = 0.7
		case age < time.Hour:
			recencyScore = 0.4
		default:
			recencyScore = 0.1
		}
	}

	score := weights.Latency*latencyScore + weights.SuccessRate*successRate + weights.Recency*recencyScore
	if score < 0 {
		return 0
	}
	return score
}

// latencyToScore maps a p50 latency in ms to a 0..1 score: fast keys score
// near 1, keys at or beyond 10s score near 0.
func latencyToScore(p50Ms int64) float64 {
	if p50Ms <= 0 {
		return 1.0
	}
	const ceilingMs = 10000.0
	score := 1.0 - float64(p50Ms)/ceilingMs
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// detectSlow flags a credential whose p50 latency exceeds an absolute
// threshold: SlowKeyThreshold taken as seconds. It does not compare
// against the other credentials' latencies and has no minimum sample
// count; a single observation is enough to flag a credential.
func (p *Pool) detectSlow(e *entry) bool {
	threshold := p.cfg.KeySelection.SlowKeyThreshold
	if threshold <= 0 {
		return false
	}
	p50, _, _ := e.latency.Percentiles()
	return float64(p50) > threshold*1000
}
