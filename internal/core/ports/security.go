package ports

import (
	"context"
	"time"
)

type SecurityRequest struct {
	ClientID     string
	Endpoint     string
	Method       string
	BodySize     int64
	HeaderSize   int64
	Headers      map[string][]string
	IsHealthCheck bool
}

type SecurityResult struct {
	Allowed      bool
	Reason       string
	RetryAfter   int
	RateLimit    int
	Remaining    int
	ResetTime    time.Time
}

type SecurityViolation struct {
	ClientID    string
	ViolationType string
	Endpoint    string
	Size        int64
	Timestamp   time.Time
}

type SecurityMetrics struct {
	RateLimitViolations int64
	SizeLimitViolations int64
	UniqueRateLimitedIPs int
}

type SecurityValidator interface {
	Validate(ctx context.Context, req SecurityRequest) (SecurityResult, error)
	Name() string
}

type SecurityChain struct {
	validators []SecurityValidator
}

func NewSecurityChain(validators ...SecurityValidator) *SecurityChain {
	return &SecurityChain{
		validators: validators,
	}
}

func (sc *SecurityChain) Validate(ctx context.Context, req SecurityRequest) (SecurityResult, error) {
	for _, validator := range sc.validators {
		if result, err := validator.Validate(ctx, req); err != nil {
			return result, err
		} else if !result.Allowed {
			return result, nil
		}
	}
	return SecurityResult{Allowed: true}, nil
}

func (sc *SecurityChain) GetValidators() []SecurityValidator {
	return sc.validators
}

type SecurityMetricsService interface {
	RecordViolation(ctx context.Context, violation SecurityViolation) error
	GetMetrics(ctx context.Context) (SecurityMetrics, error)
}

// SecurityStats is a point-in-time snapshot of violation counts, exposed
// through SecurityStatsRecorder so the edge middleware's violation tally
// stays independent of per-model/per-credential dispatch stats.
type SecurityStats struct {
	RateLimitViolations  int64 `json:"rate_limit_violations"`
	SizeLimitViolations  int64 `json:"size_limit_violations"`
	UniqueRateLimitedIPs int   `json:"unique_rate_limited_ips"`
}

// SecurityStatsRecorder is the narrow sink MetricsAdapter writes violations
// into. It deliberately knows nothing about endpoints, models or requests -
// just violations - so the security package never pulls in the wider
// dispatch-stats surface to report a rate-limit block.
type SecurityStatsRecorder interface {
	RecordSecurityViolation(violation SecurityViolation)
	GetSecurityStats() SecurityStats
}