package domain

import "time"

// BreakerState is the circuit breaker's tri-state machine.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerStats is the observability snapshot returned by getStats().
type BreakerStats struct {
	OpenedAt          time.Time
	HalfOpenStartedAt time.Time
	State             BreakerState
	RecentFailures    int
	FailureThreshold  int
}

// CredentialEvent is published by the credential pool when a recorded
// success leaves a credential's breaker closed or a recorded failure
// leaves it open, for any subscriber (logging, diagnostics) that wants
// transitions pushed rather than polled from a snapshot. The lazy
// open-to-half-open transition inside the breaker is not published.
type CredentialEvent struct {
	KeyID     string
	Provider  string
	FromState BreakerState
	ToState   BreakerState
	At        time.Time
}

// PredictionData is the deterministic composite health-prediction score
// It is advisory only and is never consulted for
// admission decisions.
type PredictionData struct {
	Severity        string
	Score           int
	RatioScore      int
	AccelerationScore int
	RecencyScore    int
}

const (
	PredictionSeverityOK       = "ok"
	PredictionSeverityWarning  = "warning"
	PredictionSeverityCritical = "critical"
)
