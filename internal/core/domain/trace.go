package domain

import "time"

// SpanType is the closed set of trace span kinds.
type SpanType string

const (
	SpanQueued       SpanType = "queued"
	SpanKeyAcquired  SpanType = "key_acquired"
	SpanUpstreamStart SpanType = "upstream_start"
	SpanFirstByte    SpanType = "first_byte"
	SpanStreaming    SpanType = "streaming"
	SpanComplete     SpanType = "complete"
	SpanError        SpanType = "error"
	SpanRetry        SpanType = "retry"
	SpanTimeout      SpanType = "timeout"
)

// Span is one timed event within a single dispatch attempt.
type Span struct {
	StartTime time.Time
	EndTime   time.Time
	Type      SpanType
	Error     string
	KeyID     string
	Duration  time.Duration
	Status    int
	KeyIndex  int
	Attempt   int
}

// Attempt is one credential dispatch attempt within a request trace.
type Attempt struct {
	EndTime         time.Time
	KeyID           string
	SelectionReason string
	RetryReason     string
	Spans           []Span
	Number          int
	KeyIndex        int
	Status          int
	Success         bool
}

// RequestTrace is the full structured record of one client request,
// including every attempt and its spans.
type RequestTrace struct {
	QueuedAt         time.Time
	DequeuedAt       time.Time
	EndTime          time.Time
	TraceID          string
	RequestID        string
	Method           string
	Path             string
	Model            string
	MappedModel      string
	Provider         string
	MappedProvider   string
	FinalStatus      int
	EstimatedCostUSD float64
	QueueDuration    time.Duration
	TotalDuration    time.Duration
	Attempts         []Attempt
	Success          bool
}

// TraceQuery filters the trace store's query() operation.
type TraceQuery struct {
	Model             string
	Success           *bool
	HasRetries        *bool
	TimeRangeMinutes  int
	MinLatencyMs      int64
	Limit             int
}

// TraceStats summarises the trace store contents.
type TraceStats struct {
	Count        int
	Capacity     int
	OldestEvicted int64
}
