package ports

import "github.com/driftwell/relay/internal/core/domain"

// TraceStore is the C11 component: a bounded ring of recent request traces
// with a secondary query index.
type TraceStore interface {
	Record(trace domain.RequestTrace)
	Query(q domain.TraceQuery) []domain.RequestTrace
	Recent(limit int) []domain.RequestTrace
	Stats() domain.TraceStats
}

// FailedRequestStore is the C12 component: a bounded, TTL'd store of
// requests that failed in a replayable way.
type FailedRequestStore interface {
	Store(entry domain.FailedRequestEntry)
	Get(storeID string) (domain.FailedRequestEntry, bool)
	List(limit int) []domain.FailedRequestEntry
	Replay(storeID string) (domain.ReplayResult, error)
	Purge()
}

// HistoryAggregator is the C13 component: rolling latency/throughput
// aggregation used by the stats endpoint.
type HistoryAggregator interface {
	Observe(model string, latencyMs int64, success bool)
	Percentiles(model string) (p50, p95, p99 int64)
	Snapshot() map[string]domain.TraceStats
}
