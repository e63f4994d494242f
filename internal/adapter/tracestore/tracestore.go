// Package tracestore implements the request trace store (C11): a bounded
// ring of recent request traces with a secondary request-id index, grounded
// on the byte ring buffer generalised to a struct ring plus an xsync.Map
// side index (ring buffer + side index, single critical section, evict
// from both). The index is kept in step with the ring, but the Store has
// no method that looks a trace up by request id.
package tracestore

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/driftwell/relay/internal/core/domain"
	"github.com/driftwell/relay/internal/core/ports"
)

var _ ports.TraceStore = (*Store)(nil)

type Store struct {
	mu       sync.Mutex
	traces   []domain.RequestTrace
	capacity int
	head     int
	size     int
	evicted  int64

	byRequestID *xsync.Map[string, int]
}

func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Store{
		traces:      make([]domain.RequestTrace, capacity),
		capacity:    capacity,
		byRequestID: xsync.NewMap[string, int](),
	}
}

// Record appends a completed trace, evicting the oldest on overflow - both
// the ring and the side index are updated under the same lock so a reader
// never observes one without the other.
func (s *Store) Record(trace domain.RequestTrace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := (s.head + s.size) % s.capacity
	if s.size < s.capacity {
		s.size++
	} else {
		evicted := s.traces[s.head]
		s.byRequestID.Delete(evicted.RequestID)
		s.head = (s.head + 1) % s.capacity
		s.evicted++
		idx = (s.head + s.size - 1) % s.capacity
	}

	s.traces[idx] = trace
	s.byRequestID.Store(trace.RequestID, idx)
}

// Query filters buffered traces by the given criteria, newest first,
// capped at q.Limit (0 means unlimited).
func (s *Store) Query(q domain.TraceQuery) []domain.RequestTrace {
	s.mu.Lock()
	all := s.snapshotLocked()
	s.mu.Unlock()

	var cutoff time.Time
	if q.TimeRangeMinutes > 0 {
		cutoff = time.Now().Add(-time.Duration(q.TimeRangeMinutes) * time.Minute)
	}

	out := make([]domain.RequestTrace, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		t := all[i]

		if q.Model != "" && t.Model != q.Model {
			continue
		}
		if q.Success != nil && t.Success != *q.Success {
			continue
		}
		if q.HasRetries != nil {
			hasRetries := len(t.Attempts) > 1
			if hasRetries != *q.HasRetries {
				continue
			}
		}
		if !cutoff.IsZero() && t.EndTime.Before(cutoff) {
			continue
		}
		if q.MinLatencyMs > 0 && t.TotalDuration.Milliseconds() < q.MinLatencyMs {
			continue
		}

		out = append(out, t)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

// Recent returns the most recent `limit` traces, newest first.
func (s *Store) Recent(limit int) []domain.RequestTrace {
	s.mu.Lock()
	all := s.snapshotLocked()
	s.mu.Unlock()

	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]domain.RequestTrace, limit)
	for i := 0; i < limit; i++ {
		out[i] = all[len(all)-1-i]
	}
	return out
}

func (s *Store) snapshotLocked() []domain.RequestTrace {
	out := make([]domain.RequestTrace, s.size)
	for i := 0; i < s.size; i++ {
		out[i] = s.traces[(s.head+i)%s.capacity]
	}
	return out
}

func (s *Store) Stats() domain.TraceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.TraceStats{
		Count:         s.size,
		Capacity:      s.capacity,
		OldestEvicted: s.evicted,
	}
}
