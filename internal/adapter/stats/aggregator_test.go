package stats

import "testing"

func TestAggregatorObserveAccumulatesCounts(t *testing.T) {
	a := NewAggregator(50)
	a.Observe("gpt-4o", 100, true)
	a.Observe("gpt-4o", 200, true)
	a.Observe("gpt-4o", 300, false)

	snap := a.Snapshot()["gpt-4o"]
	if snap.Count != 3 {
		t.Fatalf("expected 3 total observations, got %d", snap.Count)
	}
	if snap.OldestEvicted != 1 {
		t.Fatalf("expected 1 failure recorded, got %d", snap.OldestEvicted)
	}
}

func TestAggregatorSeparatesModels(t *testing.T) {
	a := NewAggregator(50)
	a.Observe("gpt-4o", 100, true)
	a.Observe("claude-3-opus", 50, true)

	snap := a.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 distinct models tracked, got %d", len(snap))
	}
	if snap["gpt-4o"].Count != 1 || snap["claude-3-opus"].Count != 1 {
		t.Fatalf("expected each model to track its own count independently, got %+v", snap)
	}
}

func TestAggregatorPercentilesUnknownModel(t *testing.T) {
	a := NewAggregator(50)
	p50, p95, p99 := a.Percentiles("never-observed")
	if p50 != 0 || p95 != 0 || p99 != 0 {
		t.Fatalf("expected zero percentiles for an unobserved model, got %d/%d/%d", p50, p95, p99)
	}
}

func TestAggregatorPercentilesReflectObservations(t *testing.T) {
	a := NewAggregator(50)
	for _, ms := range []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		a.Observe("gpt-4o", ms, true)
	}
	p50, p95, p99 := a.Percentiles("gpt-4o")
	if p50 <= 0 || p95 <= 0 || p99 <= 0 {
		t.Fatalf("expected nonzero percentiles after observations, got %d/%d/%d", p50, p95, p99)
	}
	if p50 > p95 || p95 > p99 {
		t.Fatalf("expected p50 <= p95 <= p99, got %d/%d/%d", p50, p95, p99)
	}
}

func TestNewAggregatorDefaultsSampleSize(t *testing.T) {
	a := NewAggregator(0)
	if a.sampleSize != 200 {
		t.Fatalf("expected default sample size 200, got %d", a.sampleSize)
	}
}
