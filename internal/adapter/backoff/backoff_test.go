package backoff

import (
	"testing"
	"time"
)

func TestDelayGrowsWithAttempt(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Cap: 10 * time.Second, Multiplier: 2, MaxMultiplier: 32}
	// jitter-free comparison: use the unjittered midpoint by checking bounds instead of exact equality
	d0 := p.Delay(0)
	d3 := p.Delay(3)
	if d3 <= d0 {
		t.Fatalf("expected later attempts to produce a larger delay on average, got d0=%v d3=%v", d0, d3)
	}
}

func TestDelayRespectsCap(t *testing.T) {
	p := Policy{Base: time.Second, Cap: 2 * time.Second, Multiplier: 2, MaxMultiplier: 1000, JitterFrac: 0}
	d := p.Delay(10)
	if d > 2*time.Second {
		t.Fatalf("expected delay capped at 2s, got %v", d)
	}
}

func TestDelayNegativeAttemptClampsToZero(t *testing.T) {
	p := Default(100*time.Millisecond, time.Second)
	got := p.Delay(-5)
	want := p.Delay(0)
	// both should be in the same ballpark (jittered around Base); just assert neither is wildly larger
	if got > want*3+time.Second {
		t.Fatalf("expected negative attempt to behave like attempt 0, got %v vs %v", got, want)
	}
}

func TestDelayMultiplierCapsAtMaxMultiplier(t *testing.T) {
	p := Policy{Base: time.Millisecond, Cap: time.Hour, Multiplier: 10, MaxMultiplier: 100, JitterFrac: 0}
	dAt10 := p.Delay(10)
	dAt20 := p.Delay(20)
	if dAt10 != dAt20 {
		t.Fatalf("expected multiplier to saturate at MaxMultiplier so attempts 10 and 20 match, got %v vs %v", dAt10, dAt20)
	}
}

func TestDefaultPolicyUsesPackageDefaults(t *testing.T) {
	p := Default(time.Second, time.Minute)
	if p.Multiplier != DefaultMultiplier || p.MaxMultiplier != DefaultMaxMultiplier || p.JitterFrac != DefaultJitterFrac {
		t.Fatal("expected Default to populate the package-level default constants")
	}
}
