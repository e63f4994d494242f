// Package pool implements the credential pool (C5): the stateful registry
// that loads credentials from disk, selects one per request under breaker,
// rate-limit and concurrency constraints, and tracks per-credential health.
//
// The in-memory layout is grounded on the teacher's endpoint registry
// (identity-preserving load/reload over a concurrent map) and the
// weighted-priority balancer (candidate filtering + weighted-random pick
// over a side connection-count map), adapted from URL-identified HTTP
// endpoints to secret-identified API credentials.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"

	"github.com/driftwell/relay/internal/adapter/backoff"
	"github.com/driftwell/relay/internal/adapter/breaker"
	"github.com/driftwell/relay/internal/adapter/ratelimit"
	"github.com/driftwell/relay/internal/adapter/stats"
	"github.com/driftwell/relay/internal/config"
	"github.com/driftwell/relay/internal/core/domain"
	"github.com/driftwell/relay/internal/core/ports"
	"github.com/driftwell/relay/internal/logger"
	"github.com/driftwell/relay/pkg/eventbus"
)

var _ ports.CredentialPool = (*Pool)(nil)

// entry is one credential plus its owned live-state machinery. The secret
// itself is write-once at load time; everything else is guarded by mu.
type entry struct {
	breaker *breaker.Breaker
	limiter *ratelimit.Limiter
	latency *stats.LatencyHistogram

	mu   sync.RWMutex
	cred domain.Credential
}

// modelState wraps domain.ModelPoolState with the mutex that guards it -
// the domain type itself stays plain data so it can be copied freely into
// snapshots and traces.
type modelState struct {
	mu    sync.RWMutex
	state domain.ModelPoolState
}

// Pool is the concrete CredentialPool (ports.CredentialPool).
type Pool struct {
	log logger.StyledLogger

	cfg config.PoolConfig

	mu      sync.RWMutex
	entries []*entry

	modelStates *xsync.Map[string, *modelState]

	accountMu   sync.Mutex
	accountHits []domain.AccountRateLimitHit

	poolCooldown backoff.Policy

	rng *rand.Rand

	events *eventbus.EventBus[domain.CredentialEvent]
}

// keyFileEntry is the on-disk shape of one credential in the key file.
type keyFileEntry struct {
	Secret   string `json:"secret"`
	Provider string `json:"provider"`
}

func New(cfg config.PoolConfig, log logger.StyledLogger) *Pool {
	p := &Pool{
		log:         log,
		cfg:         cfg,
		modelStates: xsync.NewMap[string, *modelState](),
		poolCooldown: backoff.Policy{
			Base:          time.Duration(cfg.PoolCooldown.BaseMs) * time.Millisecond,
			Cap:           time.Duration(cfg.PoolCooldown.CapMs) * time.Millisecond,
			Multiplier:    backoff.DefaultMultiplier,
			MaxMultiplier: backoff.DefaultMaxMultiplier,
			JitterFrac:    0.1,
		},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // selection jitter only
		events: eventbus.New[domain.CredentialEvent](),
	}
	return p
}

// Events returns the pool's breaker-transition event bus. Subscribers get
// a channel of every RecordSuccess/RecordFailure transition as it happens,
// instead of having to poll Snapshots for a state that already flipped.
func (p *Pool) Events() *eventbus.EventBus[domain.CredentialEvent] {
	return p.events
}

// Close shuts down the pool's event bus. Safe to call once, at process
// shutdown.
func (p *Pool) Close() {
	p.events.Shutdown()
}

// ReloadKeys re-reads the key file, preserving live state (breaker, limiter,
// histogram, counters) for secrets that are still present, and constructing
// fresh entries for new ones. Removed secrets are dropped entirely -
// identity-preserving merge, same idea as the teacher's registry reload.
func (p *Pool) ReloadKeys(keyFile string) error {
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return fmt.Errorf("reading key file %s: %w", keyFile, err)
	}

	var fileEntries []keyFileEntry
	if err := json.Unmarshal(raw, &fileEntries); err != nil {
		return fmt.Errorf("parsing key file %s: %w", keyFile, err)
	}
	if len(fileEntries) == 0 {
		return fmt.Errorf("key file %s contains no credentials", keyFile)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	existing := make(map[string]*entry, len(p.entries))
	for _, e := range p.entries {
		e.mu.RLock()
		existing[e.cred.Secret] = e
		e.mu.RUnlock()
	}

	next := make([]*entry, 0, len(fileEntries))
	for i, fe := range fileEntries {
		if old, ok := existing[fe.Secret]; ok {
			old.mu.Lock()
			old.cred.Index = i
			old.cred.Provider = fe.Provider
			old.mu.Unlock()
			next = append(next, old)
			continue
		}

		next = append(next, &entry{
			breaker: breaker.New(breaker.Config{
				FailureThreshold: p.cfg.CircuitBreaker.FailureThreshold,
				FailureWindow:    p.cfg.CircuitBreaker.FailureWindow,
				CooldownPeriod:   p.cfg.CircuitBreaker.CooldownPeriod,
				HalfOpenTimeout:  p.cfg.CircuitBreaker.HalfOpenTimeout,
			}),
			limiter: ratelimit.New(p.cfg.RateLimit.RequestsPerMinute, p.cfg.RateLimit.Burst),
			latency: stats.NewLatencyHistogram(256),
			cred: domain.Credential{
				Secret:   fe.Secret,
				KeyID:    domain.MaskedKeyID(fe.Secret),
				Provider: fe.Provider,
				Index:    i,
			},
		})
	}

	p.entries = next

	var healthy, unhealthy, unknown int
	for _, e := range next {
		switch e.breaker.State() {
		case domain.BreakerClosed:
			healthy++
		case domain.BreakerOpen:
			unhealthy++
		case domain.BreakerHalfOpen:
			unknown++
		}
	}
	p.log.InfoWithHealthStats("credential pool reloaded", healthy, unhealthy, unknown, "count", len(next))
	return nil
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// AcquireKey runs the full selection process: filter out
// excluded/quarantined/breaker-open/rate-limited/pool-cooled-down/
// provider-mismatched candidates, then weighted-select by health score
// among the survivors.
func (p *Pool) AcquireKey(ctx context.Context, model string, filter domain.ProviderFilter, exclude map[int]bool) (int, string, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return -1, "", err
		}
	}

	if ms, ok := p.modelStates.Load(model); ok {
		ms.mu.RLock()
		until := ms.state.RateLimitedUntil
		ms.mu.RUnlock()
		if time.Now().Before(until) {
			return -1, "", fmt.Errorf("model %s: %w until %s", model, domain.ErrPoolCooledDown, until)
		}
	}

	p.mu.RLock()
	candidates := make([]*entry, 0, len(p.entries))
	var reachedBreaker, breakerOpen int
	for _, e := range p.entries {
		idx := e.index()
		if exclude != nil && exclude[idx] {
			continue
		}
		e.mu.RLock()
		credProvider := e.cred.Provider
		quarantined := e.cred.IsQuarantined
		rateLimitedAt := e.cred.RateLimitedAt
		cooldownMs := e.cred.RateLimitCooldownMs
		e.mu.RUnlock()

		if credProvider == "" {
			if !filter.IsDefault {
				continue
			}
		} else if credProvider != filter.Name {
			continue
		}
		if quarantined {
			continue
		}
		if rateLimitedAt != nil && time.Now().Before(rateLimitedAt.Add(time.Duration(cooldownMs)*time.Millisecond)) {
			continue
		}
		reachedBreaker++
		if !e.breaker.Allow() {
			breakerOpen++
			continue
		}
		if !e.limiter.Peek() {
			continue
		}
		candidates = append(candidates, e)
	}
	p.mu.RUnlock()

	if len(candidates) == 0 {
		if reachedBreaker > 0 && breakerOpen == reachedBreaker {
			return -1, "", fmt.Errorf("%w for model %s", domain.ErrCircuitBreakerOpen, model)
		}
		return -1, "", fmt.Errorf("%w for model %s", domain.ErrNoCredentialsAvailable, model)
	}

	chosen, _ := p.selectWeighted(candidates)
	chosen.limiter.Allow()

	chosen.mu.Lock()
	chosen.cred.InFlight++
	chosen.cred.TotalRequests++
	secret := chosen.cred.Secret
	chosen.mu.Unlock()

	return chosen.index(), secret, nil
}

func (p *Pool) ReleaseKey(index int) {
	e := p.find(index)
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.cred.InFlight > 0 {
		e.cred.InFlight--
	}
	e.mu.Unlock()
}

func (p *Pool) RecordSuccess(index int, latency time.Duration) {
	e := p.find(index)
	if e == nil {
		return
	}
	before := e.breaker.State()
	e.breaker.RecordSuccess()
	if after := e.breaker.State(); after != before && after == domain.BreakerClosed {
		e.mu.RLock()
		keyID := e.cred.KeyID
		provider := e.cred.Provider
		e.mu.RUnlock()
		p.log.InfoHealthStatus("circuit breaker", keyID, after)
		p.events.Publish(domain.CredentialEvent{KeyID: keyID, Provider: provider, FromState: before, ToState: after, At: time.Now()})
	}
	e.latency.Observe(latency.Milliseconds())

	e.mu.Lock()
	e.cred.SuccessCount++
	e.cred.LastSuccess = time.Now()
	e.cred.IsSlow = p.detectSlow(e)
	e.mu.Unlock()
}

func (p *Pool) RecordFailure(index int, kind domain.ErrorKind) {
	e := p.find(index)
	if e == nil {
		return
	}
	if !kind.Policy().TripsBreaker {
		return
	}

	before := e.breaker.State()
	e.breaker.RecordFailure()
	after := e.breaker.State()
	if after != before && after == domain.BreakerOpen {
		e.mu.RLock()
		keyID := e.cred.KeyID
		provider := e.cred.Provider
		e.mu.RUnlock()
		p.log.InfoHealthStatus("circuit breaker", keyID, after)
		p.events.Publish(domain.CredentialEvent{KeyID: keyID, Provider: provider, FromState: before, ToState: after, At: time.Now()})
	}
}

// RecordRateLimit marks a credential as 429'd with an explicit
// Retry-After, applying the adaptive per-key cooldown decay (cooldown.go).
func (p *Pool) RecordRateLimit(index int, retryAfter time.Duration) {
	e := p.find(index)
	if e == nil {
		return
	}

	now := time.Now()
	e.mu.Lock()
	cooldownMs := p.nextKeyCooldownMs(e, now, retryAfter)
	e.cred.RateLimitedAt = &now
	e.cred.RateLimitCooldownMs = cooldownMs
	e.cred.RateLimitedCount++
	e.mu.Unlock()

	p.recordAccountHit(index, now)
}

// RecordRateLimitHeaders reads provider rate-limit headers (e.g.
// X-RateLimit-Reset) to tighten the cooldown estimate when present,
// otherwise it is a no-op and the adaptive decay in RecordRateLimit stands.
func (p *Pool) RecordRateLimitHeaders(index int, headers map[string][]string) {
	resetSeconds, ok := parseRateLimitReset(headers)
	if !ok {
		return
	}

	e := p.find(index)
	if e == nil {
		return
	}

	now := time.Now()
	e.mu.Lock()
	e.cred.RateLimitedAt = &now
	e.cred.RateLimitCooldownMs = resetSeconds * 1000
	e.mu.Unlock()
}

// AcquireModelSlot reserves one of the per-model concurrency gate's slots,
// reporting false if the model is already at its effective limit.
func (p *Pool) AcquireModelSlot(model string) bool {
	ms := p.modelStateFor(model)

	ms.mu.Lock()
	defer ms.mu.Unlock()

	limit := ms.state.EffectiveLimit
	if limit <= 0 {
		limit = ms.state.StaticLimit
	}
	if limit <= 0 {
		limit = int64(p.cfg.MaxConcurrencyPerKey) * int64(p.Len())
	}
	if limit > 0 && ms.state.InFlight >= limit {
		return false
	}
	ms.state.InFlight++
	return true
}

func (p *Pool) ReleaseModelSlot(model string) {
	ms := p.modelStateFor(model)
	ms.mu.Lock()
	if ms.state.InFlight > 0 {
		ms.state.InFlight--
	}
	ms.mu.Unlock()
}

// RecordPoolRateLimitHit escalates the per-model pool-level cooldown
// repeated hits on the same model push the cooldown up the
// exponential curve instead of resetting it.
func (p *Pool) RecordPoolRateLimitHit(model string) domain.PoolRateLimitHit {
	ms := p.modelStateFor(model)
	now := time.Now()

	ms.mu.Lock()
	defer ms.mu.Unlock()

	wasBlocked := now.Before(ms.state.RateLimitedUntil)
	if !wasBlocked {
		// Cooldown decays back to zero escalation once it has fully expired.
		if now.Sub(ms.state.LastHitAt) > time.Duration(p.cfg.PoolCooldown.DecayMs)*time.Millisecond {
			ms.state.EscalationCount = 0
		}
	}

	delay := p.poolCooldown.Delay(ms.state.EscalationCount)
	ms.state.EscalationCount++
	ms.state.LastHitAt = now
	ms.state.RateLimitedUntil = now.Add(delay)
	ms.state.Model = model

	return domain.PoolRateLimitHit{
		Model:             model,
		CooldownUntil:     ms.state.RateLimitedUntil,
		CooldownMs:        delay.Milliseconds(),
		WasAlreadyBlocked: wasBlocked,
	}
}

// DetectAccountLevelRateLimit reports whether the recent 429s across the
// pool's credentials look like a single shared account hitting its ceiling
// rather than independent per-key limits: enough
// distinct keys rate-limited within the configured window.
func (p *Pool) DetectAccountLevelRateLimit(index int) domain.AccountRateLimitResult {
	if !p.cfg.AccountLevelDetection.Enabled {
		return domain.AccountRateLimitResult{}
	}

	cutoff := time.Now().Add(-time.Duration(p.cfg.AccountLevelDetection.WindowMs) * time.Millisecond)

	p.accountMu.Lock()
	defer p.accountMu.Unlock()

	kept := p.accountHits[:0]
	seen := make(map[int]bool, len(p.accountHits))
	for _, h := range p.accountHits {
		if h.At.After(cutoff) {
			kept = append(kept, h)
			seen[h.KeyIndex] = true
		}
	}
	p.accountHits = kept

	if len(seen) >= p.cfg.AccountLevelDetection.KeyThreshold {
		return domain.AccountRateLimitResult{
			IsAccountLevel: true,
			CooldownMs:     p.cfg.AccountLevelDetection.CooldownMs,
		}
	}
	return domain.AccountRateLimitResult{}
}

func (p *Pool) recordAccountHit(index int, at time.Time) {
	p.accountMu.Lock()
	p.accountHits = append(p.accountHits, domain.AccountRateLimitHit{At: at, KeyIndex: index})
	p.accountMu.Unlock()
}

func (p *Pool) modelStateFor(model string) *modelState {
	ms, _ := p.modelStates.LoadOrStore(model, &modelState{state: domain.ModelPoolState{
		Model:       model,
		StaticLimit: int64(p.cfg.MaxConcurrencyPerKey),
	}})
	return ms
}

// Snapshot returns a race-free copy of one credential's live state.
func (p *Pool) Snapshot(index int) (domain.Snapshot, bool) {
	e := p.find(index)
	if e == nil {
		return domain.Snapshot{}, false
	}
	return p.snapshotOf(e), true
}

func (p *Pool) Snapshots() []domain.Snapshot {
	p.mu.RLock()
	entries := make([]*entry, len(p.entries))
	copy(entries, p.entries)
	p.mu.RUnlock()

	out := make([]domain.Snapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, p.snapshotOf(e))
	}
	return out
}

func (p *Pool) snapshotOf(e *entry) domain.Snapshot {
	e.mu.RLock()
	cred := e.cred
	e.mu.RUnlock()

	p50, p95, p99 := e.latency.Percentiles()

	return domain.Snapshot{
		KeyID:               cred.KeyID,
		Provider:            cred.Provider,
		Index:               cred.Index,
		LastSuccess:         cred.LastSuccess,
		RateLimitedAt:       cred.RateLimitedAt,
		InFlight:            cred.InFlight,
		TotalRequests:       cred.TotalRequests,
		SuccessCount:        cred.SuccessCount,
		RateLimitCooldownMs: cred.RateLimitCooldownMs,
		RateLimitedCount:    cred.RateLimitedCount,
		IsSlow:              cred.IsSlow,
		IsQuarantined:       cred.IsQuarantined,
		HealthScore:         p.healthScore(e),
		BreakerState:        e.breaker.State(),
		LatencyP50Ms:        p50,
		LatencyP95Ms:        p95,
		LatencyP99Ms:        p99,
	}
}

// RescanHealth recomputes the slow-key flag for every credential, bounded
// to a handful of concurrent workers so a large pool doesn't serialise
// behind one another's latency-histogram reads. RecordSuccess already
// refreshes IsSlow on its own entry after every request; this periodic
// sweep is what catches a credential that has gone idle and so never hits
// that path again, following the teacher's bounded errgroup fan-out over
// per-endpoint work.
func (p *Pool) RescanHealth(ctx context.Context) error {
	p.mu.RLock()
	entries := make([]*entry, len(p.entries))
	copy(entries, p.entries)
	p.mu.RUnlock()

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for _, e := range entries {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			e.mu.Lock()
			e.cred.IsSlow = p.detectSlow(e)
			e.mu.Unlock()
			return nil
		})
	}
	return eg.Wait()
}

// StartHealthScan runs RescanHealth on KeySelectionConfig.SlowKeyCheckInterval
// until ctx is cancelled. A non-positive interval disables the scan.
func (p *Pool) StartHealthScan(ctx context.Context) {
	interval := p.cfg.KeySelection.SlowKeyCheckInterval
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.RescanHealth(ctx); err != nil && !errors.Is(err, context.Canceled) {
					p.log.Error("health rescan failed", "error", err)
				}
			}
		}
	}()
}

// index/find/mu helpers.

func (e *entry) index() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cred.Index
}

func (p *Pool) find(index int) *entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.entries {
		if e.index() == index {
			return e
		}
	}
	return nil
}

// selectWeighted picks one candidate using health-score weighted random
// selection, following the priority balancer's weightedSelect shape.
func (p *Pool) selectWeighted(candidates []*entry) (*entry, string) {
	if len(candidates) == 1 {
		return candidates[0], "only-candidate"
	}
	if !p.cfg.KeySelection.UseWeightedSelection {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].index() < candidates[j].index() })
		return candidates[0], "sequential"
	}

	weights := make([]float64, len(candidates))
	total := 0.0
	for i, c := range candidates {
		w := p.healthScore(c)
		weights[i] = w
		total += w
	}

	if total <= 0 {
		return candidates[p.rng.Intn(len(candidates))], "fallback-random"
	}

	r := p.rng.Float64() * total
	sum := 0.0
	for i, w := range weights {
		sum += w
		if r <= sum {
			return candidates[i], "weighted-health-score"
		}
	}
	return candidates[len(candidates)-1], "weighted-health-score"
}
