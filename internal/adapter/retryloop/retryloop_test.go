package retryloop

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/driftwell/relay/internal/adapter/dispatcher"
	"github.com/driftwell/relay/internal/core/domain"
	"github.com/driftwell/relay/internal/logger"
	"github.com/driftwell/relay/theme"
)

// fakePool is a minimal, deterministic ports.CredentialPool: it hands out
// the next not-yet-excluded index in order and never runs out until every
// index has been tried once, so tests control attempt counts precisely.
type fakePool struct {
	secrets         []string
	accountLevelHit bool
	failures        []domain.ErrorKind
	successes       []time.Duration
	rateLimits      int
}

func (p *fakePool) AcquireKey(ctx context.Context, model string, filter domain.ProviderFilter, exclude map[int]bool) (int, string, error) {
	for i, s := range p.secrets {
		if !exclude[i] {
			return i, s, nil
		}
	}
	return 0, "", context.DeadlineExceeded
}

func (p *fakePool) ReleaseKey(index int) {}

func (p *fakePool) RecordSuccess(index int, latency time.Duration) {
	p.successes = append(p.successes, latency)
}

func (p *fakePool) RecordFailure(index int, kind domain.ErrorKind) {
	p.failures = append(p.failures, kind)
}

func (p *fakePool) RecordRateLimit(index int, retryAfter time.Duration) { p.rateLimits++ }
func (p *fakePool) RecordRateLimitHeaders(index int, headers map[string][]string) {}

func (p *fakePool) AcquireModelSlot(model string) bool { return true }
func (p *fakePool) ReleaseModelSlot(model string)      {}

func (p *fakePool) RecordPoolRateLimitHit(model string) domain.PoolRateLimitHit {
	return domain.PoolRateLimitHit{Model: model}
}

func (p *fakePool) DetectAccountLevelRateLimit(index int) domain.AccountRateLimitResult {
	return domain.AccountRateLimitResult{IsAccountLevel: p.accountLevelHit}
}

func (p *fakePool) Snapshot(index int) (domain.Snapshot, bool) { return domain.Snapshot{}, false }
func (p *fakePool) Snapshots() []domain.Snapshot               { return nil }
func (p *fakePool) Len() int                                   { return len(p.secrets) }
func (p *fakePool) ReloadKeys(keyFile string) error            { return nil }

func testLogger() logger.StyledLogger {
	log, _, _ := logger.New(&logger.Config{Level: "error", Theme: "default"})
	return *logger.NewStyledLogger(log, theme.Default())
}

func testProvider() domain.Provider {
	return domain.Provider{Name: "test-provider", AuthScheme: domain.AuthSchemeAPIKey}
}

func TestExecute_SuccessOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	pool := &fakePool{secrets: []string{"key-a"}}
	loop := New(pool, dispatcher.New(), 3, testLogger(), "test-provider")

	var buf bytes.Buffer
	outcome := loop.Execute(context.Background(), "gpt", dispatcher.Attempt{
		TargetURL: srv.URL,
		Method:    http.MethodPost,
		Headers:   http.Header{},
	}, testProvider(), &buf)

	if outcome.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", outcome.Status)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", outcome.Attempts)
	}
	if len(pool.successes) != 1 {
		t.Fatalf("expected one recorded success, got %d", len(pool.successes))
	}
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pool := &fakePool{secrets: []string{"key-a", "key-b"}}
	loop := New(pool, dispatcher.New(), 3, testLogger(), "test-provider")

	var buf bytes.Buffer
	outcome := loop.Execute(context.Background(), "gpt", dispatcher.Attempt{
		TargetURL: srv.URL,
		Method:    http.MethodPost,
		Headers:   http.Header{},
	}, testProvider(), &buf)

	if outcome.Status != http.StatusOK {
		t.Fatalf("expected eventual 200, got %d", outcome.Status)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", outcome.Attempts)
	}
	if len(pool.failures) != 1 || pool.failures[0] != domain.ErrorKindServerError {
		t.Fatalf("expected one recorded server_error failure, got %v", pool.failures)
	}
}

func TestExecute_NoCredentialsAvailable(t *testing.T) {
	pool := &fakePool{secrets: []string{}}
	loop := New(pool, dispatcher.New(), 3, testLogger(), "test-provider")

	var buf bytes.Buffer
	outcome := loop.Execute(context.Background(), "gpt", dispatcher.Attempt{
		TargetURL: "http://unused.invalid",
		Method:    http.MethodPost,
		Headers:   http.Header{},
	}, testProvider(), &buf)

	if outcome.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", outcome.Status)
	}
	if outcome.Err == nil {
		t.Fatal("expected a non-nil error")
	}
}

func TestExecute_AccountLevelRateLimitShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	pool := &fakePool{secrets: []string{"key-a", "key-b"}, accountLevelHit: true}
	loop := New(pool, dispatcher.New(), 3, testLogger(), "test-provider")

	var buf bytes.Buffer
	outcome := loop.Execute(context.Background(), "gpt", dispatcher.Attempt{
		TargetURL: srv.URL,
		Method:    http.MethodPost,
		Headers:   http.Header{},
	}, testProvider(), &buf)

	if outcome.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", outcome.Status)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("expected to short-circuit after 1 attempt, got %d", outcome.Attempts)
	}
}

func TestExecute_ZeroMaxRetriesStopsAfterOneAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	// BadRequest classifies as a retryable ErrorKindServerError in the
	// dispatcher (only 401/403 map to auth errors); with maxRetries=0 the
	// loop must still stop after exactly one attempt.
	pool := &fakePool{secrets: []string{"key-a", "key-b"}}
	loop := New(pool, dispatcher.New(), 0, testLogger(), "test-provider")

	var buf bytes.Buffer
	outcome := loop.Execute(context.Background(), "gpt", dispatcher.Attempt{
		TargetURL: srv.URL,
		Method:    http.MethodPost,
		Headers:   http.Header{},
	}, testProvider(), &buf)

	if outcome.Attempts != 1 {
		t.Fatalf("expected exactly 1 attempt with maxRetries=0, got %d", outcome.Attempts)
	}
}
