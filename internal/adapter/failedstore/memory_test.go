package failedstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/driftwell/relay/internal/core/domain"
	"github.com/driftwell/relay/internal/logger"
	"github.com/driftwell/relay/theme"
)

func testLogger() logger.StyledLogger {
	return *logger.NewStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), theme.GetTheme("default"))
}

func TestStoreAndGet(t *testing.T) {
	s := New(DefaultConfig(), nil, testLogger())
	s.Store(domain.FailedRequestEntry{StoreID: "a", StoredAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)})

	entry, ok := s.Get("a")
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if entry.StoreID != "a" {
		t.Fatalf("expected store id a, got %s", entry.StoreID)
	}
}

func TestStoreEvictsOldestAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 2
	s := New(cfg, nil, testLogger())
	s.Store(domain.FailedRequestEntry{StoreID: "a", StoredAt: time.Now()})
	s.Store(domain.FailedRequestEntry{StoreID: "b", StoredAt: time.Now()})
	s.Store(domain.FailedRequestEntry{StoreID: "c", StoredAt: time.Now()})

	if _, ok := s.Get("a"); ok {
		t.Fatal("expected the oldest entry to have been evicted")
	}
	if len(s.List(0)) != 2 {
		t.Fatalf("expected capacity-bound size of 2, got %d", len(s.List(0)))
	}
}

func TestListOrdersByMostRecentlyStored(t *testing.T) {
	s := New(DefaultConfig(), nil, testLogger())
	now := time.Now()
	s.Store(domain.FailedRequestEntry{StoreID: "old", StoredAt: now})
	s.Store(domain.FailedRequestEntry{StoreID: "new", StoredAt: now.Add(time.Minute)})

	list := s.List(0)
	if list[0].StoreID != "new" {
		t.Fatalf("expected newest entry first, got %s", list[0].StoreID)
	}
}

func TestPurgeRemovesExpiredEntries(t *testing.T) {
	s := New(DefaultConfig(), nil, testLogger())
	s.Store(domain.FailedRequestEntry{StoreID: "expired", StoredAt: time.Now().Add(-time.Hour), ExpiresAt: time.Now().Add(-time.Minute)})
	s.Store(domain.FailedRequestEntry{StoreID: "fresh", StoredAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)})

	s.Purge()

	if _, ok := s.Get("expired"); ok {
		t.Fatal("expected expired entry to be purged")
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Fatal("expected fresh entry to survive purge")
	}
}

func TestReplaySuccessUpdatesLastResult(t *testing.T) {
	replay := func(ctx context.Context, entry domain.FailedRequestEntry) (domain.ReplayResult, error) {
		return domain.ReplayResult{Success: true}, nil
	}
	s := New(DefaultConfig(), replay, testLogger())
	s.Store(domain.FailedRequestEntry{StoreID: "a", ExpiresAt: time.Now().Add(time.Hour)})

	result, err := s.Replay("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected successful replay result")
	}
	entry, _ := s.Get("a")
	if entry.ReplayCount != 1 {
		t.Fatalf("expected replay count 1, got %d", entry.ReplayCount)
	}
	if entry.LastReplayResult != "success" {
		t.Fatalf("expected last replay result 'success', got %q", entry.LastReplayResult)
	}
}

func TestReplayMissingEntry(t *testing.T) {
	s := New(DefaultConfig(), nil, testLogger())
	if _, err := s.Replay("missing"); err == nil {
		t.Fatal("expected an error for a missing entry")
	}
}

func TestReplayWithoutConfiguredFunc(t *testing.T) {
	s := New(DefaultConfig(), nil, testLogger())
	s.Store(domain.FailedRequestEntry{StoreID: "a", ExpiresAt: time.Now().Add(time.Hour)})
	if _, err := s.Replay("a"); err == nil {
		t.Fatal("expected an error when no replay func is configured")
	}
}

func TestReplayFailurePropagatesError(t *testing.T) {
	replay := func(ctx context.Context, entry domain.FailedRequestEntry) (domain.ReplayResult, error) {
		return domain.ReplayResult{}, errors.New("upstream still down")
	}
	s := New(DefaultConfig(), replay, testLogger())
	s.Store(domain.FailedRequestEntry{StoreID: "a", ExpiresAt: time.Now().Add(time.Hour)})

	_, err := s.Replay("a")
	if err == nil {
		t.Fatal("expected replay error to propagate")
	}
	entry, _ := s.Get("a")
	if entry.LastReplayResult != "upstream still down" {
		t.Fatalf("expected last replay result to capture the error, got %q", entry.LastReplayResult)
	}
}

func TestEncodeDecodeBodyRoundTripsPlaintext(t *testing.T) {
	cfg := Config{}
	encoded, err := EncodeBody(cfg, []byte(`{"hello":"world"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := DecodeBody(cfg, encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(decoded) != `{"hello":"world"}` {
		t.Fatalf("expected round trip to preserve body, got %q", decoded)
	}
}

func TestEncodeDecodeBodyRoundTripsEncrypted(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	cfg := Config{EncryptionKey: key}
	body := []byte(`{"secret":"value"}`)

	encoded, err := EncodeBody(cfg, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if encoded == "" {
		t.Fatal("expected a non-empty encoded body")
	}

	decoded, err := DecodeBody(cfg, encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(decoded) != string(body) {
		t.Fatalf("expected decrypted body to match original, got %q", decoded)
	}
}

func TestStartStopCleanupRoutine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CleanupInterval = 5 * time.Millisecond
	s := New(cfg, nil, testLogger())
	s.Store(domain.FailedRequestEntry{StoreID: "a", ExpiresAt: time.Now().Add(-time.Minute)})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	s.Stop()

	if _, ok := s.Get("a"); ok {
		t.Fatal("expected the background cleanup routine to have purged the expired entry")
	}
}
