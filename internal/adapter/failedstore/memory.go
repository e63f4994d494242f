// Package failedstore implements the failed-request store (C12): a
// bounded, TTL'd record of requests that failed in a replayable way, with
// a background cleanup goroutine that evicts expired entries.
//
// Uses the ticker-driven sweep under a single mutex, cancel via context
// on Stop pattern seen elsewhere in this codebase's cleanup routines,
// generalised from stale-entry eviction to TTL'd failed-request eviction.
package failedstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/docker/go-units"

	"github.com/driftwell/relay/internal/core/domain"
	"github.com/driftwell/relay/internal/core/ports"
	"github.com/driftwell/relay/internal/logger"
)

var _ ports.FailedRequestStore = (*Store)(nil)

// ReplayFunc performs the actual upstream retry for a stored entry; it is
// supplied by the caller (the app wiring) so this package stays free of a
// dispatcher dependency and circular imports.
type ReplayFunc func(ctx context.Context, entry domain.FailedRequestEntry) (domain.ReplayResult, error)

type Config struct {
	Capacity        int
	TTL             time.Duration
	CleanupInterval time.Duration
	// EncryptionKey, when set to exactly 32 bytes, is used to AES-GCM
	// encrypt the stored body before it is base64-encoded. A nil key
	// stores the body in plaintext base64, matching the teacher's other
	// in-memory caches that hold no secret material by default - bodies
	// only carry secrets when a caller opts into replay storage for a
	// provider whose payloads do.
	EncryptionKey []byte
}

func DefaultConfig() Config {
	return Config{
		Capacity:        500,
		TTL:             30 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

type Store struct {
	log    logger.StyledLogger
	cfg    Config
	replay ReplayFunc

	mu      sync.Mutex
	entries map[string]domain.FailedRequestEntry
	order   []string // insertion order, oldest first, for capacity eviction

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, replay ReplayFunc, log logger.StyledLogger) *Store {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 500
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	return &Store{
		log:     log,
		cfg:     cfg,
		replay:  replay,
		entries: make(map[string]domain.FailedRequestEntry),
	}
}

// Start launches the background cleanup goroutine. Stop must be called to
// release it.
func (s *Store) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.cleanupRoutine(ctx)
}

func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Store) cleanupRoutine(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Purge()
		}
	}
}

// Store records a failed request as given (the caller encodes the body
// with EncodeBody beforehand), and evicts the oldest entry if the store is
// at capacity.
func (s *Store) Store(entry domain.FailedRequestEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) >= s.cfg.Capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}

	s.entries[entry.StoreID] = entry
	s.order = append(s.order, entry.StoreID)

	s.log.Debug("stored failed request for replay", "store_id", entry.StoreID,
		"body_size", units.HumanSize(float64(entry.BodySize)))
}

func (s *Store) Get(storeID string) (domain.FailedRequestEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[storeID]
	return e, ok
}

// List returns up to limit entries, most recently stored first.
func (s *Store) List(limit int) []domain.FailedRequestEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(s.order))
	copy(ids, s.order)
	sort.Slice(ids, func(i, j int) bool {
		return s.entries[ids[i]].StoredAt.After(s.entries[ids[j]].StoredAt)
	})

	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	out := make([]domain.FailedRequestEntry, 0, limit)
	for _, id := range ids[:limit] {
		out = append(out, s.entries[id])
	}
	return out
}

// Replay re-dispatches a stored entry via the injected ReplayFunc,
// incrementing its replay count and recording the outcome.
func (s *Store) Replay(storeID string) (domain.ReplayResult, error) {
	s.mu.Lock()
	entry, ok := s.entries[storeID]
	s.mu.Unlock()
	if !ok {
		return domain.ReplayResult{}, fmt.Errorf("no stored request with id %s", storeID)
	}
	if s.replay == nil {
		return domain.ReplayResult{}, errors.New("replay is not configured for this store")
	}

	result, err := s.replay(context.Background(), entry)

	s.mu.Lock()
	if current, ok := s.entries[storeID]; ok {
		current.ReplayCount++
		if err != nil {
			current.LastReplayResult = err.Error()
		} else if result.Success {
			current.LastReplayResult = "success"
		} else {
			current.LastReplayResult = result.Error
		}
		s.entries[storeID] = current
	}
	s.mu.Unlock()

	return result, err
}

// Purge removes every entry past its TTL.
func (s *Store) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		if e, ok := s.entries[id]; ok && now.After(e.ExpiresAt) {
			delete(s.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept

	if removed > 0 {
		s.log.Debug("purged expired failed-request entries", "count", removed, "remaining", len(s.order))
	}
}

// EncodeBody base64-encodes (and, if a key is configured, AES-GCM
// encrypts) a request body for storage.
func EncodeBody(cfg Config, body []byte) (string, error) {
	if len(cfg.EncryptionKey) != 32 {
		return base64.StdEncoding.EncodeToString(body), nil
	}

	block, err := aes.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return "", fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("build gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, body, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecodeBody reverses EncodeBody.
func DecodeBody(cfg Config, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(cfg.EncryptionKey) != 32 {
		return raw, nil
	}

	block, err := aes.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, errors.New("encoded body shorter than nonce size")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
