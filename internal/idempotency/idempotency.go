// Package idempotency deduplicates manager updates submitted with an
// idempotency key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/storefront/model"
)

// Store caches manager update results by key.
// The key format is "idem:managers:{storeId}:{key}".
//
// A request claims its key with Reserve before applying the update and
// either Saves the result or Releases the claim. While a claim is held,
// Check reports the key as in progress, so concurrent requests sharing a
// key apply at most once.
type Store interface {
	// Check looks up a previous result by key. If the key exists and the
	// input hash matches, it returns the cached result. If the key exists
	// but the hash differs, or its request is still in progress, it returns
	// a CONFLICT error.
	Check(ctx context.Context, key string, inputHash string) (result *model.ManagersUpdateResult, found bool, err error)

	// Reserve atomically claims an unused key for ttl. It reports false if
	// the key already holds a claim or a result.
	Reserve(ctx context.Context, key string, inputHash string, ttl time.Duration) (bool, error)

	// Release drops a claim whose request failed, so the key can be retried.
	Release(ctx context.Context, key string) error

	// Save stores a result keyed by the idempotency key with a TTL,
	// replacing any claim.
	Save(ctx context.Context, key string, inputHash string, result model.ManagersUpdateResult, ttl time.Duration) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

type entry struct {
	InputHash string                     `json:"input_hash"`
	Pending   bool                       `json:"pending,omitempty"`
	Result    model.ManagersUpdateResult `json:"result"`
}

func conflict(key string) error {
	return model.NewConflictError(
		fmt.Sprintf("idempotency key %q already used with different input", key),
	)
}

func inProgress(key string) error {
	return model.NewConflictError(
		fmt.Sprintf("a request with idempotency key %q is still in progress", key),
	)
}

// lookup resolves a stored entry against the input hash of a new request.
func (e entry) lookup(key, inputHash string) (*model.ManagersUpdateResult, bool, error) {
	if e.InputHash != inputHash {
		return nil, true, conflict(key)
	}
	if e.Pending {
		return nil, true, inProgress(key)
	}
	result := e.Result
	return &result, true, nil
}

// --- MemoryStore ---

// MemoryStore is an in-memory Store with TTL support.
// Suitable for testing and single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	data      entry
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// Check looks up a cached result. Returns conflict error if input hash differs.
func (s *MemoryStore) Check(_ context.Context, key string, inputHash string) (*model.ManagersUpdateResult, bool, error) {
	s.mu.RLock()
	e, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		if s.entries[key] == e {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}

	return e.data.lookup(key, inputHash)
}

// Reserve claims key unless a live entry holds it.
func (s *MemoryStore) Reserve(_ context.Context, key string, inputHash string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.entries[key]; exists && !s.now().After(e.expiresAt) {
		return false, nil
	}
	s.entries[key] = &memEntry{
		data:      entry{InputHash: inputHash, Pending: true},
		expiresAt: s.now().Add(ttl),
	}
	return true, nil
}

// Release removes a pending claim. Saved results are kept.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.entries[key]; exists && e.data.Pending {
		delete(s.entries, key)
	}
	return nil
}

// Save stores a result with TTL.
func (s *MemoryStore) Save(_ context.Context, key string, inputHash string, result model.ManagersUpdateResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memEntry{
		data:      entry{InputHash: inputHash, Result: result},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisStore ---

// RedisStore is a Redis-backed Store with TTL.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a new Redis-backed idempotency store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Check looks up a cached result in Redis. Returns conflict error if input hash differs.
func (s *RedisStore) Check(ctx context.Context, key string, inputHash string) (*model.ManagersUpdateResult, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}

	return e.lookup(key, inputHash)
}

// Reserve claims key with SETNX.
func (s *RedisStore) Reserve(ctx context.Context, key string, inputHash string, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(entry{InputHash: inputHash, Pending: true})
	if err != nil {
		return false, fmt.Errorf("marshal idempotency claim: %w", err)
	}
	ok, err := s.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %q: %w", key, err)
	}
	return ok, nil
}

// Release deletes the claim on key.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Save stores a result in Redis with TTL.
func (s *RedisStore) Save(ctx context.Context, key string, inputHash string, result model.ManagersUpdateResult, ttl time.Duration) error {
	data, err := json.Marshal(entry{InputHash: inputHash, Result: result})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// FormatKey builds the idempotency key of a manager update.
func FormatKey(storeID int64, key string) string {
	return fmt.Sprintf("idem:managers:%d:%s", storeID, key)
}

// HashIDs produces a deterministic hash of a desired id set. ids must be
// sorted so that equal sets hash equally.
func HashIDs(ids []int64) string {
	data, _ := json.Marshal(ids)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
