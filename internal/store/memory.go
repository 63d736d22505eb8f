// -----------------------------------------------------------------------
// Last Modified: Friday, 12th June 2026 10:41:18 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ternarybob/quaesitor/internal/interfaces"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// memoryStore is an in-process SharedStore for single-worker deployments
// and tests. Atomicity comes from a single mutex; expiry is checked
// lazily on access.
type memoryStore struct {
	mu   sync.Mutex
	data map[string]memoryEntry
}

// NewMemoryStore creates an in-process shared store
func NewMemoryStore() interfaces.SharedStore {
	return &memoryStore{
		data: make(map[string]memoryEntry),
	}
}

// get returns the live entry for key, dropping it if expired. Caller
// holds the mutex.
func (s *memoryStore) get(key string) (memoryEntry, bool) {
	entry, ok := s.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(s.data, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.get(key)
	if !ok {
		return "", interfaces.ErrKeyNotFound
	}
	return entry.value, nil
}

func (s *memoryStore) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if entry, ok := s.get(key); ok {
		parsed, err := strconv.ParseInt(entry.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("key %s holds non-integer value: %w", key, err)
		}
		current = parsed
	}

	current++
	s.data[key] = memoryEntry{value: strconv.FormatInt(current, 10)}
	return current, nil
}

func (s *memoryStore) Set(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = memoryEntry{value: value}
	return nil
}

func (s *memoryStore) SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *memoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.get(key)
	return ok, nil
}

func (s *memoryStore) Close() error {
	return nil
}
