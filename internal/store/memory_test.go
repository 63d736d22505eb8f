package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quaesitor/internal/interfaces"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", "value"))

	value, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestMemoryStore_IncrementAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	n, err := s.IncrementAndGet(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.IncrementAndGet(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryStore_IncrementNonInteger(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "counter", "not-a-number"))

	_, err := s.IncrementAndGet(ctx, "counter")
	assert.Error(t, err)
}

// Concurrent increments must never lose an update
func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const workers = 20
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := s.IncrementAndGet(ctx, "counter")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	n, err := s.IncrementAndGet(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker+1), n)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SetWithTTL(ctx, "blocked", "reason", 20*time.Millisecond))

	exists, err := s.Exists(ctx, "blocked")
	require.NoError(t, err)
	assert.True(t, exists)

	time.Sleep(40 * time.Millisecond)

	exists, err = s.Exists(ctx, "blocked")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_SetHasNoExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", "value"))
	time.Sleep(20 * time.Millisecond)

	exists, err := s.Exists(ctx, "key")
	require.NoError(t, err)
	assert.True(t, exists)
}
