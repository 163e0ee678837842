package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_BasicOperations(t *testing.T) {
	cache := NewLRUCache(100, time.Minute)

	t.Run("SetAndGet", func(t *testing.T) {
		cache.Set("session:a", []byte(`{"version":1}`), 0)

		val, ok := cache.Get("session:a")
		assert.True(t, ok)
		assert.Equal(t, []byte(`{"version":1}`), val)
	})

	t.Run("GetNonExistent", func(t *testing.T) {
		val, ok := cache.Get("session:missing")
		assert.False(t, ok)
		assert.Nil(t, val)
	})

	t.Run("UpdateExisting", func(t *testing.T) {
		cache.Set("session:b", []byte("v1"), 0)
		cache.Set("session:b", []byte("v2"), 0)

		val, ok := cache.Get("session:b")
		assert.True(t, ok)
		assert.Equal(t, []byte("v2"), val)
	})
}

func TestLRUCache_ValuesAreCopied(t *testing.T) {
	cache := NewLRUCache(10, time.Minute)

	in := []byte("original")
	cache.Set("k", in, 0)
	in[0] = 'X'

	out, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "original", string(out))

	out[0] = 'Y'
	again, _ := cache.Get("k")
	assert.Equal(t, "original", string(again))
}

func TestLRUCache_Expiration(t *testing.T) {
	cache := NewLRUCache(100, 50*time.Millisecond)

	cache.Set("expiring", []byte("value"), 50*time.Millisecond)

	val, ok := cache.Get("expiring")
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), val)

	time.Sleep(60 * time.Millisecond)

	val, ok = cache.Get("expiring")
	assert.False(t, ok)
	assert.Nil(t, val)
}

func TestLRUCache_Eviction(t *testing.T) {
	cache := NewLRUCache(3, time.Minute)

	cache.Set("key1", []byte("1"), 0)
	cache.Set("key2", []byte("2"), 0)
	cache.Set("key3", []byte("3"), 0)
	assert.Equal(t, 3, cache.Size())

	// key1 becomes most recently used, so key2 is the LRU victim.
	cache.Get("key1")
	cache.Set("key4", []byte("4"), 0)
	assert.Equal(t, 3, cache.Size())

	_, ok := cache.Get("key2")
	assert.False(t, ok)
	_, ok = cache.Get("key1")
	assert.True(t, ok)

	assert.Equal(t, uint64(1), cache.Stats().Evictions)
}

func TestLRUCache_Invalidate(t *testing.T) {
	cache := NewLRUCache(100, time.Minute)

	t.Run("ExactMatch", func(t *testing.T) {
		cache.Set("session:1", []byte("1"), 0)
		cache.Set("session:2", []byte("2"), 0)

		assert.Equal(t, 1, cache.Invalidate("session:1"))

		_, ok := cache.Get("session:1")
		assert.False(t, ok)
		_, ok = cache.Get("session:2")
		assert.True(t, ok)
	})

	t.Run("WildcardPattern", func(t *testing.T) {
		cache.Clear()
		cache.Set("interp:yes_no:1", []byte("1"), 0)
		cache.Set("interp:yes_no:2", []byte("2"), 0)
		cache.Set("interp:scale:1", []byte("3"), 0)

		assert.Equal(t, 2, cache.Invalidate("interp:yes_no:*"))

		_, ok := cache.Get("interp:yes_no:1")
		assert.False(t, ok)
		_, ok = cache.Get("interp:scale:1")
		assert.True(t, ok)
	})
}

func TestLRUCache_Stats(t *testing.T) {
	cache := NewLRUCache(10, time.Minute)
	cache.Set("a", []byte("1"), 0)

	cache.Get("a")
	cache.Get("a")
	cache.Get("b")

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	cache := NewLRUCache(1000, time.Minute)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			cache.Set(fmt.Sprintf("session:%d", n%26), []byte{byte(n)}, 0)
		}(i)
		go func(n int) {
			defer wg.Done()
			if v, ok := cache.Get(fmt.Sprintf("session:%d", n%26)); ok {
				assert.Len(t, v, 1)
			}
		}(i)
	}

	wg.Wait()
	assert.LessOrEqual(t, cache.Size(), 26)
}

func TestService_BasicOperations(t *testing.T) {
	svc := NewService(ServiceConfig{
		Name:            "test",
		Capacity:        100,
		DefaultTTL:      time.Minute,
		CleanupInterval: time.Hour,
	})
	defer svc.Close()

	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, svc.Set(ctx, "session:x", []byte("value1"), 0))

		val, ok := svc.Get(ctx, "session:x")
		assert.True(t, ok)
		assert.Equal(t, []byte("value1"), val)
	})

	t.Run("Invalidate", func(t *testing.T) {
		require.NoError(t, svc.Set(ctx, "session:y", []byte("data"), 0))
		require.NoError(t, svc.Invalidate(ctx, "session:*"))

		_, ok := svc.Get(ctx, "session:y")
		assert.False(t, ok)
		assert.Equal(t, 0, svc.Size())
	})
}

func TestService_CloseTwice(t *testing.T) {
	svc := NewService(DefaultServiceConfig())
	svc.Close()
	svc.Close()
}

func TestService_CleanupExpired(t *testing.T) {
	svc := NewService(ServiceConfig{
		Capacity:        100,
		DefaultTTL:      50 * time.Millisecond,
		CleanupInterval: 30 * time.Millisecond,
	})
	defer svc.Close()

	ctx := context.Background()
	_ = svc.Set(ctx, "temp", []byte("data"), 50*time.Millisecond)
	assert.Equal(t, 1, svc.Size())

	assert.Eventually(t, func() bool { return svc.Size() == 0 }, time.Second, 20*time.Millisecond)
}
