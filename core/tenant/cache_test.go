package tenant

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTokenCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryTokenCache(0)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	assert.True(t, c.Add(ctx, "a", 1))
	tenantID, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), tenantID)
	assert.True(t, c.Add(ctx, "a", 1), "adding the cached token again is fine")

	// one token per tenant, and Add never replaces it
	assert.False(t, c.Add(ctx, "b", 1))
	_, ok = c.Get(ctx, "b")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Swap(ctx, "a", "c", 1)
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok)
	tenantID, ok = c.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, int64(1), tenantID)

	assert.True(t, c.Add(ctx, "d", 2))
	c.Evict(ctx, 1)
	_, ok = c.Get(ctx, "c")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "d")
	assert.True(t, ok)

	// forgetting a token frees the tenant's slot, forgetting another one does not
	c.Forget(ctx, "x")
	assert.False(t, c.Add(ctx, "e", 2))
	c.Forget(ctx, "d")
	_, ok = c.Get(ctx, "d")
	assert.False(t, ok)
	assert.True(t, c.Add(ctx, "e", 2))
}

func TestMemoryTokenCacheTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryTokenCache(50 * time.Millisecond)

	require.True(t, c.Add(ctx, "a", 1))
	_, ok := c.Get(ctx, "a")
	assert.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "a")
		return !ok
	}, time.Second, 10*time.Millisecond)
	assert.True(t, c.Add(ctx, "b", 1), "an expired token does not block the tenant")
}

func TestMemoryTokenCacheSize(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryTokenCacheWithSize(2, 0)

	c.Add(ctx, "a", 1)
	c.Add(ctx, "b", 2)
	c.Add(ctx, "c", 3)
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok, "least recently used token is dropped")
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

// The redis cache is only tested when REDIS_ADDR is set, e.g. REDIS_ADDR=localhost:6379
func TestRedisTokenCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	c := NewRedisTokenCache(client, "dummyapi_test:", time.Minute)
	c.Evict(ctx, 1)

	assert.True(t, c.Add(ctx, "a", 1))
	tenantID, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), tenantID)
	assert.False(t, c.Add(ctx, "stale", 1))
	_, ok = c.Get(ctx, "stale")
	assert.False(t, ok)

	c.Swap(ctx, "a", "b", 1)
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "b")
	assert.True(t, ok)

	c.Forget(ctx, "b")
	_, ok = c.Get(ctx, "b")
	assert.False(t, ok)
	assert.True(t, c.Add(ctx, "c", 1))

	c.Evict(ctx, 1)
	_, ok = c.Get(ctx, "c")
	assert.False(t, ok)
}

func TestLocks(t *testing.T) {
	l := NewLocks()
	counter := make([]int, 3)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tenantID := i % 3
			unlock, err := l.Lock(context.Background(), int64(tenantID))
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			counter[tenantID]++
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 17, counter[0])
	assert.Equal(t, 17, counter[1])
	assert.Equal(t, 16, counter[2])
}

func TestLocksCancel(t *testing.T) {
	l := NewLocks()
	unlock, err := l.Lock(context.Background(), 7)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, 7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Len(), "an abandoned wait releases its reference")

	// other tenants are not affected
	other, err := l.Lock(context.Background(), 8)
	require.NoError(t, err)
	other()

	unlock()
	assert.Equal(t, 0, l.Len())
	unlock, err = l.Lock(context.Background(), 7)
	require.NoError(t, err)
	unlock()
}
