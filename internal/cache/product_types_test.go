package cache

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopsys/internal/domain"
)

type slowLoader struct {
	hits  int32
	types []domain.ProductType
}

func (l *slowLoader) load(ctx context.Context) ([]domain.ProductType, error) {
	atomic.AddInt32(&l.hits, 1)
	select {
	case <-time.After(50 * time.Millisecond):
		return l.types, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestProductTypes_CollapsesMisses(t *testing.T) {
	ctx := context.Background()
	loader := &slowLoader{types: []domain.ProductType{{ID: 1, Name: "Tools", Status: domain.StatusActive}}}
	c := NewProductTypes(nil, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			types, err := c.ProductTypes(ctx, loader.load)
			assert.NoError(t, err)
			assert.Len(t, types, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.hits))

	_, err := c.ProductTypes(ctx, loader.load)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.hits), "served from cache")
}

func TestProductTypes_InvalidateAndExpiry(t *testing.T) {
	ctx := context.Background()
	loader := &slowLoader{types: []domain.ProductType{{ID: 1, Name: "Tools"}}}
	c := NewProductTypes(nil, 20*time.Millisecond)

	_, err := c.ProductTypes(ctx, loader.load)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx))
	_, err = c.ProductTypes(ctx, loader.load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loader.hits))

	time.Sleep(30 * time.Millisecond)
	_, err = c.ProductTypes(ctx, loader.load)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&loader.hits))
}

func TestProductTypes_LoadErrorNotCached(t *testing.T) {
	ctx := context.Background()
	c := NewProductTypes(nil, time.Minute)
	boom := errors.New("db down")

	_, err := c.ProductTypes(ctx, func(context.Context) ([]domain.ProductType, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	types, err := c.ProductTypes(ctx, func(context.Context) ([]domain.ProductType, error) {
		return []domain.ProductType{{ID: 2, Name: "Food"}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Food", types[0].Name)
}

func TestProductTypes_InvalidateDuringLoad(t *testing.T) {
	ctx := context.Background()
	c := NewProductTypes(nil, time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := c.ProductTypes(ctx, func(context.Context) ([]domain.ProductType, error) {
			close(started)
			<-release
			return []domain.ProductType{{ID: 1, Name: "Tools"}}, nil
		})
		done <- err
	}()

	<-started
	require.NoError(t, c.Invalidate(ctx))
	close(release)
	require.NoError(t, <-done)

	types, err := c.ProductTypes(ctx, func(context.Context) ([]domain.ProductType, error) {
		return []domain.ProductType{{ID: 1, Name: "Tools"}, {ID: 2, Name: "Food"}}, nil
	})
	require.NoError(t, err)
	assert.Len(t, types, 2, "list loaded before the invalidation must not be cached")
}

// Runs only when SHOP_TEST_REDIS_ADDR points at a server.
func TestProductTypes_Redis(t *testing.T) {
	addr := os.Getenv("SHOP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SHOP_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	c := NewProductTypes(client, time.Minute)
	require.NoError(t, c.Invalidate(ctx))
	loader := &slowLoader{types: []domain.ProductType{{ID: 1, Name: "Tools"}}}

	_, err := c.ProductTypes(ctx, loader.load)
	require.NoError(t, err)
	ttl, err := client.TTL(ctx, productTypesKey).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	types, err := c.ProductTypes(ctx, loader.load)
	require.NoError(t, err)
	assert.Equal(t, "Tools", types[0].Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.hits))
	require.NoError(t, c.Invalidate(ctx))
}
