package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"shopsys/internal/domain"
)

const productTypesKey = "shop:product-types"

// backend stores raw cache values
type backend interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	del(ctx context.Context, key string) error
}

// ProductTypes is a cache-aside cache for the product type list.
// Concurrent misses share a single load.
type ProductTypes struct {
	store backend
	ttl   time.Duration
	group singleflight.Group

	// gen is bumped by Invalidate; a load started under an older gen is not stored
	mu  sync.Mutex
	gen uint64
}

// NewProductTypes caches in Redis when client is set, in process otherwise
func NewProductTypes(client *redis.Client, ttl time.Duration) *ProductTypes {
	var store backend = newMemoryBackend()
	if client != nil {
		store = &redisBackend{client: client}
	}
	return &ProductTypes{store: store, ttl: ttl}
}

func (c *ProductTypes) ProductTypes(ctx context.Context, load func(ctx context.Context) ([]domain.ProductType, error)) ([]domain.ProductType, error) {
	raw, ok, err := c.store.get(ctx, productTypesKey)
	if err != nil {
		log.WithError(err).Warn("product types cache read")
	} else if ok {
		var types []domain.ProductType
		if err := json.Unmarshal(raw, &types); err == nil {
			return types, nil
		}
	}

	v, err, _ := c.group.Do(productTypesKey, func() (any, error) {
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		types, err := load(ctx)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(types)
		if err != nil {
			return nil, errors.Wrap(err, "marshal product types")
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			return types, nil
		}
		if err := c.store.set(ctx, productTypesKey, payload, c.ttl); err != nil {
			log.WithError(err).Warn("product types cache write")
		}
		return types, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.ProductType), nil
}

// Invalidate drops the cached list so the next read reloads it
func (c *ProductTypes) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.group.Forget(productTypesKey)
	return c.store.del(ctx, productTypesKey)
}

type redisBackend struct {
	client *redis.Client
}

func (r *redisBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *redisBackend) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisBackend) del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

type memoryBackend struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{items: make(map[string]memoryItem)}
}

func (m *memoryBackend) get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return item.value, true, nil
}

func (m *memoryBackend) set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	m.items[key] = item
	return nil
}

func (m *memoryBackend) del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
