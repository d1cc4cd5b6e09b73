package embed

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// cacheEntry holds one cached vector with its expiration.
type cacheEntry struct {
	key       string
	vector    []float32
	expiresAt time.Time
}

// Cache memoizes embeddings behind an LRU with TTL. Identical texts hit the
// cache instead of the provider, which matters when the same email body is
// ingested and recalled in quick succession.
type Cache struct {
	inner    Embedder
	capacity int
	ttl      time.Duration

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List
}

// NewCache wraps an embedder with an LRU of the given capacity and TTL.
func NewCache(inner Embedder, capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		inner:    inner,
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		lru:      list.New(),
	}
}

func (c *Cache) Dim() int { return c.inner.Dim() }

func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := hashKey(text)
	if vec, ok := c.get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.set(key, vec)
	return append([]float32(nil), vec...), nil
}

func (c *Cache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := elem.Value.(*cacheEntry)
	if time.Now().After(ent.expiresAt) {
		c.lru.Remove(elem)
		delete(c.items, key)
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return append([]float32(nil), ent.vector...), true
}

func (c *Cache) set(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiresAt := time.Now().Add(c.ttl)
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		ent := elem.Value.(*cacheEntry)
		ent.vector = append([]float32(nil), vector...)
		ent.expiresAt = expiresAt
		return
	}
	elem := c.lru.PushFront(&cacheEntry{
		key:       key,
		vector:    append([]float32(nil), vector...),
		expiresAt: expiresAt,
	})
	c.items[key] = elem
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Len reports the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func hashKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
