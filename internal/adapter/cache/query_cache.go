package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"ragchat/internal/port"
)

// QueryCache is an LRU cache of query embeddings with TTL expiry.
// Invalidate drops everything and bumps the generation so that results
// computed before the call are not stored afterwards.
type QueryCache struct {
	mu       sync.RWMutex
	lru      *expirable.LRU[string, []float32]
	indexGen uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		lru: expirable.NewLRU[string, []float32](maxSize, nil, ttl),
	}
}

func (c *QueryCache) Get(query string) ([]float32, bool) {
	return c.lru.Get(query)
}

// Generation returns the current invalidation generation.
func (c *QueryCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexGen
}

// Put stores vec unless the cache was invalidated since gen was read.
func (c *QueryCache) Put(query string, vec []float32, gen uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if gen != c.indexGen {
		return
	}
	c.lru.Add(query, vec)
}

func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.indexGen++
}

func (c *QueryCache) Size() int {
	return c.lru.Len()
}

// CachedEmbedder serves repeated query texts from a QueryCache and sends
// only the misses to the wrapped embedder.
type CachedEmbedder struct {
	port.Embedder
	cache *QueryCache
}

func NewCachedEmbedder(embedder port.Embedder, cache *QueryCache) *CachedEmbedder {
	return &CachedEmbedder{
		Embedder: embedder,
		cache:    cache,
	}
}

func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	gen := e.cache.Generation()

	out := make([][]float32, len(texts))
	var missing []string
	var missingPos []int
	for i, text := range texts {
		if vec, hit := e.cache.Get(text); hit {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingPos = append(missingPos, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := e.Embedder.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		out[missingPos[j]] = vec
		e.cache.Put(missing[j], vec, gen)
	}
	return out, nil
}

func (e *CachedEmbedder) Cache() *QueryCache {
	return e.cache
}
