package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/adalundhe/linkrel/core/concept"
)

const (
	defaultNumCounters = 1e6 // counters for admission policy
	defaultMaxCost     = 1e7 // ids held across all cached sets
	defaultBufferItems = 64  // buffer items for async writes
	defaultTTL         = 30 * time.Minute
)

// CacheConfig configures the neighbor-set cache. Cost is measured in ids.
type CacheConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	TTL         time.Duration
}

func applyDefaults(config *CacheConfig) *CacheConfig {
	cfg := &CacheConfig{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
		TTL:         defaultTTL,
	}

	if config == nil {
		return cfg
	}

	if config.NumCounters > 0 {
		cfg.NumCounters = config.NumCounters
	}
	if config.MaxCost > 0 {
		cfg.MaxCost = config.MaxCost
	}
	if config.BufferItems > 0 {
		cfg.BufferItems = config.BufferItems
	}
	if config.TTL > 0 {
		cfg.TTL = config.TTL
	}

	return cfg
}

// Cached wraps a ConceptGraph with a ristretto cache of neighbor sets and
// universe sizes. NotFound results are not cached.
type Cached struct {
	inner  ConceptGraph
	cache  *ristretto.Cache
	ttl    time.Duration
	stats  *CacheStats
	mu     sync.RWMutex
	closed bool
}

// NewCached wraps g with a neighbor-set cache.
func NewCached(g ConceptGraph, config *CacheConfig) (*Cached, error) {
	cfg := applyDefaults(config)

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}

	return &Cached{
		inner: g,
		cache: cache,
		ttl:   cfg.TTL,
		stats: &CacheStats{},
	}, nil
}

func (c *Cached) Inbound(ctx context.Context, con concept.Concept) (concept.IDSet, error) {
	return c.neighbors(ctx, "in:"+con.String(), func() (concept.IDSet, error) {
		return c.inner.Inbound(ctx, con)
	})
}

func (c *Cached) Outbound(ctx context.Context, con concept.Concept) (concept.IDSet, error) {
	return c.neighbors(ctx, "out:"+con.String(), func() (concept.IDSet, error) {
		return c.inner.Outbound(ctx, con)
	})
}

func (c *Cached) ConceptCount(ctx context.Context, lang concept.Language) (int, error) {
	key := "count:" + string(lang)
	if v, ok := c.get(key); ok {
		if n, ok := v.(int); ok {
			return n, nil
		}
	}
	n, err := c.inner.ConceptCount(ctx, lang)
	if err != nil {
		return 0, err
	}
	c.set(key, n, 1)
	return n, nil
}

func (c *Cached) neighbors(_ context.Context, key string, load func() (concept.IDSet, error)) (concept.IDSet, error) {
	if v, ok := c.get(key); ok {
		if set, ok := v.(concept.IDSet); ok {
			return set, nil
		}
	}
	set, err := load()
	if err != nil {
		return concept.IDSet{}, err
	}
	c.set(key, set, int64(set.Len())+1)
	return set, nil
}

func (c *Cached) get(key string) (any, bool) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		c.stats.misses.Add(1)
		return nil, false
	}

	v, found := c.cache.Get(key)
	if !found {
		c.stats.misses.Add(1)
		return nil, false
	}
	c.stats.hits.Add(1)
	return v, true
}

func (c *Cached) set(key string, v any, cost int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	if c.cache.SetWithTTL(key, v, cost, c.ttl) {
		c.stats.sets.Add(1)
	}
}

// Wait blocks until pending cache writes are applied.
func (c *Cached) Wait() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.closed {
		c.cache.Wait()
	}
}

// Close releases the cache. Reads after Close go straight to the wrapped
// graph.
func (c *Cached) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cache.Close()
}

// Stats returns the cache counters.
func (c *Cached) Stats() *CacheStats {
	return c.stats
}

// CacheStats tracks cache performance counters.
type CacheStats struct {
	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// Hits returns the total number of cache hits.
func (s *CacheStats) Hits() int64 {
	return s.hits.Load()
}

// Misses returns the total number of cache misses.
func (s *CacheStats) Misses() int64 {
	return s.misses.Load()
}

// Sets returns the number of admitted writes.
func (s *CacheStats) Sets() int64 {
	return s.sets.Load()
}

// HitRate returns the cache hit rate as a value between 0 and 1.
func (s *CacheStats) HitRate() float64 {
	total := s.Hits() + s.Misses()
	if total == 0 {
		return 0
	}
	return float64(s.Hits()) / float64(total)
}
