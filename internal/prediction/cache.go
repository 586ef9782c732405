package prediction

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"graminbus/internal/logging"
	"graminbus/internal/metrics"
	"graminbus/internal/store"
)

const DefaultTTL = 5 * time.Minute

// Cache holds predictions per route. An entry is fresh while its age is
// strictly below the TTL. The whole map is persisted on every write.
type Cache struct {
	store   store.Store
	ttl     time.Duration
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]Result
}

func NewCache(st store.Store, ttl time.Duration, log *zap.Logger, mcol *metrics.Collector) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:   st,
		ttl:     ttl,
		log:     logging.OrNop(log),
		metrics: mcol,
		now:     time.Now,
		entries: make(map[string]Result),
	}
}

// Load restores persisted entries. Unreadable data leaves the cache empty.
func (c *Cache) Load(ctx context.Context) {
	var entries map[string]Result
	if err := store.GetJSON(ctx, c.store, store.KeyPredictions, &entries); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.Warn("prediction cache unreadable, starting empty", zap.Error(err))
		}
		return
	}
	c.mu.Lock()
	c.entries = entries
	if c.entries == nil {
		c.entries = make(map[string]Result)
	}
	c.mu.Unlock()
}

// Get returns the cached result for route if it is still fresh.
func (c *Cache) Get(route string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[route]
	if !ok {
		return Result{}, false
	}
	if c.now().Sub(time.UnixMilli(r.Timestamp)) >= c.ttl {
		return Result{}, false
	}
	return r, true
}

// Put stores r for route and persists the cache best-effort.
func (c *Cache) Put(ctx context.Context, route string, r Result) {
	c.mu.Lock()
	c.entries[route] = r
	snapshot := make(map[string]Result, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.Unlock()

	if err := store.PutJSON(ctx, c.store, store.KeyPredictions, snapshot); err != nil {
		c.metrics.PersistFailed(store.KeyPredictions)
		c.log.Warn("persist prediction cache", zap.Error(err))
	}
}
