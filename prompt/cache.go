package prompt

import (
	"context"
	"sync"
	"time"

	"github.com/talchain/olumi-cee/core"
)

// DefaultTTL is the cache entry lifetime used by Cache when none is
// specified, matching §4.1's ~60s TTL.
const DefaultTTL = 60 * time.Second

type cacheItem struct {
	value     string
	expiresAt time.Time
}

// RefreshFunc fetches the current value for key, used by Cache to
// repopulate an expired or missing entry.
type RefreshFunc func(ctx context.Context, key string) (string, error)

// Cache is an in-process TTL cache with background single-flight
// refresh, following the teacher's SimpleCache (pkg/routing/cache.go) in
// its guarded map and hit/miss accounting, generalised here from
// "compiled routing plan" values to prompt template strings, and with an
// explicit per-key in-flight set so concurrent misses on the same task
// only trigger one upstream refresh (thundering-herd suppression). It
// runs no cleanup goroutine: an expired entry stays in the map until a
// refresh of its key replaces it or Invalidate drops it.
type Cache struct {
	mu    sync.Mutex
	items map[string]*cacheItem
	ttl   time.Duration

	refreshing map[string]bool
	refresh    RefreshFunc

	logger core.Logger
	telem  core.Telemetry

	hits   int64
	misses int64
}

// NewCache builds a Cache using refresh as its background-refill
// function.
func NewCache(refresh RefreshFunc, logger core.Logger, telem core.Telemetry) *Cache {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telem == nil {
		telem = &core.NoOpTelemetry{}
	}
	return &Cache{
		items:      map[string]*cacheItem{},
		ttl:        DefaultTTL,
		refreshing: map[string]bool{},
		refresh:    refresh,
		logger:     logger,
		telem:      telem,
	}
}

// GetOrDefault serves key from the cache if fresh. On a miss (not cached,
// or expired), it schedules at most one background refresh for key and
// returns fallback immediately so callers are never blocked on upstream
// I/O — matching §4.1's "always returns a usable prompt" guarantee.
func (c *Cache) GetOrDefault(key, fallback string) (string, error) {
	c.mu.Lock()
	item, ok := c.items[key]
	fresh := ok && time.Now().Before(item.expiresAt)
	if fresh {
		c.hits++
		value := item.value
		c.mu.Unlock()
		c.telem.RecordMetric("prompt.cache.hit", 1, map[string]string{"task": key})
		return value, nil
	}

	reason := "not_cached"
	if ok {
		reason = "expired"
	}
	c.misses++
	alreadyRefreshing := c.refreshing[key]
	if !alreadyRefreshing {
		c.refreshing[key] = true
	}
	c.mu.Unlock()

	c.telem.RecordMetric("prompt.cache.miss", 1, map[string]string{"task": key, "reason": reason})

	if !alreadyRefreshing {
		go c.backgroundRefresh(key)
	}

	if fallback == "" && ok {
		// Serve the stale value over an empty fallback; still schedules
		// the refresh above.
		return item.value, nil
	}
	return fallback, nil
}

func (c *Cache) backgroundRefresh(key string) {
	defer func() {
		c.mu.Lock()
		delete(c.refreshing, key)
		c.mu.Unlock()
	}()

	value, err := c.refresh(context.Background(), key)
	if err != nil {
		c.logger.Warn("prompt_cache_background_refresh_failed", map[string]interface{}{"task_id": key, "err": err.Error()})
		return
	}

	c.mu.Lock()
	c.items[key] = &cacheItem{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	c.telem.RecordMetric("prompt.cache.background_refresh", 1, map[string]string{"task": key})
}

// Invalidate drops key's cached entry, forcing the next read to refresh.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Stats is a snapshot of cache hit/miss counters.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

// Stats returns the current hit/miss/size snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: len(c.items)}
}

// WarmResult reports WarmAll's outcome as {warmed, failed, skipped,
// usedStaging} per §4.1's cache-warming telemetry shape. WarmAll fills
// only Warmed and Failed; Skipped and UsedStaging stay zero, since WarmAll
// bypasses experiment resolution. usedStaging is left to the caller
// (registry.GetSystemPromptAsync already reports it on first use).
type WarmResult struct {
	Warmed      int
	Failed      int
	Skipped     int
	UsedStaging int
}

// WarmAll synchronously refreshes every key in keys, used at startup.
func (c *Cache) WarmAll(keys []string) WarmResult {
	var result WarmResult
	for _, key := range keys {
		value, err := c.refresh(context.Background(), key)
		if err != nil {
			result.Failed++
			continue
		}
		c.mu.Lock()
		c.items[key] = &cacheItem{value: value, expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()
		result.Warmed++
	}
	return result
}
