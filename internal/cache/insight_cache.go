package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"feedback-insights/internal/models"

	"github.com/dgraph-io/ristretto/v2"
)

// InsightCache keeps read-side results (single insights, insight listings,
// linked documents and stats) in a ristretto cache.
//
// Entries are keyed by a per-scope generation. Revalidate bumps the
// generation of the affected environment and insight, so every stale entry
// becomes unreachable at once and is evicted by cost pressure or TTL.
type InsightCache struct {
	store *ristretto.Cache[string, any]
	ttl   time.Duration

	mu          sync.Mutex
	generations map[string]uint64
}

// New creates a cache holding roughly maxEntries results, each kept for at most ttl.
func New(maxEntries int64, ttl time.Duration) (*InsightCache, error) {
	if maxEntries < 1 {
		maxEntries = 1
	}

	store, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &InsightCache{
		store:       store,
		ttl:         ttl,
		generations: make(map[string]uint64),
	}, nil
}

// Key identifies a cached result at the generations current when the key was
// taken. Callers take the key before reading the database and store under
// that same key, so a result read across an invalidation lands on a
// generation nobody looks up any more.
type Key string

func (c *InsightCache) generation(scope string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[scope]
}

func (c *InsightCache) bump(scope string) {
	c.mu.Lock()
	c.generations[scope]++
	c.mu.Unlock()
}

func environmentScope(environmentID string) string { return "env:" + environmentID }
func insightScope(insightID string) string         { return "insight:" + insightID }

func (c *InsightCache) scoped(scope string) string {
	return fmt.Sprintf("%s@%d", scope, c.generation(scope))
}

func (c *InsightCache) InsightKey(insightID string) Key {
	return Key(c.scoped(insightScope(insightID)) + "/insight")
}

func (c *InsightCache) InsightListKey(environmentID string, limit, offset int) Key {
	return Key(fmt.Sprintf("%s/insights/%d/%d", c.scoped(environmentScope(environmentID)), limit, offset))
}

// InsightDocumentsKey depends on both scopes: linking changes the insight,
// status changes of the listed documents change the environment.
func (c *InsightCache) InsightDocumentsKey(environmentID, insightID string, limit, offset int) Key {
	return Key(fmt.Sprintf("%s+%s/documents/%d/%d",
		c.scoped(environmentScope(environmentID)), c.scoped(insightScope(insightID)), limit, offset))
}

func (c *InsightCache) StatsKey(environmentID string, from *time.Time) Key {
	return Key(c.scoped(environmentScope(environmentID)) + "/stats/" + statsWindow(from))
}

func statsWindow(from *time.Time) string {
	if from == nil {
		return "all"
	}
	return from.UTC().Format(time.RFC3339)
}

// Store caches value under key.
func (c *InsightCache) Store(key Key, value any) {
	if c.ttl > 0 {
		c.store.SetWithTTL(string(key), value, 1, c.ttl)
		return
	}
	c.store.Set(string(key), value, 1)
}

// Lookup returns the value cached under key when it has type T.
func Lookup[T any](c *InsightCache, key Key) (T, bool) {
	var zero T
	value, ok := c.store.Get(string(key))
	if !ok {
		return zero, false
	}
	typed, ok := value.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// InvalidateEnvironment drops every cached listing and stat of an environment.
func (c *InsightCache) InvalidateEnvironment(environmentID string) {
	c.bump(environmentScope(environmentID))
}

// Revalidate drops the cached state named by an event. Events without an
// insight id only touch the environment.
func (c *InsightCache) Revalidate(_ context.Context, event models.InvalidationEvent) error {
	c.bump(environmentScope(event.EnvironmentID))
	if event.InsightID != "" {
		c.bump(insightScope(event.InsightID))
	}
	return nil
}

// Wait blocks until buffered writes are applied.
func (c *InsightCache) Wait() {
	c.store.Wait()
}

func (c *InsightCache) Close() {
	c.store.Close()
}
