package icon

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/banshee-data/geocluster/internal/monitoring"
)

// Cache memoizes values by key. Concurrent misses on one key share a single
// build; failed builds are not stored so a later call may retry.
type Cache[V any] struct {
	mu    sync.RWMutex
	items map[string]V
	group singleflight.Group

	// flights tracks who waits on each in-flight build.
	fmu     sync.Mutex
	flights map[string]*flight

	builds atomic.Int64
	hits   atomic.Int64
}

// flight is the context shared by every caller of one key's build. It is
// cancelled once the last waiter has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Stats reports cache activity.
type Stats struct {
	Entries int   `json:"entries"`
	Builds  int64 `json:"builds"`
	Hits    int64 `json:"hits"`
}

// NewCache returns an empty cache.
func NewCache[V any]() *Cache[V] {
	return &Cache[V]{items: make(map[string]V), flights: make(map[string]*flight)}
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Get returns the stored value for key without building.
func (c *Cache[V]) Get(key string) (V, bool) { return c.lookup(key) }

// join registers the caller on the flight for key, starting one if needed.
// The flight keeps the values of ctx but not its cancellation.
func (c *Cache[V]) join(ctx context.Context, key string) *flight {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

// leave drops the caller from f. The last caller out cancels the build and
// makes the next miss start a fresh one.
func (c *Cache[V]) leave(key string, f *flight) {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
		c.group.Forget(key)
	}
}

// GetOrBuild returns the value for key, invoking build at most once across
// concurrent callers when it is missing. Every caller gets the result of the
// shared build; a caller whose ctx ends stops waiting without failing the
// others, and build's context is cancelled only when no caller is left.
func (c *Cache[V]) GetOrBuild(ctx context.Context, key string, build func(context.Context) (V, error)) (V, error) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		monitoring.IconCacheRequests.WithLabelValues("hit").Inc()
		return v, nil
	}

	f := c.join(ctx, key)
	defer c.leave(key, f)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Another flight may have stored the value since the lookup above.
		if v, ok := c.lookup(key); ok {
			c.hits.Add(1)
			monitoring.IconCacheRequests.WithLabelValues("hit").Inc()
			return v, nil
		}
		c.builds.Add(1)
		v, err := build(f.ctx)
		if err != nil {
			monitoring.IconCacheRequests.WithLabelValues("error").Inc()
			return nil, err
		}
		monitoring.IconCacheRequests.WithLabelValues("build").Inc()
		c.mu.Lock()
		c.items[key] = v
		c.mu.Unlock()
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Len is the number of stored entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns a snapshot of cache counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{Entries: c.Len(), Builds: c.builds.Load(), Hits: c.hits.Load()}
}
