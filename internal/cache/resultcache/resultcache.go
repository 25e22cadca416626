// Package resultcache is a TTL-bounded, single-flight cache of query payloads.
//
// For a given key at most one computation runs at a time; concurrent callers
// that miss together wait for, and share, that one result. Successful results
// are kept for a fixed TTL. Failures are never cached.
package resultcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/cache"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/observability"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/logger"
)

// DefaultTTL is how long a computed payload stays valid.
const DefaultTTL = 60 * time.Second

// ComputeFunc produces the payload for a missing key. The context it receives
// is detached from the caller's cancellation.
type ComputeFunc func(ctx context.Context) ([]byte, error)

type Options struct {
	TTL time.Duration
	// ComputeTimeout bounds a single computation; zero means no bound.
	ComputeTimeout time.Duration
	Logger         *slog.Logger
	Now            func() time.Time // for tests
}

type Cache struct {
	store          cache.Store
	ttl            time.Duration
	computeTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time

	group singleflight.Group

	// per-tag generations of running flights, bumped by Invalidate so a
	// flight started before it does not store a stale payload
	mu      sync.Mutex
	flights map[string]*tagFlight
}

type tagFlight struct {
	gen  uint64
	refs int
}

func New(store cache.Store, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		store:          store,
		ttl:            opts.TTL,
		computeTimeout: opts.ComputeTimeout,
		logger:         opts.Logger,
		now:            opts.Now,
		flights:        make(map[string]*tagFlight),
	}
}

func (c *Cache) TTL() time.Duration { return c.ttl }

// GetOrCompute returns the fresh payload stored under key, or runs fn once on
// behalf of every concurrent caller for key and stores its result tagged with tag.
// If ctx ends first the caller stops waiting; the computation keeps running and
// still fills the cache.
func (c *Cache) GetOrCompute(ctx context.Context, key, tag string, fn ComputeFunc) ([]byte, error) {
	if e, ok := c.store.Get(key, c.now()); ok {
		observability.IncCacheHit()
		c.logger.DebugContext(logger.WithCacheStatus(ctx, "hit"), "cache lookup", "key", key)
		return e.Value, nil
	}

	detached := context.WithoutCancel(ctx)
	var leader bool
	ch := c.group.DoChan(key, func() (any, error) {
		leader = true
		return c.compute(detached, key, tag, fn)
	})

	select {
	case res := <-ch:
		// Shared is also set for the caller that ran fn
		status := "miss"
		if leader {
			observability.IncCacheMiss()
		} else {
			status = "shared"
			observability.IncCacheShared()
		}
		c.logger.DebugContext(logger.WithCacheStatus(ctx, status), "cache lookup", "key", key, "failed", res.Err != nil)
		if res.Err != nil {
			return nil, res.Err
		}
		v, _ := res.Val.([]byte)
		return v, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for %q: %w", key, ctx.Err())
	}
}

func (c *Cache) compute(ctx context.Context, key, tag string, fn ComputeFunc) (val []byte, err error) {
	// a flight that finished between our lookup and DoChan may already have stored it
	if e, ok := c.store.Get(key, c.now()); ok {
		return e.Value, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			val, err = nil, &ComputeError{Key: key, Err: fmt.Errorf("compute panic: %v", rec)}
		}
	}()

	if c.computeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.computeTimeout)
		defer cancel()
	}

	gen := c.beginFlight(tag)
	defer c.endFlight(tag)
	start := c.now()
	v, err := fn(ctx)
	if err != nil {
		c.logger.DebugContext(ctx, "cache compute failed", "key", key, "err", err)
		return nil, &ComputeError{Key: key, Err: err}
	}
	if v == nil {
		v = []byte{}
	}
	c.storeIfCurrent(key, tag, gen, cache.Entry{Value: v, Tag: tag, ExpiresAt: c.now().Add(c.ttl)})
	c.logger.DebugContext(ctx, "cache filled",
		"key", key, "bytes", len(v), "dur", c.now().Sub(start).String())
	return v, nil
}

// Invalidate drops every entry whose tag satisfies match and prevents
// computations already in flight from storing their results.
func (c *Cache) Invalidate(match func(tag string) bool) int {
	c.mu.Lock()
	for tag, f := range c.flights {
		if match(tag) {
			f.gen++
		}
	}
	c.mu.Unlock()
	n := c.store.DelFunc(match)
	observability.AddCacheEvictions("invalidated", n)
	observability.SetCacheEntries(c.store.Len())
	return n
}

func (c *Cache) beginFlight(tag string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[tag]
	if !ok {
		f = &tagFlight{}
		c.flights[tag] = f
	}
	f.refs++
	return f.gen
}

func (c *Cache) endFlight(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[tag]; ok {
		if f.refs--; f.refs == 0 {
			delete(c.flights, tag)
		}
	}
}

// storeIfCurrent stores e unless tag was invalidated since gen was taken.
// Holding mu across the check and the Set orders it against Invalidate.
func (c *Cache) storeIfCurrent(key, tag string, gen uint64, e cache.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[tag]; !ok || f.gen != gen {
		return
	}
	c.store.Set(key, e)
	observability.SetCacheEntries(c.store.Len())
}

// Sweep drops expired entries.
func (c *Cache) Sweep() int {
	n := c.store.Sweep(c.now())
	observability.AddCacheEvictions("expired", n)
	observability.SetCacheEntries(c.store.Len())
	return n
}

// RunSweeper sweeps expired entries every interval until ctx is done.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("cache sweep", "expired", n, "entries", c.store.Len())
			}
		}
	}
}

func (c *Cache) Len() int { return c.store.Len() }
