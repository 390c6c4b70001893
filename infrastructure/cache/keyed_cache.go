package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"canvassync/pkg/errors"
	"canvassync/pkg/observability"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached value and the time it was stored
type Entry[V any] struct {
	Value     V         `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Fresh reports whether the entry is younger than ttl. A ttl of zero or less never expires.
func (e Entry[V]) Fresh(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return true
	}
	return now.Sub(e.Timestamp) < ttl
}

// Fetcher loads the value for a key from its source
type Fetcher[V any] func(ctx context.Context, key string) (V, error)

// Option configures a KeyedCache
type Option func(*options)

type options struct {
	clock    func() time.Time
	metrics  *observability.Collector
	onChange func(key string)
}

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithMetrics records lookups and fetches
func WithMetrics(m *observability.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// withOnChange runs after every write with the written key, or "" for Clear.
// It is how the durable layer observes writes.
func withOnChange(fn func(key string)) Option {
	return func(o *options) { o.onChange = fn }
}

// KeyedCache is a staleness-aware in-memory store with single-flight fetching.
// Stale entries are still returned by Get; only GetOrFetch looks at the ttl.
type KeyedCache[V any] struct {
	name    string
	mu      sync.RWMutex
	entries map[string]Entry[V]
	group   singleflight.Group
	opts    options

	// invalidation bookkeeping for fetches in flight, guarded by mu
	epoch    uint64
	gens     map[string]uint64
	inflight map[string]int
}

// generation identifies the state of a key when a fetch started.
// Delete and Clear move it forward so the fetch result is not stored.
type generation struct {
	epoch uint64
	key   uint64
}

// NewKeyedCache creates a cache; name labels its metrics
func NewKeyedCache[V any](name string, opts ...Option) *KeyedCache[V] {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &KeyedCache[V]{
		name:    name,
		entries:  make(map[string]Entry[V]),
		opts:     o,
		gens:     make(map[string]uint64),
		inflight: make(map[string]int),
	}
}

// Name returns the cache name
func (c *KeyedCache[V]) Name() string {
	return c.name
}

// Get returns the cached value regardless of age
func (c *KeyedCache[V]) Get(key string) (V, bool) {
	e, ok := c.Entry(key)
	return e.Value, ok
}

// Entry returns the cached value with its timestamp
func (c *KeyedCache[V]) Entry(key string) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Set stores a value stamped with the current time
func (c *KeyedCache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = Entry[V]{Value: value, Timestamp: c.opts.clock()}
	c.mu.Unlock()
	c.changed(key)
}

// GetOrFetch returns a fresh cached value, joins a fetch already in flight for the key,
// or starts one. Only successful fetches are stored. A cancelled ctx stops this caller
// waiting but does not cancel the shared fetch.
func (c *KeyedCache[V]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch Fetcher[V]) (V, error) {
	var zero V

	if e, ok := c.Entry(key); ok {
		if e.Fresh(c.opts.clock(), ttl) {
			c.opts.metrics.CacheLookup(c.name, "hit")
			return e.Value, nil
		}
		c.opts.metrics.CacheLookup(c.name, "stale")
	} else {
		c.opts.metrics.CacheLookup(c.name, "miss")
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		gen := c.begin(key)
		v, err := fetch(detached, key)
		c.opts.metrics.CacheFetch(c.name, err)
		c.finish(key, gen, v, err == nil)
		if err != nil {
			return nil, err
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if errors.IsAppError(res.Err) {
				return zero, res.Err
			}
			return zero, errors.NewFetchFailedError(key, res.Err)
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

func (c *KeyedCache[V]) begin(key string) generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[key]++
	return generation{epoch: c.epoch, key: c.gens[key]}
}

// finish stores v unless the key was invalidated after the fetch began
func (c *KeyedCache[V]) finish(key string, gen generation, v V, ok bool) {
	c.mu.Lock()
	stored := ok && gen == generation{epoch: c.epoch, key: c.gens[key]}
	if stored {
		c.entries[key] = Entry[V]{Value: v, Timestamp: c.opts.clock()}
	}
	if c.inflight[key]--; c.inflight[key] <= 0 {
		delete(c.inflight, key)
		delete(c.gens, key)
	}
	c.mu.Unlock()
	if stored {
		c.changed(key)
	}
}

// Delete removes a key. A fetch already in flight for it is not joined by later
// callers and its result is discarded.
func (c *KeyedCache[V]) Delete(key string) {
	c.mu.Lock()
	_, existed := c.entries[key]
	delete(c.entries, key)
	if c.inflight[key] > 0 {
		c.gens[key]++
	}
	c.mu.Unlock()
	c.group.Forget(key)
	if existed {
		c.changed(key)
	}
}

// Clear removes every entry and detaches every fetch in flight
func (c *KeyedCache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry[V])
	c.epoch++
	pending := make([]string, 0, len(c.inflight))
	for key := range c.inflight {
		pending = append(pending, key)
	}
	c.mu.Unlock()
	for _, key := range pending {
		c.group.Forget(key)
	}
	c.changed("")
}

// Len returns the number of entries
func (c *KeyedCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the cached keys in sorted order
func (c *KeyedCache[V]) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Snapshot copies every entry
func (c *KeyedCache[V]) Snapshot() map[string]Entry[V] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry[V], len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Load replaces the contents with previously snapshotted entries, keeping their timestamps
func (c *KeyedCache[V]) Load(entries map[string]Entry[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry[V], len(entries))
	for k, v := range entries {
		c.entries[k] = v
	}
}

func (c *KeyedCache[V]) changed(key string) {
	if c.opts.onChange != nil {
		c.opts.onChange(key)
	}
}
