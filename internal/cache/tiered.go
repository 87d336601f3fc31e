package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/motiontrack/internal/metrics"
	"github.com/kiranshivaraju/motiontrack/internal/schedule"
)

const (
	DefaultMemoryTTL     = 30 * time.Minute
	DefaultPersistentTTL = 24 * time.Hour
	DefaultMaxPersisted  = 500
)

// Entry is a cached value. Timestamp is refreshed on promotion; StoredAt is
// the instant of the Set that produced the value and bounds its total lifetime.
type Entry[T any] struct {
	Value     T         `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	StoredAt  time.Time `json:"stored_at"`
}

// Options configures a Tiered cache.
type Options struct {
	Namespace     string
	MemoryTTL     time.Duration
	PersistentTTL time.Duration
	MaxPersisted  int
	Clock         schedule.Clock
}

// Tiered is a two-tier TTL cache. The memory tier answers first; the
// persistent tier is write-through on every Set and loaded once via Load.
// A value in memory is never staler than the persisted value for its key.
type Tiered[T any] struct {
	mu        sync.Mutex
	memory    map[string]Entry[T]
	persisted map[string]Entry[T]

	flushMu sync.Mutex
	store   BlobStore
	opts    Options
	log     *slog.Logger
}

// NewTiered creates a cache over store. Zero options fall back to the defaults.
func NewTiered[T any](store BlobStore, opts Options) *Tiered[T] {
	if opts.MemoryTTL <= 0 {
		opts.MemoryTTL = DefaultMemoryTTL
	}
	if opts.PersistentTTL <= 0 {
		opts.PersistentTTL = DefaultPersistentTTL
	}
	if opts.MaxPersisted <= 0 {
		opts.MaxPersisted = DefaultMaxPersisted
	}
	if opts.Clock == nil {
		opts.Clock = schedule.Real()
	}
	return &Tiered[T]{
		memory:    make(map[string]Entry[T]),
		persisted: make(map[string]Entry[T]),
		store:     store,
		opts:      opts,
		log:       slog.Default().With("component", "cache", "namespace", opts.Namespace),
	}
}

// Load reads the persisted namespace into the persistent tier. A corrupt
// blob is discarded and the cache starts empty; only store errors are returned.
func (c *Tiered[T]) Load(ctx context.Context) error {
	blob, found, err := c.store.Get(ctx, c.opts.Namespace)
	if err != nil {
		return fmt.Errorf("load cache %q: %w", c.opts.Namespace, err)
	}
	if !found {
		return nil
	}

	var stored map[string]Entry[T]
	if err := json.Unmarshal(blob, &stored); err != nil {
		c.log.Warn("discarding corrupt persisted cache", "error", err, "bytes", len(blob))
		return nil
	}

	now := c.opts.Clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range stored {
		if e.StoredAt.IsZero() {
			e.StoredAt = e.Timestamp
		}
		if c.persistentValid(e, now) {
			c.persisted[key] = e
		}
	}
	c.log.Info("persisted cache loaded", "entries", len(c.persisted))
	return nil
}

// Get returns the cached value for key. A persistent-tier hit is promoted
// into memory with a refreshed timestamp.
func (c *Tiered[T]) Get(key string) (T, bool) {
	now := c.opts.Clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.memory[key]; ok {
		if c.memoryValid(e, now) {
			c.count("memory")
			return e.Value, true
		}
		delete(c.memory, key)
	}

	if e, ok := c.persisted[key]; ok {
		if c.persistentValid(e, now) {
			c.memory[key] = Entry[T]{Value: e.Value, Timestamp: now, StoredAt: e.StoredAt}
			c.count("persistent")
			return e.Value, true
		}
		delete(c.persisted, key)
	}

	c.count("miss")
	var zero T
	return zero, false
}

// Set writes value to both tiers and persists the namespace.
func (c *Tiered[T]) Set(ctx context.Context, key string, value T) error {
	now := c.opts.Clock.Now()
	e := Entry[T]{Value: value, Timestamp: now, StoredAt: now}

	c.mu.Lock()
	c.memory[key] = e
	c.persisted[key] = e
	c.mu.Unlock()

	return c.flush(ctx)
}

// Delete removes key from both tiers.
func (c *Tiered[T]) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	_, persisted := c.persisted[key]
	delete(c.memory, key)
	delete(c.persisted, key)
	c.mu.Unlock()

	if !persisted {
		return nil
	}
	return c.flush(ctx)
}

// EvictExpired drops entries whose tier TTL has elapsed and returns how many
// were removed across both tiers.
func (c *Tiered[T]) EvictExpired(ctx context.Context) int {
	now := c.opts.Clock.Now()

	c.mu.Lock()
	removed, persistedRemoved := 0, 0
	for key, e := range c.memory {
		if !c.memoryValid(e, now) {
			delete(c.memory, key)
			removed++
		}
	}
	for key, e := range c.persisted {
		if !c.persistentValid(e, now) {
			delete(c.persisted, key)
			removed++
			persistedRemoved++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		metrics.CacheEvictionsTotal.WithLabelValues(c.opts.Namespace).Add(float64(removed))
	}
	if persistedRemoved > 0 {
		if err := c.flush(ctx); err != nil {
			c.log.Warn("persisting cache after eviction failed", "error", err)
		}
	}
	return removed
}

// RunEviction calls EvictExpired on every tick until ctx is cancelled.
func (c *Tiered[T]) RunEviction(ctx context.Context, interval time.Duration) {
	ticker := c.opts.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := c.EvictExpired(ctx); n > 0 {
				mem, persisted := c.Len()
				c.log.Debug("evicted expired cache entries",
					"count", n,
					"memory", mem,
					"persistent", persisted,
				)
			}
		}
	}
}

// Len reports the number of entries in the memory and persistent tiers.
func (c *Tiered[T]) Len() (memory, persistent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.memory), len(c.persisted)
}

func (c *Tiered[T]) memoryValid(e Entry[T], now time.Time) bool {
	return now.Sub(e.Timestamp) < c.opts.MemoryTTL && c.persistentValid(e, now)
}

func (c *Tiered[T]) persistentValid(e Entry[T], now time.Time) bool {
	return now.Sub(e.StoredAt) < c.opts.PersistentTTL
}

// flush writes the persistent tier. flushMu orders concurrent writers so an
// older snapshot never overwrites a newer one.
func (c *Tiered[T]) flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	c.trimLocked()
	blob, err := json.Marshal(c.persisted)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode cache %q: %w", c.opts.Namespace, err)
	}

	if err := c.store.Set(ctx, c.opts.Namespace, blob); err != nil {
		return fmt.Errorf("persist cache %q: %w", c.opts.Namespace, err)
	}
	return nil
}

// trimLocked keeps only the newest MaxPersisted entries. Trimmed keys leave
// the memory tier too so memory stays a subset of the persistent tier.
func (c *Tiered[T]) trimLocked() {
	if len(c.persisted) <= c.opts.MaxPersisted {
		return
	}
	keys := make([]string, 0, len(c.persisted))
	for k := range c.persisted {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.persisted[keys[i]].StoredAt.After(c.persisted[keys[j]].StoredAt)
	})
	for _, k := range keys[c.opts.MaxPersisted:] {
		delete(c.persisted, k)
		delete(c.memory, k)
	}
}

func (c *Tiered[T]) count(result string) {
	metrics.CacheLookupsTotal.WithLabelValues(c.opts.Namespace, result).Inc()
}
