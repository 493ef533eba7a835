// Package cache implements a capacity-bounded result cache that classifies
// entries as fresh, stale or expired and mirrors every write to durable
// storage.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/clipforge/clipforge/pkg/clock"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/storage"
)

// Freshness classifies an entry by age.
type Freshness string

const (
	Fresh   Freshness = "fresh"
	Stale   Freshness = "stale"
	Expired Freshness = "expired"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultCapacity       = 100
	DefaultFreshThreshold = 5 * time.Minute
	DefaultStaleThreshold = 30 * time.Minute
)

// Config sizes a cache and sets its freshness thresholds.
type Config struct {
	// Name namespaces durable keys and labels metrics.
	Name     string
	Capacity int
	// TTL is used by Put when no ttl is given. Defaults to StaleThreshold.
	TTL            time.Duration
	FreshThreshold time.Duration
	StaleThreshold time.Duration
}

// Options supplies collaborators. All fields are optional.
type Options struct {
	Clock  clock.Clock
	Store  storage.Store
	Sink   *metrics.Sink
	Logger *log.Logger
	// OnStale is called, outside any lock, for every stale hit.
	OnStale func(key string)
}

// Entry is a read-only view of a cached value. Callers must not modify
// Value.
type Entry[T any] struct {
	Key         string    `json:"key"`
	Value       T         `json:"value"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessCount int64     `json:"access_count"`
	Freshness   Freshness `json:"freshness"`
}

type item[T any] struct {
	value       T
	createdAt   time.Time
	expiresAt   time.Time
	accessCount int64
	size        int64
}

// Tiered is a frequency-weighted LRU cache. At capacity it evicts the entry
// with the lowest (access count, created at) pair.
type Tiered[T any] struct {
	cfg     Config
	clock   clock.Clock
	store   storage.Store
	sink    *metrics.Sink
	logger  *log.Logger
	onStale func(string)
	codec   *codec
	prefix  string

	mu       sync.Mutex
	entries  map[string]*item[T]
	memBytes int64
	// expired keys whose durable copies still need deleting
	pending []string

	hits        atomic.Int64
	staleHits   atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
}

// New creates an empty cache. Call Load to restore durable entries before
// serving traffic.
func New[T any](cfg Config, opts Options) (*Tiered[T], error) {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.FreshThreshold <= 0 {
		cfg.FreshThreshold = DefaultFreshThreshold
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	if cfg.FreshThreshold >= cfg.StaleThreshold {
		return nil, fmt.Errorf("cache %s: fresh threshold %s must be below stale threshold %s",
			cfg.Name, cfg.FreshThreshold, cfg.StaleThreshold)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = cfg.StaleThreshold
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	c, err := newCodec()
	if err != nil {
		return nil, err
	}
	return &Tiered[T]{
		cfg:     cfg,
		clock:   opts.Clock,
		store:   opts.Store,
		sink:    opts.Sink,
		logger:  opts.Logger.With("cache", cfg.Name),
		onStale: opts.OnStale,
		codec:   c,
		prefix:  "cache:" + cfg.Name + ":",
		entries: make(map[string]*item[T]),
	}, nil
}

// HashKey returns a hex SHA-256 digest of v's JSON encoding.
func HashKey(v any) string {
	h := sha256.New()
	data, _ := json.Marshal(v)
	h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ContentKey is the key for a discovery result set.
func ContentKey(category string, limit int) string {
	return fmt.Sprintf("%s:%d", category, limit)
}

// Name returns the cache name.
func (c *Tiered[T]) Name() string { return c.cfg.Name }

// Get returns the entry for key. Expired entries are removed and reported
// as misses. Stale hits return data and fire the stale hook.
func (c *Tiered[T]) Get(key string) (Entry[T], bool) {
	now := c.clock.Now()

	c.mu.Lock()
	it, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return Entry[T]{}, false
	}
	fr := c.classify(it, now)
	if fr == Expired {
		c.removeLocked(key, it)
		c.pending = append(c.pending, key)
		c.mu.Unlock()
		c.expirations.Add(1)
		c.misses.Add(1)
		return Entry[T]{}, false
	}
	it.accessCount++
	e := Entry[T]{
		Key:         key,
		Value:       it.value,
		CreatedAt:   it.createdAt,
		ExpiresAt:   it.expiresAt,
		AccessCount: it.accessCount,
		Freshness:   fr,
	}
	c.mu.Unlock()

	c.hits.Add(1)
	if fr == Stale {
		c.staleHits.Add(1)
		if c.onStale != nil {
			c.onStale(key)
		}
	}
	return e, true
}

// Put stores value under key for ttl (the configured TTL when ttl <= 0) and
// mirrors it to durable storage. A new key at capacity evicts the least
// used entry first; replacing a key keeps its access count.
func (c *Tiered[T]) Put(ctx context.Context, key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	now := c.clock.Now()
	it := &item[T]{value: value, createdAt: now, expiresAt: now.Add(ttl)}

	c.mu.Lock()
	old, replacing := c.entries[key]
	if replacing {
		it.accessCount = old.accessCount
	}
	// Encode first so a value that cannot be stored leaves the cache as it was.
	blob, size, err := encode(c.codec, snapshot[T]{
		Key:         key,
		Value:       value,
		CreatedAt:   it.createdAt,
		ExpiresAt:   it.expiresAt,
		AccessCount: it.accessCount,
	})
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("cache put skipped", "key", key, "err", err)
		return
	}
	if replacing {
		c.removeLocked(key, old)
	} else if len(c.entries) >= c.cfg.Capacity {
		if victim, ok := c.victimLocked(); ok {
			c.removeLocked(victim, c.entries[victim])
			c.pending = append(c.pending, victim)
			c.evictions.Add(1)
			c.logger.Debug("evicted entry", "key", victim)
		}
	}
	it.size = int64(size)
	c.entries[key] = it
	c.memBytes += it.size
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Set(ctx, c.prefix+key, blob); err != nil {
			c.logger.Warn("cache persist failed", "key", key, "err", err)
		}
	}
}

// Delete removes key from memory and storage.
func (c *Tiered[T]) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	if it, ok := c.entries[key]; ok {
		c.removeLocked(key, it)
	}
	c.mu.Unlock()
	c.deleteDurable(ctx, key)
}

// Len returns the number of entries held in memory.
func (c *Tiered[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes expired entries, drops their durable copies and reports
// cache gauges. It returns the number of entries expired by this call.
func (c *Tiered[T]) Sweep(ctx context.Context) int {
	now := c.clock.Now()

	c.mu.Lock()
	expired := 0
	for key, it := range c.entries {
		if c.classify(it, now) == Expired {
			c.removeLocked(key, it)
			c.pending = append(c.pending, key)
			expired++
		}
	}
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.expirations.Add(int64(expired))
	for _, key := range pending {
		c.deleteDurable(ctx, key)
	}
	c.report()
	return expired
}

// Run sweeps on every tick until ctx is cancelled.
func (c *Tiered[T]) Run(ctx context.Context, interval time.Duration) {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.Sweep(ctx)
		}
	}
}

// Load restores non-expired entries from storage. Corrupt and expired
// records are deleted from storage. It returns the number of entries
// loaded.
func (c *Tiered[T]) Load(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	items, err := c.store.List(ctx, c.prefix)
	if err != nil {
		return 0, fmt.Errorf("load cache %s: %w", c.cfg.Name, err)
	}
	now := c.clock.Now()
	loaded := 0
	for _, rec := range items {
		s, size, err := decode[T](c.codec, rec.Value)
		if err != nil || c.prefix+s.Key != rec.Key {
			c.logger.Debug("dropping corrupt entry", "key", rec.Key, "err", err)
			c.deleteDurableRaw(ctx, rec.Key)
			continue
		}
		it := &item[T]{
			value:       s.Value,
			createdAt:   s.CreatedAt,
			expiresAt:   s.ExpiresAt,
			accessCount: s.AccessCount,
			size:        int64(size),
		}
		if c.classify(it, now) == Expired {
			c.deleteDurableRaw(ctx, rec.Key)
			continue
		}

		c.mu.Lock()
		if old, ok := c.entries[s.Key]; ok {
			c.removeLocked(s.Key, old)
		} else if len(c.entries) >= c.cfg.Capacity {
			if victim, ok := c.victimLocked(); ok {
				c.removeLocked(victim, c.entries[victim])
				c.pending = append(c.pending, victim)
			}
		}
		c.entries[s.Key] = it
		c.memBytes += it.size
		c.mu.Unlock()
		loaded++
	}
	c.logger.Debug("cache loaded", "entries", loaded)
	return loaded, nil
}

// Clear removes entries from memory and storage. With expiredOnly set,
// only expired entries are removed. It returns the number of durable
// records deleted.
func (c *Tiered[T]) Clear(ctx context.Context, expiredOnly bool) (int, error) {
	now := c.clock.Now()

	c.mu.Lock()
	for key, it := range c.entries {
		if !expiredOnly || c.classify(it, now) == Expired {
			c.removeLocked(key, it)
		}
	}
	c.pending = nil
	c.mu.Unlock()

	if c.store == nil {
		return 0, nil
	}
	items, err := c.store.List(ctx, c.prefix)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	removed := 0
	for _, rec := range items {
		if expiredOnly {
			s, _, err := decode[T](c.codec, rec.Value)
			if err == nil && c.classify(&item[T]{createdAt: s.CreatedAt, expiresAt: s.ExpiresAt}, now) != Expired {
				continue
			}
		}
		if err := c.store.Delete(ctx, rec.Key); err != nil {
			return removed, fmt.Errorf("cache clear: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Stats returns cache performance counters.
func (c *Tiered[T]) Stats() models.CacheStats {
	c.mu.Lock()
	entries, mem := len(c.entries), c.memBytes
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	st := models.CacheStats{
		Name:        c.cfg.Name,
		Entries:     int64(entries),
		Capacity:    c.cfg.Capacity,
		Hits:        hits,
		StaleHits:   c.staleHits.Load(),
		Misses:      misses,
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		MemoryBytes: mem,
	}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}

// Close releases the codec. The store is owned by the caller.
func (c *Tiered[T]) Close() {
	c.codec.close()
}

func (c *Tiered[T]) classify(it *item[T], now time.Time) Freshness {
	if !now.Before(it.expiresAt) {
		return Expired
	}
	age := now.Sub(it.createdAt)
	switch {
	case age < c.cfg.FreshThreshold:
		return Fresh
	case age < c.cfg.StaleThreshold:
		return Stale
	default:
		return Expired
	}
}

// victimLocked picks the entry with the lowest access count, breaking ties
// by oldest creation time and then by key.
func (c *Tiered[T]) victimLocked() (string, bool) {
	var (
		victim string
		best   *item[T]
	)
	for key, it := range c.entries {
		if best == nil ||
			it.accessCount < best.accessCount ||
			(it.accessCount == best.accessCount && it.createdAt.Before(best.createdAt)) ||
			(it.accessCount == best.accessCount && it.createdAt.Equal(best.createdAt) && key < victim) {
			victim, best = key, it
		}
	}
	return victim, best != nil
}

func (c *Tiered[T]) removeLocked(key string, it *item[T]) {
	delete(c.entries, key)
	c.memBytes -= it.size
}

func (c *Tiered[T]) deleteDurable(ctx context.Context, key string) {
	c.deleteDurableRaw(ctx, c.prefix+key)
}

func (c *Tiered[T]) deleteDurableRaw(ctx context.Context, storeKey string) {
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, storeKey); err != nil {
		c.logger.Warn("cache delete failed", "key", storeKey, "err", err)
	}
}

func (c *Tiered[T]) report() {
	if c.sink == nil {
		return
	}
	st := c.Stats()
	tags := map[string]string{"cache": c.cfg.Name}
	c.sink.Record(metrics.CacheEntries, float64(st.Entries), "count", tags)
	c.sink.Record(metrics.CacheMemoryBytes, float64(st.MemoryBytes), "bytes", tags)
	if st.Hits+st.Misses > 0 {
		c.sink.Record(metrics.CacheHitRate, st.HitRate, "ratio", tags)
	}
}
