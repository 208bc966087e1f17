// Package cache holds previously produced replies keyed by normalised query and user.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/ashureev/voxcore/internal/domain"
)

// Defaults for a zero Config.
const (
	DefaultCapacity      = 1000
	DefaultTTL           = time.Hour
	DefaultSweepInterval = 5 * time.Minute

	minCacheableLen = 3
)

// Config sizes the cache.
type Config struct {
	Capacity int
	TTL      time.Duration
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
	Size        int    `json:"size"`
	Capacity    int    `json:"capacity"`
}

type entry[V any] struct {
	payload        V
	createdAt      time.Time
	lastAccessedAt time.Time
}

// Cache is a bounded LRU with per-entry TTL. It is safe for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *entry[V]]
	capacity int
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	stats    Stats
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *slog.Logger
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used by Sweep.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a cache. Zero fields of cfg take the package defaults.
func New[V any](cfg Config, opts ...Option) (*Cache[V], error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	l, err := simplelru.NewLRU[string, *entry[V]](cfg.Capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Cache[V]{
		lru:      l,
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		now:      o.now,
		logger:   o.logger,
	}, nil
}

// Get returns the payload cached for query and user. A hit promotes the entry; an
// expired entry is removed and reported as a miss.
func (c *Cache[V]) Get(query, userID string) (V, bool) {
	var zero V
	key := Key(query, userID)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	now := c.now()
	if c.expired(e, now) {
		c.lru.Remove(key)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false
	}
	e.lastAccessedAt = now
	c.stats.Hits++
	return e.payload, true
}

// Lookup is Get reporting a miss as domain.ErrCacheMiss.
func (c *Cache[V]) Lookup(query, userID string) (V, error) {
	v, ok := c.Get(query, userID)
	if !ok {
		return v, domain.ErrCacheMiss
	}
	return v, nil
}

// Set stores payload for query and user, evicting the least recently used entry
// when the cache is full.
func (c *Cache[V]) Set(query string, payload V, userID string) {
	key := Key(query, userID)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lru.Contains(key) && c.lru.Len() >= c.capacity {
		if _, _, ok := c.lru.RemoveOldest(); ok {
			c.stats.Evictions++
		}
	}
	c.lru.Add(key, &entry[V]{payload: payload, createdAt: now, lastAccessedAt: now})
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache[V]) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if ok && c.expired(e, now) {
			c.lru.Remove(key)
			removed++
		}
	}
	c.stats.Expirations += uint64(removed)
	return removed
}

// SweepFunc adapts Sweep to the background worker signature.
func (c *Cache[V]) SweepFunc(context.Context) {
	if n := c.Sweep(); n > 0 {
		c.logger.Debug("Cache sweep removed expired entries", "count", n)
	}
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.lru.Len()
	s.Capacity = c.capacity
	return s
}

func (c *Cache[V]) expired(e *entry[V], now time.Time) bool {
	return now.Sub(e.createdAt) >= c.ttl
}

// ShouldCache reports whether a reply to query resolved as kind may be reused.
// Short queries, answers that go stale immediately, sensitive actions and errors are
// never cached.
func ShouldCache(query string, kind domain.IntentKind) bool {
	if utf8.RuneCountInString(Normalize(query)) < minCacheableLen {
		return false
	}
	if kind == domain.KindError || kind.TimeSensitive() || kind.Sensitive() {
		return false
	}
	return true
}

// Normalize lowercases query, removes punctuation and collapses whitespace.
func Normalize(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, r := range strings.ToLower(query) {
		if unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Key builds the cache key for query and user.
func Key(query, userID string) string {
	return Normalize(query) + "\x00" + userID
}
