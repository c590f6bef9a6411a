// Package cache provides an in-memory TTL cache used to memoize upstream
// catalog queries. Entries expire individually; a background sweep on a
// fixed interval bounds growth from keys that are written once and never
// read again. There is no size or LRU eviction.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wolfeidau/mediafetch/telemetry"
)

const (
	// DefaultTTL applies when Set is called without an override.
	DefaultTTL = 1 * time.Hour

	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = 5 * time.Minute
)

// Config holds cache configuration.
type Config struct {
	// TTL is the default time-to-live for entries stored without an
	// explicit override.
	TTL time.Duration

	// SweepInterval is how often the background sweep removes expired
	// entries. Default is 5 minutes.
	SweepInterval time.Duration

	// Logger for sweep events.
	Logger *slog.Logger
}

type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
}

// Cache is a TTL-bounded key/value store. All operations are safe for
// concurrent use; the sweep never blocks foreground access for longer
// than the scan itself.
type Cache struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]entry

	lifecycle sync.Mutex
	running   bool
	stopped   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a cache with the given configuration.
func New(cfg Config) *Cache {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Cache{
		config:  cfg,
		logger:  cfg.Logger,
		now:     time.Now,
		entries: make(map[string]entry),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Set stores a value under key, unconditionally replacing any prior
// entry. A non-zero ttl overrides the configured default.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.config.TTL
	}
	now := c.now()

	c.mu.Lock()
	c.entries[key] = entry{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	c.mu.Unlock()
}

// Get returns the value for key if present and unexpired. An expired
// entry is removed as a side effect of the failed lookup.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.evict(key, e.expiresAt)
		return nil, false
	}
	return e.value, true
}

// Has reports whether key is present and unexpired, evicting it lazily
// when expired.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes an entry, reporting whether removal occurred.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Clear empties the store.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len returns the number of physically stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evict removes key only if its entry still carries the observed expiry,
// so a concurrent Set is never clobbered.
func (c *Cache) evict(key string, expiresAt time.Time) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.expiresAt.Equal(expiresAt) {
		delete(c.entries, key)
	}
	c.mu.Unlock()
}

// Start begins the background sweep.
func (c *Cache) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	if c.running || c.stopped {
		c.lifecycle.Unlock()
		return nil
	}
	c.running = true
	c.lifecycle.Unlock()

	go c.run(ctx)
	return nil
}

// Stop stops the background sweep.
func (c *Cache) Stop() {
	c.lifecycle.Lock()
	if !c.running || c.stopped {
		c.lifecycle.Unlock()
		return
	}
	c.stopped = true
	c.lifecycle.Unlock()

	close(c.stopCh)
	<-c.doneCh
}

func (c *Cache) run(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// SweepResult contains the results of one sweep pass.
type SweepResult struct {
	Removed  int
	Scanned  int
	Duration time.Duration
}

// Sweep removes all expired entries, independent of lookup traffic.
func (c *Cache) Sweep() SweepResult {
	start := c.now()

	c.mu.Lock()
	result := SweepResult{Scanned: len(c.entries)}
	for key, e := range c.entries {
		if start.After(e.expiresAt) {
			delete(c.entries, key)
			result.Removed++
		}
	}
	c.mu.Unlock()

	result.Duration = c.now().Sub(start)
	telemetry.RecordCacheSweep(context.Background(), result.Removed, result.Duration)

	if result.Removed > 0 {
		c.logger.Debug("cache sweep complete",
			"removed", result.Removed,
			"scanned", result.Scanned,
			"duration", result.Duration,
		)
	}
	return result
}
