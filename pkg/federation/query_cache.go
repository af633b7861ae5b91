package federation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-federation/pkg/config"
	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

const (
	DefaultIdleTimeout     = 300 * time.Second
	DefaultCleanupInterval = 1 * time.Minute
	DefaultMaxQueryScopes  = 500
)

// Release causes, as logged.
const (
	causeExplicit = "explicit"
	causeExpired  = "expired"
	causeSize     = "size"
	causeClosed   = "closed"
)

// ErrCacheClosed is returned by Acquire after Close.
var ErrCacheClosed = errors.New("query cache closed")

// errEntryReleased signals that an entry was released while a caller was
// resolving a session through it. The caller retries on a fresh entry.
var errEntryReleased = errors.New("query scope released")

// QueryCacheConfig holds configuration for the query-scoped cache.
type QueryCacheConfig struct {
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	MaxEntries      int
}

// QueryCacheConfigFrom converts the federation settings.
func QueryCacheConfigFrom(cfg config.FederationConfig) QueryCacheConfig {
	return QueryCacheConfig{
		IdleTimeout:     cfg.IdleTimeout(),
		CleanupInterval: cfg.CleanupInterval(),
		MaxEntries:      cfg.MaxQueryScopes,
	}
}

// ProviderFactory opens a new provider session for one catalog.
type ProviderFactory func() (connector.Provider, error)

// QueryScopedCache holds the provider sessions opened by each running query,
// one per (query, catalog). Entries are released exactly once: by an
// explicit Release at end of query, by idle expiry, or by capacity eviction.
type QueryScopedCache struct {
	mu       sync.Mutex
	entries  *lru.Cache                     // key: models.QueryID
	index    map[models.QueryID]*queryEntry // mirrors entries for idle scans
	evicted  []evictedEntry                 // filled by onEvicted, drained after unlocking
	cause    string
	stopped  bool
	stopChan chan struct{}
	done     chan struct{}

	idleTimeout     time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	logger          *zap.Logger
}

type queryEntry struct {
	queryID    models.QueryID
	lastAccess time.Time // guarded by the cache mutex

	mu        sync.Mutex
	providers map[string]connector.Provider // key: catalog name
	released  bool
	group     singleflight.Group
	once      sync.Once
}

type evictedEntry struct {
	entry *queryEntry
	cause string
}

// NewQueryScopedCache creates the cache and starts its idle-eviction
// janitor, which runs until Close is called.
func NewQueryScopedCache(cfg QueryCacheConfig, logger *zap.Logger) *QueryScopedCache {
	return newQueryScopedCache(cfg, logger, time.Now)
}

func newQueryScopedCache(cfg QueryCacheConfig, logger *zap.Logger, now func() time.Time) *QueryScopedCache {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxQueryScopes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &QueryScopedCache{
		index:           make(map[models.QueryID]*queryEntry),
		cause:           causeSize,
		stopChan:        make(chan struct{}),
		done:            make(chan struct{}),
		idleTimeout:     cfg.IdleTimeout,
		cleanupInterval: cfg.CleanupInterval,
		now:             now,
		logger:          logger.Named("query-cache"),
	}
	c.entries = &lru.Cache{MaxEntries: cfg.MaxEntries, OnEvicted: c.onEvicted}

	go c.janitor()
	return c
}

// onEvicted runs under c.mu for every entry leaving the LRU. Sessions are
// released later, outside the lock.
func (c *QueryScopedCache) onEvicted(key lru.Key, value any) {
	e := value.(*queryEntry)
	delete(c.index, e.queryID)
	c.evicted = append(c.evicted, evictedEntry{entry: e, cause: c.cause})
}

// Caller must hold c.mu.
func (c *QueryScopedCache) removeLocked(queryID models.QueryID, cause string) {
	c.cause = cause
	c.entries.Remove(queryID)
	c.cause = causeSize
}

// Caller must hold c.mu.
func (c *QueryScopedCache) drainLocked() []evictedEntry {
	out := c.evicted
	c.evicted = nil
	return out
}

// Acquire returns the session for (queryID, catalog), opening it with
// factory on first use. Concurrent callers for the same key share a single
// factory invocation. Factory errors are returned and not cached.
func (c *QueryScopedCache) Acquire(queryID models.QueryID, catalog string, factory ProviderFactory) (connector.Provider, error) {
	for {
		e, err := c.entry(queryID)
		if err != nil {
			return nil, err
		}
		p, err := e.provider(catalog, factory)
		if errors.Is(err, errEntryReleased) {
			continue
		}
		return p, err
	}
}

// entry returns the live entry of queryID, creating it if needed, and
// marks it accessed.
func (c *QueryScopedCache) entry(queryID models.QueryID) (*queryEntry, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}

	var e *queryEntry
	if v, ok := c.entries.Get(queryID); ok {
		e = v.(*queryEntry)
	} else {
		e = &queryEntry{queryID: queryID, providers: make(map[string]connector.Provider)}
		c.entries.Add(queryID, e)
		c.index[queryID] = e
	}
	e.lastAccess = c.now()
	evicted := c.drainLocked()
	c.mu.Unlock()

	c.releaseAll(evicted)
	return e, nil
}

func (e *queryEntry) provider(catalog string, factory ProviderFactory) (connector.Provider, error) {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return nil, errEntryReleased
	}
	if p, ok := e.providers[catalog]; ok {
		e.mu.Unlock()
		return p, nil
	}
	e.mu.Unlock()

	v, err, _ := e.group.Do(catalog, func() (any, error) {
		// Another flight may have finished between the check above and Do.
		e.mu.Lock()
		if p, ok := e.providers[catalog]; ok {
			e.mu.Unlock()
			return p, nil
		}
		e.mu.Unlock()

		p, err := factory()
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("catalog %s returned no metadata provider", catalog)
		}

		e.mu.Lock()
		if e.released {
			e.mu.Unlock()
			p.Release()
			return nil, errEntryReleased
		}
		e.providers[catalog] = p
		e.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(connector.Provider), nil
}

// release releases every session of the entry. Only the first call has an
// effect; it reports the number of sessions released and true.
func (e *queryEntry) release() (int, bool) {
	n, first := 0, false
	e.once.Do(func() {
		e.mu.Lock()
		e.released = true
		providers := e.providers
		e.providers = nil
		e.mu.Unlock()

		for _, p := range providers {
			p.Release()
		}
		n, first = len(providers), true
	})
	return n, first
}

func (e *queryEntry) sessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.providers)
}

func (c *QueryScopedCache) releaseAll(evicted []evictedEntry) {
	for _, ev := range evicted {
		n, first := ev.entry.release()
		if !first {
			continue
		}
		if ev.cause == causeExplicit {
			c.logger.Info("Released query-level metadata providers",
				zap.String("query_id", ev.entry.queryID.String()),
				zap.String("cause", ev.cause),
				zap.Int("sessions", n))
			continue
		}
		c.logger.Info("Evicted query-level metadata providers",
			zap.String("query_id", ev.entry.queryID.String()),
			zap.String("cause", ev.cause),
			zap.Int("sessions", n))
	}
}

// Release ends queryID's scope and releases its sessions. Releasing an
// unknown or already released scope is a no-op.
func (c *QueryScopedCache) Release(queryID models.QueryID) {
	c.mu.Lock()
	c.removeLocked(queryID, causeExplicit)
	evicted := c.drainLocked()
	c.mu.Unlock()

	c.releaseAll(evicted)
}

// EvictIdle releases every scope not accessed within the idle timeout and
// returns how many were evicted.
func (c *QueryScopedCache) EvictIdle() int {
	now := c.now()

	c.mu.Lock()
	var expired []models.QueryID
	for id, e := range c.index {
		if now.Sub(e.lastAccess) >= c.idleTimeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		c.removeLocked(id, causeExpired)
	}
	evicted := c.drainLocked()
	remaining := len(c.index)
	c.mu.Unlock()

	c.releaseAll(evicted)
	if len(evicted) > 0 {
		c.logger.Debug("Swept idle query scopes",
			zap.Int("count", len(evicted)),
			zap.Int("remaining", remaining))
	}
	return len(evicted)
}

func (c *QueryScopedCache) janitor() {
	defer close(c.done)
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.EvictIdle()
		case <-c.stopChan:
			return
		}
	}
}

// Close releases every scope and stops the janitor.
// This method is idempotent and safe to call multiple times.
func (c *QueryScopedCache) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopChan)
	c.cause = causeClosed
	c.entries.Clear()
	c.cause = causeSize
	evicted := c.drainLocked()
	c.mu.Unlock()

	<-c.done
	c.releaseAll(evicted)
	c.logger.Info("Query cache closed", zap.Int("released", len(evicted)))
	return nil
}

// CacheStats describes the cache state.
type CacheStats struct {
	Entries    int           `json:"entries"`
	Sessions   int           `json:"sessions"`
	OldestIdle time.Duration `json:"oldest_idle"`
}

// Stats returns statistics about the cache.
// Safe to call concurrently.
func (c *QueryScopedCache) Stats() CacheStats {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{Entries: len(c.index)}
	for _, e := range c.index {
		stats.Sessions += e.sessionCount()
		if idle := now.Sub(e.lastAccess); idle > stats.OldestIdle {
			stats.OldestIdle = idle
		}
	}
	return stats
}
