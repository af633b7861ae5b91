package federation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-federation/pkg/config"
	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	"github.com/ekaya-inc/ekaya-federation/pkg/connector/memory"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, cfg QueryCacheConfig, clock *fakeClock, logger *zap.Logger) *QueryScopedCache {
	t.Helper()
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	c := newQueryScopedCache(cfg, logger, clock.Now)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sessionFactory(cat *memory.Catalog) ProviderFactory {
	return func() (connector.Provider, error) {
		return cat.Metadata(context.Background())
	}
}

func TestQueryScopedCache_SameSessionPerQueryAndCatalog(t *testing.T) {
	cache := newTestCache(t, QueryCacheConfig{}, newFakeClock(), zaptest.NewLogger(t))
	hive := memory.New("hive", nil)
	iceberg := memory.New("iceberg", nil)

	p1, err := cache.Acquire("q1", "hive", sessionFactory(hive))
	require.NoError(t, err)
	p2, err := cache.Acquire("q1", "hive", sessionFactory(hive))
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	other, err := cache.Acquire("q2", "hive", sessionFactory(hive))
	require.NoError(t, err)
	assert.NotSame(t, p1, other)

	ice, err := cache.Acquire("q1", "iceberg", sessionFactory(iceberg))
	require.NoError(t, err)
	assert.NotSame(t, p1, ice)

	assert.Equal(t, int64(2), hive.SessionsOpened())
	assert.Equal(t, int64(1), iceberg.SessionsOpened())

	stats := cache.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 3, stats.Sessions)
}

func TestQueryScopedCache_SingleConstructionUnderConcurrency(t *testing.T) {
	cache := newTestCache(t, QueryCacheConfig{}, newFakeClock(), zaptest.NewLogger(t))
	hive := memory.New("hive", nil)

	var calls atomic.Int32
	factory := func() (connector.Provider, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return hive.Metadata(context.Background())
	}

	const workers = 32
	results := make([]connector.Provider, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := cache.Acquire("q1", "hive", factory)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, p := range results {
		assert.Same(t, results[0], p)
	}
	assert.Equal(t, int64(1), hive.SessionsOpened())
}

func TestQueryScopedCache_FactoryErrorNotCached(t *testing.T) {
	cache := newTestCache(t, QueryCacheConfig{}, newFakeClock(), zaptest.NewLogger(t))
	hive := memory.New("hive", nil)
	boom := errors.New("metastore unreachable")

	_, err := cache.Acquire("q1", "hive", func() (connector.Provider, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	_, err = cache.Acquire("q1", "hive", func() (connector.Provider, error) { return nil, nil })
	require.Error(t, err)

	p, err := cache.Acquire("q1", "hive", sessionFactory(hive))
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestQueryScopedCache_ReleaseExactlyOnce(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cache := newTestCache(t, QueryCacheConfig{}, newFakeClock(), zap.New(core))
	hive := memory.New("hive", nil)
	iceberg := memory.New("iceberg", nil)

	first, err := cache.Acquire("q1", "hive", sessionFactory(hive))
	require.NoError(t, err)
	_, err = cache.Acquire("q1", "iceberg", sessionFactory(iceberg))
	require.NoError(t, err)

	cache.Release("q1")
	cache.Release("q1")
	cache.Release("never-started")

	assert.Equal(t, int64(1), hive.Releases())
	assert.Equal(t, int64(1), iceberg.Releases())
	assert.True(t, first.(*memory.Session).Released())

	released := logs.FilterMessage("Released query-level metadata providers").All()
	require.Len(t, released, 1)
	assert.Equal(t, "explicit", released[0].ContextMap()["cause"])
	assert.Equal(t, int64(2), released[0].ContextMap()["sessions"])
	assert.Empty(t, logs.FilterMessage("Evicted query-level metadata providers").All())

	again, err := cache.Acquire("q1", "hive", sessionFactory(hive))
	require.NoError(t, err)
	assert.NotSame(t, first, again, "a released scope starts fresh")
}

func TestQueryScopedCache_IdleEviction(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	clock := newFakeClock()
	cache := newTestCache(t, QueryCacheConfig{IdleTimeout: 300 * time.Second}, clock, zap.New(core))
	hive := memory.New("hive", nil)

	first, err := cache.Acquire("q1", "hive", sessionFactory(hive))
	require.NoError(t, err)

	clock.Advance(299 * time.Second)
	assert.Equal(t, 0, cache.EvictIdle())
	assert.Equal(t, 299*time.Second, cache.Stats().OldestIdle)

	// Access resets the idle window.
	_, err = cache.Acquire("q1", "hive", sessionFactory(hive))
	require.NoError(t, err)
	clock.Advance(299 * time.Second)
	assert.Equal(t, 0, cache.EvictIdle())

	clock.Advance(time.Second)
	assert.Equal(t, 1, cache.EvictIdle())
	assert.Equal(t, int64(1), hive.Releases())
	assert.Equal(t, 0, cache.Stats().Entries)

	evicted := logs.FilterMessage("Evicted query-level metadata providers").All()
	require.Len(t, evicted, 1)
	assert.Equal(t, "expired", evicted[0].ContextMap()["cause"])
	assert.Equal(t, "q1", evicted[0].ContextMap()["query_id"])

	// The explicit end of the query arrives late: nothing left to release.
	cache.Release("q1")
	assert.Equal(t, int64(1), hive.Releases())
	assert.Empty(t, logs.FilterMessage("Released query-level metadata providers").All())

	fresh, err := cache.Acquire("q1", "hive", sessionFactory(hive))
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
	assert.NotEqual(t, first.(*memory.Session).ID(), fresh.(*memory.Session).ID())
}

func TestQueryScopedCache_CapacityEviction(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cache := newTestCache(t, QueryCacheConfig{MaxEntries: 2}, newFakeClock(), zap.New(core))
	hive := memory.New("hive", nil)

	q1, err := cache.Acquire("q1", "hive", sessionFactory(hive))
	require.NoError(t, err)
	_, err = cache.Acquire("q2", "hive", sessionFactory(hive))
	require.NoError(t, err)

	// q1 becomes most recently used, so q2 is evicted next.
	_, err = cache.Acquire("q1", "hive", sessionFactory(hive))
	require.NoError(t, err)
	_, err = cache.Acquire("q3", "hive", sessionFactory(hive))
	require.NoError(t, err)

	assert.Equal(t, 2, cache.Stats().Entries)
	assert.Equal(t, int64(1), hive.Releases())
	assert.False(t, q1.(*memory.Session).Released())

	evicted := logs.FilterMessage("Evicted query-level metadata providers").All()
	require.Len(t, evicted, 1)
	assert.Equal(t, "size", evicted[0].ContextMap()["cause"])
	assert.Equal(t, "q2", evicted[0].ContextMap()["query_id"])
}

func TestQueryScopedCache_Close(t *testing.T) {
	cache := newQueryScopedCache(QueryCacheConfig{CleanupInterval: time.Hour}, zaptest.NewLogger(t), newFakeClock().Now)
	hive := memory.New("hive", nil)

	for i := 0; i < 3; i++ {
		_, err := cache.Acquire(models.QueryID(fmt.Sprintf("q%d", i)), "hive", sessionFactory(hive))
		require.NoError(t, err)
	}

	require.NoError(t, cache.Close())
	require.NoError(t, cache.Close())
	assert.Equal(t, int64(3), hive.Releases())
	assert.Equal(t, int64(0), hive.OpenSessions())

	_, err := cache.Acquire("q9", "hive", sessionFactory(hive))
	assert.ErrorIs(t, err, ErrCacheClosed)
}

func TestQueryScopedCache_JanitorEvictsIdleScopes(t *testing.T) {
	cache := NewQueryScopedCache(QueryCacheConfig{
		IdleTimeout:     10 * time.Millisecond,
		CleanupInterval: 5 * time.Millisecond,
	}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = cache.Close() })
	hive := memory.New("hive", nil)

	_, err := cache.Acquire("q1", "hive", sessionFactory(hive))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return hive.Releases() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestQueryScopedCache_ConcurrentAcquireAndRelease(t *testing.T) {
	clock := newFakeClock()
	cache := newQueryScopedCache(QueryCacheConfig{MaxEntries: 4, CleanupInterval: time.Hour}, zap.NewNop(), clock.Now)
	hive := memory.New("hive", nil)
	iceberg := memory.New("iceberg", nil)

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q := models.QueryID(fmt.Sprintf("q%d", (w+i)%6))
				switch i % 4 {
				case 0:
					cache.Release(q)
				case 1:
					clock.Advance(time.Minute)
					cache.EvictIdle()
				default:
					cat := hive
					if i%2 == 1 {
						cat = iceberg
					}
					p, err := cache.Acquire(q, cat.Name(), sessionFactory(cat))
					if assert.NoError(t, err) {
						assert.NotNil(t, p)
					}
				}
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, cache.Close())

	for _, cat := range []*memory.Catalog{hive, iceberg} {
		assert.Equal(t, int64(0), cat.OpenSessions(), "every session of %s released", cat.Name())
		assert.Equal(t, cat.SessionsOpened(), cat.Releases(), "no session of %s released twice", cat.Name())
	}
}

func TestNewQueryScopedCache_Defaults(t *testing.T) {
	c := newQueryScopedCache(QueryCacheConfig{}, nil, time.Now)
	defer c.Close()
	assert.Equal(t, DefaultIdleTimeout, c.idleTimeout)
	assert.Equal(t, DefaultCleanupInterval, c.cleanupInterval)
	assert.Equal(t, DefaultMaxQueryScopes, c.entries.MaxEntries)
}

func TestQueryCacheConfigFrom(t *testing.T) {
	cfg := QueryCacheConfigFrom(config.FederationConfig{
		QueryScopeIdleTimeoutSeconds: 120,
		MaxQueryScopes:               50,
		CleanupIntervalSeconds:       30,
	})
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.CleanupInterval)
	assert.Equal(t, 50, cfg.MaxEntries)
}
