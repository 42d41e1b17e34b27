package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compras-aggregator/internal/common/alert"
	"compras-aggregator/internal/common/database"
	"compras-aggregator/internal/models"
)

// ==========================
// Test helpers
// ==========================

type TestLogger struct {
	t *testing.T
}

func (l *TestLogger) Debug(msg string, fields map[string]interface{}) {
	l.t.Logf("DEBUG: %s %v", msg, fields)
}
func (l *TestLogger) Info(msg string, fields map[string]interface{}) {
	l.t.Logf("INFO: %s %v", msg, fields)
}
func (l *TestLogger) Warn(msg string, fields map[string]interface{}) {
	l.t.Logf("WARN: %s %v", msg, fields)
}
func (l *TestLogger) Error(msg string, fields map[string]interface{}) {
	l.t.Logf("ERROR: %s %v", msg, fields)
}

type countingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (a *countingAlerter) Send(_ context.Context, al alert.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, al)
	return nil
}

func (a *countingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

func testOptions() Options {
	return Options{
		MemoryMaxEntries: 100,
		OperationTimeout: time.Second,
		Sources: map[models.SourceID]SourceSettings{
			models.SourcePNCP:   {TTL: 6 * time.Hour, Enabled: true},
			models.SourceSINAPI: {TTL: 7 * 24 * time.Hour, Enabled: true},
			models.SourceSICRO:  {TTL: 7 * 24 * time.Hour, Enabled: false},
		},
	}
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *database.RedisClient) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	return mr, &database.RedisClient{Client: rdb}
}

func newCache(t *testing.T, rc *database.RedisClient, alerter alert.Alerter) *ResponseCache {
	c := New(rc, alerter, &TestLogger{t: t}, testOptions())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// ==========================
// Key derivation
// ==========================

func TestKey_CaseAndWhitespaceInsensitive(t *testing.T) {
	assert.Equal(t, HashKey("foo bar"), HashKey(" Foo  bar "))
	assert.Equal(t, HashKey("foo bar"), HashKey("FOO\tBAR\n"))
	assert.NotEqual(t, HashKey("foo bar"), HashKey("foobar"))

	assert.Equal(t, Key(" Cimento  Portland ", "SP", "1"), Key("cimento portland", "sp", "1"))
	assert.NotEqual(t, Key("a b", "c"), Key("a", "b c"))
	assert.Len(t, HashKey("x"), 64)
}

func TestNormalizeQuery_Idempotent(t *testing.T) {
	q := "  Aquisição   de   CIMENTO "
	once := NormalizeQuery(q)
	assert.Equal(t, "aquisição de cimento", once)
	assert.Equal(t, once, NormalizeQuery(once))
}

// ==========================
// Durable tier
// ==========================

func TestCache_SetGetRoundTrip(t *testing.T) {
	mr, rc := setupRedis(t)
	c := newCache(t, rc, nil)
	ctx := context.Background()

	key := HashKey("cimento")
	c.Set(ctx, models.SourcePNCP, key, []byte(`{"n":1}`), 0)

	stored, err := mr.Get("compras:pncp:" + key)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, stored)
	assert.Equal(t, 6*time.Hour, mr.TTL("compras:pncp:"+key))

	val, ok := c.Get(ctx, models.SourcePNCP, key)
	require.True(t, ok)
	assert.Equal(t, `{"n":1}`, string(val))

	_, ok = c.Get(ctx, models.SourcePNCP, HashKey("other"))
	assert.False(t, ok)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Sources[models.SourcePNCP].Hits)
	assert.Equal(t, int64(1), stats.Sources[models.SourcePNCP].Misses)
	assert.Equal(t, int64(1), stats.Sources[models.SourcePNCP].Sets)
	assert.InDelta(t, 0.5, stats.Sources[models.SourcePNCP].HitRate, 1e-9)
	assert.True(t, stats.Available)
	assert.False(t, stats.FallbackMode)
}

func TestCache_PriceSourcesUseLongerTTL(t *testing.T) {
	mr, rc := setupRedis(t)
	c := newCache(t, rc, nil)

	c.Set(context.Background(), models.SourceSINAPI, "k", []byte("v"), 0)
	assert.Equal(t, 7*24*time.Hour, mr.TTL("compras:sinapi:k"))

	c.Set(context.Background(), models.SourceSINAPI, "k2", []byte("v"), time.Minute)
	assert.Equal(t, time.Minute, mr.TTL("compras:sinapi:k2"))
}

func TestCache_DisabledSource(t *testing.T) {
	mr, rc := setupRedis(t)
	c := newCache(t, rc, nil)
	ctx := context.Background()

	c.Set(ctx, models.SourceSICRO, "k", []byte("v"), 0)
	_, ok := c.Get(ctx, models.SourceSICRO, "k")
	assert.False(t, ok)
	assert.False(t, mr.Exists("compras:sicro:k"))
}

func TestCache_JSONHelpers(t *testing.T) {
	_, rc := setupRedis(t)
	c := newCache(t, rc, nil)
	ctx := context.Background()

	type payload struct {
		Items []string `json:"items"`
	}
	c.SetJSON(ctx, models.SourcePNCP, "j", payload{Items: []string{"a", "b"}}, 0)

	var out payload
	require.True(t, c.GetJSON(ctx, models.SourcePNCP, "j", &out))
	assert.Equal(t, []string{"a", "b"}, out.Items)

	c.Set(ctx, models.SourcePNCP, "bad", []byte("{not json"), 0)
	assert.False(t, c.GetJSON(ctx, models.SourcePNCP, "bad", &out))
	_, ok := c.Get(ctx, models.SourcePNCP, "bad")
	assert.False(t, ok, "undecodable entry is dropped")
}

func TestCache_DeleteAndInvalidateSource(t *testing.T) {
	mr, rc := setupRedis(t)
	c := newCache(t, rc, nil)
	ctx := context.Background()

	c.Set(ctx, models.SourcePNCP, "a", []byte("1"), 0)
	c.Set(ctx, models.SourcePNCP, "b", []byte("2"), 0)
	c.Set(ctx, models.SourceSINAPI, "a", []byte("3"), 0)

	c.Delete(ctx, models.SourcePNCP, "a")
	assert.False(t, mr.Exists("compras:pncp:a"))

	removed := c.InvalidateSource(ctx, models.SourcePNCP)
	assert.Equal(t, int64(1), removed)

	_, ok := c.Get(ctx, models.SourcePNCP, "b")
	assert.False(t, ok)
	val, ok := c.Get(ctx, models.SourceSINAPI, "a")
	assert.True(t, ok)
	assert.Equal(t, "3", string(val))
}

// ==========================
// Fallback tier
// ==========================

func TestCache_FallbackServesPreviouslySetValue(t *testing.T) {
	mr, rc := setupRedis(t)
	alerter := &countingAlerter{}
	c := New(rc, alerter, &TestLogger{t: t}, testOptions())
	ctx := context.Background()

	c.Set(ctx, models.SourcePNCP, "k", []byte("cached"), 0)
	mr.Close()

	for i := 0; i < 5; i++ {
		val, ok := c.Get(ctx, models.SourcePNCP, "k")
		require.True(t, ok)
		assert.Equal(t, "cached", string(val))
	}
	_, ok := c.Get(ctx, models.SourcePNCP, "missing")
	assert.False(t, ok)

	assert.True(t, c.IsInFallbackMode())
	assert.False(t, c.IsAvailable())

	stats := c.GetStats()
	pncp := stats.Sources[models.SourcePNCP]
	assert.Equal(t, int64(5), pncp.FallbackHits)
	assert.Equal(t, int64(0), pncp.Hits)
	assert.Equal(t, int64(6), pncp.Errors)
	assert.Equal(t, int64(1), stats.AlertsSent)

	require.NoError(t, c.Close())
	assert.Equal(t, 1, alerter.count(), "exactly one alert per outage")
}

func TestCache_AlertResetsAfterReconnect(t *testing.T) {
	mr, rc := setupRedis(t)
	alerter := &countingAlerter{}
	c := New(rc, alerter, &TestLogger{t: t}, testOptions())
	ctx := context.Background()

	c.Set(ctx, models.SourcePNCP, "k", []byte("v"), 0)

	mr.Close()
	c.Get(ctx, models.SourcePNCP, "k")
	c.Get(ctx, models.SourcePNCP, "k")

	require.NoError(t, mr.Restart())
	require.NoError(t, c.Ping(ctx))
	assert.False(t, c.IsInFallbackMode())

	mr.Close()
	c.Get(ctx, models.SourcePNCP, "k")
	c.Get(ctx, models.SourcePNCP, "k")

	require.NoError(t, c.Close())
	assert.Equal(t, 2, alerter.count())
}

func TestCache_SetWhileDownStillWritesMemory(t *testing.T) {
	mr, rc := setupRedis(t)
	c := newCache(t, rc, &countingAlerter{})
	ctx := context.Background()

	mr.Close()
	c.Set(ctx, models.SourcePNCP, "k", []byte("v"), 0)

	val, ok := c.Get(ctx, models.SourcePNCP, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(val))
}

func TestCache_RedisErrorsWithRedismock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rc := &database.RedisClient{Client: db}
	alerter := &countingAlerter{}
	c := New(rc, alerter, &TestLogger{t: t}, testOptions())
	ctx := context.Background()

	full := "compras:pncp:k"
	c.memory.set(full, []byte("from-memory"), time.Hour)

	mock.ExpectGet(full).SetErr(errors.New("connection reset by peer"))
	mock.ExpectGet(full).SetErr(errors.New("connection reset by peer"))
	mock.ExpectDel(full).SetErr(errors.New("connection reset by peer"))

	for i := 0; i < 2; i++ {
		val, ok := c.Get(ctx, models.SourcePNCP, "k")
		require.True(t, ok)
		assert.Equal(t, "from-memory", string(val))
	}
	c.Delete(ctx, models.SourcePNCP, "k")

	_, ok := c.memory.get(full)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.NoError(t, c.Close())
	assert.Equal(t, 1, alerter.count())
}

func TestCache_HealthCheckDetectsReconnect(t *testing.T) {
	mr, rc := setupRedis(t)
	opts := testOptions()
	opts.HealthCheckInterval = 20 * time.Millisecond
	c := New(rc, nil, &TestLogger{t: t}, opts)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartHealthCheck(ctx)

	mr.Close()
	assert.Eventually(t, c.IsInFallbackMode, time.Second, 10*time.Millisecond)

	require.NoError(t, mr.Restart())
	assert.Eventually(t, c.IsAvailable, 2*time.Second, 10*time.Millisecond)
}

func TestCache_MemoryOnlyMode(t *testing.T) {
	c := newCache(t, nil, &countingAlerter{})
	ctx := context.Background()

	c.Set(ctx, models.SourcePNCP, "k", []byte("v"), 0)
	val, ok := c.Get(ctx, models.SourcePNCP, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(val))

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Sources[models.SourcePNCP].Hits)
	assert.Equal(t, int64(0), stats.AlertsSent)
	assert.False(t, c.IsAvailable())
	assert.NoError(t, c.Ping(ctx))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	_, rc := setupRedis(t)
	c := newCache(t, rc, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := HashKey(string(rune('a' + i)))
			c.Set(ctx, models.SourcePNCP, key, []byte("v"), 0)
			c.Get(ctx, models.SourcePNCP, key)
			c.Delete(ctx, models.SourcePNCP, key)
		}(i)
	}
	wg.Wait()

	stats := c.GetStats()
	assert.Equal(t, int64(20), stats.Sources[models.SourcePNCP].Sets)
	assert.Equal(t, int64(20), stats.Sources[models.SourcePNCP].Deletes)
}
