package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compras-aggregator/internal/cache"
	"compras-aggregator/internal/common/config"
	httpc "compras-aggregator/internal/common/http"
	"compras-aggregator/internal/common/logger"
	"compras-aggregator/internal/models"
)

// ==========================
// Test helpers
// ==========================

func testSourceConfig(baseURL string) config.SourceConfig {
	return config.SourceConfig{
		Enabled:  true,
		BaseURL:  baseURL,
		Timeout:  2000,
		MaxPages: 3,
		RateLimit: config.RateLimitConfig{
			MaxRequests: 1000,
			Window:      1000,
			Policy:      "wait",
		},
		Breaker: config.BreakerConfig{
			ErrorThreshold:  50,
			VolumeThreshold: 5,
			ResetTimeout:    30000,
			RollingWindow:   60000,
		},
		Retry: config.RetryConfig{MaxRetries: 0, BaseDelay: 1, MaxDelay: 2},
	}
}

type testEnv struct {
	adapter Adapter
	cache   *cache.ResponseCache
	hits    *int64
}

func newTestAdapter(t *testing.T, id models.SourceID, handler http.HandlerFunc, tweak ...func(*config.SourceConfig)) testEnv {
	t.Helper()

	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	sc := testSourceConfig(srv.URL)
	for _, fn := range tweak {
		fn(&sc)
	}

	log := logger.NewTestLogger(t)
	rc := cache.New(nil, nil, log, cache.Options{MemoryMaxEntries: 100})
	t.Cleanup(func() { _ = rc.Close() })

	a, err := New(id, sc, Deps{Cache: rc, Logger: log})
	require.NoError(t, err)
	return testEnv{adapter: a, cache: rc, hits: &hits}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

// stubClient lets tests control breaker availability without a network.
type stubClient struct {
	available bool
	calls     int64
}

func (s *stubClient) Request(context.Context, httpc.RequestSpec) (*httpc.Response, error) {
	atomic.AddInt64(&s.calls, 1)
	return &httpc.Response{StatusCode: http.StatusOK, Body: []byte(`{"data":[]}`)}, nil
}

func (s *stubClient) Probe(context.Context, httpc.RequestSpec) (*httpc.Response, error) {
	atomic.AddInt64(&s.calls, 1)
	return &httpc.Response{StatusCode: http.StatusOK}, nil
}

func (s *stubClient) State() httpc.State {
	if s.available {
		return httpc.StateClosed
	}
	return httpc.StateOpen
}

func (s *stubClient) Available() bool { return s.available }

// ==========================
// Factory
// ==========================

func TestNew_BuildsEveryVariant(t *testing.T) {
	sc := testSourceConfig("http://localhost")
	for _, id := range models.KnownSources {
		a, err := New(id, sc, Deps{})
		require.NoError(t, err, id)
		assert.Equal(t, id, a.ID())
		assert.Equal(t, id.Kind(), a.Kind())
	}
}

func TestNew_UnknownSource(t *testing.T) {
	_, err := New(models.SourceID("NOPE"), testSourceConfig("http://localhost"), Deps{})
	assert.Error(t, err)
}

// ==========================
// Shared flow
// ==========================

func TestSearch_BreakerOpenShortCircuits(t *testing.T) {
	client := &stubClient{available: false}
	a, err := New(models.SourcePNCP, testSourceConfig("http://localhost"), Deps{Client: client})
	require.NoError(t, err)

	res := a.Search(context.Background(), "notebook", models.SearchFilters{})
	assert.Equal(t, models.StatusServiceUnavailable, res.Status.Status)
	assert.Zero(t, atomic.LoadInt64(&client.calls), "no network attempt while open")
	assert.Empty(t, res.Contracts)
}

func TestSearch_CachedResultSkipsNetwork(t *testing.T) {
	env := newTestAdapter(t, models.SourcePNCP, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"data":         []interface{}{pncpFixture("00394460005887-1-000010/2024", "Aquisição de notebooks")},
			"totalPaginas": 1,
		})
	})
	ctx := context.Background()

	first := env.adapter.Search(ctx, "notebook", models.SearchFilters{Limit: 10})
	require.Equal(t, models.StatusSuccess, first.Status.Status)
	assert.False(t, first.Status.Cached)

	second := env.adapter.Search(ctx, "  NOTEBOOK ", models.SearchFilters{Limit: 10})
	assert.True(t, second.Status.Cached)
	assert.Equal(t, first.Count(), second.Count())
	assert.EqualValues(t, 1, atomic.LoadInt64(env.hits))
}

func TestSearch_UpstreamFailuresMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   models.Status
	}{
		{"unavailable", http.StatusServiceUnavailable, models.StatusServiceUnavailable},
		{"rate limited", http.StatusTooManyRequests, models.StatusRateLimited},
		{"server error", http.StatusInternalServerError, models.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestAdapter(t, models.SourcePNCP, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			res := env.adapter.Search(context.Background(), "notebook", models.SearchFilters{})
			assert.Equal(t, tt.want, res.Status.Status)
			assert.NotEmpty(t, res.Status.Error)
			assert.Empty(t, res.Contracts)
		})
	}
}

func TestSearch_SlowUpstreamTimesOut(t *testing.T) {
	env := newTestAdapter(t, models.SourcePNCP, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, func(sc *config.SourceConfig) { sc.Timeout = 50 })

	res := env.adapter.Search(context.Background(), "notebook", models.SearchFilters{})
	assert.Equal(t, models.StatusTimeout, res.Status.Status)
}

func TestHealthCheck(t *testing.T) {
	healthy := newTestAdapter(t, models.SourceSINAPI, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("tamanhoPagina"))
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"data": []interface{}{}})
	})
	h := healthy.adapter.HealthCheck(context.Background())
	assert.True(t, h.Healthy)
	assert.Equal(t, "CLOSED", h.CircuitState)
	assert.Empty(t, h.Error)

	down := newTestAdapter(t, models.SourceSINAPI, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	h = down.adapter.HealthCheck(context.Background())
	assert.False(t, h.Healthy)
	assert.NotEmpty(t, h.Error)
	assert.EqualValues(t, 1, atomic.LoadInt64(down.hits), "probe never retries")
}
