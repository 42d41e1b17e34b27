// Package cache implements the two-tier response cache: Redis as the durable
// tier and a bounded in-memory LRU that keeps serving when Redis is down.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"compras-aggregator/internal/common/alert"
	"compras-aggregator/internal/common/config"
	"compras-aggregator/internal/common/database"
	"compras-aggregator/internal/common/metrics"
	"compras-aggregator/internal/models"
)

const keyNamespace = "compras"

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// SourceSettings partition the cache per source.
type SourceSettings struct {
	Prefix  string
	TTL     time.Duration
	Enabled bool
}

type Options struct {
	MemoryMaxEntries    int
	OperationTimeout    time.Duration
	HealthCheckInterval time.Duration
	DefaultTTL          time.Duration
	Sources             map[models.SourceID]SourceSettings
}

// OptionsFromConfig maps the config file onto cache options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		MemoryMaxEntries:    cfg.Cache.MemoryMaxEntries,
		OperationTimeout:    config.GetDuration(cfg.Cache.OperationTimeout),
		HealthCheckInterval: config.GetDuration(cfg.Cache.HealthCheckInterval),
		DefaultTTL:          time.Hour,
		Sources:             make(map[models.SourceID]SourceSettings),
	}
	for name, sc := range cfg.Sources {
		id, err := models.ParseSourceID(name)
		if err != nil {
			continue
		}
		opts.Sources[id] = SourceSettings{
			Prefix:  keyNamespace + ":" + id.Lower(),
			TTL:     time.Duration(sc.CacheTTL) * time.Second,
			Enabled: sc.IsCacheEnabled(),
		}
	}
	return opts
}

// ResponseCache is safe for concurrent use. A nil Redis client runs the cache
// in memory-only mode.
type ResponseCache struct {
	redis   *database.RedisClient
	memory  *memoryStore
	alerter alert.Alerter
	logger  Logger
	opts    Options
	now     func() time.Time

	degraded   atomic.Bool
	alerted    atomic.Bool
	alertsSent atomic.Int64

	statsMu sync.Mutex
	stats   map[models.SourceID]*counters

	alertWG   sync.WaitGroup
	stopOnce  sync.Once
	stop      chan struct{}
	healthWG  sync.WaitGroup
	closeOnce sync.Once
}

func New(redis *database.RedisClient, alerter alert.Alerter, logger Logger, opts Options) *ResponseCache {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 500 * time.Millisecond
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = 30 * time.Second
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = time.Hour
	}
	if opts.Sources == nil {
		opts.Sources = make(map[models.SourceID]SourceSettings)
	}
	c := &ResponseCache{
		redis:   redis,
		alerter: alerter,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		stats:   make(map[models.SourceID]*counters),
		stop:    make(chan struct{}),
	}
	c.memory = newMemoryStore(opts.MemoryMaxEntries, func() time.Time { return c.now() })
	if redis == nil {
		c.degraded.Store(true)
	}
	return c
}

func (c *ResponseCache) settings(source models.SourceID) SourceSettings {
	if s, ok := c.opts.Sources[source]; ok {
		if s.Prefix == "" {
			s.Prefix = keyNamespace + ":" + source.Lower()
		}
		if s.TTL <= 0 {
			s.TTL = c.opts.DefaultTTL
		}
		return s
	}
	return SourceSettings{Prefix: keyNamespace + ":" + source.Lower(), TTL: c.opts.DefaultTTL, Enabled: true}
}

func (c *ResponseCache) fullKey(source models.SourceID, key string) string {
	return c.settings(source).Prefix + ":" + key
}

// Get returns the cached value. Redis is consulted first; on any Redis error
// the in-memory tier answers. A miss never returns an error.
func (c *ResponseCache) Get(ctx context.Context, source models.SourceID, key string) ([]byte, bool) {
	s := c.settings(source)
	if !s.Enabled {
		return nil, false
	}
	full := c.fullKey(source, key)

	if c.redis != nil {
		opCtx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
		val, err := c.redis.GetBytes(opCtx, full)
		cancel()
		switch {
		case err == nil:
			c.markAvailable()
			c.record(source, "get", "hit")
			return val, true
		case database.IsMiss(err):
			c.markAvailable()
			c.record(source, "get", "miss")
			return nil, false
		default:
			c.markUnavailable(err)
			c.record(source, "get", "error")
		}
		c.alertOnce(source, full)
	}

	val, ok := c.memory.get(full)
	switch {
	case !ok:
		c.record(source, "get", "miss")
	case c.redis == nil:
		c.record(source, "get", "hit")
	default:
		c.record(source, "get", "fallback_hit")
	}
	return val, ok
}

// GetJSON decodes a cached JSON value into v.
func (c *ResponseCache) GetJSON(ctx context.Context, source models.SourceID, key string, v interface{}) bool {
	raw, ok := c.Get(ctx, source, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.logger.Warn("discarding undecodable cache entry", map[string]interface{}{
			"source": string(source),
			"error":  err.Error(),
		})
		c.Delete(ctx, source, key)
		return false
	}
	return true
}

// Set writes both tiers. ttl <= 0 uses the source default. Errors are logged
// and swallowed.
func (c *ResponseCache) Set(ctx context.Context, source models.SourceID, key string, value []byte, ttl time.Duration) {
	s := c.settings(source)
	if !s.Enabled {
		return
	}
	if ttl <= 0 {
		ttl = s.TTL
	}
	full := c.fullKey(source, key)

	c.memory.set(full, value, ttl)
	c.record(source, "set", "ok")

	if c.redis == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
	defer cancel()
	if err := c.redis.Set(opCtx, full, value, ttl); err != nil {
		c.markUnavailable(err)
		c.record(source, "set", "error")
		return
	}
	c.markAvailable()
}

// SetJSON encodes v and stores it.
func (c *ResponseCache) SetJSON(ctx context.Context, source models.SourceID, key string, v interface{}, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache value not encodable", map[string]interface{}{
			"source": string(source),
			"error":  err.Error(),
		})
		return
	}
	c.Set(ctx, source, key, raw, ttl)
}

// Delete removes key from both tiers.
func (c *ResponseCache) Delete(ctx context.Context, source models.SourceID, key string) {
	full := c.fullKey(source, key)
	c.memory.delete(full)
	c.record(source, "delete", "ok")

	if c.redis == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
	defer cancel()
	if err := c.redis.Del(opCtx, full); err != nil {
		c.markUnavailable(err)
		c.record(source, "delete", "error")
		return
	}
	c.markAvailable()
}

// InvalidateSource drops every entry of a source and returns how many keys
// were removed from the durable tier (or from memory in memory-only mode).
func (c *ResponseCache) InvalidateSource(ctx context.Context, source models.SourceID) int64 {
	prefix := c.settings(source).Prefix + ":"
	removed := int64(c.memory.deletePrefix(prefix))

	if c.redis != nil {
		// SCAN walks the keyspace; give it more room than a single op.
		opCtx, cancel := context.WithTimeout(ctx, 10*c.opts.OperationTimeout)
		defer cancel()
		n, err := c.redis.DeleteByPrefix(opCtx, prefix)
		if err != nil {
			c.markUnavailable(err)
			c.record(source, "invalidate", "error")
		} else {
			c.markAvailable()
			removed = n
		}
	}

	c.record(source, "invalidate", "ok")
	c.logger.Info("cache invalidated", map[string]interface{}{
		"source":  string(source),
		"removed": removed,
	})
	return removed
}

// IsAvailable reports whether the durable tier is reachable.
func (c *ResponseCache) IsAvailable() bool {
	return c.redis != nil && !c.degraded.Load()
}

// IsInFallbackMode reports whether reads are served from memory.
func (c *ResponseCache) IsInFallbackMode() bool {
	return c.degraded.Load()
}

// Ping checks the durable tier and updates availability.
func (c *ResponseCache) Ping(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
	defer cancel()
	if err := c.redis.Ping(opCtx); err != nil {
		c.markUnavailable(err)
		return err
	}
	c.markAvailable()
	return nil
}

// StartHealthCheck pings Redis periodically so reconnection is noticed
// without traffic. It stops on ctx cancellation or Close.
func (c *ResponseCache) StartHealthCheck(ctx context.Context) {
	if c.redis == nil {
		return
	}
	c.healthWG.Add(1)
	go func() {
		defer c.healthWG.Done()
		ticker := time.NewTicker(c.opts.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				_ = c.Ping(ctx)
			}
		}
	}()
}

// Close stops the health loop, waits for pending alerts and closes Redis.
func (c *ResponseCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stopOnce.Do(func() { close(c.stop) })
		c.healthWG.Wait()
		c.alertWG.Wait()
		if c.redis != nil {
			err = c.redis.Close()
		}
	})
	return err
}

func (c *ResponseCache) markAvailable() {
	if c.redis == nil {
		return
	}
	if c.degraded.CompareAndSwap(true, false) {
		c.alerted.Store(false)
		metrics.CacheFallbackMode.Set(0)
		c.logger.Info("cache durable store reconnected", nil)
	}
}

func (c *ResponseCache) markUnavailable(err error) {
	if c.degraded.CompareAndSwap(false, true) {
		metrics.CacheFallbackMode.Set(1)
		c.logger.Warn("cache durable store unavailable, using memory tier", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// alertOnce fires the degraded-mode alert on the first fallback read of an
// outage. Delivery runs in the background; Close waits for it.
func (c *ResponseCache) alertOnce(source models.SourceID, key string) {
	if c.alerter == nil || !c.alerted.CompareAndSwap(false, true) {
		return
	}
	c.alertsSent.Add(1)
	a := alert.Alert{
		Title:    "Response cache degraded",
		Message:  "Redis is unreachable; cache reads are served from the in-memory tier.",
		Severity: "warning",
		Fields: map[string]interface{}{
			"source":        string(source),
			"key":           key,
			"memoryEntries": c.memory.size(),
		},
		At: c.now(),
	}

	c.alertWG.Add(1)
	go func() {
		defer c.alertWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.alerter.Send(ctx, a); err != nil {
			c.logger.Error("failed to deliver cache alert", map[string]interface{}{"error": err.Error()})
		}
	}()
}
