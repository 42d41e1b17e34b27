// Package app assembles the aggregation engine from configuration. It is shared
// by the HTTP server and the pricectl tool.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"compras-aggregator/internal/cache"
	"compras-aggregator/internal/common/alert"
	"compras-aggregator/internal/common/config"
	"compras-aggregator/internal/common/database"
	"compras-aggregator/internal/common/logger"
	"compras-aggregator/internal/models"
	"compras-aggregator/internal/pricing"
	"compras-aggregator/internal/search"
	"compras-aggregator/internal/sources"
	"compras-aggregator/internal/store/searchlog"
)

// App holds the wired engine and everything that must be closed on shutdown.
type App struct {
	Config       *config.Config
	Logger       logger.Logger
	Zap          *zap.Logger
	Cache        *cache.ResponseCache
	Orchestrator *search.Orchestrator
	Aggregator   *pricing.Aggregator
	// SearchLog is nil unless database.postgres.enabled is set.
	SearchLog *searchlog.Store

	redis    *database.RedisClient
	postgres *sql.DB
	cancel   context.CancelFunc
}

// Build wires the engine. A Redis address that cannot be dialled does not fail
// the build; the cache starts in memory fallback and recovers on its own.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	log, zl := logger.NewForService(cfg.App.Name, cfg.Logging.Level, cfg.Logging.Format)
	a := &App{Config: cfg, Logger: log, Zap: zl}

	bg, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	alerter, err := alert.New(ctx, cfg.Alerts, log)
	if err != nil {
		log.Warn("alert channel unavailable, alerting to log", map[string]interface{}{
			"channel": cfg.Alerts.Channel,
			"error":   err.Error(),
		})
		alerter = alert.NewLogAlerter(log)
	}

	redis, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		log.Warn("redis not configured, cache is memory-only", map[string]interface{}{"error": err.Error()})
	} else {
		a.redis = redis
	}

	a.Cache = cache.New(a.redis, alerter, log, cache.OptionsFromConfig(cfg))
	if a.redis != nil {
		if err := a.Cache.Ping(ctx); err != nil {
			log.Warn("redis unreachable at startup, serving from memory", map[string]interface{}{"error": err.Error()})
		}
		a.Cache.StartHealthCheck(bg)
	}

	primary, fallback, err := buildAdapters(cfg, a.Cache, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	var opts []search.Option
	if cfg.Database.Postgres.Enabled {
		pg, err := database.OpenPostgres(ctx, cfg.Database.Postgres)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.postgres = pg
		a.SearchLog = searchlog.New(pg)

		schemaCtx, cancelSchema := context.WithTimeout(ctx, 10*time.Second)
		err = a.SearchLog.EnsureSchema(schemaCtx)
		cancelSchema()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("search log schema: %w", err)
		}
		opts = append(opts, search.WithRecorder(a.SearchLog))
	}

	a.Orchestrator = search.New(primary, fallback, search.ConfigFromApp(cfg), log.With(map[string]interface{}{
		"component": "orchestrator",
	}), opts...)
	a.Aggregator = pricing.New(pricing.OptionsFromConfig(cfg.Pricing), log.With(map[string]interface{}{
		"component": "pricing",
	}))

	names := make([]string, 0, len(primary))
	for _, ad := range primary {
		names = append(names, ad.ID().String())
	}
	log.Info("aggregation engine ready", map[string]interface{}{
		"sources":       names,
		"fallback":      fallback != nil,
		"cacheDurable":  a.redis != nil,
		"searchLogging": a.SearchLog != nil,
	})
	return a, nil
}

// buildAdapters returns the enabled primary adapters in a stable order and the
// web search fallback, if enabled.
func buildAdapters(cfg *config.Config, c *cache.ResponseCache, log logger.Logger) ([]sources.Adapter, sources.Adapter, error) {
	var (
		primary  []sources.Adapter
		fallback sources.Adapter
	)
	for _, id := range models.KnownSources {
		sc, ok := cfg.Sources[id.Lower()]
		if !ok || !sc.Enabled {
			continue
		}
		ad, err := sources.New(id, sc, sources.Deps{
			Cache:  c,
			Logger: log.With(map[string]interface{}{"source": id.String()}),
		})
		if err != nil {
			return nil, nil, err
		}
		if id == models.SourceWebSearch {
			fallback = ad
			continue
		}
		primary = append(primary, ad)
	}
	return primary, fallback, nil
}

// Close stops background work and releases connections. Safe to call twice.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	// The cache owns the Redis client.
	if a.Cache != nil {
		_ = a.Cache.Close()
	} else if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.postgres != nil {
		_ = a.postgres.Close()
		a.postgres = nil
	}
	if a.Zap != nil {
		_ = a.Zap.Sync()
	}
}
