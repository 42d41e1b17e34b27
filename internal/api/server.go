// Package api exposes the search orchestrator, the price aggregator and the
// cache over a JSON REST surface.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"compras-aggregator/internal/cache"
	"compras-aggregator/internal/common/config"
	apperrors "compras-aggregator/internal/common/errors"
	"compras-aggregator/internal/common/observability"
	"compras-aggregator/internal/models"
	"compras-aggregator/internal/normalize"
	"compras-aggregator/internal/pricing"
	"compras-aggregator/internal/search"
	"compras-aggregator/internal/sources"
	"compras-aggregator/internal/store/searchlog"
)

// Searcher is implemented by *search.Orchestrator.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) *search.Result
	Adapters() []sources.Adapter
}

// Aggregator is implemented by *pricing.Aggregator.
type Aggregator interface {
	Aggregate(query string, bySource [][]models.PriceItem, opts *pricing.Options) *pricing.Result
}

// CacheInspector is the operational subset of *cache.ResponseCache.
type CacheInspector interface {
	GetStats() cache.Stats
	InvalidateSource(ctx context.Context, source models.SourceID) int64
	IsAvailable() bool
	IsInFallbackMode() bool
}

// History lists recent searches; implemented by *searchlog.Store.
type History interface {
	Recent(ctx context.Context, limit int) ([]searchlog.Entry, error)
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Deps are the collaborators of the REST surface. History and Obs are optional.
type Deps struct {
	Searcher   Searcher
	Aggregator Aggregator
	Cache      CacheInspector
	History    History
	Logger     Logger
	Obs        *observability.Observability
}

type Server struct {
	deps          Deps
	healthTimeout time.Duration
	version       string
}

// NewRouter wires every route onto a fresh gin engine.
func NewRouter(deps Deps, cfg config.ServerConfig, version string) *gin.Engine {
	s := &Server{deps: deps, healthTimeout: 5 * time.Second, version: version}

	r := gin.New()
	r.Use(gin.Recovery(), s.observe(), throttle(cfg.ClientRPS, cfg.ClientBurst))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/search", s.handleSearch)
	v1.GET("/prices/search", s.handlePriceSearch)
	v1.POST("/prices/aggregate", s.handleAggregate)
	v1.GET("/sources/health", s.handleSourcesHealth)
	v1.GET("/cache/stats", s.handleCacheStats)
	v1.DELETE("/cache/:source", s.handleInvalidate)
	v1.GET("/searches/recent", s.handleRecent)
	return r
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.deps.Obs.RecordRequest(c.Request.Context(), route, c.Writer.Status())
		s.deps.Obs.RecordRequestDuration(c.Request.Context(), route, time.Since(start))
	}
}

func errorBody(err *apperrors.StandardError) gin.H {
	return gin.H{"error": err}
}

func badRequest(c *gin.Context, details string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(apperrors.NewBadRequestError(details)))
}

// ==========================
// Health
// ==========================

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"version": s.version,
	}
	if s.deps.Cache != nil {
		body["cache"] = gin.H{
			"available":    s.deps.Cache.IsAvailable(),
			"fallbackMode": s.deps.Cache.IsInFallbackMode(),
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleSourcesHealth(c *gin.Context) {
	adapters := s.deps.Searcher.Adapters()
	reports := make([]sources.Health, len(adapters))

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.healthTimeout)
	defer cancel()

	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			reports[i] = a.HealthCheck(ctx)
			return nil
		})
	}
	_ = g.Wait()

	healthy := 0
	for _, h := range reports {
		if h.Healthy {
			healthy++
		}
	}
	status := "ok"
	switch {
	case len(reports) == 0 || healthy == 0:
		status = "down"
	case healthy < len(reports):
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "sources": reports})
}

// ==========================
// Search
// ==========================

func (s *Server) parseSearch(c *gin.Context) (string, search.Options, bool) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		badRequest(c, "query parameter 'q' is required")
		return "", search.Options{}, false
	}

	opts := search.Options{Region: strings.ToUpper(strings.TrimSpace(c.Query("region")))}
	if raw := c.Query("from"); raw != "" {
		t, err := normalize.ParseDate(raw)
		if err != nil {
			badRequest(c, "invalid 'from' date: "+err.Error())
			return "", search.Options{}, false
		}
		opts.DateRange.From = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := normalize.ParseDate(raw)
		if err != nil {
			badRequest(c, "invalid 'to' date: "+err.Error())
			return "", search.Options{}, false
		}
		opts.DateRange.To = t
	}
	if !opts.DateRange.From.IsZero() && !opts.DateRange.To.IsZero() && opts.DateRange.To.Before(opts.DateRange.From) {
		badRequest(c, "'to' must not be before 'from'")
		return "", search.Options{}, false
	}
	if raw := c.Query("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			badRequest(c, "'max' must be an integer between 1 and 500")
			return "", search.Options{}, false
		}
		opts.MaxPerSource = n
	}
	if raw := c.Query("prices"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "'prices' must be a boolean")
			return "", search.Options{}, false
		}
		opts.IncludePriceSources = v
	}
	if raw := c.Query("fallback"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "'fallback' must be a boolean")
			return "", search.Options{}, false
		}
		opts.EnableFallback = &v
	}
	return query, opts, true
}

func (s *Server) handleSearch(c *gin.Context) {
	query, opts, ok := s.parseSearch(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.deps.Searcher.Search(c.Request.Context(), query, opts))
}

// PriceSearchResponse pairs the raw price search with its aggregation.
type PriceSearchResponse struct {
	Search      *search.Result  `json:"search"`
	Aggregation *pricing.Result `json:"aggregation"`
}

func (s *Server) handlePriceSearch(c *gin.Context) {
	query, opts, ok := s.parseSearch(c)
	if !ok {
		return
	}
	opts.IncludePriceSources = true
	off := false
	opts.EnableFallback = &off

	res := s.deps.Searcher.Search(c.Request.Context(), query, opts)
	agg := s.deps.Aggregator.Aggregate(query, res.PriceLists(), nil)
	c.JSON(http.StatusOK, PriceSearchResponse{Search: res, Aggregation: agg})
}

// ==========================
// Aggregation
// ==========================

// AggregateRequest is the body of POST /prices/aggregate.
type AggregateRequest struct {
	Query   string               `json:"query"`
	Items   [][]models.PriceItem `json:"items" binding:"required"`
	Options *AggregateOptions    `json:"options,omitempty"`
}

type AggregateOptions struct {
	OutlierThreshold float64            `json:"outlierThreshold"`
	SimilarityBand   float64            `json:"similarityBand"`
	ExcludeOutliers  *bool              `json:"excludeOutliers"`
	SourceWeights    map[string]float64 `json:"sourceWeights"`
}

func (s *Server) handleAggregate(c *gin.Context) {
	var req AggregateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	var opts *pricing.Options
	if req.Options != nil {
		o := req.Options
		if o.SimilarityBand < 0 || o.SimilarityBand > 1 {
			badRequest(c, "'similarityBand' must be within [0,1]")
			return
		}
		if o.OutlierThreshold < 0 {
			badRequest(c, "'outlierThreshold' must not be negative")
			return
		}
		opts = &pricing.Options{
			OutlierThreshold: o.OutlierThreshold,
			SimilarityBand:   o.SimilarityBand,
			ExcludeOutliers:  o.ExcludeOutliers,
		}
		if len(o.SourceWeights) > 0 {
			opts.SourceWeights = make(map[models.SourceID]float64, len(o.SourceWeights))
			for name, w := range o.SourceWeights {
				id, err := models.ParseSourceID(name)
				if err != nil {
					badRequest(c, err.Error())
					return
				}
				opts.SourceWeights[id] = w
			}
		}
	}

	c.JSON(http.StatusOK, s.deps.Aggregator.Aggregate(req.Query, req.Items, opts))
}

// ==========================
// Cache and history
// ==========================

func (s *Server) handleCacheStats(c *gin.Context) {
	if s.deps.Cache == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, s.deps.Cache.GetStats())
}

func (s *Server) handleInvalidate(c *gin.Context) {
	id, err := models.ParseSourceID(c.Param("source"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if s.deps.Cache == nil {
		c.JSON(http.StatusOK, gin.H{"source": id, "deleted": 0})
		return
	}
	deleted := s.deps.Cache.InvalidateSource(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"source": id, "deleted": deleted})
}

func (s *Server) handleRecent(c *gin.Context) {
	if s.deps.History == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody(apperrors.NewNotFoundError("search_log", "recent")))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := s.deps.History.Recent(c.Request.Context(), limit)
	if err != nil {
		if s.deps.Logger != nil {
			s.deps.Logger.Error("failed to list recent searches", map[string]interface{}{"error": err.Error()})
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody(apperrors.NewServiceUnavailableError("search_log", err)))
		return
	}
	if entries == nil {
		entries = []searchlog.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"searches": entries})
}
