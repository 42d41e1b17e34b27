// Package sources holds one adapter per upstream API. Every adapter follows
// the same cache-then-network flow and reports failures only through the
// SourceStatus taxonomy.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"compras-aggregator/internal/cache"
	"compras-aggregator/internal/common/config"
	apperrors "compras-aggregator/internal/common/errors"
	httpc "compras-aggregator/internal/common/http"
	"compras-aggregator/internal/common/validation"
	"compras-aggregator/internal/models"
)

// Adapter is the uniform contract implemented by every source variant.
type Adapter interface {
	ID() models.SourceID
	Kind() models.SourceKind
	Search(ctx context.Context, query string, filters models.SearchFilters) Result
	// GetByID returns (nil, nil) when the upstream does not know id.
	GetByID(ctx context.Context, id string) (models.Item, error)
	HealthCheck(ctx context.Context) Health
}

// Result is the outcome of one adapter search. Exactly one of Contracts or
// Prices is populated, depending on the source kind.
type Result struct {
	Contracts []models.ContractItem `json:"contracts,omitempty"`
	Prices    []models.PriceItem    `json:"prices,omitempty"`
	Status    models.SourceStatus   `json:"status"`
}

// Count returns the number of items in the result.
func (r Result) Count() int { return len(r.Contracts) + len(r.Prices) }

// Health is the liveness report of one adapter.
type Health struct {
	Source       models.SourceID `json:"source"`
	Healthy      bool            `json:"healthy"`
	LatencyMs    int64           `json:"latencyMs"`
	CircuitState string          `json:"circuitState"`
	Error        string          `json:"error,omitempty"`
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Cache is the subset of cache.ResponseCache used by adapters.
type Cache interface {
	GetJSON(ctx context.Context, source models.SourceID, key string, v interface{}) bool
	SetJSON(ctx context.Context, source models.SourceID, key string, v interface{}, ttl time.Duration)
}

// Client is the subset of the resilient client used by adapters.
type Client interface {
	Request(ctx context.Context, spec httpc.RequestSpec) (*httpc.Response, error)
	Probe(ctx context.Context, spec httpc.RequestSpec) (*httpc.Response, error)
	State() httpc.State
	Available() bool
}

// Deps are the collaborators shared by all adapters.
type Deps struct {
	Cache  Cache
	Logger Logger
	// Client overrides the resilient client built from config; used in tests.
	Client Client
}

// New builds the adapter variant for id.
func New(id models.SourceID, sc config.SourceConfig, deps Deps) (Adapter, error) {
	client := deps.Client
	if client == nil {
		client = httpc.NewResilientClient(httpc.OptionsFromConfig(id.String(), sc), httpc.WithLogger(deps.Logger))
	}
	b := newBase(id, client, deps, sc)

	switch id {
	case models.SourcePNCP:
		return NewPNCP(b), nil
	case models.SourceComprasGov:
		return NewComprasGov(b), nil
	case models.SourceSINAPI:
		return NewSINAPI(b), nil
	case models.SourceSICRO:
		return NewSICRO(b), nil
	case models.SourceWebSearch:
		return NewWebSearch(b, sc.APIKey, sc.EngineID), nil
	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("no adapter for source %s", id))
	}
}

// cachedSearch is the cached form of a normalized search result.
type cachedSearch struct {
	Contracts []models.ContractItem `json:"contracts,omitempty"`
	Prices    []models.PriceItem    `json:"prices,omitempty"`
	Partial   bool                  `json:"partial,omitempty"`
	// Truncated marks a result cut short by a failed page. It is never cached.
	Truncated bool `json:"-"`
}

// base carries the flow shared by every variant.
type base struct {
	id          models.SourceID
	client      Client
	cache       Cache
	logger      Logger
	errors      *apperrors.ErrorHandler
	maxPageSize int
	maxPages    int
	now         func() time.Time
}

func newBase(id models.SourceID, client Client, deps Deps, sc config.SourceConfig) *base {
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	maxPages := sc.MaxPages
	if maxPages <= 0 {
		maxPages = 3
	}
	return &base{
		id:          id,
		client:      client,
		cache:       deps.Cache,
		logger:      logger,
		errors:      apperrors.NewErrorHandler(logger),
		maxPageSize: sc.MaxPageSize,
		maxPages:    maxPages,
		now:         time.Now,
	}
}

func (b *base) ID() models.SourceID     { return b.id }
func (b *base) Kind() models.SourceKind { return b.id.Kind() }

func searchKey(query string, f models.SearchFilters) string {
	var from, to string
	if !f.DateRange.From.IsZero() {
		from = f.DateRange.From.Format("2006-01-02")
	}
	if !f.DateRange.To.IsZero() {
		to = f.DateRange.To.Format("2006-01-02")
	}
	return cache.Key("search", query, f.Region, from, to, strconv.Itoa(f.Limit))
}

// search runs cache lookup, breaker short-circuit, fetch and cache store.
func (b *base) search(ctx context.Context, query string, filters models.SearchFilters,
	fetch func(ctx context.Context) (cachedSearch, error)) Result {

	start := b.now()
	key := searchKey(query, filters)

	var cached cachedSearch
	if b.cache != nil && b.cache.GetJSON(ctx, b.id, key, &cached) {
		return b.result(cached, start, true)
	}

	if !b.client.Available() {
		err := apperrors.NewCircuitOpenError(b.id.String())
		return Result{Status: models.FailedStatus(b.id, err, b.elapsed(start))}
	}

	fresh, err := fetch(ctx)
	if err != nil {
		se := b.errors.Handle(err, map[string]interface{}{"source": b.id.String(), "query": query})
		return Result{Status: models.FailedStatus(b.id, se, b.elapsed(start))}
	}

	if b.cache != nil && !fresh.Truncated {
		b.cache.SetJSON(ctx, b.id, key, fresh, 0)
	}
	return b.result(fresh, start, false)
}

func (b *base) result(c cachedSearch, start time.Time, fromCache bool) Result {
	status := models.StatusSuccess
	if c.Partial {
		status = models.StatusPartial
	}
	r := Result{Contracts: c.Contracts, Prices: c.Prices}
	r.Status = models.SourceStatus{
		Source:      b.id,
		Status:      status,
		LatencyMs:   b.elapsed(start),
		ResultCount: r.Count(),
		Cached:      fromCache,
	}
	return r
}

// getByID runs the cache-first single item lookup. fetch returns (nil, nil)
// for unknown ids; NOT_FOUND errors are normalized the same way.
func (b *base) getByID(ctx context.Context, id string, into func() models.Item,
	fetch func(ctx context.Context) (models.Item, error)) (models.Item, error) {

	key := cache.Key("id", id)
	if b.cache != nil {
		item := into()
		if b.cache.GetJSON(ctx, b.id, key, item) {
			return item, nil
		}
	}
	if !b.client.Available() {
		return nil, apperrors.NewCircuitOpenError(b.id.String())
	}

	item, err := fetch(ctx)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrCodeNotFound {
			return nil, nil
		}
		return nil, b.errors.Handle(err, map[string]interface{}{"source": b.id.String(), "id": id})
	}
	if item == nil {
		return nil, nil
	}
	if b.cache != nil {
		b.cache.SetJSON(ctx, b.id, key, item, 0)
	}
	return item, nil
}

// healthCheck probes spec once, bypassing cache, retry and breaker accounting.
func (b *base) healthCheck(ctx context.Context, spec httpc.RequestSpec) Health {
	start := b.now()
	_, err := b.client.Probe(ctx, spec)
	h := Health{
		Source:       b.id,
		Healthy:      err == nil,
		LatencyMs:    b.elapsed(start),
		CircuitState: string(b.client.State()),
	}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}

// pageFunc fetches one page and reports how many raw records it held and the
// total number of pages (0 when unknown).
type pageFunc func(ctx context.Context, page, size int) (records int, totalPages int, err error)

// paginate walks pages until limit items were kept, the last page was read or
// maxPages was reached. A failure after the first page keeps what was
// collected and reports partial=true.
func (b *base) paginate(ctx context.Context, limit int, kept func() int, fetch pageFunc) (partial bool, err error) {
	size := b.maxPageSize
	if limit > 0 && (size <= 0 || limit < size) {
		size = limit
	}
	if size <= 0 {
		size = 50
	}

	for page := 1; page <= b.maxPages; page++ {
		n, total, err := fetch(ctx, page, size)
		if err != nil {
			if page == 1 {
				return false, err
			}
			b.logger.Warn("page fetch failed, returning collected results", map[string]interface{}{
				"source": b.id.String(),
				"page":   page,
				"error":  err.Error(),
			})
			return true, nil
		}
		if limit > 0 && kept() >= limit {
			return false, nil
		}
		if n < size || (total > 0 && page >= total) {
			return false, nil
		}
	}
	return false, nil
}

// validRecords validates raw upstream records and drops the invalid ones.
func (b *base) validRecords(raws []json.RawMessage, v *validation.RecordValidator) ([]json.RawMessage, int) {
	valid := raws[:0:0]
	skipped := 0
	for i, raw := range raws {
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			skipped++
			continue
		}
		res := v.Validate(doc)
		if !res.Valid {
			skipped++
			b.logger.Warn("skipping invalid upstream record", map[string]interface{}{
				"source": b.id.String(),
				"index":  i,
				"schema": v.Name(),
				"error":  apperrors.NewValidationError(b.id.String(), res.Error()).Error(),
			})
			continue
		}
		valid = append(valid, raw)
	}
	return valid, skipped
}

func (b *base) elapsed(start time.Time) int64 {
	return b.now().Sub(start).Milliseconds()
}

func capLimit(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}

type nopLogger struct{}

func (nopLogger) Debug(string, map[string]interface{}) {}
func (nopLogger) Info(string, map[string]interface{})  {}
func (nopLogger) Warn(string, map[string]interface{})  {}
func (nopLogger) Error(string, map[string]interface{}) {}
