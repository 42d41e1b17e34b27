// Package search fans a query out to every source adapter, isolates slow or
// failing sources from each other and consolidates one response.
package search

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"compras-aggregator/internal/common/config"
	"compras-aggregator/internal/common/metrics"
	"compras-aggregator/internal/models"
	"compras-aggregator/internal/sources"
)

// Phase is a step of the per-search state machine.
type Phase string

const (
	PhaseDispatched   Phase = "DISPATCHED"
	PhaseRunning      Phase = "RUNNING"
	PhaseSucceeded    Phase = "SUCCEEDED"
	PhaseFailed       Phase = "FAILED"
	PhaseTimedOut     Phase = "TIMED_OUT"
	PhaseCollected    Phase = "COLLECTED"
	PhaseConsolidated Phase = "CONSOLIDATED"
	PhaseFallback     Phase = "FALLBACK"
	PhaseReturned     Phase = "RETURNED"
)

// PhaseEvent records one transition. Source is set for per-source phases.
type PhaseEvent struct {
	Phase  Phase           `json:"phase"`
	Source models.SourceID `json:"source,omitempty"`
	At     time.Time       `json:"at"`
}

// Options are the per-call search options.
type Options struct {
	IncludePriceSources bool
	Region              string
	DateRange           models.DateRange
	MaxPerSource        int
	// EnableFallback overrides the configured fallback switch when set.
	EnableFallback *bool
}

// Result is the consolidated response of one search.
type Result struct {
	SearchID       string                                 `json:"searchId"`
	Query          string                                 `json:"query"`
	Contracts      []models.ContractItem                  `json:"contracts"`
	Prices         map[models.SourceID][]models.PriceItem `json:"prices"`
	Sources        []string                               `json:"sources"`
	FallbackUsed   bool                                   `json:"fallbackUsed"`
	TotalResults   int                                    `json:"totalResults"`
	Status         models.Status                          `json:"status"`
	SourceStatuses []models.SourceStatus                  `json:"sourceStatuses"`
	StatusMessage  string                                 `json:"statusMessage"`
	Phases         []PhaseEvent                           `json:"phases,omitempty"`
	StartedAt      time.Time                              `json:"startedAt"`
	DurationMs     int64                                  `json:"durationMs"`
}

// PriceLists returns the price items grouped per source in a stable order,
// the input shape of the price aggregator.
func (r *Result) PriceLists() [][]models.PriceItem {
	ids := make([]string, 0, len(r.Prices))
	for id := range r.Prices {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	out := make([][]models.PriceItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.Prices[models.SourceID(id)])
	}
	return out
}

// Config drives the orchestrator.
type Config struct {
	FallbackThreshold   int
	FallbackEnabled     bool
	DefaultMaxPerSource int
	DefaultTimeout      time.Duration
	SourceTimeouts      map[models.SourceID]time.Duration
	SimilarityThreshold float64
}

// ConfigFromApp builds Config from the application config.
func ConfigFromApp(cfg *config.Config) Config {
	c := Config{
		FallbackThreshold:   cfg.Search.FallbackThreshold,
		FallbackEnabled:     cfg.Search.FallbackEnabled,
		DefaultMaxPerSource: cfg.Search.DefaultMaxPerSource,
		DefaultTimeout:      config.GetDuration(cfg.Search.DefaultTimeout),
		SourceTimeouts:      make(map[models.SourceID]time.Duration),
	}
	for _, id := range models.KnownSources {
		if sc, ok := cfg.Sources[id.Lower()]; ok && sc.SearchTimeout > 0 {
			c.SourceTimeouts[id] = config.GetDuration(sc.SearchTimeout)
		}
	}
	return c
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Recorder persists a summary of finished searches.
type Recorder interface {
	Record(ctx context.Context, r *Result) error
}

type Option func(*Orchestrator)

// WithRecorder stores every finished search through r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithClock replaces the wall clock used for phases and durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs searches across the primary adapters and, when results are
// scarce, the fallback adapter.
type Orchestrator struct {
	adapters []sources.Adapter
	fallback sources.Adapter
	cfg      Config
	logger   Logger
	recorder Recorder
	now      func() time.Time
}

// New builds an orchestrator. fallback may be nil.
func New(adapters []sources.Adapter, fallback sources.Adapter, cfg Config, logger Logger, opts ...Option) *Orchestrator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	if cfg.DefaultMaxPerSource <= 0 {
		cfg.DefaultMaxPerSource = 50
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if logger == nil {
		logger = nopLogger{}
	}
	o := &Orchestrator{
		adapters: adapters,
		fallback: fallback,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Adapters returns the primary adapters followed by the fallback, if any.
func (o *Orchestrator) Adapters() []sources.Adapter {
	out := append([]sources.Adapter(nil), o.adapters...)
	if o.fallback != nil {
		out = append(out, o.fallback)
	}
	return out
}

type phaseLog struct {
	mu     sync.Mutex
	now    func() time.Time
	events []PhaseEvent
}

func (p *phaseLog) add(phase Phase, source models.SourceID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PhaseEvent{Phase: phase, Source: source, At: p.now()})
}

func (p *phaseLog) snapshot() []PhaseEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PhaseEvent(nil), p.events...)
}

// Search never returns an error; failures are reported through Status,
// SourceStatuses and StatusMessage.
func (o *Orchestrator) Search(ctx context.Context, query string, opts Options) *Result {
	start := o.now()
	phases := &phaseLog{now: o.now}

	result := &Result{
		SearchID:  uuid.New().String(),
		Query:     query,
		Prices:    make(map[models.SourceID][]models.PriceItem),
		StartedAt: start.UTC(),
	}

	selected := o.selectAdapters(opts)
	filters := models.SearchFilters{
		Region:    opts.Region,
		DateRange: opts.DateRange,
		Limit:     opts.MaxPerSource,
	}
	if filters.Limit <= 0 {
		filters.Limit = o.cfg.DefaultMaxPerSource
	}

	phases.add(PhaseDispatched, "")
	outcomes := make([]sources.Result, len(selected))
	var g errgroup.Group
	for i, a := range selected {
		g.Go(func() error {
			outcomes[i] = o.runSource(ctx, a, query, filters, phases)
			return nil
		})
	}
	_ = g.Wait()
	phases.add(PhaseCollected, "")

	var contracts []models.ContractItem
	for i, a := range selected {
		out := outcomes[i]
		result.Sources = append(result.Sources, a.ID().String())
		result.SourceStatuses = append(result.SourceStatuses, out.Status)
		metrics.SearchSourceStatus.WithLabelValues(a.ID().String(), string(out.Status.Status)).Inc()

		if a.Kind() == models.KindPrices {
			if len(out.Prices) > 0 {
				result.Prices[a.ID()] = out.Prices
			}
			continue
		}
		contracts = append(contracts, out.Contracts...)
	}

	result.Status = OverallStatus(result.SourceStatuses)
	result.Contracts = Deduplicate(contracts, o.cfg.SimilarityThreshold)
	phases.add(PhaseConsolidated, "")

	if o.shouldFallback(opts, len(result.Contracts)) {
		phases.add(PhaseFallback, o.fallback.ID())
		o.runFallback(ctx, query, filters, result, phases)
	}

	result.TotalResults = len(result.Contracts)
	for _, prices := range result.Prices {
		result.TotalResults += len(prices)
	}
	result.StatusMessage = StatusMessage(result.Status, result.TotalResults, result.SourceStatuses)
	if result.FallbackUsed {
		result.StatusMessage += " Results were supplemented by web search."
	}

	phases.add(PhaseReturned, "")
	result.Phases = phases.snapshot()
	result.DurationMs = o.now().Sub(start).Milliseconds()

	metrics.SearchOverallStatus.WithLabelValues(string(result.Status)).Inc()
	metrics.SearchDuration.Observe(o.now().Sub(start).Seconds())

	o.logger.Info("search completed", map[string]interface{}{
		"search_id":     result.SearchID,
		"query":         query,
		"status":        string(result.Status),
		"total_results": result.TotalResults,
		"fallback_used": result.FallbackUsed,
		"duration_ms":   result.DurationMs,
	})

	if o.recorder != nil {
		if err := o.recorder.Record(ctx, result); err != nil {
			o.logger.Warn("failed to record search", map[string]interface{}{
				"search_id": result.SearchID,
				"error":     err.Error(),
			})
		}
	}
	return result
}

func (o *Orchestrator) selectAdapters(opts Options) []sources.Adapter {
	var out []sources.Adapter
	for _, a := range o.adapters {
		switch a.Kind() {
		case models.KindContracts:
			out = append(out, a)
		case models.KindPrices:
			if opts.IncludePriceSources {
				out = append(out, a)
			}
		}
	}
	return out
}

func (o *Orchestrator) timeoutFor(id models.SourceID) time.Duration {
	if d, ok := o.cfg.SourceTimeouts[id]; ok && d > 0 {
		return d
	}
	return o.cfg.DefaultTimeout
}

// runSource calls one adapter under its own timeout. When the bound expires
// the call is abandoned: it may keep running, but its result is discarded.
func (o *Orchestrator) runSource(ctx context.Context, a sources.Adapter, query string,
	filters models.SearchFilters, phases *phaseLog) sources.Result {

	id := a.ID()
	timeout := o.timeoutFor(id)
	start := o.now()
	phases.add(PhaseRunning, id)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan sources.Result, 1)
	go func() {
		done <- a.Search(runCtx, query, filters)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.Status.Status.IsFailure() {
			if res.Status.Status == models.StatusTimeout {
				phases.add(PhaseTimedOut, id)
			} else {
				phases.add(PhaseFailed, id)
			}
		} else {
			phases.add(PhaseSucceeded, id)
		}
		return res
	case <-timer.C:
		phases.add(PhaseTimedOut, id)
		o.logger.Warn("source timed out", map[string]interface{}{
			"source":     id.String(),
			"timeout_ms": timeout.Milliseconds(),
		})
		return sources.Result{Status: models.SourceStatus{
			Source:    id,
			Status:    models.StatusTimeout,
			Error:     "source did not respond within " + timeout.String(),
			LatencyMs: o.now().Sub(start).Milliseconds(),
		}}
	}
}

func (o *Orchestrator) shouldFallback(opts Options, contracts int) bool {
	if o.fallback == nil {
		return false
	}
	enabled := o.cfg.FallbackEnabled
	if opts.EnableFallback != nil {
		enabled = *opts.EnableFallback
	}
	return enabled && contracts < o.cfg.FallbackThreshold
}

// runFallback issues the supplementary web search once and appends its items
// after the authoritative ones, skipping URLs already present.
func (o *Orchestrator) runFallback(ctx context.Context, query string, filters models.SearchFilters,
	result *Result, phases *phaseLog) {

	out := o.runSource(ctx, o.fallback, query, filters, phases)
	result.FallbackUsed = true
	result.Sources = append(result.Sources, o.fallback.ID().String())
	result.SourceStatuses = append(result.SourceStatuses, out.Status)
	metrics.SearchSourceStatus.WithLabelValues(o.fallback.ID().String(), string(out.Status.Status)).Inc()

	seen := make(map[string]struct{}, len(result.Contracts))
	for _, c := range result.Contracts {
		if c.URL != "" {
			seen[sources.CanonicalURL(c.URL)] = struct{}{}
		}
	}
	added := 0
	for _, c := range out.Contracts {
		key := sources.CanonicalURL(c.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		c.Provenance = models.ProvenanceFallback
		result.Contracts = append(result.Contracts, c)
		added++
	}
	o.logger.Info("fallback search spliced", map[string]interface{}{
		"status": string(out.Status.Status),
		"added":  added,
	})
}

type nopLogger struct{}

func (nopLogger) Debug(string, map[string]interface{}) {}
func (nopLogger) Info(string, map[string]interface{})  {}
func (nopLogger) Warn(string, map[string]interface{})  {}
func (nopLogger) Error(string, map[string]interface{}) {}
