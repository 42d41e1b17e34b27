// Package pricing reduces unit-price observations from many sources into
// consolidated, confidence-scored estimates.
package pricing

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"compras-aggregator/internal/common/config"
	"compras-aggregator/internal/common/metrics"
	"compras-aggregator/internal/models"
	"compras-aggregator/internal/normalize"
)

const (
	DefaultOutlierThreshold = 2.5
	DefaultSimilarityBand   = 0.3
	defaultWeight           = 0.8
)

// DefaultSourceWeights ranks official reference tables above contract registries.
var DefaultSourceWeights = map[models.SourceID]float64{
	models.SourceSINAPI:     1.0,
	models.SourceSICRO:      1.0,
	models.SourcePNCP:       0.9,
	models.SourceComprasGov: 0.9,
}

// Options tune one aggregation. Zero values take the aggregator defaults.
type Options struct {
	OutlierThreshold float64
	ExcludeOutliers  *bool
	// SimilarityBand is the minimum min/max price ratio for two items to
	// share a group.
	SimilarityBand float64
	SourceWeights  map[models.SourceID]float64
}

// Result is the output of Aggregate.
type Result struct {
	Query               string                    `json:"query"`
	Aggregations        []models.PriceAggregation `json:"aggregations"`
	TotalPricesAnalyzed int                       `json:"totalPricesAnalyzed"`
	SourcesConsulted    []models.SourceID         `json:"sourcesConsulted"`
	OverallConfidence   models.Confidence         `json:"overallConfidence"`
	MethodologySummary  string                    `json:"methodologySummary"`
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// Aggregator holds the default options. It keeps no state between calls.
type Aggregator struct {
	defaults Options
	logger   Logger
}

func New(defaults Options, logger Logger) *Aggregator {
	if defaults.OutlierThreshold <= 0 {
		defaults.OutlierThreshold = DefaultOutlierThreshold
	}
	if defaults.SimilarityBand <= 0 || defaults.SimilarityBand > 1 {
		defaults.SimilarityBand = DefaultSimilarityBand
	}
	if defaults.ExcludeOutliers == nil {
		exclude := true
		defaults.ExcludeOutliers = &exclude
	}
	if defaults.SourceWeights == nil {
		defaults.SourceWeights = DefaultSourceWeights
	}
	return &Aggregator{defaults: defaults, logger: logger}
}

// OptionsFromConfig maps the pricing config block onto Options.
func OptionsFromConfig(cfg config.PricingConfig) Options {
	opts := Options{
		OutlierThreshold: cfg.OutlierThreshold,
		SimilarityBand:   cfg.SimilarityBand,
		ExcludeOutliers:  cfg.ExcludeOutliers,
	}
	if len(cfg.SourceWeights) > 0 {
		opts.SourceWeights = make(map[models.SourceID]float64, len(cfg.SourceWeights))
		for name, w := range cfg.SourceWeights {
			id, err := models.ParseSourceID(name)
			if err != nil {
				continue
			}
			opts.SourceWeights[id] = w
		}
	}
	return opts
}

func (a *Aggregator) resolve(opts *Options) Options {
	o := a.defaults
	if opts == nil {
		return o
	}
	if opts.OutlierThreshold > 0 {
		o.OutlierThreshold = opts.OutlierThreshold
	}
	if opts.SimilarityBand > 0 && opts.SimilarityBand <= 1 {
		o.SimilarityBand = opts.SimilarityBand
	}
	if opts.ExcludeOutliers != nil {
		o.ExcludeOutliers = opts.ExcludeOutliers
	}
	if opts.SourceWeights != nil {
		o.SourceWeights = opts.SourceWeights
	}
	return o
}

func (o Options) weight(source models.SourceID) float64 {
	if w, ok := o.SourceWeights[source]; ok && w > 0 {
		return w
	}
	return defaultWeight
}

type observation struct {
	item  models.PriceItem
	unit  string
	price float64
}

// Aggregate groups the price observations and computes one consolidated
// estimate per group. The output depends only on the input and options.
func (a *Aggregator) Aggregate(query string, bySource [][]models.PriceItem, opts *Options) *Result {
	o := a.resolve(opts)

	var obs []observation
	var consulted []models.SourceID
	seen := make(map[models.SourceID]bool)
	for _, list := range bySource {
		for _, item := range list {
			if !seen[item.Source] {
				seen[item.Source] = true
				consulted = append(consulted, item.Source)
			}
			if item.UnitPrice <= 0 || math.IsNaN(item.UnitPrice) || math.IsInf(item.UnitPrice, 0) {
				a.warn("skipping price without a positive value", map[string]interface{}{
					"source": item.Source.String(),
					"id":     item.ID,
				})
				continue
			}
			obs = append(obs, observation{
				item:  item,
				unit:  normalize.NormalizeUnit(item.Unit),
				price: item.UnitPrice,
			})
		}
	}

	groups := group(obs, o.SimilarityBand)
	aggs := make([]models.PriceAggregation, 0, len(groups))
	totalOutliers := 0
	for _, g := range groups {
		agg := summarize(g, o)
		totalOutliers += agg.OutlierCount
		metrics.AggregationConfidence.WithLabelValues(string(agg.Confidence)).Inc()
		aggs = append(aggs, agg)
	}
	sort.SliceStable(aggs, func(i, j int) bool { return aggs[i].SourceCount > aggs[j].SourceCount })

	overall := OverallConfidence(aggs)
	return &Result{
		Query:               query,
		Aggregations:        aggs,
		TotalPricesAnalyzed: len(obs),
		SourcesConsulted:    consulted,
		OverallConfidence:   overall,
		MethodologySummary:  methodology(len(obs), len(consulted), aggs, totalOutliers, o),
	}
}

// group is the greedy unit+magnitude grouping. Each group holds at most one
// observation per source; items from the same source stay independent.
func group(obs []observation, band float64) [][]observation {
	assigned := make([]bool, len(obs))
	var groups [][]observation
	for i, seed := range obs {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		g := []observation{seed}
		sources := map[models.SourceID]bool{seed.item.Source: true}

		for j := i + 1; j < len(obs); j++ {
			cand := obs[j]
			if assigned[j] || cand.unit != seed.unit || sources[cand.item.Source] {
				continue
			}
			if ratio(seed.price, cand.price) < band {
				continue
			}
			assigned[j] = true
			sources[cand.item.Source] = true
			g = append(g, cand)
		}
		groups = append(groups, g)
	}
	return groups
}

func ratio(a, b float64) float64 {
	lo, hi := math.Min(a, b), math.Max(a, b)
	if hi == 0 {
		return 0
	}
	return lo / hi
}

func summarize(g []observation, o Options) models.PriceAggregation {
	seed := g[0]
	agg := models.PriceAggregation{
		Description: describe(seed.item),
		Unit:        seed.unit,
	}

	if len(g) == 1 {
		p := normalize.RoundPrice(seed.price)
		agg.AveragePrice, agg.MedianPrice, agg.MinPrice, agg.MaxPrice = p, p, p, p
		agg.Sources = []models.PriceItem{seed.item}
		agg.SourceCount = 1
		agg.Confidence = models.ConfidenceLow
		return agg
	}

	kept := g
	if *o.ExcludeOutliers && len(g) >= 3 {
		values := prices(g)
		scores := looZScores(values)
		var retained []observation
		for i, s := range scores {
			if s <= o.OutlierThreshold {
				retained = append(retained, g[i])
			}
		}
		if len(retained) >= 2 && len(retained) < len(g) {
			agg.OutliersExcluded = true
			agg.OutlierCount = len(g) - len(retained)
			kept = retained
		}
	}

	values := prices(kept)
	weights := make([]float64, len(kept))
	for i, ob := range kept {
		weights[i] = o.weight(ob.item.Source)
		agg.Sources = append(agg.Sources, ob.item)
	}

	m := mean(values)
	lo, hi := minMax(values)
	cv := 0.0
	if m > 0 {
		cv = stdDev(values) / m
	}

	agg.AveragePrice = normalize.RoundPrice(weightedAverage(values, weights))
	agg.MedianPrice = normalize.RoundPrice(median(values))
	agg.MinPrice = normalize.RoundPrice(lo)
	agg.MaxPrice = normalize.RoundPrice(hi)
	agg.CoefficientOfVariation = normalize.Round(cv, 4)
	agg.SourceCount = len(kept)
	agg.Confidence = confidence(agg.SourceCount, cv)
	return agg
}

func prices(g []observation) []float64 {
	out := make([]float64, len(g))
	for i, ob := range g {
		out[i] = ob.price
	}
	return out
}

func describe(item models.PriceItem) string {
	if item.Description != "" {
		return item.Description
	}
	return item.Title
}

func confidence(sourceCount int, cv float64) models.Confidence {
	switch {
	case sourceCount >= 3 && cv < 0.3:
		return models.ConfidenceHigh
	case sourceCount >= 2 && (sourceCount == 2 || cv < 0.5):
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// OverallConfidence rounds the mean confidence score of all groups.
func OverallConfidence(aggs []models.PriceAggregation) models.Confidence {
	if len(aggs) == 0 {
		return models.ConfidenceLow
	}
	total := 0
	for _, a := range aggs {
		total += a.Confidence.Score()
	}
	avg := float64(total) / float64(len(aggs))
	switch {
	case avg >= 2.5:
		return models.ConfidenceHigh
	case avg >= 1.5:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

func methodology(total, sources int, aggs []models.PriceAggregation, outliers int, o Options) string {
	if total == 0 {
		return "No prices were available to analyze."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Analyzed %d prices from %d sources into %d groups by unit and price magnitude (min/max ratio >= %.2f).",
		total, sources, len(aggs), o.SimilarityBand)
	if *o.ExcludeOutliers {
		fmt.Fprintf(&b, " Outliers beyond a z-score of %.1f were excluded from groups of three or more (%d excluded).",
			o.OutlierThreshold, outliers)
	} else {
		b.WriteString(" Outlier exclusion was disabled.")
	}
	b.WriteString(" Average prices are weighted by source reliability; medians are reported unweighted.")
	return b.String()
}

func (a *Aggregator) warn(msg string, fields map[string]interface{}) {
	if a.logger != nil {
		a.logger.Warn(msg, fields)
	}
}
