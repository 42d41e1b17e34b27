package cache

import (
	"compras-aggregator/internal/common/metrics"
	"compras-aggregator/internal/models"
)

type counters struct {
	hits, misses, sets, deletes, errors, fallbackHits int64
}

// SourceStats are the cache counters of one source.
type SourceStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Sets         int64   `json:"sets"`
	Deletes      int64   `json:"deletes"`
	Errors       int64   `json:"errors"`
	FallbackHits int64   `json:"fallbackHits"`
	HitRate      float64 `json:"hitRate"`
}

// Stats is a point-in-time snapshot.
type Stats struct {
	Sources       map[models.SourceID]SourceStats `json:"sources"`
	Total         SourceStats                     `json:"total"`
	Available     bool                            `json:"available"`
	FallbackMode  bool                            `json:"fallbackMode"`
	MemoryEntries int                             `json:"memoryEntries"`
	AlertsSent    int64                           `json:"alertsSent"`
}

func (c *ResponseCache) record(source models.SourceID, op, result string) {
	metrics.CacheOperationsTotal.WithLabelValues(string(source), op, result).Inc()

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s, ok := c.stats[source]
	if !ok {
		s = &counters{}
		c.stats[source] = s
	}
	switch {
	case op == "get" && result == "hit":
		s.hits++
	case op == "get" && result == "fallback_hit":
		s.fallbackHits++
	case op == "get" && result == "miss":
		s.misses++
	case op == "set" && result == "ok":
		s.sets++
	case op == "delete" && result == "ok":
		s.deletes++
	case result == "error":
		s.errors++
	}
}

// GetStats returns per-source and total counters. HitRate counts fallback
// hits as hits.
func (c *ResponseCache) GetStats() Stats {
	c.statsMu.Lock()
	out := Stats{Sources: make(map[models.SourceID]SourceStats, len(c.stats))}
	var total counters
	for id, s := range c.stats {
		out.Sources[id] = snapshot(*s)
		total.hits += s.hits
		total.misses += s.misses
		total.sets += s.sets
		total.deletes += s.deletes
		total.errors += s.errors
		total.fallbackHits += s.fallbackHits
	}
	c.statsMu.Unlock()

	out.Total = snapshot(total)
	out.Available = c.IsAvailable()
	out.FallbackMode = c.IsInFallbackMode()
	out.MemoryEntries = c.memory.size()
	out.AlertsSent = c.alertsSent.Load()
	return out
}

func snapshot(s counters) SourceStats {
	out := SourceStats{
		Hits:         s.hits,
		Misses:       s.misses,
		Sets:         s.sets,
		Deletes:      s.deletes,
		Errors:       s.errors,
		FallbackHits: s.fallbackHits,
	}
	if reads := s.hits + s.fallbackHits + s.misses; reads > 0 {
		out.HitRate = float64(s.hits+s.fallbackHits) / float64(reads)
	}
	return out
}
