// internal/models/source.go
package models

import (
	"fmt"
	"strings"
)

// SourceID identifies an upstream API. It partitions cache keys, metrics and config.
type SourceID string

const (
	SourcePNCP       SourceID = "PNCP"
	SourceComprasGov SourceID = "COMPRASGOV"
	SourceSINAPI     SourceID = "SINAPI"
	SourceSICRO      SourceID = "SICRO"
	SourceWebSearch  SourceID = "WEB_SEARCH"
)

// SourceKind separates contract registries from price-reference tables.
type SourceKind string

const (
	KindContracts SourceKind = "contracts"
	KindPrices    SourceKind = "prices"
	KindFallback  SourceKind = "fallback"
)

// KnownSources lists every SourceID in a stable order.
var KnownSources = []SourceID{SourcePNCP, SourceComprasGov, SourceSINAPI, SourceSICRO, SourceWebSearch}

func (s SourceID) String() string { return string(s) }

// Lower returns the lowercase form used in config keys and cache prefixes.
func (s SourceID) Lower() string { return strings.ToLower(string(s)) }

// Kind reports which kind of data the source serves.
func (s SourceID) Kind() SourceKind {
	switch s {
	case SourceSINAPI, SourceSICRO:
		return KindPrices
	case SourceWebSearch:
		return KindFallback
	default:
		return KindContracts
	}
}

// ParseSourceID accepts any casing and the dashed/underscored variants.
func ParseSourceID(raw string) (SourceID, error) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	norm = strings.ReplaceAll(norm, "-", "_")
	for _, s := range KnownSources {
		if string(s) == norm {
			return s, nil
		}
	}
	if norm == "WEBSEARCH" || norm == "WEB" {
		return SourceWebSearch, nil
	}
	return "", fmt.Errorf("unknown source %q", raw)
}
