package search

import (
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"compras-aggregator/internal/models"
	"compras-aggregator/internal/normalize"
)

// DefaultSimilarityThreshold is the similarity at or above which two contracts
// of the same organization are the same record.
const DefaultSimilarityThreshold = 0.85

// Similarity returns 1 - levenshtein/maxLen over the folded texts.
func Similarity(a, b string) float64 {
	fa, fb := normalize.Fold(a), normalize.Fold(b)
	if fa == fb {
		return 1
	}
	maxLen := utf8.RuneCountInString(fa)
	if n := utf8.RuneCountInString(fb); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(fa, fb))/float64(maxLen)
}

// Deduplicate collapses near-identical contracts of the same contracting
// organization, keeping the more relevant record, and sorts by relevance.
// Comparison is quadratic within a tax id group only. Contracts without a tax
// id are never merged.
func Deduplicate(items []models.ContractItem, threshold float64) []models.ContractItem {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	out := make([]models.ContractItem, 0, len(items))
	groups := make(map[string][]int)
	for _, item := range items {
		taxID := normalize.DigitsOnly(item.ContractingOrg.TaxID)
		if taxID == "" {
			out = append(out, item)
			continue
		}

		merged := false
		for _, idx := range groups[taxID] {
			if Similarity(compareText(out[idx]), compareText(item)) >= threshold {
				if item.Relevance > out[idx].Relevance {
					out[idx] = item
				}
				merged = true
				break
			}
		}
		if !merged {
			groups[taxID] = append(groups[taxID], len(out))
			out = append(out, item)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out
}

func compareText(c models.ContractItem) string {
	if c.Object != "" {
		return c.Object
	}
	return c.Title
}
