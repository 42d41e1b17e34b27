package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeQuery trims, lowercases and collapses whitespace.
func NormalizeQuery(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// HashKey derives the cache slot for a query string. Queries that differ only
// in case or whitespace share a slot.
func HashKey(query string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return hex.EncodeToString(sum[:])
}

// Key derives a slot from several query parts (query text, filters, page).
// Each part is normalized on its own so separators stay unambiguous.
func Key(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = NormalizeQuery(p)
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "\x1f")))
	return hex.EncodeToString(sum[:])
}
