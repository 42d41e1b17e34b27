// Package normalize holds the shared normalization rules applied to upstream
// records: text folding, units, money and dates.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopwords = map[string]struct{}{
	"a": {}, "o": {}, "as": {}, "os": {}, "de": {}, "da": {}, "do": {}, "das": {}, "dos": {},
	"e": {}, "em": {}, "na": {}, "no": {}, "nas": {}, "nos": {}, "para": {}, "por": {},
	"com": {}, "sem": {}, "um": {}, "uma": {}, "ao": {}, "aos": {},
}

// StripAccents removes combining marks ("licitação" -> "licitacao").
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold lowercases, strips accents, turns punctuation into spaces and collapses
// whitespace. Two texts that differ only in formatting fold to the same string.
func Fold(s string) string {
	s = strings.ToLower(StripAccents(s))
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// CollapseSpaces trims and reduces any whitespace run to one space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Tokens returns the folded, stopword-free terms of s.
func Tokens(s string) []string {
	fields := strings.Fields(Fold(s))
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Relevance scores how well texts cover the query terms, in [0,1]. A match in
// the first text (the title) counts more than a match elsewhere.
func Relevance(query string, texts ...string) float64 {
	terms := Tokens(query)
	if len(terms) == 0 || len(texts) == 0 {
		return 0
	}

	primary := tokenSet(texts[0])
	secondary := make(map[string]struct{})
	for _, t := range texts[1:] {
		for k := range tokenSet(t) {
			secondary[k] = struct{}{}
		}
	}

	var score float64
	for _, term := range terms {
		if _, ok := primary[term]; ok {
			score += 1
		} else if _, ok := secondary[term]; ok {
			score += 0.6
		}
	}
	score /= float64(len(terms))

	if strings.Contains(Fold(texts[0]), Fold(query)) {
		score += 0.15
	}
	return Clamp01(score)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokens(s) {
		set[t] = struct{}{}
	}
	return set
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DigitsOnly keeps only ASCII digits; used for CNPJ tax ids.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
