// internal/normalize/money.go
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseMoney accepts JSON numbers and Brazilian-formatted strings
// ("R$ 1.234,56") and returns the value as float64.
func ParseMoney(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, fmt.Errorf("empty monetary value")
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return 0, fmt.Errorf("invalid monetary value %q: %w", v, err)
		}
		return d.InexactFloat64(), nil
	case string:
		d, err := ParseDecimal(v)
		if err != nil {
			return 0, err
		}
		return d.InexactFloat64(), nil
	default:
		return 0, fmt.Errorf("unsupported monetary type %T", raw)
	}
}

// ParseDecimal parses a money string in either BR ("1.234,56") or plain
// ("1234.56") notation.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty monetary value")
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid monetary value %q: %w", raw, err)
	}
	return d, nil
}

// RoundPrice rounds to centavos.
func RoundPrice(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Round rounds to the given number of decimal places.
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// FormatBRL renders v as "R$ 1.234,56".
func FormatBRL(v float64) string {
	fixed := decimal.NewFromFloat(v).StringFixed(2)
	neg := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	intPart, frac, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	out := "R$ " + b.String() + "," + frac
	if neg {
		out = "-" + out
	}
	return out
}
