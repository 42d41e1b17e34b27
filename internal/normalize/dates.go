// internal/normalize/dates.go
package normalize

import (
	"fmt"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"02/01/2006 15:04:05",
	"20060102",
}

// ParseDate understands the date formats used by the government APIs.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// ParseDatePtr returns nil instead of an error for empty or unparseable input.
func ParseDatePtr(raw string) *time.Time {
	t, err := ParseDate(raw)
	if err != nil {
		return nil
	}
	return &t
}

// ReferenceMonth normalizes "06/2024", "2024-06", "2024-06-01" or "202406" to "2024-06".
func ReferenceMonth(raw string) string {
	s := strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01", "01/2006", "2006-01-02", "200601", "01-2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01")
		}
	}
	return s
}

// CompactDate formats t as yyyyMMdd, the query format used by PNCP.
func CompactDate(t time.Time) string {
	return t.Format("20060102")
}
