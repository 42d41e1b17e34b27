package search

import (
	"fmt"
	"strings"

	"compras-aggregator/internal/models"
)

// failurePreference breaks ties between equally common failure kinds.
var failurePreference = []models.Status{
	models.StatusServiceUnavailable,
	models.StatusTimeout,
	models.StatusRateLimited,
}

// OverallStatus derives the status of a whole search from its per-source
// statuses: all SUCCESS is SUCCESS, all failed is the most common failure
// kind, anything else is PARTIAL. No statuses at all is SERVICE_UNAVAILABLE.
func OverallStatus(statuses []models.SourceStatus) models.Status {
	if len(statuses) == 0 {
		return models.StatusServiceUnavailable
	}

	succeeded, failed := 0, 0
	counts := make(map[models.Status]int)
	for _, s := range statuses {
		switch {
		case s.Status == models.StatusSuccess:
			succeeded++
		case s.Status.IsFailure():
			failed++
			counts[s.Status]++
		}
	}

	switch {
	case succeeded == len(statuses):
		return models.StatusSuccess
	case failed == len(statuses):
		best, bestCount := models.StatusServiceUnavailable, -1
		for _, st := range failurePreference {
			if counts[st] > bestCount {
				best, bestCount = st, counts[st]
			}
		}
		return best
	default:
		return models.StatusPartial
	}
}

// StatusMessage is the human-readable summary shown to callers. It keeps
// "nothing matched" apart from "sources are down".
func StatusMessage(status models.Status, total int, statuses []models.SourceStatus) string {
	var down []string
	for _, s := range statuses {
		if s.Status.IsFailure() {
			down = append(down, fmt.Sprintf("%s: %s", s.Source, s.Status))
		}
	}

	switch status {
	case models.StatusSuccess:
		if total == 0 {
			return fmt.Sprintf("No results found for this query. All %d sources responded.", len(statuses))
		}
		return fmt.Sprintf("Found %d results from %d sources.", total, len(statuses))
	case models.StatusPartial:
		detail := ""
		if len(down) > 0 {
			detail = fmt.Sprintf(" %d of %d sources unavailable (%s).", len(down), len(statuses), strings.Join(down, ", "))
		} else {
			detail = " Some sources returned incomplete data."
		}
		if total == 0 {
			return "No results from the sources that responded." + detail
		}
		return fmt.Sprintf("Found %d results.", total) + detail
	case models.StatusTimeout:
		return "All sources timed out. Try again later."
	case models.StatusRateLimited:
		return "All sources are rate limiting requests. Try again in a few minutes."
	}
	if len(statuses) == 0 {
		return "No sources are configured for this search."
	}
	return fmt.Sprintf("All sources are unavailable (%s). Try again later.", strings.Join(down, ", "))
}
