package sources

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	httpc "compras-aggregator/internal/common/http"
	"compras-aggregator/internal/common/validation"
	"compras-aggregator/internal/models"
	"compras-aggregator/internal/normalize"
)

const (
	webSearchMaxResults = 10
	govHostBoost        = 0.2
)

var webSearchSchema = validation.MustRecordValidator("websearch.item", validation.Object(
	[]string{"title", "link"},
	map[string]interface{}{
		"title":   validation.Type("string"),
		"link":    map[string]interface{}{"type": "string", "minLength": 1},
		"snippet": validation.Type("string", "null"),
	},
))

type webSearchResponse struct {
	Items []json.RawMessage `json:"items"`
}

type webSearchItem struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Snippet     string `json:"snippet"`
	DisplayLink string `json:"displayLink"`
}

// WebSearch is the fallback variant backed by a custom search engine API.
// Its items are tagged with fallback provenance and never mixed with
// authoritative statuses.
type WebSearch struct {
	*base
	apiKey   string
	engineID string
}

func NewWebSearch(b *base, apiKey, engineID string) *WebSearch {
	if b.maxPageSize <= 0 || b.maxPageSize > webSearchMaxResults {
		b.maxPageSize = webSearchMaxResults
	}
	return &WebSearch{base: b, apiKey: apiKey, engineID: engineID}
}

func (w *WebSearch) Search(ctx context.Context, query string, filters models.SearchFilters) Result {
	return w.search(ctx, query, filters, func(ctx context.Context) (cachedSearch, error) {
		var out cachedSearch

		num := w.maxPageSize
		if filters.Limit > 0 && filters.Limit < num {
			num = filters.Limit
		}
		q := url.Values{}
		q.Set("key", w.apiKey)
		q.Set("cx", w.engineID)
		q.Set("q", webQuery(query, filters.Region))
		q.Set("num", strconv.Itoa(num))
		q.Set("lr", "lang_pt")

		resp, err := w.client.Request(ctx, httpc.RequestSpec{Query: q})
		if err != nil {
			return cachedSearch{}, err
		}
		var body webSearchResponse
		if err := resp.JSON(&body); err != nil {
			return cachedSearch{}, err
		}

		valid, skipped := w.validRecords(body.Items, webSearchSchema)
		if skipped > 0 {
			out.Partial = true
		}
		seen := make(map[string]struct{}, len(valid))
		for _, raw := range valid {
			var it webSearchItem
			if err := json.Unmarshal(raw, &it); err != nil {
				out.Partial = true
				continue
			}
			key := CanonicalURL(it.Link)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out.Contracts = append(out.Contracts, w.normalize(it, query))
		}
		out.Contracts = out.Contracts[:capLimit(len(out.Contracts), filters.Limit)]
		return out, nil
	})
}

// GetByID is not supported by search engines; it always reports not found.
func (w *WebSearch) GetByID(ctx context.Context, id string) (models.Item, error) {
	return nil, nil
}

func (w *WebSearch) HealthCheck(ctx context.Context) Health {
	q := url.Values{}
	q.Set("key", w.apiKey)
	q.Set("cx", w.engineID)
	q.Set("q", "licitação")
	q.Set("num", "1")
	return w.healthCheck(ctx, httpc.RequestSpec{Query: q})
}

func (w *WebSearch) normalize(it webSearchItem, query string) models.ContractItem {
	title := normalize.CollapseSpaces(it.Title)
	snippet := normalize.CollapseSpaces(it.Snippet)

	relevance := normalize.Relevance(query, title, snippet)
	host := hostOf(it.Link)
	if isGovHost(host) {
		relevance = normalize.Clamp01(relevance + govHostBoost)
	}

	return models.ContractItem{
		NormalizedItem: models.NormalizedItem{
			ID:          CanonicalURL(it.Link),
			Title:       truncate(title, 160),
			Description: snippet,
			Source:      models.SourceWebSearch,
			URL:         it.Link,
			Relevance:   relevance,
			Metadata: map[string]interface{}{
				"host": host,
			},
			FetchedAt:  w.now().UTC(),
			Provenance: models.ProvenanceFallback,
		},
		Object: snippet,
	}
}

func webQuery(query, region string) string {
	q := strings.TrimSpace(query) + " licitação OR contrato OR pregão"
	if region != "" {
		q += " " + strings.ToUpper(region)
	}
	return q
}

func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func isGovHost(host string) bool {
	return host == "gov.br" || strings.HasSuffix(host, ".gov.br")
}

// CanonicalURL lowercases scheme and host and drops fragments and trailing
// slashes so the same page found twice compares equal.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(strings.TrimSpace(raw)), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}
