package sources

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	apperrors "compras-aggregator/internal/common/errors"
	httpc "compras-aggregator/internal/common/http"
	"compras-aggregator/internal/common/validation"
	"compras-aggregator/internal/models"
)

// priceTable describes one paginated price-reference endpoint.
type priceTable struct {
	path      string
	maxSize   int
	schema    *validation.RecordValidator
	normalize func(raw json.RawMessage, query string) (models.PriceItem, error)
}

type priceTablePage struct {
	Data         []json.RawMessage `json:"data"`
	TotalPaginas int               `json:"totalPaginas"`
}

func (b *base) searchPriceTable(ctx context.Context, t priceTable, query string, filters models.SearchFilters) Result {
	return b.search(ctx, query, filters, func(ctx context.Context) (cachedSearch, error) {
		var out cachedSearch

		partial, err := b.paginate(ctx, filters.Limit, func() int { return len(out.Prices) },
			func(ctx context.Context, page, size int) (int, int, error) {
				q := url.Values{}
				q.Set("q", query)
				q.Set("pagina", strconv.Itoa(page))
				q.Set("tamanhoPagina", strconv.Itoa(size))
				if filters.Region != "" {
					q.Set("uf", strings.ToUpper(filters.Region))
				}
				if !filters.DateRange.To.IsZero() {
					q.Set("mesReferencia", filters.DateRange.To.Format("2006-01"))
				}

				resp, err := b.client.Request(ctx, httpc.RequestSpec{Path: t.path, Query: q})
				if err != nil {
					return 0, 0, err
				}
				var body priceTablePage
				if err := resp.JSON(&body); err != nil {
					return 0, 0, err
				}

				valid, skipped := b.validRecords(body.Data, t.schema)
				if skipped > 0 {
					out.Partial = true
				}
				for _, raw := range valid {
					item, err := t.normalize(raw, query)
					if err != nil {
						b.logger.Warn("skipping unparseable price record", map[string]interface{}{
							"source": b.id.String(),
							"error":  err.Error(),
						})
						out.Partial = true
						continue
					}
					if query != "" && item.Relevance == 0 {
						continue
					}
					out.Prices = append(out.Prices, item)
				}
				return len(body.Data), body.TotalPaginas, nil
			})
		if err != nil {
			return cachedSearch{}, err
		}
		if partial {
			out.Partial = true
			out.Truncated = true
		}
		out.Prices = out.Prices[:capLimit(len(out.Prices), filters.Limit)]
		return out, nil
	})
}

func (b *base) getPriceByID(ctx context.Context, t priceTable, id string) (models.Item, error) {
	return b.getByID(ctx, id, func() models.Item { return &models.PriceItem{} },
		func(ctx context.Context) (models.Item, error) {
			id = strings.TrimSpace(id)
			if id == "" {
				return nil, nil
			}
			resp, err := b.client.Request(ctx, httpc.RequestSpec{
				Path: t.path + "/" + url.PathEscape(id),
			})
			if err != nil {
				return nil, err
			}

			var doc interface{}
			if err := json.Unmarshal(resp.Body, &doc); err != nil {
				return nil, err
			}
			if res := t.schema.Validate(doc); !res.Valid {
				return nil, apperrors.NewValidationError(b.id.String(), res.Error())
			}
			item, err := t.normalize(resp.Body, "")
			if err != nil {
				return nil, err
			}
			item.Relevance = 1
			return &item, nil
		})
}

func (b *base) priceTableHealth(ctx context.Context, t priceTable) Health {
	q := url.Values{}
	q.Set("pagina", "1")
	q.Set("tamanhoPagina", "1")
	return b.healthCheck(ctx, httpc.RequestSpec{Path: t.path, Query: q})
}
