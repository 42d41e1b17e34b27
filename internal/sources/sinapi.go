package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"compras-aggregator/internal/common/validation"
	"compras-aggregator/internal/models"
	"compras-aggregator/internal/normalize"
)

var sinapiSchema = validation.MustRecordValidator("sinapi.insumo", validation.Object(
	[]string{"codigo", "descricao", "unidade", "preco"},
	map[string]interface{}{
		"codigo":        validation.Type("string", "integer"),
		"descricao":     map[string]interface{}{"type": "string", "minLength": 1},
		"unidade":       validation.Type("string"),
		"preco":         validation.Type("number", "string"),
		"uf":            validation.Type("string", "null"),
		"mesReferencia": validation.Type("string", "null"),
		"desonerado":    validation.Type("boolean", "null"),
	},
))

type sinapiRecord struct {
	Codigo        interface{} `json:"codigo"`
	Descricao     string      `json:"descricao"`
	Unidade       string      `json:"unidade"`
	Preco         interface{} `json:"preco"`
	UF            string      `json:"uf"`
	MesReferencia string      `json:"mesReferencia"`
	Desonerado    bool        `json:"desonerado"`
	Classe        string      `json:"classe"`
}

// SINAPI adapts the construction inputs price table maintained by Caixa.
type SINAPI struct {
	*base
	table priceTable
}

func NewSINAPI(b *base) *SINAPI {
	s := &SINAPI{base: b}
	s.table = priceTable{
		path:      "/v1/insumos",
		maxSize:   100,
		schema:    sinapiSchema,
		normalize: s.normalize,
	}
	if b.maxPageSize <= 0 || b.maxPageSize > s.table.maxSize {
		b.maxPageSize = s.table.maxSize
	}
	return s
}

func (s *SINAPI) Search(ctx context.Context, query string, filters models.SearchFilters) Result {
	return s.searchPriceTable(ctx, s.table, query, filters)
}

func (s *SINAPI) GetByID(ctx context.Context, id string) (models.Item, error) {
	return s.getPriceByID(ctx, s.table, id)
}

func (s *SINAPI) HealthCheck(ctx context.Context) Health {
	return s.priceTableHealth(ctx, s.table)
}

func (s *SINAPI) normalize(raw json.RawMessage, query string) (models.PriceItem, error) {
	var rec sinapiRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.PriceItem{}, err
	}
	price, err := normalize.ParseMoney(rec.Preco)
	if err != nil {
		return models.PriceItem{}, fmt.Errorf("preco: %w", err)
	}

	code := scalarString(rec.Codigo)
	region := strings.ToUpper(rec.UF)
	month := normalize.ReferenceMonth(rec.MesReferencia)
	desc := normalize.CollapseSpaces(rec.Descricao)

	return models.PriceItem{
		NormalizedItem: models.NormalizedItem{
			ID:          priceItemID(code, region, month, rec.Desonerado),
			Title:       truncate(desc, 160),
			Description: desc,
			Source:      models.SourceSINAPI,
			Relevance:   normalize.Relevance(query, desc, rec.Classe),
			FetchedAt:   s.now().UTC(),
			Provenance:  models.ProvenanceAuthoritative,
		},
		Code:           code,
		Unit:           normalize.NormalizeUnit(rec.Unidade),
		UnitPrice:      normalize.RoundPrice(price),
		ReferenceMonth: month,
		Region:         region,
		TaxExempt:      rec.Desonerado,
		Category:       rec.Classe,
	}, nil
}

// priceItemID keeps codes unique across regions, months and payroll regimes.
func priceItemID(code, region, month string, exempt bool) string {
	parts := []string{code}
	if region != "" {
		parts = append(parts, region)
	}
	if month != "" {
		parts = append(parts, month)
	}
	if exempt {
		parts = append(parts, "D")
	}
	return strings.Join(parts, "-")
}
