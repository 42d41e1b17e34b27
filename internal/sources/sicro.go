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

var sicroSchema = validation.MustRecordValidator("sicro.composicao", validation.Object(
	[]string{"codigo", "descricao", "unidade", "custoUnitario"},
	map[string]interface{}{
		"codigo":        validation.Type("string", "integer"),
		"descricao":     map[string]interface{}{"type": "string", "minLength": 1},
		"unidade":       validation.Type("string"),
		"custoUnitario": validation.Type("number", "string"),
		"uf":            validation.Type("string", "null"),
		"dataBase":      validation.Type("string", "null"),
		"grupo":         validation.Type("string", "null"),
	},
))

type sicroRecord struct {
	Codigo        interface{} `json:"codigo"`
	Descricao     string      `json:"descricao"`
	Unidade       string      `json:"unidade"`
	CustoUnitario interface{} `json:"custoUnitario"`
	UF            string      `json:"uf"`
	DataBase      string      `json:"dataBase"`
	Grupo         string      `json:"grupo"`
}

// SICRO adapts the DNIT road works cost composition table.
type SICRO struct {
	*base
	table priceTable
}

func NewSICRO(b *base) *SICRO {
	s := &SICRO{base: b}
	s.table = priceTable{
		path:      "/v1/composicoes",
		maxSize:   100,
		schema:    sicroSchema,
		normalize: s.normalize,
	}
	if b.maxPageSize <= 0 || b.maxPageSize > s.table.maxSize {
		b.maxPageSize = s.table.maxSize
	}
	return s
}

func (s *SICRO) Search(ctx context.Context, query string, filters models.SearchFilters) Result {
	return s.searchPriceTable(ctx, s.table, query, filters)
}

func (s *SICRO) GetByID(ctx context.Context, id string) (models.Item, error) {
	return s.getPriceByID(ctx, s.table, id)
}

func (s *SICRO) HealthCheck(ctx context.Context) Health {
	return s.priceTableHealth(ctx, s.table)
}

func (s *SICRO) normalize(raw json.RawMessage, query string) (models.PriceItem, error) {
	var rec sicroRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.PriceItem{}, err
	}
	cost, err := normalize.ParseMoney(rec.CustoUnitario)
	if err != nil {
		return models.PriceItem{}, fmt.Errorf("custoUnitario: %w", err)
	}

	code := scalarString(rec.Codigo)
	region := strings.ToUpper(rec.UF)
	month := normalize.ReferenceMonth(rec.DataBase)
	desc := normalize.CollapseSpaces(rec.Descricao)

	return models.PriceItem{
		NormalizedItem: models.NormalizedItem{
			ID:          priceItemID(code, region, month, false),
			Title:       truncate(desc, 160),
			Description: desc,
			Source:      models.SourceSICRO,
			Relevance:   normalize.Relevance(query, desc, rec.Grupo),
			FetchedAt:   s.now().UTC(),
			Provenance:  models.ProvenanceAuthoritative,
		},
		Code:           code,
		Unit:           normalize.NormalizeUnit(rec.Unidade),
		UnitPrice:      normalize.RoundPrice(cost),
		ReferenceMonth: month,
		Region:         region,
		Category:       rec.Grupo,
	}, nil
}
