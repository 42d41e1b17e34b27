package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	httpc "compras-aggregator/internal/common/http"
	"compras-aggregator/internal/common/validation"
	"compras-aggregator/internal/models"
	"compras-aggregator/internal/normalize"
)

const comprasGovMaxPageSize = 500

const comprasGovContractsPath = "/modulo-contratos/1_consultarContratos"

var comprasGovSchema = validation.MustRecordValidator("comprasgov.contrato", validation.Object(
	[]string{"numeroContrato", "objeto"},
	map[string]interface{}{
		"idContrato":     validation.Type("string", "integer", "null"),
		"numeroContrato": validation.Type("string", "integer"),
		"objeto":         map[string]interface{}{"type": "string", "minLength": 1},
		"valorGlobal":    validation.Type("number", "string", "null"),
		"niOrgao":        validation.Type("string", "null"),
	},
))

type comprasGovPage struct {
	Resultado        []json.RawMessage `json:"resultado"`
	TotalRegistros   int               `json:"totalRegistros"`
	TotalPaginas     int               `json:"totalPaginas"`
	PaginasRestantes int               `json:"paginasRestantes"`
}

type comprasGovRecord struct {
	IDContrato           interface{} `json:"idContrato"`
	NumeroContrato       interface{} `json:"numeroContrato"`
	AnoContrato          interface{} `json:"anoContrato"`
	Objeto               string      `json:"objeto"`
	ValorGlobal          interface{} `json:"valorGlobal"`
	ValorInicial         interface{} `json:"valorInicial"`
	NiOrgao              string      `json:"niOrgao"`
	NomeOrgao            string      `json:"nomeOrgao"`
	UfOrgao              string      `json:"ufOrgao"`
	NomeModalidadeCompra string      `json:"nomeModalidadeCompra"`
	SituacaoContrato     string      `json:"situacaoContrato"`
	DataVigenciaInicial  string      `json:"dataVigenciaInicial"`
	DataPublicacao       string      `json:"dataPublicacaoDou"`
	NomeRazaoFornecedor  string      `json:"nomeRazaoSocialFornecedor"`
	NiFornecedor         string      `json:"niFornecedor"`
	CodigoUnidadeGestora interface{} `json:"codigoUnidadeGestora"`
	NumeroCompraOrigem   string      `json:"numeroCompra"`
	LinkContratoPncp     string      `json:"linkPncp"`
}

// ComprasGov adapts the federal open data contracts module.
type ComprasGov struct {
	*base
}

func NewComprasGov(b *base) *ComprasGov {
	if b.maxPageSize <= 0 || b.maxPageSize > comprasGovMaxPageSize {
		b.maxPageSize = comprasGovMaxPageSize
	}
	return &ComprasGov{base: b}
}

func (c *ComprasGov) Search(ctx context.Context, query string, filters models.SearchFilters) Result {
	return c.search(ctx, query, filters, func(ctx context.Context) (cachedSearch, error) {
		var out cachedSearch

		partial, err := c.paginate(ctx, filters.Limit, func() int { return len(out.Contracts) },
			func(ctx context.Context, page, size int) (int, int, error) {
				q := url.Values{}
				q.Set("pagina", strconv.Itoa(page))
				q.Set("tamanhoPagina", strconv.Itoa(size))
				if !filters.DateRange.From.IsZero() {
					q.Set("dataVigenciaInicialMin", filters.DateRange.From.Format("2006-01-02"))
				}
				if !filters.DateRange.To.IsZero() {
					q.Set("dataVigenciaInicialMax", filters.DateRange.To.Format("2006-01-02"))
				}
				if filters.Region != "" {
					q.Set("ufOrgao", strings.ToUpper(filters.Region))
				}

				resp, err := c.client.Request(ctx, httpc.RequestSpec{Path: comprasGovContractsPath, Query: q})
				if err != nil {
					return 0, 0, err
				}
				var body comprasGovPage
				if err := resp.JSON(&body); err != nil {
					return 0, 0, err
				}

				valid, skipped := c.validRecords(body.Resultado, comprasGovSchema)
				if skipped > 0 {
					out.Partial = true
				}
				for _, raw := range valid {
					var rec comprasGovRecord
					if err := json.Unmarshal(raw, &rec); err != nil {
						out.Partial = true
						continue
					}
					item := c.normalize(rec, query)
					if query != "" && item.Relevance == 0 {
						continue
					}
					out.Contracts = append(out.Contracts, item)
				}
				return len(body.Resultado), body.TotalPaginas, nil
			})
		if err != nil {
			return cachedSearch{}, err
		}
		if partial {
			out.Partial = true
			out.Truncated = true
		}
		out.Contracts = out.Contracts[:capLimit(len(out.Contracts), filters.Limit)]
		return out, nil
	})
}

func (c *ComprasGov) GetByID(ctx context.Context, id string) (models.Item, error) {
	return c.getByID(ctx, id, func() models.Item { return &models.ContractItem{} },
		func(ctx context.Context) (models.Item, error) {
			id = strings.TrimSpace(id)
			if id == "" {
				return nil, nil
			}
			q := url.Values{}
			q.Set("idContrato", id)
			q.Set("pagina", "1")
			q.Set("tamanhoPagina", "10")
			resp, err := c.client.Request(ctx, httpc.RequestSpec{Path: comprasGovContractsPath, Query: q})
			if err != nil {
				return nil, err
			}
			var body comprasGovPage
			if err := resp.JSON(&body); err != nil {
				return nil, err
			}
			valid, _ := c.validRecords(body.Resultado, comprasGovSchema)
			for _, raw := range valid {
				var rec comprasGovRecord
				if err := json.Unmarshal(raw, &rec); err != nil {
					continue
				}
				item := c.normalize(rec, "")
				if item.ID == id {
					item.Relevance = 1
					return &item, nil
				}
			}
			return nil, nil
		})
}

func (c *ComprasGov) HealthCheck(ctx context.Context) Health {
	q := url.Values{}
	q.Set("pagina", "1")
	q.Set("tamanhoPagina", "1")
	return c.healthCheck(ctx, httpc.RequestSpec{Path: comprasGovContractsPath, Query: q})
}

func (c *ComprasGov) normalize(rec comprasGovRecord, query string) models.ContractItem {
	number := scalarString(rec.NumeroContrato)
	id := scalarString(rec.IDContrato)
	if id == "" {
		id = fmt.Sprintf("%s-%s", normalize.DigitsOnly(rec.NiOrgao), number)
	}

	total, err := normalize.ParseMoney(rec.ValorGlobal)
	if err != nil || total == 0 {
		total, _ = normalize.ParseMoney(rec.ValorInicial)
	}

	published := normalize.ParseDatePtr(rec.DataPublicacao)
	if published == nil {
		published = normalize.ParseDatePtr(rec.DataVigenciaInicial)
	}
	year := toInt(rec.AnoContrato)
	if year == 0 && published != nil {
		year = published.Year()
	}

	object := normalize.CollapseSpaces(rec.Objeto)
	return models.ContractItem{
		NormalizedItem: models.NormalizedItem{
			ID:          id,
			Title:       truncate(object, 160),
			Description: object,
			Source:      models.SourceComprasGov,
			URL:         rec.LinkContratoPncp,
			Relevance:   normalize.Relevance(query, object, rec.NomeOrgao, rec.NomeRazaoFornecedor),
			Metadata: map[string]interface{}{
				"supplier":      rec.NomeRazaoFornecedor,
				"supplierTaxId": normalize.DigitsOnly(rec.NiFornecedor),
			},
			FetchedAt:  c.now().UTC(),
			Provenance: models.ProvenanceAuthoritative,
		},
		Number: number,
		Year:   year,
		ContractingOrg: models.ContractingOrg{
			TaxID:  normalize.DigitsOnly(rec.NiOrgao),
			Name:   rec.NomeOrgao,
			Region: strings.ToUpper(rec.UfOrgao),
		},
		Object:          object,
		TotalValue:      normalize.RoundPrice(total),
		Modality:        rec.NomeModalidadeCompra,
		Status:          rec.SituacaoContrato,
		PublicationDate: published,
	}
}

// scalarString renders ids that upstream sends as either numbers or strings.
func scalarString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}
