package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "compras-aggregator/internal/common/errors"
	httpc "compras-aggregator/internal/common/http"
	"compras-aggregator/internal/common/validation"
	"compras-aggregator/internal/models"
	"compras-aggregator/internal/normalize"
)

// pncpMaxPageSize is the hard upstream maximum for tamanhoPagina.
const pncpMaxPageSize = 50

var pncpModalities = map[int]string{
	1:  "Leilão - Eletrônico",
	2:  "Diálogo Competitivo",
	3:  "Concurso",
	4:  "Concorrência - Eletrônica",
	5:  "Concorrência - Presencial",
	6:  "Pregão - Eletrônico",
	7:  "Pregão - Presencial",
	8:  "Dispensa de Licitação",
	9:  "Inexigibilidade",
	10: "Manifestação de Interesse",
	11: "Pré-qualificação",
	12: "Credenciamento",
	13: "Leilão - Presencial",
}

// numeroControlePNCP: <cnpj>-<tipo>-<sequencial>/<ano>
var pncpControlID = regexp.MustCompile(`^(\d{14})-\d+-(\d+)/(\d{4})$`)

var pncpSchema = validation.MustRecordValidator("pncp.contratacao", validation.Object(
	[]string{"numeroControlePNCP", "objetoCompra", "orgaoEntidade"},
	map[string]interface{}{
		"numeroControlePNCP": map[string]interface{}{"type": "string", "minLength": 1},
		"objetoCompra":       map[string]interface{}{"type": "string", "minLength": 1},
		"anoCompra":          validation.Type("integer", "string", "null"),
		"valorTotalEstimado": validation.Type("number", "string", "null"),
		"orgaoEntidade": validation.Object([]string{"cnpj"}, map[string]interface{}{
			"cnpj":        validation.Type("string"),
			"razaoSocial": validation.Type("string", "null"),
		}),
	},
))

type pncpPage struct {
	Data         []json.RawMessage `json:"data"`
	TotalPaginas int               `json:"totalPaginas"`
	NumeroPagina int               `json:"numeroPagina"`
}

type pncpRecord struct {
	NumeroControlePNCP   string      `json:"numeroControlePNCP"`
	NumeroCompra         string      `json:"numeroCompra"`
	AnoCompra            interface{} `json:"anoCompra"`
	SequencialCompra     interface{} `json:"sequencialCompra"`
	ObjetoCompra         string      `json:"objetoCompra"`
	InformacaoComplement string      `json:"informacaoComplementar"`
	ValorTotalEstimado   interface{} `json:"valorTotalEstimado"`
	ValorTotalHomologado interface{} `json:"valorTotalHomologado"`
	ModalidadeID         int         `json:"modalidadeId"`
	ModalidadeNome       string      `json:"modalidadeNome"`
	SituacaoCompraNome   string      `json:"situacaoCompraNome"`
	DataPublicacaoPncp   string      `json:"dataPublicacaoPncp"`
	LinkSistemaOrigem    string      `json:"linkSistemaOrigem"`
	OrgaoEntidade        struct {
		CNPJ        string `json:"cnpj"`
		RazaoSocial string `json:"razaoSocial"`
	} `json:"orgaoEntidade"`
	UnidadeOrgao struct {
		UFSigla       string `json:"ufSigla"`
		MunicipioNome string `json:"municipioNome"`
	} `json:"unidadeOrgao"`
}

// PNCP adapts the Portal Nacional de Contratações Públicas consultation API.
type PNCP struct {
	*base
}

func NewPNCP(b *base) *PNCP {
	if b.maxPageSize <= 0 || b.maxPageSize > pncpMaxPageSize {
		b.maxPageSize = pncpMaxPageSize
	}
	return &PNCP{base: b}
}

func (p *PNCP) Search(ctx context.Context, query string, filters models.SearchFilters) Result {
	return p.search(ctx, query, filters, func(ctx context.Context) (cachedSearch, error) {
		var out cachedSearch
		from, to := pncpDateRange(filters.DateRange, p.now())

		partial, err := p.paginate(ctx, filters.Limit, func() int { return len(out.Contracts) },
			func(ctx context.Context, page, size int) (int, int, error) {
				q := url.Values{}
				q.Set("dataInicial", normalize.CompactDate(from))
				q.Set("dataFinal", normalize.CompactDate(to))
				q.Set("pagina", strconv.Itoa(page))
				q.Set("tamanhoPagina", strconv.Itoa(size))
				if filters.Region != "" {
					q.Set("uf", strings.ToUpper(filters.Region))
				}

				resp, err := p.client.Request(ctx, httpc.RequestSpec{
					Method: http.MethodGet,
					Path:   "/v1/contratacoes/publicacao",
					Query:  q,
				})
				if err != nil {
					return 0, 0, err
				}
				var body pncpPage
				if err := resp.JSON(&body); err != nil {
					return 0, 0, err
				}

				valid, skipped := p.validRecords(body.Data, pncpSchema)
				if skipped > 0 {
					out.Partial = true
				}
				for _, raw := range valid {
					var rec pncpRecord
					if err := json.Unmarshal(raw, &rec); err != nil {
						out.Partial = true
						continue
					}
					item := p.normalize(rec, query)
					if query != "" && item.Relevance == 0 {
						continue
					}
					out.Contracts = append(out.Contracts, item)
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
		out.Contracts = out.Contracts[:capLimit(len(out.Contracts), filters.Limit)]
		return out, nil
	})
}

func (p *PNCP) GetByID(ctx context.Context, id string) (models.Item, error) {
	return p.getByID(ctx, id, func() models.Item { return &models.ContractItem{} },
		func(ctx context.Context) (models.Item, error) {
			m := pncpControlID.FindStringSubmatch(strings.TrimSpace(id))
			if m == nil {
				return nil, nil
			}
			seq, _ := strconv.Atoi(m[2])
			resp, err := p.client.Request(ctx, httpc.RequestSpec{
				Path: fmt.Sprintf("/v1/orgaos/%s/compras/%s/%d", m[1], m[3], seq),
			})
			if err != nil {
				return nil, err
			}
			if resp.Empty() {
				return nil, nil
			}

			var doc interface{}
			if err := resp.JSON(&doc); err != nil {
				return nil, err
			}
			if res := pncpSchema.Validate(doc); !res.Valid {
				return nil, apperrors.NewValidationError(p.id.String(), res.Error())
			}
			var rec pncpRecord
			if err := json.Unmarshal(resp.Body, &rec); err != nil {
				return nil, err
			}
			item := p.normalize(rec, "")
			item.Relevance = 1
			return &item, nil
		})
}

func (p *PNCP) HealthCheck(ctx context.Context) Health {
	now := p.now()
	q := url.Values{}
	q.Set("dataInicial", normalize.CompactDate(now.AddDate(0, 0, -1)))
	q.Set("dataFinal", normalize.CompactDate(now))
	q.Set("pagina", "1")
	q.Set("tamanhoPagina", "1")
	return p.healthCheck(ctx, httpc.RequestSpec{Path: "/v1/contratacoes/publicacao", Query: q})
}

func (p *PNCP) normalize(rec pncpRecord, query string) models.ContractItem {
	year := toInt(rec.AnoCompra)
	total, err := normalize.ParseMoney(rec.ValorTotalHomologado)
	if err != nil || total == 0 {
		total, _ = normalize.ParseMoney(rec.ValorTotalEstimado)
	}

	modality := rec.ModalidadeNome
	if modality == "" {
		modality = pncpModalities[rec.ModalidadeID]
	}

	number := rec.NumeroCompra
	if number == "" {
		number = fmt.Sprintf("%v", rec.SequencialCompra)
	}

	title := normalize.CollapseSpaces(rec.ObjetoCompra)
	item := models.ContractItem{
		NormalizedItem: models.NormalizedItem{
			ID:          rec.NumeroControlePNCP,
			Title:       truncate(title, 160),
			Description: normalize.CollapseSpaces(rec.InformacaoComplement),
			Source:      models.SourcePNCP,
			URL:         pncpURL(rec),
			Relevance:   normalize.Relevance(query, title, rec.InformacaoComplement, rec.OrgaoEntidade.RazaoSocial),
			Metadata: map[string]interface{}{
				"municipio": rec.UnidadeOrgao.MunicipioNome,
			},
			FetchedAt:  p.now().UTC(),
			Provenance: models.ProvenanceAuthoritative,
		},
		Number: number,
		Year:   year,
		ContractingOrg: models.ContractingOrg{
			TaxID:  normalize.DigitsOnly(rec.OrgaoEntidade.CNPJ),
			Name:   rec.OrgaoEntidade.RazaoSocial,
			Region: strings.ToUpper(rec.UnidadeOrgao.UFSigla),
		},
		Object:          title,
		TotalValue:      normalize.RoundPrice(total),
		Modality:        modality,
		Status:          rec.SituacaoCompraNome,
		PublicationDate: normalize.ParseDatePtr(rec.DataPublicacaoPncp),
	}
	return item
}

func pncpURL(rec pncpRecord) string {
	if m := pncpControlID.FindStringSubmatch(rec.NumeroControlePNCP); m != nil {
		seq, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("https://pncp.gov.br/app/editais/%s/%s/%d", m[1], m[3], seq)
	}
	return rec.LinkSistemaOrigem
}

// pncpDateRange defaults to the last 30 days; PNCP requires both bounds.
func pncpDateRange(r models.DateRange, now time.Time) (time.Time, time.Time) {
	to := r.To
	if to.IsZero() {
		to = now
	}
	from := r.From
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	return from, to
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
