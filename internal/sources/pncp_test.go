package sources

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compras-aggregator/internal/common/config"
	"compras-aggregator/internal/models"
)

func pncpFixture(control, object string) map[string]interface{} {
	return map[string]interface{}{
		"numeroControlePNCP": control,
		"anoCompra":          2024,
		"sequencialCompra":   10,
		"numeroCompra":       "90010/2024",
		"objetoCompra":       object,
		"valorTotalEstimado": 15300.5,
		"modalidadeId":       6,
		"situacaoCompraNome": "Divulgada no PNCP",
		"dataPublicacaoPncp": "2024-05-10T09:30:00",
		"orgaoEntidade": map[string]interface{}{
			"cnpj":        "00.394.460/0058-87",
			"razaoSocial": "Ministério da Fazenda",
		},
		"unidadeOrgao": map[string]interface{}{"ufSigla": "df"},
	}
}

func TestPNCP_SearchNormalizesRecords(t *testing.T) {
	var query map[string]string
	env := newTestAdapter(t, models.SourcePNCP, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/contratacoes/publicacao", r.URL.Path)
		query = map[string]string{
			"dataInicial":   r.URL.Query().Get("dataInicial"),
			"dataFinal":     r.URL.Query().Get("dataFinal"),
			"uf":            r.URL.Query().Get("uf"),
			"tamanhoPagina": r.URL.Query().Get("tamanhoPagina"),
		}
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"data": []interface{}{
				pncpFixture("00394460005887-1-000010/2024", "Aquisição de notebook para servidores"),
				pncpFixture("00394460005887-1-000011/2024", "Serviço de limpeza predial"),
			},
			"totalPaginas": 1,
		})
	})

	filters := models.SearchFilters{
		Region: "df",
		DateRange: models.DateRange{
			From: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC),
		},
	}
	res := env.adapter.Search(context.Background(), "notebook", filters)

	require.Equal(t, models.StatusSuccess, res.Status.Status)
	assert.Equal(t, "20240501", query["dataInicial"])
	assert.Equal(t, "20240531", query["dataFinal"])
	assert.Equal(t, "DF", query["uf"])
	assert.Equal(t, "50", query["tamanhoPagina"], "page size capped at the upstream maximum")

	require.Len(t, res.Contracts, 1, "irrelevant records are dropped")
	c := res.Contracts[0]
	assert.Equal(t, "00394460005887-1-000010/2024", c.ID)
	assert.Equal(t, "00394460005887", c.ContractingOrg.TaxID)
	assert.Equal(t, "DF", c.ContractingOrg.Region)
	assert.Equal(t, "Pregão - Eletrônico", c.Modality)
	assert.Equal(t, 2024, c.Year)
	assert.Equal(t, 15300.5, c.TotalValue)
	require.NotNil(t, c.PublicationDate)
	assert.Equal(t, time.May, c.PublicationDate.Month())
	assert.Equal(t, "https://pncp.gov.br/app/editais/00394460005887/2024/10", c.URL)
	assert.Equal(t, models.ProvenanceAuthoritative, c.Provenance)
	assert.Greater(t, c.Relevance, 0.0)
	assert.LessOrEqual(t, c.Relevance, 1.0)
	assert.Equal(t, 1, res.Status.ResultCount)
}

func TestPNCP_DefaultsToLastThirtyDays(t *testing.T) {
	var from, to string
	env := newTestAdapter(t, models.SourcePNCP, func(w http.ResponseWriter, r *http.Request) {
		from, to = r.URL.Query().Get("dataInicial"), r.URL.Query().Get("dataFinal")
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"data": []interface{}{}})
	})
	env.adapter.Search(context.Background(), "notebook", models.SearchFilters{})

	f, err := time.Parse("20060102", from)
	require.NoError(t, err)
	tt, err := time.Parse("20060102", to)
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, tt.Sub(f))
}

func TestPNCP_Pagination(t *testing.T) {
	pageHandler := func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("pagina"))
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"data": []interface{}{
				pncpFixture("00394460005887-1-0000"+strconv.Itoa(page)+"1/2024", "notebook tipo A"),
				pncpFixture("00394460005887-1-0000"+strconv.Itoa(page)+"2/2024", "notebook tipo B"),
			},
			"totalPaginas": 5,
		})
	}
	smallPages := func(sc *config.SourceConfig) { sc.MaxPageSize = 2 }

	t.Run("stops at max pages", func(t *testing.T) {
		env := newTestAdapter(t, models.SourcePNCP, pageHandler, smallPages)
		res := env.adapter.Search(context.Background(), "notebook", models.SearchFilters{})
		assert.Len(t, res.Contracts, 6)
		assert.EqualValues(t, 3, atomic.LoadInt64(env.hits))
	})

	t.Run("stops once limit is reached", func(t *testing.T) {
		env := newTestAdapter(t, models.SourcePNCP, pageHandler, smallPages)
		res := env.adapter.Search(context.Background(), "notebook", models.SearchFilters{Limit: 3})
		assert.Len(t, res.Contracts, 3)
		assert.EqualValues(t, 2, atomic.LoadInt64(env.hits))
	})

	t.Run("stops at last page", func(t *testing.T) {
		env := newTestAdapter(t, models.SourcePNCP, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusOK, map[string]interface{}{
				"data": []interface{}{
					pncpFixture("00394460005887-1-000001/2024", "notebook"),
					pncpFixture("00394460005887-1-000002/2024", "notebook"),
				},
				"totalPaginas": 1,
			})
		}, smallPages)
		env.adapter.Search(context.Background(), "notebook", models.SearchFilters{})
		assert.EqualValues(t, 1, atomic.LoadInt64(env.hits))
	})
}

func TestPNCP_LaterPageFailureIsPartial(t *testing.T) {
	env := newTestAdapter(t, models.SourcePNCP, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pagina") == "2" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"data": []interface{}{
				pncpFixture("00394460005887-1-000001/2024", "notebook"),
				pncpFixture("00394460005887-1-000002/2024", "notebook"),
			},
			"totalPaginas": 4,
		})
	}, func(sc *config.SourceConfig) { sc.MaxPageSize = 2 })

	res := env.adapter.Search(context.Background(), "notebook", models.SearchFilters{})
	assert.Equal(t, models.StatusPartial, res.Status.Status)
	assert.Len(t, res.Contracts, 2)
}

func TestPNCP_TruncatedResultIsNotCached(t *testing.T) {
	var pageTwoDown int32 = 1
	env := newTestAdapter(t, models.SourcePNCP, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pagina") == "2" && atomic.LoadInt32(&pageTwoDown) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"data": []interface{}{
				pncpFixture("00394460005887-1-000001/2024", "notebook"),
				pncpFixture("00394460005887-1-000002/2024", "notebook"),
			},
			"totalPaginas": 2,
		})
	}, func(sc *config.SourceConfig) { sc.MaxPageSize = 2 })
	ctx := context.Background()

	first := env.adapter.Search(ctx, "notebook", models.SearchFilters{})
	assert.Equal(t, models.StatusPartial, first.Status.Status)
	assert.Len(t, first.Contracts, 2)

	atomic.StoreInt32(&pageTwoDown, 0)

	second := env.adapter.Search(ctx, "notebook", models.SearchFilters{})
	assert.Equal(t, models.StatusSuccess, second.Status.Status)
	assert.False(t, second.Status.Cached)
	assert.Len(t, second.Contracts, 4)

	third := env.adapter.Search(ctx, "notebook", models.SearchFilters{})
	assert.True(t, third.Status.Cached, "complete results are cached")
	assert.Len(t, third.Contracts, 4)
}

func TestPNCP_EmptyResponseIsNoData(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"no content": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
		"empty body": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestAdapter(t, models.SourcePNCP, handler)
			ctx := context.Background()

			res := env.adapter.Search(ctx, "notebook", models.SearchFilters{})
			assert.Equal(t, models.StatusSuccess, res.Status.Status)
			assert.Empty(t, res.Status.Error)
			assert.Empty(t, res.Contracts)

			item, err := env.adapter.GetByID(ctx, "00394460005887-1-000010/2024")
			require.NoError(t, err)
			assert.Nil(t, item)
		})
	}
}

func TestPNCP_InvalidRecordsAreSkipped(t *testing.T) {
	broken := pncpFixture("00394460005887-1-000002/2024", "notebook")
	delete(broken, "objetoCompra")

	env := newTestAdapter(t, models.SourcePNCP, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"data":         []interface{}{pncpFixture("00394460005887-1-000001/2024", "notebook"), broken},
			"totalPaginas": 1,
		})
	})

	res := env.adapter.Search(context.Background(), "notebook", models.SearchFilters{})
	assert.Equal(t, models.StatusPartial, res.Status.Status)
	require.Len(t, res.Contracts, 1)
	assert.Equal(t, "00394460005887-1-000001/2024", res.Contracts[0].ID)
}

func TestPNCP_GetByID(t *testing.T) {
	env := newTestAdapter(t, models.SourcePNCP, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/orgaos/00394460005887/compras/2024/10":
			writeJSON(t, w, http.StatusOK, pncpFixture("00394460005887-1-000010/2024", "Aquisição de notebook"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	item, err := env.adapter.GetByID(ctx, "00394460005887-1-000010/2024")
	require.NoError(t, err)
	require.NotNil(t, item)
	c, ok := item.(*models.ContractItem)
	require.True(t, ok)
	assert.Equal(t, "Aquisição de notebook", c.Object)

	cached, err := env.adapter.GetByID(ctx, "00394460005887-1-000010/2024")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.EqualValues(t, 1, atomic.LoadInt64(env.hits), "second lookup served from cache")

	missing, err := env.adapter.GetByID(ctx, "00394460005887-1-000099/2024")
	require.NoError(t, err)
	assert.Nil(t, missing)

	malformed, err := env.adapter.GetByID(ctx, "not-an-id")
	require.NoError(t, err)
	assert.Nil(t, malformed)
	assert.EqualValues(t, 2, atomic.LoadInt64(env.hits), "malformed ids never reach the network")
}
