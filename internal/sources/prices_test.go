package sources

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compras-aggregator/internal/models"
)

func TestSINAPI_SearchNormalizesPrices(t *testing.T) {
	env := newTestAdapter(t, models.SourceSINAPI, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/insumos", r.URL.Path)
		assert.Equal(t, "cimento", r.URL.Query().Get("q"))
		assert.Equal(t, "SP", r.URL.Query().Get("uf"))
		assert.Equal(t, "100", r.URL.Query().Get("tamanhoPagina"))
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{
					"codigo":        1379,
					"descricao":     "CIMENTO PORTLAND COMPOSTO CP II-32",
					"unidade":       "KG",
					"preco":         "1.234,56",
					"uf":            "sp",
					"mesReferencia": "06/2024",
					"desonerado":    true,
				},
				map[string]interface{}{
					"codigo":    "88316",
					"descricao": "SERVENTE COM ENCARGOS",
					"unidade":   "H",
					"preco":     23.1,
				},
			},
			"totalPaginas": 1,
		})
	})

	res := env.adapter.Search(context.Background(), "cimento", models.SearchFilters{Region: "sp"})

	require.Equal(t, models.StatusSuccess, res.Status.Status)
	require.Len(t, res.Prices, 1)
	p := res.Prices[0]
	assert.Equal(t, "1379", p.Code)
	assert.Equal(t, "1379-SP-2024-06-D", p.ID)
	assert.Equal(t, "kg", p.Unit)
	assert.Equal(t, 1234.56, p.UnitPrice)
	assert.Equal(t, "2024-06", p.ReferenceMonth)
	assert.True(t, p.TaxExempt)
	assert.Equal(t, models.SourceSINAPI, p.Source)
	assert.Empty(t, res.Contracts)
}

func TestSINAPI_InvalidPriceIsPartial(t *testing.T) {
	env := newTestAdapter(t, models.SourceSINAPI, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{"codigo": "1", "descricao": "cimento", "unidade": "KG", "preco": 10},
				map[string]interface{}{"codigo": "2", "descricao": "cimento", "unidade": "KG", "preco": "abc"},
				map[string]interface{}{"codigo": "3", "descricao": "cimento", "unidade": "KG"},
			},
		})
	})

	res := env.adapter.Search(context.Background(), "cimento", models.SearchFilters{})
	assert.Equal(t, models.StatusPartial, res.Status.Status)
	require.Len(t, res.Prices, 1)
	assert.Equal(t, "1", res.Prices[0].Code)
}

func TestSICRO_SearchAndGetByID(t *testing.T) {
	record := map[string]interface{}{
		"codigo":        "5914359",
		"descricao":     "Transporte com caminhão basculante de 10 m³",
		"unidade":       "t.km",
		"custoUnitario": 1.25,
		"uf":            "MG",
		"dataBase":      "2024-01",
		"grupo":         "Transporte",
	}
	env := newTestAdapter(t, models.SourceSICRO, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/composicoes":
			writeJSON(t, w, http.StatusOK, map[string]interface{}{"data": []interface{}{record}})
		case "/v1/composicoes/5914359":
			writeJSON(t, w, http.StatusOK, record)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	res := env.adapter.Search(ctx, "caminhão basculante", models.SearchFilters{})
	require.Len(t, res.Prices, 1)
	p := res.Prices[0]
	assert.Equal(t, "tkm", p.Unit)
	assert.Equal(t, 1.25, p.UnitPrice)
	assert.Equal(t, "2024-01", p.ReferenceMonth)
	assert.Equal(t, "Transporte", p.Category)
	assert.False(t, p.TaxExempt)

	item, err := env.adapter.GetByID(ctx, "5914359")
	require.NoError(t, err)
	require.NotNil(t, item)
	price, ok := item.(*models.PriceItem)
	require.True(t, ok)
	assert.Equal(t, "5914359", price.Code)

	missing, err := env.adapter.GetByID(ctx, "0")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
