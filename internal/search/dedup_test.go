package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compras-aggregator/internal/models"
)

func contract(id, taxID, object string, relevance float64) models.ContractItem {
	return models.ContractItem{
		NormalizedItem: models.NormalizedItem{ID: id, Title: object, Relevance: relevance, Source: models.SourcePNCP, Provenance: models.ProvenanceAuthoritative},
		ContractingOrg: models.ContractingOrg{TaxID: taxID},
		Object:         object,
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Aquisição de Notebooks", "  aquisicao   de notebooks. "))
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.GreaterOrEqual(t, Similarity("aquisicao de notebooks", "aquisicao de notebook"), 0.85)
	assert.Less(t, Similarity("aquisicao de notebooks", "servico de limpeza"), 0.5)
}

func TestDeduplicate_SameTaxIDNearIdenticalCollapses(t *testing.T) {
	items := []models.ContractItem{
		contract("a", "00394460005887", "Aquisição de notebooks para servidores", 0.6),
		contract("b", "00.394.460/0058-87", "Aquisicao de notebooks para servidor", 0.9),
	}
	out := Deduplicate(items, DefaultSimilarityThreshold)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID, "higher relevance wins")
}

func TestDeduplicate_KeepsFirstOnEqualRelevance(t *testing.T) {
	items := []models.ContractItem{
		contract("a", "1", "notebooks", 0.5),
		contract("b", "1", "notebooks", 0.5),
	}
	out := Deduplicate(items, DefaultSimilarityThreshold)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestDeduplicate_DifferentTaxIDsNeverCollapse(t *testing.T) {
	items := []models.ContractItem{
		contract("a", "11111111000111", "Aquisição de notebooks", 0.5),
		contract("b", "22222222000122", "Aquisição de notebooks", 0.7),
	}
	out := Deduplicate(items, DefaultSimilarityThreshold)
	assert.Len(t, out, 2)
}

func TestDeduplicate_EmptyTaxIDNeverCollapses(t *testing.T) {
	items := []models.ContractItem{
		contract("a", "", "Aquisição de notebooks", 0.5),
		contract("b", "", "Aquisição de notebooks", 0.7),
	}
	assert.Len(t, Deduplicate(items, DefaultSimilarityThreshold), 2)
}

func TestDeduplicate_DissimilarTextsInSameGroupSurvive(t *testing.T) {
	items := []models.ContractItem{
		contract("a", "1", "Aquisição de notebooks", 0.2),
		contract("b", "1", "Serviço de limpeza predial", 0.9),
		contract("c", "2", "Fornecimento de café", 0.5),
	}
	out := Deduplicate(items, DefaultSimilarityThreshold)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{out[0].ID, out[1].ID, out[2].ID}, "sorted by relevance")
}
