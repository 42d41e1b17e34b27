// internal/models/item.go
package models

import "time"

// Provenance separates authoritative registry data from fallback web results.
type Provenance string

const (
	ProvenanceAuthoritative Provenance = "authoritative"
	ProvenanceFallback      Provenance = "fallback"
)

// Item is implemented by every normalized record type.
type Item interface {
	Base() *NormalizedItem
}

// NormalizedItem is the common shape produced by every adapter. ID is unique
// within a source, not across sources.
type NormalizedItem struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Source      SourceID               `json:"source"`
	URL         string                 `json:"url,omitempty"`
	Relevance   float64                `json:"relevance"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	FetchedAt   time.Time              `json:"fetchedAt"`
	Provenance  Provenance             `json:"provenance"`
}

func (n *NormalizedItem) Base() *NormalizedItem { return n }

// ContractingOrg is the government entity behind a contract.
type ContractingOrg struct {
	TaxID  string `json:"taxId"`
	Name   string `json:"name"`
	Region string `json:"region,omitempty"`
}

type ContractItem struct {
	NormalizedItem
	Number          string         `json:"number"`
	Year            int            `json:"year"`
	ContractingOrg  ContractingOrg `json:"contractingOrg"`
	Object          string         `json:"object"`
	TotalValue      float64        `json:"totalValue"`
	Modality        string         `json:"modality,omitempty"`
	Status          string         `json:"status,omitempty"`
	PublicationDate *time.Time     `json:"publicationDate,omitempty"`
}

type PriceItem struct {
	NormalizedItem
	Code           string  `json:"code"`
	Unit           string  `json:"unit"`
	UnitPrice      float64 `json:"unitPrice"`
	ReferenceMonth string  `json:"referenceMonth,omitempty"`
	Region         string  `json:"region,omitempty"`
	TaxExempt      bool    `json:"taxExempt"`
	Category       string  `json:"category,omitempty"`
}

// DateRange bounds publication or reference dates. Zero values are open ends.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (d DateRange) IsZero() bool { return d.From.IsZero() && d.To.IsZero() }

// SearchFilters is what the orchestrator hands to each adapter.
type SearchFilters struct {
	Region    string    `json:"region,omitempty"`
	DateRange DateRange `json:"dateRange"`
	Limit     int       `json:"limit,omitempty"`
}
