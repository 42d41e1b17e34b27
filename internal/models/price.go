// internal/models/price.go
package models

// Confidence grades a consolidated price.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Score maps HIGH/MEDIUM/LOW to 3/2/1.
func (c Confidence) Score() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	default:
		return 1
	}
}

// PriceAggregation is one consolidated estimate per price group.
type PriceAggregation struct {
	Description            string      `json:"description"`
	AveragePrice           float64     `json:"averagePrice"`
	MedianPrice            float64     `json:"medianPrice"`
	MinPrice               float64     `json:"minPrice"`
	MaxPrice               float64     `json:"maxPrice"`
	Sources                []PriceItem `json:"sources"`
	SourceCount            int         `json:"sourceCount"`
	Confidence             Confidence  `json:"confidence"`
	CoefficientOfVariation float64     `json:"coefficientOfVariation"`
	OutliersExcluded       bool        `json:"outliersExcluded"`
	OutlierCount           int         `json:"outlierCount"`
	Unit                   string      `json:"unit"`
}
