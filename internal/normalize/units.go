// internal/normalize/units.go
package normalize

import "strings"

// Canonical unit codes.
const (
	UnitPiece     = "UN"
	UnitMeter     = "m"
	UnitSquareM   = "m2"
	UnitCubicM    = "m3"
	UnitKilogram  = "kg"
	UnitTonne     = "t"
	UnitLiter     = "L"
	UnitHour      = "h"
	UnitMonth     = "mes"
	UnitSet       = "cj"
	UnitLumpSum   = "vb"
	UnitKilometer = "km"
	UnitTonneKm   = "tkm"
)

var unitAliases = map[string]string{
	"UN": UnitPiece, "UND": UnitPiece, "UNID": UnitPiece, "UNIDADE": UnitPiece, "UNIT": UnitPiece,
	"U": UnitPiece, "PC": UnitPiece, "PECA": UnitPiece, "PÇ": UnitPiece,
	"M": UnitMeter, "METRO": UnitMeter, "ML": UnitMeter,
	"M2": UnitSquareM, "M²": UnitSquareM, "METRO QUADRADO": UnitSquareM,
	"M3": UnitCubicM, "M³": UnitCubicM, "METRO CUBICO": UnitCubicM,
	"KG": UnitKilogram, "QUILO": UnitKilogram, "QUILOGRAMA": UnitKilogram,
	"T": UnitTonne, "TON": UnitTonne, "TONELADA": UnitTonne,
	"L": UnitLiter, "LT": UnitLiter, "LITRO": UnitLiter,
	"H": UnitHour, "HR": UnitHour, "HORA": UnitHour,
	"MES": UnitMonth, "MÊS": UnitMonth,
	"CJ": UnitSet, "CONJ": UnitSet, "CONJUNTO": UnitSet,
	"VB": UnitLumpSum, "VERBA": UnitLumpSum,
	"KM":  UnitKilometer,
	"TKM": UnitTonneKm, "T.KM": UnitTonneKm, "TXKM": UnitTonneKm,
}

// NormalizeUnit canonicalizes unit strings ("UNIDADE" -> "UN", "m²" -> "m2").
// Unknown units are returned upper-cased so they still compare consistently.
func NormalizeUnit(raw string) string {
	u := strings.ToUpper(strings.TrimSpace(raw))
	u = strings.TrimSuffix(u, ".")
	if u == "" {
		return ""
	}
	if canon, ok := unitAliases[u]; ok {
		return canon
	}
	if canon, ok := unitAliases[strings.ToUpper(StripAccents(u))]; ok {
		return canon
	}
	return CollapseSpaces(u)
}
