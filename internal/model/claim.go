package model

// UnitKind is the unit grammar a numeric claim was written in
type UnitKind string

const (
	UnitCurrencyBillions UnitKind = "currency_billions" // $394.3B, $12M (normalized to billions)
	UnitCurrency         UnitKind = "currency"          // $6.13 (raw dollars, no scale suffix)
	UnitPercent          UnitKind = "percent"           // 45.9%
	UnitMultiple         UnitKind = "multiple"          // 28.5x
)

// ExtractedClaim is a numeric assertion found in response text, not yet verified
type ExtractedClaim struct {
	Value   float64  `json:"value"`            // Billions for currency_billions, dollars for currency, points for percent
	Unit    UnitKind `json:"unit"`             // Unit grammar that matched
	Metric  string   `json:"metric,omitempty"` // Canonical metric, empty if not inferred
	Entity  string   `json:"entity,omitempty"` // Canonical entity id, empty if not inferred
	Period  string   `json:"period,omitempty"` // Period label, empty if not inferred
	Offset  int      `json:"offset"`           // Byte offset of Raw in the source text
	Raw     string   `json:"raw"`              // Matched substring
	Context string   `json:"context"`          // Text window inspected before the match

	// CarriedEntity is set when Entity came from an earlier sentence
	CarriedEntity bool `json:"carried_entity,omitempty"`
}

// End returns the byte offset just past the matched substring
func (c ExtractedClaim) End() int {
	return c.Offset + len(c.Raw)
}

// Resolved reports whether both entity and metric were inferred
func (c ExtractedClaim) Resolved() bool {
	return c.Entity != "" && c.Metric != ""
}
