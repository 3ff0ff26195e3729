package model

import "time"

// VerificationStatus is the outcome class of a single claim check
type VerificationStatus string

const (
	StatusVerified   VerificationStatus = "verified"   // Found and within tolerance
	StatusUnresolved VerificationStatus = "unresolved" // Missing entity/metric or incompatible unit
	StatusNotFound   VerificationStatus = "not_found"  // No snapshot for (entity, metric)
	StatusDiscrepant VerificationStatus = "discrepant" // Found but outside tolerance
)

// VerificationResult is the judgement for one extracted claim
type VerificationResult struct {
	Claim        ExtractedClaim     `json:"claim"`
	Status       VerificationStatus `json:"status"`
	Correct      bool               `json:"correct"`
	Actual       *float64           `json:"actual,omitempty"` // Snapshot value in raw units, nil if unresolved
	ActualPeriod string             `json:"actual_period,omitempty"`
	DeviationPct float64            `json:"deviation_pct"`    // Relative deviation in percent
	Weight       float64            `json:"weight"`           // 1.0 at zero deviation, floor at tolerance
	Source       string             `json:"source,omitempty"` // Snapshot's contributing source
	SourceTier   SourceTier         `json:"source_tier"`
	UpdatedAt    *time.Time         `json:"updated_at,omitempty"` // Snapshot's newest ingestion time
	Message      string             `json:"message"`

	// PeriodMismatch is set when the claim names a period other than the snapshot's
	PeriodMismatch bool `json:"period_mismatch,omitempty"`
}

// ConfidenceScore summarizes how much of a response is corroborated by the canonical store
type ConfidenceScore struct {
	Score   float64  `json:"score"`   // [0, 1]
	Factors []string `json:"factors"` // Audit trail, in application order, prefixed with + or -

	Verified      int `json:"verified"`
	Unverified    int `json:"unverified"`
	Discrepant    int `json:"discrepant"`
	MissingSource int `json:"missing_source"`
	Outdated      int `json:"outdated"`
}

// ResponseReport is the result of verifying one response
type ResponseReport struct {
	ID           string               `json:"id,omitempty"`
	Claims       []ExtractedClaim     `json:"claims"`
	Results      []VerificationResult `json:"results"`
	CorrectCount int                  `json:"correct_count"`
	TotalCount   int                  `json:"total_count"`
	Citations    []Citation           `json:"citations,omitempty"`
	SourceCount  int                  `json:"source_count"`
	DataAgeDays  *int                 `json:"data_age_days,omitempty"`
	Confidence   ConfidenceScore      `json:"confidence"`
	Corrected    string               `json:"corrected,omitempty"`
	CheckedAt    time.Time            `json:"checked_at"`
}
