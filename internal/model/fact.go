package model

import (
	"fmt"
	"time"
)

// FiscalPeriod is the reporting period of a fact within its fiscal year
type FiscalPeriod string

const (
	PeriodFY FiscalPeriod = "FY"
	PeriodQ1 FiscalPeriod = "Q1"
	PeriodQ2 FiscalPeriod = "Q2"
	PeriodQ3 FiscalPeriod = "Q3"
	PeriodQ4 FiscalPeriod = "Q4"
)

// Valid reports whether p is one of FY, Q1..Q4
func (p FiscalPeriod) Valid() bool {
	switch p {
	case PeriodFY, PeriodQ1, PeriodQ2, PeriodQ3, PeriodQ4:
		return true
	}
	return false
}

// Rank orders periods within a year: FY outranks every quarter, later quarters outrank earlier ones.
func (p FiscalPeriod) Rank() int {
	switch p {
	case PeriodFY:
		return 5
	case PeriodQ4:
		return 4
	case PeriodQ3:
		return 3
	case PeriodQ2:
		return 2
	case PeriodQ1:
		return 1
	default:
		return 0
	}
}

// PeriodLabel renders a fiscal year and period the way snapshots and claims label them ("FY2024", "Q3 2024")
func PeriodLabel(year int, period FiscalPeriod) string {
	if period == PeriodFY {
		return fmt.Sprintf("FY%d", year)
	}
	return fmt.Sprintf("%s %d", period, year)
}

// RawFact is one point-in-time observation written by the ingestion jobs.
// Immutable once stored.
type RawFact struct {
	ID           int64        `json:"id,omitempty"`
	Entity       string       `json:"entity"`
	Tag          string       `json:"tag"`  // Source vocabulary (e.g. filing line item)
	Unit         string       `json:"unit"` // USD, USD_millions, percent, pure, ...
	FiscalYear   int          `json:"fiscal_year"`
	FiscalPeriod FiscalPeriod `json:"fiscal_period"`
	PeriodStart  *time.Time   `json:"period_start,omitempty"`
	PeriodEnd    *time.Time   `json:"period_end,omitempty"`
	Value        float64      `json:"value"`
	Source       string       `json:"source"`              // SEC, market data vendor, macro series provider
	Accession    string       `json:"accession,omitempty"` // Filing/accession id
	FiledAt      time.Time    `json:"filed_at"`
	IngestedAt   time.Time    `json:"ingested_at"`
}

// MetricSnapshot is the single authoritative current value for an (entity, metric) pair
type MetricSnapshot struct {
	Entity    string    `json:"entity"`
	Metric    string    `json:"metric"`
	Period    string    `json:"period"` // e.g. FY2024
	StartYear int       `json:"start_year"`
	EndYear   int       `json:"end_year"`
	Value     float64   `json:"value"` // Raw units; percentages as fractions
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"` // Newest ingestion time among contributing facts
}
