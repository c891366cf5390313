package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// Report is the outcome accuracy report. Counts use the effective (latest)
// record of each alert; superseded follow-ups are not counted.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	PeriodStart *time.Time // nil means all records
	PeriodEnd   *time.Time

	Summary Summary

	// Per decision type, sorted by DecisionType
	ByType []TypeRow

	// Overdue follow-ups, oldest due date first
	Overdue []OverdueRow
}

// Summary totals across all decision types.
type Summary struct {
	TotalRecords int // including superseded
	Alerts       int
	VerdictCounts
	MeanAccuracy    float64 // over measurable finalized outcomes, 0 when none
	MeanVariancePct float64
}

// VerdictCounts is the verdict distribution of effective records.
type VerdictCounts struct {
	Finalized  int
	Better     int
	AsExpected int
	Worse      int
	Pending    int
	Overdue    int // subset of Pending
}

// TypeRow aggregates outcomes of one decision type.
type TypeRow struct {
	DecisionType string
	VerdictCounts
	MeanAccuracy    float64
	MeanVariancePct float64
	PredictedSum    decimal.Decimal // over finalized outcomes
	ActualSum       decimal.Decimal
}

// OverdueRow is a follow-up past its due date.
type OverdueRow struct {
	AlertID       string
	ShortRef      string
	DecisionTitle string
	DecisionType  string
	DueDate       time.Time
	DaysOverdue   int
}
