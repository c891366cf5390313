package domain

import "time"

// OutcomeFact is the denormalized analytics row written for every finalized
// or deferred outcome. Amounts are floats; the record of truth keeps decimals.
type OutcomeFact struct {
	RecordID     string
	AlertID      string
	DecisionType string
	Verdict      Verdict

	PredictedAmount float64
	ActualAmount    *float64 // nil for pending_followup
	VariancePct     *float64 // nil when not measurable
	AccuracyPct     *float64 // nil when not measurable

	RecordedAt time.Time
}
