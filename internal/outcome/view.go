package outcome

import (
	"time"

	"github.com/shopspring/decimal"

	"control-tower/internal/domain"
)

// RecordView is the JSON shape of a record served to the dashboard.
// Amounts are decimal strings.
type RecordView struct {
	ID                    string           `json:"id"`
	ShortRef              string           `json:"short_ref"`
	AlertID               string           `json:"alert_id"`
	DecisionTitle         string           `json:"decision_title"`
	DecisionType          string           `json:"decision_type"`
	PredictedImpactAmount decimal.Decimal  `json:"predicted_impact_amount"`
	ActualImpactAmount    *decimal.Decimal `json:"actual_impact_amount,omitempty"`
	OutcomeVerdict        domain.Verdict   `json:"outcome_verdict"`
	OutcomeNotes          string           `json:"outcome_notes,omitempty"`
	FollowupDueDate       *time.Time       `json:"followup_due_date,omitempty"`
	RecordedAt            time.Time        `json:"recorded_at"`
	RecordedBy            string           `json:"recorded_by,omitempty"`
	Variance              *decimal.Decimal `json:"variance,omitempty"`
	VariancePct           *float64         `json:"variance_pct,omitempty"`
	AccuracyPct           *float64         `json:"accuracy_pct,omitempty"`
}

// NewRecordView renders r, attaching variance and accuracy when measurable.
func NewRecordView(r *domain.OutcomeRecord) RecordView {
	v := RecordView{
		ID:                    r.ID,
		ShortRef:              r.ShortRef,
		AlertID:               r.AlertID,
		DecisionTitle:         r.DecisionTitle,
		DecisionType:          r.DecisionType,
		PredictedImpactAmount: r.PredictedImpactAmount,
		ActualImpactAmount:    r.ActualImpactAmount,
		OutcomeVerdict:        r.OutcomeVerdict,
		OutcomeNotes:          r.OutcomeNotes,
		FollowupDueDate:       r.FollowupDueDate,
		RecordedAt:            r.RecordedAt,
		RecordedBy:            r.RecordedBy,
	}
	if res, ok := Preview(r.PredictedImpactAmount, r.ActualImpactAmount); ok {
		variance := res.Variance
		pct := res.VariancePct
		acc := res.Accuracy
		v.Variance = &variance
		v.VariancePct = &pct
		v.AccuracyPct = &acc
	}
	return v
}

// NewRecordViews renders a slice of records.
func NewRecordViews(records []*domain.OutcomeRecord) []RecordView {
	out := make([]RecordView, 0, len(records))
	for _, r := range records {
		out = append(out, NewRecordView(r))
	}
	return out
}
