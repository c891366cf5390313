package outcome

import (
	"control-tower/internal/domain"
)

// BuildFact denormalizes a record for the analytics store. Variance and
// accuracy are only set when the record carries a measurable actual amount.
func BuildFact(r *domain.OutcomeRecord) *domain.OutcomeFact {
	f := &domain.OutcomeFact{
		RecordID:        r.ID,
		AlertID:         r.AlertID,
		DecisionType:    r.DecisionType,
		Verdict:         r.OutcomeVerdict,
		PredictedAmount: r.PredictedImpactAmount.InexactFloat64(),
		RecordedAt:      r.RecordedAt,
	}

	if r.ActualImpactAmount != nil {
		actual := r.ActualImpactAmount.InexactFloat64()
		f.ActualAmount = &actual
	}

	if res, ok := Preview(r.PredictedImpactAmount, r.ActualImpactAmount); ok {
		variancePct := res.VariancePct
		accuracy := res.Accuracy
		f.VariancePct = &variancePct
		f.AccuracyPct = &accuracy
	}

	return f
}
