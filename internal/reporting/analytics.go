package reporting

import (
	"sort"

	"control-tower/internal/domain"
)

// FactSummary aggregates analytics facts of one decision type. Facts are
// written per submission, so follow-ups later superseded by a final outcome
// still count as pending here; Report counts effective records only.
type FactSummary struct {
	DecisionType    string  `json:"decision_type"`
	Facts           int     `json:"facts"`
	Better          int     `json:"better_than_expected"`
	AsExpected      int     `json:"as_expected"`
	Worse           int     `json:"worse_than_expected"`
	Pending         int     `json:"pending_followup"`
	Measured        int     `json:"measured"`
	MeanAccuracyPct float64 `json:"mean_accuracy_pct"`
	MeanVariancePct float64 `json:"mean_variance_pct"`
	PredictedTotal  float64 `json:"predicted_total"`
	ActualTotal     float64 `json:"actual_total"`
}

// SummarizeFacts groups facts by decision type, sorted by type. Predicted and
// actual totals cover measured facts only.
func SummarizeFacts(facts []*domain.OutcomeFact) []FactSummary {
	byType := make(map[string]*factAccumulator)
	for _, f := range facts {
		typ := f.DecisionType
		if typ == "" {
			typ = UntypedDecision
		}
		acc, ok := byType[typ]
		if !ok {
			acc = &factAccumulator{}
			byType[typ] = acc
		}
		acc.add(f)
	}

	result := make([]FactSummary, 0, len(byType))
	for typ, acc := range byType {
		result = append(result, acc.summary(typ))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DecisionType < result[j].DecisionType
	})
	return result
}

type factAccumulator struct {
	s           FactSummary
	accuracySum float64
	varianceSum float64
}

func (a *factAccumulator) add(f *domain.OutcomeFact) {
	a.s.Facts++
	switch f.Verdict {
	case domain.VerdictBetterThanExpected:
		a.s.Better++
	case domain.VerdictAsExpected:
		a.s.AsExpected++
	case domain.VerdictWorseThanExpected:
		a.s.Worse++
	case domain.VerdictPendingFollowup:
		a.s.Pending++
	}

	if f.AccuracyPct == nil || f.VariancePct == nil || f.ActualAmount == nil {
		return
	}
	a.s.Measured++
	a.accuracySum += *f.AccuracyPct
	a.varianceSum += *f.VariancePct
	a.s.PredictedTotal += f.PredictedAmount
	a.s.ActualTotal += *f.ActualAmount
}

func (a *factAccumulator) summary(typ string) FactSummary {
	s := a.s
	s.DecisionType = typ
	if s.Measured > 0 {
		s.MeanAccuracyPct = a.accuracySum / float64(s.Measured)
		s.MeanVariancePct = a.varianceSum / float64(s.Measured)
	}
	return s
}
