// Package outcome compares predicted and observed decision impact.
package outcome

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Result holds the derived comparison of an actual against a predicted impact.
type Result struct {
	Variance    decimal.Decimal // actual - predicted
	VariancePct float64         // (actual - predicted) / |predicted| * 100, 0 when predicted is 0
	Accuracy    float64         // min/max * 100 when both are positive, otherwise 0
	Measurable  bool            // actual > 0
}

// Calculate derives variance and accuracy. It never fails: a zero prediction
// yields VariancePct = 0 and non-positive inputs yield Accuracy = 0.
func Calculate(predicted, actual decimal.Decimal) Result {
	variance := actual.Sub(predicted)

	var variancePct float64
	if !predicted.IsZero() {
		variancePct = variance.Div(predicted.Abs()).Mul(hundred).InexactFloat64()
	}

	var accuracy float64
	if actual.IsPositive() && predicted.IsPositive() {
		lo := decimal.Min(actual, predicted)
		hi := decimal.Max(actual, predicted)
		accuracy = lo.Div(hi).Mul(hundred).InexactFloat64()
	}

	return Result{
		Variance:    variance,
		VariancePct: variancePct,
		Accuracy:    accuracy,
		Measurable:  actual.IsPositive(),
	}
}

// Preview returns the comparison only when actual is set and positive.
// A nil or non-positive actual is "not yet measurable" and ok is false.
func Preview(predicted decimal.Decimal, actual *decimal.Decimal) (Result, bool) {
	if actual == nil || !actual.IsPositive() {
		return Result{}, false
	}
	return Calculate(predicted, *actual), true
}
