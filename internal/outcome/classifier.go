package outcome

import (
	"fmt"

	"github.com/shopspring/decimal"

	"control-tower/internal/domain"
)

// Default verdict thresholds in variance percent.
const (
	DefaultBetterAbovePct = 10.0
	DefaultWorseBelowPct  = -10.0
)

// Classifier maps a variance percentage to a suggested verdict.
// Bounds are exclusive: exactly +10% is still as_expected.
type Classifier struct {
	BetterAbovePct float64
	WorseBelowPct  float64
}

// DefaultClassifier returns the ±10% classifier.
func DefaultClassifier() Classifier {
	return Classifier{
		BetterAbovePct: DefaultBetterAbovePct,
		WorseBelowPct:  DefaultWorseBelowPct,
	}
}

// Validate rejects inverted bounds.
func (c Classifier) Validate() error {
	if c.WorseBelowPct > c.BetterAbovePct {
		return fmt.Errorf("worse threshold %.2f above better threshold %.2f", c.WorseBelowPct, c.BetterAbovePct)
	}
	return nil
}

// Suggest returns the default verdict for a variance percentage.
func (c Classifier) Suggest(variancePct float64) domain.Verdict {
	switch {
	case variancePct > c.BetterAbovePct:
		return domain.VerdictBetterThanExpected
	case variancePct < c.WorseBelowPct:
		return domain.VerdictWorseThanExpected
	default:
		return domain.VerdictAsExpected
	}
}

// Assessment is a calculator result with its suggested verdict.
type Assessment struct {
	Result
	Suggested domain.Verdict
}

// Assess runs Preview and classifies the result. ok is false when the actual
// value is not measurable.
func (c Classifier) Assess(predicted decimal.Decimal, actual *decimal.Decimal) (Assessment, bool) {
	res, ok := Preview(predicted, actual)
	if !ok {
		return Assessment{}, false
	}
	return Assessment{Result: res, Suggested: c.Suggest(res.VariancePct)}, true
}
