package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"control-tower/internal/domain"
	"control-tower/internal/idhash"
	"control-tower/internal/storage"
)

// FixtureTime is the clock used with LoadFixtures for reproducible reports.
var FixtureTime = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

type fixture struct {
	alert     string
	title     string
	typ       string
	predicted int64
	actual    int64 // 0 means deferred
	verdict   domain.Verdict
	daysAgo   int
	dueIn     int // days after recording, deferred only
}

var fixtures = []fixture{
	{"ALT-1001", "Pause underperforming Meta campaign", "marketing_spend", 45_000_000, 50_000_000, domain.VerdictBetterThanExpected, 60, 0},
	{"ALT-1002", "Shift budget to search", "marketing_spend", 12_000_000, 11_500_000, domain.VerdictAsExpected, 45, 0},
	{"ALT-1003", "Renegotiate freight contract", "cost_reduction", 8_000_000, 6_200_000, domain.VerdictWorseThanExpected, 40, 0},
	{"ALT-1004", "Consolidate SaaS licences", "cost_reduction", 1_500_000, 0, domain.VerdictPendingFollowup, 30, 14},
	{"ALT-1005", "Raise enterprise tier price", "pricing", 20_000_000, 0, domain.VerdictPendingFollowup, 10, 30},
	{"ALT-1006", "Hedge EUR exposure", "treasury", 3_000_000, 3_100_000, domain.VerdictAsExpected, 20, 0},
}

// LoadFixtures inserts demo outcome records relative to FixtureTime.
func LoadFixtures(ctx context.Context, store storage.OutcomeStore) error {
	for _, f := range fixtures {
		id, ref := idhash.NewOutcomeID()
		recordedAt := FixtureTime.AddDate(0, 0, -f.daysAgo)

		r := &domain.OutcomeRecord{
			ID:                    id,
			ShortRef:              ref,
			AlertID:               f.alert,
			DecisionTitle:         f.title,
			DecisionType:          f.typ,
			PredictedImpactAmount: decimal.NewFromInt(f.predicted),
			OutcomeVerdict:        f.verdict,
			RecordedAt:            recordedAt,
			RecordedBy:            "fixtures",
		}
		if f.verdict == domain.VerdictPendingFollowup {
			due := recordedAt.AddDate(0, 0, f.dueIn)
			r.FollowupDueDate = &due
		} else {
			actual := decimal.NewFromInt(f.actual)
			r.ActualImpactAmount = &actual
		}

		if err := store.Insert(ctx, r); err != nil {
			return fmt.Errorf("insert fixture %s: %w", f.alert, err)
		}
	}
	return nil
}
