package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"control-tower/internal/domain"
	"control-tower/internal/observability"
	"control-tower/internal/outcome"
	"control-tower/internal/storage"
)

// UntypedDecision labels records without a decision type.
const UntypedDecision = "(untyped)"

// Generator produces reports from stored outcomes.
type Generator struct {
	store storage.OutcomeStore
	now   func() time.Time // Injectable clock for deterministic output
	start *time.Time
	end   *time.Time
}

// NewGenerator creates a new report generator.
func NewGenerator(store storage.OutcomeStore) *Generator {
	return &Generator{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithPeriod restricts the report to records recorded within [start, end].
func (g *Generator) WithPeriod(start, end time.Time) *Generator {
	g.start = &start
	g.end = &end
	return g
}

// Generate produces a complete report.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	var (
		records []*domain.OutcomeRecord
		err     error
	)
	if g.start != nil && g.end != nil {
		records, err = g.store.GetByTimeRange(ctx, *g.start, *g.end)
	} else {
		records, err = g.store.GetAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}

	now := g.now()
	effective := effectiveRecords(records)

	rows := make(map[string]*typeAccumulator)
	total := &typeAccumulator{}
	var overdue []OverdueRow

	for _, r := range effective {
		typ := r.DecisionType
		if typ == "" {
			typ = UntypedDecision
		}
		acc, ok := rows[typ]
		if !ok {
			acc = &typeAccumulator{}
			rows[typ] = acc
		}
		acc.add(r, now)
		total.add(r, now)

		if r.Overdue(now) {
			overdue = append(overdue, OverdueRow{
				AlertID:       r.AlertID,
				ShortRef:      r.ShortRef,
				DecisionTitle: r.DecisionTitle,
				DecisionType:  typ,
				DueDate:       *r.FollowupDueDate,
				DaysOverdue:   int(now.Sub(*r.FollowupDueDate).Hours() / 24),
			})
		}
	}

	byType := make([]TypeRow, 0, len(rows))
	for typ, acc := range rows {
		byType = append(byType, acc.row(typ))
	}
	sort.Slice(byType, func(i, j int) bool {
		return byType[i].DecisionType < byType[j].DecisionType
	})

	sort.Slice(overdue, func(i, j int) bool {
		if !overdue[i].DueDate.Equal(overdue[j].DueDate) {
			return overdue[i].DueDate.Before(overdue[j].DueDate)
		}
		return overdue[i].AlertID < overdue[j].AlertID
	})

	totalRow := total.row("")
	observability.RecordReportGenerated()

	return &Report{
		GeneratedAt: now,
		PeriodStart: g.start,
		PeriodEnd:   g.end,
		Summary: Summary{
			TotalRecords:    len(records),
			Alerts:          len(effective),
			VerdictCounts:   totalRow.VerdictCounts,
			MeanAccuracy:    totalRow.MeanAccuracy,
			MeanVariancePct: totalRow.MeanVariancePct,
		},
		ByType:  byType,
		Overdue: overdue,
	}, nil
}

// effectiveRecords returns the latest record per alert, ordered by alert id.
func effectiveRecords(records []*domain.OutcomeRecord) []*domain.OutcomeRecord {
	byAlert := make(map[string][]*domain.OutcomeRecord)
	for _, r := range records {
		byAlert[r.AlertID] = append(byAlert[r.AlertID], r)
	}

	result := make([]*domain.OutcomeRecord, 0, len(byAlert))
	for _, rs := range byAlert {
		result = append(result, domain.Latest(rs))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AlertID < result[j].AlertID
	})
	return result
}

type typeAccumulator struct {
	counts       VerdictCounts
	accuracySum  float64
	varianceSum  float64
	measured     int
	predictedSum decimal.Decimal
	actualSum    decimal.Decimal
}

func (a *typeAccumulator) add(r *domain.OutcomeRecord, now time.Time) {
	switch r.OutcomeVerdict {
	case domain.VerdictPendingFollowup:
		a.counts.Pending++
		if r.Overdue(now) {
			a.counts.Overdue++
		}
		return
	case domain.VerdictBetterThanExpected:
		a.counts.Better++
	case domain.VerdictAsExpected:
		a.counts.AsExpected++
	case domain.VerdictWorseThanExpected:
		a.counts.Worse++
	}
	a.counts.Finalized++

	a.predictedSum = a.predictedSum.Add(r.PredictedImpactAmount)
	if r.ActualImpactAmount != nil {
		a.actualSum = a.actualSum.Add(*r.ActualImpactAmount)
	}

	if res, ok := outcome.Preview(r.PredictedImpactAmount, r.ActualImpactAmount); ok {
		a.accuracySum += res.Accuracy
		a.varianceSum += res.VariancePct
		a.measured++
	}
}

func (a *typeAccumulator) row(typ string) TypeRow {
	row := TypeRow{
		DecisionType:  typ,
		VerdictCounts: a.counts,
		PredictedSum:  a.predictedSum,
		ActualSum:     a.actualSum,
	}
	if a.measured > 0 {
		row.MeanAccuracy = a.accuracySum / float64(a.measured)
		row.MeanVariancePct = a.varianceSum / float64(a.measured)
	}
	return row
}
