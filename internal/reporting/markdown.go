package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Decision Outcome Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	if r.PeriodStart != nil && r.PeriodEnd != nil {
		sb.WriteString(fmt.Sprintf("Period: %s to %s\n\n",
			r.PeriodStart.Format(time.DateOnly), r.PeriodEnd.Format(time.DateOnly)))
	}

	// Summary
	s := r.Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Records | %d |\n", s.TotalRecords))
	sb.WriteString(fmt.Sprintf("| Alerts | %d |\n", s.Alerts))
	sb.WriteString(fmt.Sprintf("| Finalized | %d |\n", s.Finalized))
	sb.WriteString(fmt.Sprintf("| Better than expected | %d |\n", s.Better))
	sb.WriteString(fmt.Sprintf("| As expected | %d |\n", s.AsExpected))
	sb.WriteString(fmt.Sprintf("| Worse than expected | %d |\n", s.Worse))
	sb.WriteString(fmt.Sprintf("| Pending follow-up | %d |\n", s.Pending))
	sb.WriteString(fmt.Sprintf("| Overdue follow-up | %d |\n", s.Overdue))
	sb.WriteString(fmt.Sprintf("| Mean accuracy %% | %.2f |\n", s.MeanAccuracy))
	sb.WriteString(fmt.Sprintf("| Mean variance %% | %+.2f |\n", s.MeanVariancePct))
	sb.WriteString("\n")

	// By decision type
	sb.WriteString("## By Decision Type\n\n")
	if len(r.ByType) > 0 {
		sb.WriteString("| Type | Finalized | Better | As Expected | Worse | Pending | Overdue | Accuracy% | Variance% | Predicted | Actual |\n")
		sb.WriteString("|------|-----------|--------|-------------|-------|---------|---------|-----------|-----------|-----------|--------|\n")
		for _, t := range r.ByType {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d | %d | %d | %.2f | %+.2f | %s | %s |\n",
				t.DecisionType, t.Finalized, t.Better, t.AsExpected, t.Worse, t.Pending, t.Overdue,
				t.MeanAccuracy, t.MeanVariancePct, t.PredictedSum.StringFixed(2), t.ActualSum.StringFixed(2)))
		}
	} else {
		sb.WriteString("No outcomes recorded.\n")
	}
	sb.WriteString("\n")

	// Overdue
	sb.WriteString("## Overdue Follow-ups\n\n")
	if len(r.Overdue) > 0 {
		sb.WriteString("| Ref | Alert | Decision | Type | Due | Days Overdue |\n")
		sb.WriteString("|-----|-------|----------|------|-----|--------------|\n")
		for _, o := range r.Overdue {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %d |\n",
				o.ShortRef, o.AlertID, escapeCell(o.DecisionTitle), o.DecisionType,
				o.DueDate.Format(time.DateOnly), o.DaysOverdue))
		}
	} else {
		sb.WriteString("No overdue follow-ups.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
