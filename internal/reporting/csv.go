package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders per-type rows as CSV string.
func RenderCSV(rows []TypeRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("decision_type,finalized,better,as_expected,worse,pending,overdue,")
	sb.WriteString("mean_accuracy_pct,mean_variance_pct,predicted_sum,actual_sum\n")

	// Rows
	for _, t := range rows {
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%d,%d,%d,%d,%.6f,%.6f,%s,%s\n",
			csvField(t.DecisionType),
			t.Finalized,
			t.Better,
			t.AsExpected,
			t.Worse,
			t.Pending,
			t.Overdue,
			t.MeanAccuracy,
			t.MeanVariancePct,
			t.PredictedSum.String(),
			t.ActualSum.String(),
		))
	}

	return sb.String()
}

func csvField(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
