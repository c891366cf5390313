package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"control-tower/internal/outcome"
	"control-tower/internal/reporting"
)

var (
	previewPredicted string
	previewActual    string
	dueAsOf          string
)

// previewCmd computes the variance badge locally
var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show variance, accuracy and the suggested verdict",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cls, err := classifier()
		if err != nil {
			return err
		}
		predicted, err := decimal.NewFromString(previewPredicted)
		if err != nil {
			return fmt.Errorf("invalid --predicted: %w", err)
		}
		actual, err := decimal.NewFromString(previewActual)
		if err != nil {
			return fmt.Errorf("invalid --actual: %w", err)
		}

		a, ok := cls.Assess(predicted, &actual)
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Not measurable: actual impact must be positive.")
			return nil
		}
		printAssessment(cmd.OutOrStdout(), a)
		return nil
	},
}

// showCmd prints one record
var showCmd = &cobra.Command{
	Use:   "show <id|short-ref>",
	Short: "Show a record by id or short reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		view, err := newClient().Get(ctx, args[0])
		if isNotFound(err) {
			return fmt.Errorf("no record %q", args[0])
		}
		if err != nil {
			return err
		}
		printViews(cmd.OutOrStdout(), []outcome.RecordView{view})
		return nil
	},
}

// historyCmd prints every record of an alert
var historyCmd = &cobra.Command{
	Use:   "history <alert-id>",
	Short: "Show the outcome history of an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		resp, err := newClient().History(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(resp.History) == 0 {
			fmt.Fprintf(out, "No outcomes recorded for %s.\n", args[0])
			return nil
		}
		printViews(out, resp.History)
		if resp.Effective != nil {
			fmt.Fprintf(out, "\nEffective: %s (%s)\n", resp.Effective.ShortRef, resp.Effective.OutcomeVerdict)
		}
		return nil
	},
}

// followupsCmd lists overdue follow-ups
var followupsCmd = &cobra.Command{
	Use:   "followups",
	Short: "List overdue follow-ups",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var asOf *time.Time
		if dueAsOf != "" {
			t, err := parseDate(dueAsOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of: %w", err)
			}
			asOf = &t
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		resp, err := newClient().DueFollowups(ctx, asOf)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(resp.Followups) == 0 {
			fmt.Fprintf(out, "No follow-ups due as of %s.\n", resp.AsOf.Format(time.DateOnly))
			return nil
		}
		printViews(out, resp.Followups)
		return nil
	},
}

// analyticsCmd prints per decision type accuracy from the analytics store
var analyticsCmd = &cobra.Command{
	Use:   "analytics [decision-type]",
	Short: "Show accuracy and verdict mix per decision type",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ := ""
		if len(args) == 1 {
			typ = args[0]
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		resp, err := newClient().Analytics(ctx, typ)
		if isNotFound(err) {
			return fmt.Errorf("no outcomes for decision type %q", typ)
		}
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(resp.DecisionTypes) == 0 {
			fmt.Fprintln(out, "No outcomes recorded yet.")
			return nil
		}
		printSummaries(out, resp.DecisionTypes)
		return nil
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewPredicted, "predicted", "", "Predicted impact amount")
	previewCmd.Flags().StringVar(&previewActual, "actual", "", "Actual impact amount")
	_ = previewCmd.MarkFlagRequired("predicted")
	_ = previewCmd.MarkFlagRequired("actual")

	followupsCmd.Flags().StringVar(&dueAsOf, "as-of", "", "Evaluate due dates at this date (YYYY-MM-DD)")
}

func printSummaries(w io.Writer, rows []reporting.FactSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tFACTS\tBETTER\tAS_EXPECTED\tWORSE\tPENDING\tACCURACY%\tVARIANCE%")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%.1f\t%+.1f\n",
			r.DecisionType, r.Facts, r.Better, r.AsExpected, r.Worse, r.Pending,
			r.MeanAccuracyPct, r.MeanVariancePct)
	}
	tw.Flush()
}

func printViews(w io.Writer, views []outcome.RecordView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REF\tALERT\tTYPE\tVERDICT\tPREDICTED\tACTUAL\tVARIANCE%\tDUE\tRECORDED")
	for _, v := range views {
		actual, pct, due := "-", "-", "-"
		if v.ActualImpactAmount != nil {
			actual = v.ActualImpactAmount.StringFixed(2)
		}
		if v.VariancePct != nil {
			pct = fmt.Sprintf("%+.1f", *v.VariancePct)
		}
		if v.FollowupDueDate != nil {
			due = v.FollowupDueDate.Format(time.DateOnly)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ShortRef, v.AlertID, v.DecisionType, v.OutcomeVerdict,
			v.PredictedImpactAmount.StringFixed(2), actual, pct, due,
			v.RecordedAt.Format(time.RFC3339))
	}
	tw.Flush()
}
