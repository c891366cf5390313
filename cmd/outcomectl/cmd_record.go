package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"control-tower/internal/domain"
	"control-tower/internal/outcome"
	"control-tower/internal/wizard"
)

type recordFlags struct {
	alertID       string
	title         string
	decisionType  string
	predicted     string
	actual        string
	cannotMeasure bool
	followup      string
	verdict       string
	notes         string
	by            string
	interactive   bool
}

var recFlags recordFlags

// recordCmd drives the two-step recording session
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a measured outcome or schedule a follow-up",
	Long: `Record how a decision turned out.

With --actual the outcome is finalized; the verdict defaults to the
suggestion for the variance (±10%) unless --verdict is given.
With --cannot-measure a follow-up is scheduled instead, due on --followup
(YYYY-MM-DD) or 14 days from now.

--interactive prompts for each field and asks for confirmation.`,
	RunE: runRecord,
}

func init() {
	f := recordCmd.Flags()
	f.StringVar(&recFlags.alertID, "alert", "", "Alert id (required)")
	f.StringVar(&recFlags.title, "title", "", "Decision title")
	f.StringVar(&recFlags.decisionType, "type", "", "Decision type")
	f.StringVar(&recFlags.predicted, "predicted", "", "Predicted impact amount (required)")
	f.StringVar(&recFlags.actual, "actual", "", "Actual impact amount")
	f.BoolVar(&recFlags.cannotMeasure, "cannot-measure", false, "Defer measurement and schedule a follow-up")
	f.StringVar(&recFlags.followup, "followup", "", "Follow-up due date (YYYY-MM-DD)")
	f.StringVar(&recFlags.verdict, "verdict", "", "Override verdict: better_than_expected, as_expected, worse_than_expected")
	f.StringVar(&recFlags.notes, "notes", "", "Outcome notes")
	f.StringVar(&recFlags.by, "by", os.Getenv("USER"), "Recorded by")
	f.BoolVarP(&recFlags.interactive, "interactive", "i", false, "Prompt for fields")
	_ = recordCmd.MarkFlagRequired("alert")
	_ = recordCmd.MarkFlagRequired("predicted")
}

func runRecord(cmd *cobra.Command, _ []string) error {
	cls, err := classifier()
	if err != nil {
		return err
	}

	predicted, err := decimal.NewFromString(recFlags.predicted)
	if err != nil {
		return fmt.Errorf("invalid --predicted: %w", err)
	}

	sess := wizard.New(newClient(), cls, 0)
	sess.Open(wizard.Subject{
		AlertID:               recFlags.alertID,
		DecisionTitle:         recFlags.title,
		DecisionType:          recFlags.decisionType,
		PredictedImpactAmount: predicted,
		RecordedBy:            recFlags.by,
	})
	defer sess.Cancel()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	if recFlags.interactive {
		return runInteractive(ctx, sess, cmd.InOrStdin(), out)
	}

	if err := applyFlags(sess, recFlags); err != nil {
		return err
	}

	if sess.Step() == wizard.StepInput && !sess.CanSubmit() {
		return errors.New("nothing to submit: give --actual or --cannot-measure")
	}
	if a, ok := sess.Preview(); ok {
		printAssessment(out, a)
	}

	rec, err := sess.Submit(ctx)
	if err != nil {
		return err
	}
	printRecorded(out, rec)
	return nil
}

// applyFlags fills the session from flags and advances to confirm for a
// measured outcome.
func applyFlags(sess *wizard.Session, f recordFlags) error {
	if err := sess.SetNotes(f.notes); err != nil {
		return err
	}

	if f.cannotMeasure {
		if f.actual != "" {
			return errors.New("--actual and --cannot-measure are mutually exclusive")
		}
		if err := sess.SetCannotMeasure(true); err != nil {
			return err
		}
		if f.followup != "" {
			due, err := parseDate(f.followup)
			if err != nil {
				return fmt.Errorf("invalid --followup: %w", err)
			}
			return sess.SetFollowupDate(&due)
		}
		return nil
	}

	if f.actual == "" {
		return nil
	}
	actual, err := decimal.NewFromString(f.actual)
	if err != nil {
		return fmt.Errorf("invalid --actual: %w", err)
	}
	if err := sess.SetActual(&actual); err != nil {
		return err
	}
	if f.verdict != "" {
		if err := sess.SetVerdict(domain.Verdict(f.verdict)); err != nil {
			return err
		}
	}
	return sess.Continue()
}

// runInteractive walks the session step by step on in/out.
func runInteractive(ctx context.Context, sess *wizard.Session, in io.Reader, out io.Writer) error {
	p := &prompter{r: bufio.NewReader(in), w: out}

	for {
		switch sess.Step() {
		case wizard.StepInput:
			if err := promptInput(p, sess); err != nil {
				return err
			}
			if sess.CanSubmit() {
				// cannot measure: submit straight from input
				return submitAndPrint(ctx, sess, out)
			}
			if err := sess.Continue(); err != nil {
				fmt.Fprintf(out, "%v\n", err)
			}

		case wizard.StepConfirm:
			a, _ := sess.Preview()
			printAssessment(out, a)
			if v, err := p.ask(fmt.Sprintf("Verdict [%s]", sess.Verdict())); err != nil {
				return err
			} else if v != "" {
				if err := sess.SetVerdict(domain.Verdict(v)); err != nil {
					fmt.Fprintf(out, "%v\n", err)
					continue
				}
			}
			answer, err := p.ask("Submit? [y]es / [b]ack / [n]o")
			if err != nil {
				return err
			}
			switch strings.ToLower(answer) {
			case "y", "yes":
				return submitAndPrint(ctx, sess, out)
			case "b", "back":
				_ = sess.Back()
			default:
				sess.Cancel()
				fmt.Fprintln(out, "Cancelled.")
				return nil
			}

		default:
			return nil
		}
	}
}

func promptInput(p *prompter, sess *wizard.Session) error {
	title, err := p.ask("Decision title (enter to keep)")
	if err != nil {
		return err
	}
	if title != "" {
		_ = sess.SetTitle(title)
	}

	actual, err := p.ask("Actual impact (blank if it cannot be measured yet)")
	if err != nil {
		return err
	}
	if actual == "" {
		_ = sess.SetActual(nil)
		_ = sess.SetCannotMeasure(true)
		due, err := p.ask("Follow-up date YYYY-MM-DD (enter for default)")
		if err != nil {
			return err
		}
		if due != "" {
			d, err := parseDate(due)
			if err != nil {
				return fmt.Errorf("invalid date: %w", err)
			}
			_ = sess.SetFollowupDate(&d)
		}
	} else {
		v, err := decimal.NewFromString(actual)
		if err != nil {
			fmt.Fprintf(p.w, "not a number: %s\n", actual)
			return nil
		}
		_ = sess.SetCannotMeasure(false)
		_ = sess.SetActual(&v)
	}

	notes, err := p.ask("Notes")
	if err != nil {
		return err
	}
	return sess.SetNotes(notes)
}

func submitAndPrint(ctx context.Context, sess *wizard.Session, out io.Writer) error {
	rec, err := sess.Submit(ctx)
	if err != nil {
		return err
	}
	printRecorded(out, rec)
	return nil
}

type prompter struct {
	r *bufio.Reader
	w io.Writer
}

func (p *prompter) ask(label string) (string, error) {
	fmt.Fprintf(p.w, "%s: ", label)
	line, err := p.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func printAssessment(w io.Writer, a outcome.Assessment) {
	fmt.Fprintf(w, "Variance: %s (%+.1f%%)  Accuracy: %.1f%%  Suggested: %s\n",
		a.Variance.StringFixed(2), a.VariancePct, a.Accuracy, a.Suggested)
}

func printRecorded(w io.Writer, r *domain.OutcomeRecord) {
	if r.Pending() && r.FollowupDueDate != nil {
		fmt.Fprintf(w, "Follow-up %s scheduled for alert %s, due %s\n",
			r.ShortRef, r.AlertID, r.FollowupDueDate.Format(time.DateOnly))
		return
	}
	fmt.Fprintf(w, "Outcome %s recorded for alert %s: %s\n", r.ShortRef, r.AlertID, r.OutcomeVerdict)
}
