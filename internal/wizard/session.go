// Package wizard drives the two-step outcome recording session:
// input, then confirm, then submit. Checking "cannot measure" submits a
// follow-up straight from input.
package wizard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"control-tower/internal/domain"
	"control-tower/internal/outcome"
	"control-tower/internal/submission"
)

// Step is the session's position in the wizard.
type Step string

const (
	StepClosed  Step = "closed"
	StepInput   Step = "input"
	StepConfirm Step = "confirm"
)

// Session errors.
var (
	ErrClosed        = errors.New("session is closed")
	ErrWrongStep     = errors.New("action not allowed at this step")
	ErrNotMeasurable = errors.New("enter a positive actual impact or check cannot measure")
	ErrNoFollowup    = errors.New("choose a follow-up date")
	ErrBusy          = errors.New("submission in progress")
)

// Submitter is the persistence side of the session.
type Submitter interface {
	RecordFinalOutcome(ctx context.Context, in submission.FinalOutcome) (*domain.OutcomeRecord, error)
	ScheduleFollowup(ctx context.Context, in submission.Followup) (*domain.OutcomeRecord, error)
}

// Subject is the alert/decision the session records an outcome for.
type Subject struct {
	AlertID               string
	DecisionTitle         string
	DecisionType          string
	PredictedImpactAmount decimal.Decimal
	RecordedBy            string
}

// Session is a single recording dialog. All form state is dropped on Open,
// Cancel and successful Submit.
type Session struct {
	submitter  Submitter
	classifier outcome.Classifier
	now        func() time.Time
	window     time.Duration

	mu      sync.Mutex
	step    Step
	pending bool
	subject Subject

	title         string
	actual        *decimal.Decimal
	cannotMeasure bool
	followupDate  *time.Time
	verdict       domain.Verdict
	verdictSet    bool // user picked the verdict explicitly
	notes         string
}

// New creates a closed session. window is the default follow-up offset used
// when "cannot measure" is checked without a date; zero means 14 days.
func New(submitter Submitter, classifier outcome.Classifier, window time.Duration) *Session {
	if window <= 0 {
		window = submission.DefaultFollowupWindow
	}
	return &Session{
		submitter:  submitter,
		classifier: classifier,
		now:        func() time.Time { return time.Now().UTC() },
		window:     window,
		step:       StepClosed,
	}
}

// WithClock sets the clock used for default follow-up dates.
func (s *Session) WithClock(now func() time.Time) *Session {
	s.now = now
	return s
}

// Open starts a fresh session for subject at StepInput.
func (s *Session) Open(subject Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.subject = subject
	s.title = subject.DecisionTitle
	s.step = StepInput
}

// Cancel closes the session at any step and discards the form.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Session) reset() {
	s.step = StepClosed
	s.subject = Subject{}
	s.title = ""
	s.actual = nil
	s.cannotMeasure = false
	s.followupDate = nil
	s.verdict = ""
	s.verdictSet = false
	s.notes = ""
}

// Step returns the current step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Pending reports whether a submission is in flight.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// SetTitle edits the decision title.
func (s *Session) SetTitle(title string) error {
	return s.edit(func() { s.title = title })
}

// SetActual sets the observed impact. nil clears it.
func (s *Session) SetActual(actual *decimal.Decimal) error {
	return s.edit(func() {
		if actual == nil {
			s.actual = nil
			return
		}
		v := *actual
		s.actual = &v
	})
}

// SetCannotMeasure toggles the deferred-measurement flag. Checking it is only
// allowed at the input step; confirm always records a measured outcome.
func (s *Session) SetCannotMeasure(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step == StepClosed {
		return ErrClosed
	}
	if s.pending {
		return ErrBusy
	}
	if v && s.step != StepInput {
		return ErrWrongStep
	}
	s.cannotMeasure = v
	if v && s.followupDate == nil {
		due := s.now().Add(s.window)
		s.followupDate = &due
	}
	return nil
}

// SetFollowupDate chooses the follow-up due date.
func (s *Session) SetFollowupDate(due *time.Time) error {
	return s.edit(func() {
		if due == nil {
			s.followupDate = nil
			return
		}
		d := *due
		s.followupDate = &d
	})
}

// SetVerdict overrides the suggested verdict.
func (s *Session) SetVerdict(v domain.Verdict) error {
	if !v.Final() {
		return submission.ErrVerdictNotFinal
	}
	return s.edit(func() {
		s.verdict = v
		s.verdictSet = true
	})
}

// SetNotes sets the free-text notes.
func (s *Session) SetNotes(notes string) error {
	return s.edit(func() { s.notes = notes })
}

func (s *Session) edit(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step == StepClosed {
		return ErrClosed
	}
	if s.pending {
		return ErrBusy
	}
	fn()
	return nil
}

// Preview returns the variance badge for the current actual value, or false
// when nothing measurable has been entered.
func (s *Session) Preview() (outcome.Assessment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classifier.Assess(s.subject.PredictedImpactAmount, s.actual)
}

// Verdict returns the verdict that would be submitted: the user's choice, or
// the suggestion for the current actual value.
func (s *Session) Verdict() domain.Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentVerdict()
}

func (s *Session) currentVerdict() domain.Verdict {
	if s.verdictSet {
		return s.verdict
	}
	if a, ok := s.classifier.Assess(s.subject.PredictedImpactAmount, s.actual); ok {
		return a.Suggested
	}
	return ""
}

// CanSubmit mirrors the submit button's enabled state.
func (s *Session) CanSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return false
	}
	switch s.step {
	case StepInput:
		return s.cannotMeasure && s.followupDate != nil
	case StepConfirm:
		return s.measurable()
	}
	return false
}

// CanContinue reports whether Continue would succeed.
func (s *Session) CanContinue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step == StepInput && !s.pending && s.measurable() && !s.cannotMeasure
}

func (s *Session) measurable() bool {
	return s.actual != nil && s.actual.IsPositive()
}

// Continue moves input -> confirm and fixes the suggested verdict as the
// default selection unless the user already picked one.
func (s *Session) Continue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepInput {
		return ErrWrongStep
	}
	if s.cannotMeasure || !s.measurable() {
		return ErrNotMeasurable
	}
	if !s.verdictSet {
		s.verdict = s.currentVerdict()
	}
	s.step = StepConfirm
	return nil
}

// Back returns confirm -> input keeping every field.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepConfirm {
		return ErrWrongStep
	}
	if s.pending {
		return ErrBusy
	}
	s.step = StepInput
	return nil
}

// Submit persists the session. From confirm it records the final outcome;
// from input with "cannot measure" checked it schedules a follow-up. On
// success the session closes; on failure the form is kept.
func (s *Session) Submit(ctx context.Context) (*domain.OutcomeRecord, error) {
	s.mu.Lock()
	if s.step == StepClosed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.pending {
		s.mu.Unlock()
		return nil, ErrBusy
	}

	decision := submission.Decision{
		AlertID:               s.subject.AlertID,
		DecisionTitle:         s.title,
		DecisionType:          s.subject.DecisionType,
		PredictedImpactAmount: s.subject.PredictedImpactAmount,
	}

	var call func() (*domain.OutcomeRecord, error)
	switch {
	case s.step == StepInput && s.cannotMeasure:
		if s.followupDate == nil {
			s.mu.Unlock()
			return nil, ErrNoFollowup
		}
		in := submission.Followup{
			Decision:        decision,
			FollowupDueDate: s.followupDate,
			OutcomeNotes:    s.notes,
			RecordedBy:      s.subject.RecordedBy,
		}
		call = func() (*domain.OutcomeRecord, error) { return s.submitter.ScheduleFollowup(ctx, in) }
	case s.step == StepConfirm:
		in := submission.FinalOutcome{
			Decision:           decision,
			ActualImpactAmount: *s.actual,
			OutcomeVerdict:     s.currentVerdict(),
			OutcomeNotes:       s.notes,
			RecordedBy:         s.subject.RecordedBy,
		}
		call = func() (*domain.OutcomeRecord, error) { return s.submitter.RecordFinalOutcome(ctx, in) }
	default:
		s.mu.Unlock()
		return nil, ErrWrongStep
	}

	s.pending = true
	s.mu.Unlock()

	rec, err := call()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
	if err != nil {
		return nil, err
	}
	s.reset()
	return rec, nil
}
