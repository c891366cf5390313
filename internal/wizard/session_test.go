package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"control-tower/internal/domain"
	"control-tower/internal/outcome"
	"control-tower/internal/storage/memory"
	"control-tower/internal/submission"
)

var clock = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func subject() Subject {
	return Subject{
		AlertID:               "alert-7",
		DecisionTitle:         "Renegotiate freight contract",
		DecisionType:          "cost_reduction",
		PredictedImpactAmount: decimal.NewFromInt(45_000_000),
	}
}

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

type stubSubmitter struct {
	mu        sync.Mutex
	finals    []submission.FinalOutcome
	followups []submission.Followup
	err       error
	block     chan struct{}
	entered   chan struct{}
}

func (s *stubSubmitter) wait() {
	if s.entered != nil {
		close(s.entered)
	}
	if s.block != nil {
		<-s.block
	}
}

func (s *stubSubmitter) RecordFinalOutcome(_ context.Context, in submission.FinalOutcome) (*domain.OutcomeRecord, error) {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.finals = append(s.finals, in)
	actual := in.ActualImpactAmount
	return &domain.OutcomeRecord{AlertID: in.AlertID, ActualImpactAmount: &actual, OutcomeVerdict: in.OutcomeVerdict}, nil
}

func (s *stubSubmitter) ScheduleFollowup(_ context.Context, in submission.Followup) (*domain.OutcomeRecord, error) {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.followups = append(s.followups, in)
	return &domain.OutcomeRecord{AlertID: in.AlertID, FollowupDueDate: in.FollowupDueDate, OutcomeVerdict: domain.VerdictPendingFollowup}, nil
}

func newSession(sub Submitter) *Session {
	return New(sub, outcome.DefaultClassifier(), 0).WithClock(func() time.Time { return clock })
}

func TestSession_ClosedRejectsEdits(t *testing.T) {
	s := newSession(&stubSubmitter{})

	assert.Equal(t, StepClosed, s.Step())
	assert.ErrorIs(t, s.SetActual(dec(1)), ErrClosed)
	assert.ErrorIs(t, s.Continue(), ErrWrongStep)
	_, err := s.Submit(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, s.CanSubmit())
}

func TestSession_ContinueRequiresPositiveActual(t *testing.T) {
	s := newSession(&stubSubmitter{})
	s.Open(subject())

	assert.ErrorIs(t, s.Continue(), ErrNotMeasurable)

	require.NoError(t, s.SetActual(dec(0)))
	assert.ErrorIs(t, s.Continue(), ErrNotMeasurable)

	require.NoError(t, s.SetActual(dec(-5)))
	assert.False(t, s.CanContinue())
	assert.ErrorIs(t, s.Continue(), ErrNotMeasurable)

	require.NoError(t, s.SetActual(dec(50_000_000)))
	require.NoError(t, s.SetCannotMeasure(true))
	assert.ErrorIs(t, s.Continue(), ErrNotMeasurable, "cannot measure blocks confirm step")

	require.NoError(t, s.SetCannotMeasure(false))
	assert.True(t, s.CanContinue())
	require.NoError(t, s.Continue())
	assert.Equal(t, StepConfirm, s.Step())
}

func TestSession_PreviewAndSuggestedVerdict(t *testing.T) {
	s := newSession(&stubSubmitter{})
	s.Open(subject())

	_, ok := s.Preview()
	assert.False(t, ok, "no badge before a value is entered")

	require.NoError(t, s.SetActual(dec(40_000_000)))
	a, ok := s.Preview()
	require.True(t, ok)
	assert.InDelta(t, -11.11, a.VariancePct, 0.01)
	assert.Equal(t, domain.VerdictWorseThanExpected, a.Suggested)

	require.NoError(t, s.Continue())
	assert.Equal(t, domain.VerdictWorseThanExpected, s.Verdict())
}

func TestSession_OverrideSurvivesContinue(t *testing.T) {
	s := newSession(&stubSubmitter{})
	s.Open(subject())

	require.NoError(t, s.SetActual(dec(50_000_000)))
	require.NoError(t, s.SetVerdict(domain.VerdictAsExpected))
	require.NoError(t, s.Continue())

	assert.Equal(t, domain.VerdictAsExpected, s.Verdict())
	assert.ErrorIs(t, s.SetVerdict(domain.VerdictPendingFollowup), submission.ErrVerdictNotFinal)
}

func TestSession_BackKeepsFields(t *testing.T) {
	s := newSession(&stubSubmitter{})
	s.Open(subject())

	require.NoError(t, s.SetActual(dec(46_000_000)))
	require.NoError(t, s.SetNotes("landed close to plan"))
	require.NoError(t, s.Continue())
	require.NoError(t, s.Back())

	assert.Equal(t, StepInput, s.Step())
	assert.ErrorIs(t, s.Back(), ErrWrongStep)
	a, ok := s.Preview()
	require.True(t, ok)
	assert.Equal(t, domain.VerdictAsExpected, a.Suggested)

	require.NoError(t, s.Continue())
	assert.Equal(t, StepConfirm, s.Step())
}

func TestSession_SubmitFinalClosesAndResets(t *testing.T) {
	sub := &stubSubmitter{}
	s := newSession(sub)
	s.Open(subject())

	require.NoError(t, s.SetTitle("Renegotiate freight contract (EU)"))
	require.NoError(t, s.SetActual(dec(50_000_000)))
	require.NoError(t, s.SetNotes("volume discount kicked in"))
	require.NoError(t, s.Continue())
	assert.True(t, s.CanSubmit())

	rec, err := s.Submit(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	require.Len(t, sub.finals, 1)
	in := sub.finals[0]
	assert.Equal(t, "alert-7", in.AlertID)
	assert.Equal(t, "Renegotiate freight contract (EU)", in.DecisionTitle)
	assert.True(t, in.ActualImpactAmount.Equal(decimal.NewFromInt(50_000_000)))
	assert.Equal(t, domain.VerdictBetterThanExpected, in.OutcomeVerdict)
	assert.Equal(t, "volume discount kicked in", in.OutcomeNotes)

	assert.Equal(t, StepClosed, s.Step())
	assert.False(t, s.Pending())
	assert.Empty(t, s.Verdict())
}

func TestSession_SubmitFollowupFromInput(t *testing.T) {
	sub := &stubSubmitter{}
	s := newSession(sub)
	s.Open(subject())

	assert.False(t, s.CanSubmit())
	require.NoError(t, s.SetCannotMeasure(true))
	assert.True(t, s.CanSubmit())

	_, err := s.Submit(context.Background())
	require.NoError(t, err)

	require.Len(t, sub.followups, 1)
	require.NotNil(t, sub.followups[0].FollowupDueDate)
	assert.Equal(t, clock.Add(14*24*time.Hour), *sub.followups[0].FollowupDueDate)
	assert.Empty(t, sub.finals)
	assert.Equal(t, StepClosed, s.Step())
}

func TestSession_SubmitFollowupChosenDate(t *testing.T) {
	sub := &stubSubmitter{}
	s := newSession(sub)
	s.Open(subject())

	due := clock.AddDate(0, 1, 0)
	require.NoError(t, s.SetCannotMeasure(true))
	require.NoError(t, s.SetFollowupDate(&due))

	_, err := s.Submit(context.Background())
	require.NoError(t, err)
	require.Len(t, sub.followups, 1)
	assert.Equal(t, due, *sub.followups[0].FollowupDueDate)
}

func TestSession_SubmitWithoutFollowupDate(t *testing.T) {
	s := newSession(&stubSubmitter{})
	s.Open(subject())

	require.NoError(t, s.SetCannotMeasure(true))
	require.NoError(t, s.SetFollowupDate(nil))
	assert.False(t, s.CanSubmit())

	_, err := s.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNoFollowup)
}

func TestSession_SubmitFromInputWithoutCannotMeasure(t *testing.T) {
	s := newSession(&stubSubmitter{})
	s.Open(subject())
	require.NoError(t, s.SetActual(dec(10)))

	_, err := s.Submit(context.Background())
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestSession_CannotMeasureRejectedAtConfirm(t *testing.T) {
	sub := &stubSubmitter{}
	s := newSession(sub)
	s.Open(subject())
	require.NoError(t, s.SetActual(dec(50)))
	require.NoError(t, s.Continue())

	assert.ErrorIs(t, s.SetCannotMeasure(true), ErrWrongStep)
	assert.True(t, s.CanSubmit())

	rec, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec.FollowupDueDate)
	require.Len(t, sub.finals, 1)
	assert.Empty(t, sub.followups)
}

func TestSession_CannotMeasureAfterBack(t *testing.T) {
	sub := &stubSubmitter{}
	s := newSession(sub)
	s.Open(subject())
	require.NoError(t, s.SetActual(dec(50)))
	require.NoError(t, s.Continue())
	require.NoError(t, s.Back())

	require.NoError(t, s.SetCannotMeasure(true))
	assert.False(t, s.CanContinue())
	assert.True(t, s.CanSubmit())

	rec, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictPendingFollowup, rec.OutcomeVerdict)
	require.Len(t, sub.followups, 1)
	assert.Empty(t, sub.finals)
}

func TestSession_FailedSubmitKeepsForm(t *testing.T) {
	sub := &stubSubmitter{err: errors.New("db down")}
	s := newSession(sub)
	s.Open(subject())

	require.NoError(t, s.SetActual(dec(40_000_000)))
	require.NoError(t, s.Continue())

	_, err := s.Submit(context.Background())
	require.Error(t, err)

	assert.Equal(t, StepConfirm, s.Step())
	assert.False(t, s.Pending())
	assert.Equal(t, domain.VerdictWorseThanExpected, s.Verdict())
	assert.True(t, s.CanSubmit())
}

func TestSession_PendingWhileSubmitting(t *testing.T) {
	sub := &stubSubmitter{block: make(chan struct{}), entered: make(chan struct{})}
	s := newSession(sub)
	s.Open(subject())
	require.NoError(t, s.SetActual(dec(46_000_000)))
	require.NoError(t, s.Continue())

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background())
		done <- err
	}()

	<-sub.entered
	assert.True(t, s.Pending())
	assert.False(t, s.CanSubmit())
	assert.ErrorIs(t, s.SetNotes("late edit"), ErrBusy)
	assert.ErrorIs(t, s.Back(), ErrBusy)
	_, err := s.Submit(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(sub.block)
	require.NoError(t, <-done)
	assert.False(t, s.Pending())
	assert.Equal(t, StepClosed, s.Step())
}

func TestSession_CancelThenReopenResets(t *testing.T) {
	s := newSession(&stubSubmitter{})
	s.Open(subject())

	due := clock.AddDate(0, 0, 3)
	require.NoError(t, s.SetTitle("edited"))
	require.NoError(t, s.SetActual(dec(50_000_000)))
	require.NoError(t, s.SetVerdict(domain.VerdictWorseThanExpected))
	require.NoError(t, s.SetNotes("draft"))
	require.NoError(t, s.SetFollowupDate(&due))
	require.NoError(t, s.Continue())

	s.Cancel()
	assert.Equal(t, StepClosed, s.Step())

	s.Open(subject())
	assert.Equal(t, StepInput, s.Step())
	_, ok := s.Preview()
	assert.False(t, ok, "actual value cleared")
	assert.Empty(t, s.Verdict(), "override cleared")
	assert.False(t, s.CanSubmit())
	assert.False(t, s.CanContinue())
}

func TestSession_WithAdapter(t *testing.T) {
	store := memory.NewOutcomeStore()
	var closed int
	tick := clock
	adapter := submission.NewAdapter(submission.Options{
		Store:  store,
		Logger: zerolog.Nop(),
		Now: func() time.Time {
			tick = tick.Add(time.Minute)
			return tick
		},
		OnSubmitted: func(*domain.OutcomeRecord) { closed++ },
	})

	s := newSession(adapter)
	s.Open(subject())
	require.NoError(t, s.SetCannotMeasure(true))
	_, err := s.Submit(context.Background())
	require.NoError(t, err)

	s.Open(subject())
	require.NoError(t, s.SetActual(dec(46_000_000)))
	require.NoError(t, s.Continue())
	rec, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictAsExpected, rec.OutcomeVerdict)
	assert.Equal(t, 2, closed)

	history, err := store.GetByAlertID(context.Background(), "alert-7")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.VerdictAsExpected, domain.Latest(history).OutcomeVerdict)
}
