package submission

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
	"control-tower/internal/storage"
	"control-tower/internal/storage/memory"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func testDecision() Decision {
	return Decision{
		AlertID:               "alert-42",
		DecisionTitle:         "Pause Meta campaign",
		DecisionType:          "marketing_spend",
		PredictedImpactAmount: decimal.NewFromInt(45_000_000),
	}
}

func newTestAdapter(store storage.OutcomeStore, pubs ...Publisher) *Adapter {
	return NewAdapter(Options{
		Store:      store,
		Publishers: pubs,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return fixedNow },
	})
}

type recordingPublisher struct {
	mu      sync.Mutex
	records []*domain.OutcomeRecord
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, r *domain.OutcomeRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, r)
	return p.err
}

// blockingStore holds Insert until release is closed.
type blockingStore struct {
	*memory.OutcomeStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Insert(ctx context.Context, r *domain.OutcomeRecord) error {
	s.entered <- struct{}{}
	<-s.release
	return s.OutcomeStore.Insert(ctx, r)
}

type failingStore struct {
	*memory.OutcomeStore
}

func (failingStore) Insert(context.Context, *domain.OutcomeRecord) error {
	return errors.New("connection reset")
}

func TestRecordFinalOutcome(t *testing.T) {
	store := memory.NewOutcomeStore()
	pub := &recordingPublisher{}
	a := newTestAdapter(store, pub)

	rec, err := a.RecordFinalOutcome(context.Background(), FinalOutcome{
		Decision:           testDecision(),
		ActualImpactAmount: decimal.NewFromInt(50_000_000),
		OutcomeVerdict:     domain.VerdictBetterThanExpected,
		OutcomeNotes:       "CAC dropped after pause",
		RecordedBy:         "ops",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.NotEmpty(t, rec.ShortRef)
	assert.Equal(t, fixedNow, rec.RecordedAt)
	assert.Nil(t, rec.FollowupDueDate)
	require.NotNil(t, rec.ActualImpactAmount)
	assert.True(t, rec.ActualImpactAmount.Equal(decimal.NewFromInt(50_000_000)))

	stored, err := store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "CAC dropped after pause", stored.OutcomeNotes)
	assert.Equal(t, domain.VerdictBetterThanExpected, stored.OutcomeVerdict)

	require.Len(t, pub.records, 1)
	assert.Equal(t, rec.ID, pub.records[0].ID)
}

func TestRecordFinalOutcome_UserOverrideKept(t *testing.T) {
	a := newTestAdapter(memory.NewOutcomeStore())

	// +11.1% would suggest better_than_expected; the caller chose otherwise
	rec, err := a.RecordFinalOutcome(context.Background(), FinalOutcome{
		Decision:           testDecision(),
		ActualImpactAmount: decimal.NewFromInt(50_000_000),
		OutcomeVerdict:     domain.VerdictAsExpected,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictAsExpected, rec.OutcomeVerdict)
}

func TestRecordFinalOutcome_Validation(t *testing.T) {
	a := newTestAdapter(memory.NewOutcomeStore())
	ctx := context.Background()

	_, err := a.RecordFinalOutcome(ctx, FinalOutcome{
		Decision:           testDecision(),
		ActualImpactAmount: decimal.Zero,
		OutcomeVerdict:     domain.VerdictAsExpected,
	})
	assert.ErrorIs(t, err, ErrNotMeasurable)

	_, err = a.RecordFinalOutcome(ctx, FinalOutcome{
		Decision:           testDecision(),
		ActualImpactAmount: decimal.NewFromInt(1),
		OutcomeVerdict:     domain.VerdictPendingFollowup,
	})
	assert.ErrorIs(t, err, ErrVerdictNotFinal)

	missing := testDecision()
	missing.AlertID = ""
	_, err = a.RecordFinalOutcome(ctx, FinalOutcome{
		Decision:           missing,
		ActualImpactAmount: decimal.NewFromInt(1),
		OutcomeVerdict:     domain.VerdictAsExpected,
	})
	assert.ErrorIs(t, err, ErrMissingAlert)
}

func TestScheduleFollowup_ChosenDate(t *testing.T) {
	store := memory.NewOutcomeStore()
	a := newTestAdapter(store)
	due := fixedNow.Add(30 * 24 * time.Hour)

	rec, err := a.ScheduleFollowup(context.Background(), Followup{
		Decision:        testDecision(),
		FollowupDueDate: &due,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictPendingFollowup, rec.OutcomeVerdict)
	assert.Nil(t, rec.ActualImpactAmount)
	require.NotNil(t, rec.FollowupDueDate)
	assert.Equal(t, due, *rec.FollowupDueDate)
	assert.NoError(t, rec.Validate())
}

func TestScheduleFollowup_DefaultFourteenDays(t *testing.T) {
	a := newTestAdapter(memory.NewOutcomeStore())

	rec, err := a.ScheduleFollowup(context.Background(), Followup{Decision: testDecision()})
	require.NoError(t, err)
	require.NotNil(t, rec.FollowupDueDate)
	assert.Equal(t, fixedNow.Add(14*24*time.Hour), *rec.FollowupDueDate)
	assert.Equal(t, *rec.FollowupDueDate, a.DefaultFollowupDate())
}

func TestScheduleFollowup_PastDateRejected(t *testing.T) {
	a := newTestAdapter(memory.NewOutcomeStore())
	past := fixedNow.Add(-time.Hour)

	_, err := a.ScheduleFollowup(context.Background(), Followup{Decision: testDecision(), FollowupDueDate: &past})
	assert.ErrorIs(t, err, ErrFollowupInPast)

	_, err = a.ScheduleFollowup(context.Background(), Followup{Decision: testDecision(), FollowupDueDate: &fixedNow})
	assert.ErrorIs(t, err, ErrFollowupInPast)
}

func TestSubmit_SecondSubmissionWhileInFlight(t *testing.T) {
	store := &blockingStore{
		OutcomeStore: memory.NewOutcomeStore(),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	a := newTestAdapter(store)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := a.ScheduleFollowup(ctx, Followup{Decision: testDecision()})
		done <- err
	}()

	<-store.entered
	assert.True(t, a.InFlight("alert-42"))

	_, err := a.RecordFinalOutcome(ctx, FinalOutcome{
		Decision:           testDecision(),
		ActualImpactAmount: decimal.NewFromInt(1),
		OutcomeVerdict:     domain.VerdictAsExpected,
	})
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	close(store.release)
	require.NoError(t, <-done)
	assert.False(t, a.InFlight("alert-42"))
}

// blockingPublisher holds the first Publish until release is closed.
type blockingPublisher struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPublisher) Publish(ctx context.Context, _ *domain.OutcomeRecord) error {
	first := false
	p.once.Do(func() { first = true })
	if !first {
		return nil
	}
	close(p.entered)
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSubmit_GuardReleasedBeforePublishing(t *testing.T) {
	store := memory.NewOutcomeStore()
	pub := &blockingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	a := newTestAdapter(store, pub)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := a.ScheduleFollowup(ctx, Followup{Decision: testDecision()})
		done <- err
	}()

	<-pub.entered
	assert.False(t, a.InFlight("alert-42"))

	_, err := a.RecordFinalOutcome(ctx, FinalOutcome{
		Decision:           testDecision(),
		ActualImpactAmount: decimal.NewFromInt(50_000_000),
		OutcomeVerdict:     domain.VerdictBetterThanExpected,
	})
	require.NoError(t, err)

	close(pub.release)
	require.NoError(t, <-done)

	history, err := store.GetByAlertID(ctx, "alert-42")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSubmit_PublishTimeoutBounded(t *testing.T) {
	pub := &blockingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	a := NewAdapter(Options{
		Store:          memory.NewOutcomeStore(),
		Publishers:     []Publisher{pub},
		PublishTimeout: 20 * time.Millisecond,
		Logger:         zerolog.Nop(),
		Now:            func() time.Time { return fixedNow },
	})

	rec, err := a.ScheduleFollowup(context.Background(), Followup{Decision: testDecision()})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
}

func TestSubmit_StoreFailureReleasesAndSkipsCallbacks(t *testing.T) {
	pub := &recordingPublisher{}
	called := false
	a := NewAdapter(Options{
		Store:       failingStore{memory.NewOutcomeStore()},
		Publishers:  []Publisher{pub},
		Logger:      zerolog.Nop(),
		OnSubmitted: func(*domain.OutcomeRecord) { called = true },
	})

	_, err := a.ScheduleFollowup(context.Background(), Followup{Decision: testDecision()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, called)
	assert.Empty(t, pub.records)
	assert.False(t, a.InFlight("alert-42"))
}

func TestSubmit_PublisherFailureDoesNotFail(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("clickhouse down")}
	var submitted *domain.OutcomeRecord
	a := NewAdapter(Options{
		Store:       memory.NewOutcomeStore(),
		Publishers:  []Publisher{pub},
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return fixedNow },
		OnSubmitted: func(r *domain.OutcomeRecord) { submitted = r },
	})

	rec, err := a.ScheduleFollowup(context.Background(), Followup{Decision: testDecision()})
	require.NoError(t, err)
	require.NotNil(t, submitted)
	assert.Equal(t, rec.ID, submitted.ID)
}

func TestFactPublisher(t *testing.T) {
	facts := memory.NewOutcomeFactStore()
	a := newTestAdapter(memory.NewOutcomeStore(), FactPublisher{Store: facts})

	_, err := a.RecordFinalOutcome(context.Background(), FinalOutcome{
		Decision:           testDecision(),
		ActualImpactAmount: decimal.NewFromInt(40_000_000),
		OutcomeVerdict:     domain.VerdictWorseThanExpected,
	})
	require.NoError(t, err)

	all, err := facts.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].VariancePct)
	assert.InDelta(t, -11.111, *all[0].VariancePct, 0.001)
}
