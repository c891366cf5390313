// Package submission persists decision outcomes: finalized records when the
// actual impact is known, pending follow-ups when measurement is deferred.
package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"control-tower/internal/domain"
	"control-tower/internal/idhash"
	"control-tower/internal/observability"
	"control-tower/internal/outcome"
	"control-tower/internal/storage"
)

const (
	// DefaultFollowupWindow is the follow-up due date offset when none is chosen.
	DefaultFollowupWindow = 14 * 24 * time.Hour

	// DefaultPublishTimeout bounds each publisher call after persistence.
	DefaultPublishTimeout = 5 * time.Second
)

// Submission errors.
var (
	// ErrSubmissionInFlight is returned while another submission for the same
	// alert is being persisted.
	ErrSubmissionInFlight = errors.New("submission already in flight for alert")

	// ErrNotMeasurable is returned when a final outcome lacks a positive actual amount.
	ErrNotMeasurable = errors.New("actual impact must be a positive amount")

	// ErrVerdictNotFinal is returned when a final outcome carries pending_followup
	// or an unknown verdict.
	ErrVerdictNotFinal = errors.New("final outcome needs a better, as_expected or worse verdict")

	// ErrFollowupInPast is returned when a follow-up due date is not after submission time.
	ErrFollowupInPast = errors.New("follow-up due date must be in the future")

	// ErrMissingAlert is returned when no alert id is given.
	ErrMissingAlert = errors.New("alert id is required")
)

// Decision identifies what is being measured.
type Decision struct {
	AlertID               string
	DecisionTitle         string
	DecisionType          string
	PredictedImpactAmount decimal.Decimal
}

// FinalOutcome is a measured outcome.
type FinalOutcome struct {
	Decision
	ActualImpactAmount decimal.Decimal
	OutcomeVerdict     domain.Verdict
	OutcomeNotes       string
	RecordedBy         string
}

// Followup defers measurement. A nil FollowupDueDate uses the adapter's window.
type Followup struct {
	Decision
	FollowupDueDate *time.Time
	OutcomeNotes    string
	RecordedBy      string
}

// Publisher receives every persisted record. Failures are logged and do not
// fail the submission.
type Publisher interface {
	Publish(ctx context.Context, r *domain.OutcomeRecord) error
}

// Options configures an Adapter.
type Options struct {
	Store          storage.OutcomeStore
	Publishers     []Publisher
	FollowupWindow time.Duration
	PublishTimeout time.Duration
	Logger         zerolog.Logger
	Now            func() time.Time

	// OnSubmitted fires after a record is persisted.
	OnSubmitted func(r *domain.OutcomeRecord)
}

// Adapter forwards outcome submissions to the store.
type Adapter struct {
	store          storage.OutcomeStore
	publishers     []Publisher
	followupWindow time.Duration
	publishTimeout time.Duration
	logger         zerolog.Logger
	now            func() time.Time
	onSubmitted    func(r *domain.OutcomeRecord)

	mu       sync.Mutex
	inFlight map[string]struct{} // alert ids
}

// NewAdapter creates an Adapter.
func NewAdapter(opts Options) *Adapter {
	a := &Adapter{
		store:          opts.Store,
		publishers:     opts.Publishers,
		followupWindow: opts.FollowupWindow,
		publishTimeout: opts.PublishTimeout,
		logger:         opts.Logger.With().Str("component", "submission").Logger(),
		now:            opts.Now,
		onSubmitted:    opts.OnSubmitted,
		inFlight:       make(map[string]struct{}),
	}
	if a.followupWindow <= 0 {
		a.followupWindow = DefaultFollowupWindow
	}
	if a.publishTimeout <= 0 {
		a.publishTimeout = DefaultPublishTimeout
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	return a
}

// RecordFinalOutcome persists a measured outcome.
func (a *Adapter) RecordFinalOutcome(ctx context.Context, in FinalOutcome) (*domain.OutcomeRecord, error) {
	if in.AlertID == "" {
		observability.RecordRejected("missing_alert")
		return nil, ErrMissingAlert
	}
	if !in.ActualImpactAmount.IsPositive() {
		observability.RecordRejected("not_measurable")
		return nil, ErrNotMeasurable
	}
	if !in.OutcomeVerdict.Final() {
		observability.RecordRejected("verdict")
		return nil, fmt.Errorf("%w: got %q", ErrVerdictNotFinal, in.OutcomeVerdict)
	}

	actual := in.ActualImpactAmount
	r := a.newRecord(in.Decision, in.OutcomeNotes, in.RecordedBy)
	r.ActualImpactAmount = &actual
	r.OutcomeVerdict = in.OutcomeVerdict

	return a.submit(ctx, "record_final", r)
}

// ScheduleFollowup persists a pending_followup record.
func (a *Adapter) ScheduleFollowup(ctx context.Context, in Followup) (*domain.OutcomeRecord, error) {
	if in.AlertID == "" {
		observability.RecordRejected("missing_alert")
		return nil, ErrMissingAlert
	}

	r := a.newRecord(in.Decision, in.OutcomeNotes, in.RecordedBy)

	due := r.RecordedAt.Add(a.followupWindow)
	if in.FollowupDueDate != nil {
		due = in.FollowupDueDate.UTC()
	}
	if !due.After(r.RecordedAt) {
		observability.RecordRejected("followup_in_past")
		return nil, ErrFollowupInPast
	}

	r.OutcomeVerdict = domain.VerdictPendingFollowup
	r.FollowupDueDate = &due

	return a.submit(ctx, "schedule_followup", r)
}

// DefaultFollowupDate returns the due date used when none is chosen.
func (a *Adapter) DefaultFollowupDate() time.Time {
	return a.now().Add(a.followupWindow)
}

// InFlight reports whether a submission for alertID is being persisted.
func (a *Adapter) InFlight(alertID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, busy := a.inFlight[alertID]
	return busy
}

func (a *Adapter) newRecord(d Decision, notes, by string) *domain.OutcomeRecord {
	id, ref := idhash.NewOutcomeID()
	return &domain.OutcomeRecord{
		ID:                    id,
		ShortRef:              ref,
		AlertID:               d.AlertID,
		DecisionTitle:         d.DecisionTitle,
		DecisionType:          d.DecisionType,
		PredictedImpactAmount: d.PredictedImpactAmount,
		OutcomeNotes:          notes,
		RecordedAt:            a.now().UTC(),
		RecordedBy:            by,
	}
}

// submit persists r. The per-alert guard covers only the store call;
// publishers and the callback run after it is released.
func (a *Adapter) submit(ctx context.Context, op string, r *domain.OutcomeRecord) (*domain.OutcomeRecord, error) {
	if !a.acquire(r.AlertID) {
		observability.RecordRejected("in_flight")
		return nil, ErrSubmissionInFlight
	}

	done := observability.TrackInFlight()
	start := time.Now()
	err := a.store.Insert(ctx, r)
	done()
	a.release(r.AlertID)
	observability.RecordSubmissionLatency(op, time.Since(start).Seconds())
	if err != nil {
		a.logger.Error().Err(err).Str("alert_id", r.AlertID).Str("op", op).Msg("persist outcome failed")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	fact := outcome.BuildFact(r)
	observability.RecordOutcome(string(r.OutcomeVerdict), fact.VariancePct, fact.AccuracyPct)
	if r.Pending() {
		observability.RecordFollowupScheduled()
	}

	a.logger.Info().
		Str("alert_id", r.AlertID).
		Str("ref", r.ShortRef).
		Str("verdict", string(r.OutcomeVerdict)).
		Msg("outcome recorded")

	a.publish(ctx, r)

	if a.onSubmitted != nil {
		a.onSubmitted(r)
	}
	return r, nil
}

// publish hands r to every publisher. The record is already stored, so a
// cancelled request does not skip publishing; each call is bounded by
// publishTimeout.
func (a *Adapter) publish(ctx context.Context, r *domain.OutcomeRecord) {
	base := context.WithoutCancel(ctx)
	for _, p := range a.publishers {
		pctx, cancel := context.WithTimeout(base, a.publishTimeout)
		err := p.Publish(pctx, r)
		cancel()
		if err != nil {
			a.logger.Warn().Err(err).Str("ref", r.ShortRef).Msg("publish outcome failed")
		}
	}
}

func (a *Adapter) acquire(alertID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inFlight[alertID]; busy {
		return false
	}
	a.inFlight[alertID] = struct{}{}
	return true
}

func (a *Adapter) release(alertID string) {
	a.mu.Lock()
	delete(a.inFlight, alertID)
	a.mu.Unlock()
}
