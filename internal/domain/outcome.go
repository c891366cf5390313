package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Verdict classifies how an observed outcome compared to the prediction.
type Verdict string

const (
	VerdictBetterThanExpected Verdict = "better_than_expected"
	VerdictAsExpected         Verdict = "as_expected"
	VerdictWorseThanExpected  Verdict = "worse_than_expected"
	VerdictPendingFollowup    Verdict = "pending_followup"
)

// ErrInvalidRecord is returned when an outcome record breaks its invariants.
var ErrInvalidRecord = errors.New("invalid outcome record")

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictBetterThanExpected, VerdictAsExpected, VerdictWorseThanExpected, VerdictPendingFollowup:
		return true
	}
	return false
}

// Final reports whether v closes the outcome (anything but pending_followup).
func (v Verdict) Final() bool {
	return v.Valid() && v != VerdictPendingFollowup
}

// OutcomeRecord is the recorded result of a decision taken on an alert.
// Records are append-only: a follow-up is resolved by a newer finalized
// record for the same AlertID.
type OutcomeRecord struct {
	ID       string // uuid
	ShortRef string // base58 of the uuid bytes
	AlertID  string // originating alert / decision

	DecisionTitle string
	DecisionType  string

	PredictedImpactAmount decimal.Decimal  // ex-ante, signed
	ActualImpactAmount    *decimal.Decimal // ex-post, nil while pending

	OutcomeVerdict  Verdict
	OutcomeNotes    string
	FollowupDueDate *time.Time // set only when measurement is deferred

	RecordedAt time.Time
	RecordedBy string
}

// Pending reports whether the record defers measurement.
func (r *OutcomeRecord) Pending() bool {
	return r.OutcomeVerdict == VerdictPendingFollowup
}

// Overdue reports whether a pending record's follow-up date has passed at asOf.
func (r *OutcomeRecord) Overdue(asOf time.Time) bool {
	return r.Pending() && r.FollowupDueDate != nil && !r.FollowupDueDate.After(asOf)
}

// Validate checks the finalized/deferred invariants.
func (r *OutcomeRecord) Validate() error {
	if r.AlertID == "" {
		return fmt.Errorf("%w: alert id is required", ErrInvalidRecord)
	}
	if !r.OutcomeVerdict.Valid() {
		return fmt.Errorf("%w: unknown verdict %q", ErrInvalidRecord, r.OutcomeVerdict)
	}

	if r.Pending() {
		if r.FollowupDueDate == nil {
			return fmt.Errorf("%w: pending record needs a follow-up due date", ErrInvalidRecord)
		}
		if r.ActualImpactAmount != nil {
			return fmt.Errorf("%w: pending record must not carry an actual amount", ErrInvalidRecord)
		}
		return nil
	}

	if r.ActualImpactAmount == nil {
		return fmt.Errorf("%w: verdict %s needs an actual amount", ErrInvalidRecord, r.OutcomeVerdict)
	}
	if r.FollowupDueDate != nil {
		return fmt.Errorf("%w: finalized record must not carry a follow-up date", ErrInvalidRecord)
	}
	return nil
}

// Latest returns the most recent record by RecordedAt, ID breaking ties.
// Returns nil for an empty slice.
func Latest(records []*OutcomeRecord) *OutcomeRecord {
	var latest *OutcomeRecord
	for _, r := range records {
		if latest == nil ||
			r.RecordedAt.After(latest.RecordedAt) ||
			(r.RecordedAt.Equal(latest.RecordedAt) && r.ID > latest.ID) {
			latest = r
		}
	}
	return latest
}
