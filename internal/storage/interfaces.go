package storage

import (
	"context"
	"time"

	"control-tower/internal/domain"
)

// OutcomeStore is the system of record for decision outcomes.
type OutcomeStore interface {
	// Insert adds a new record. Returns ErrDuplicateKey if the ID exists
	// and ErrInvalidInput if the record breaks its invariants.
	Insert(ctx context.Context, r *domain.OutcomeRecord) error

	// GetByID retrieves a record by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.OutcomeRecord, error)

	// GetByShortRef retrieves a record by its base58 short reference.
	GetByShortRef(ctx context.Context, ref string) (*domain.OutcomeRecord, error)

	// GetByAlertID retrieves all records for an alert, ordered by recorded_at ASC.
	GetByAlertID(ctx context.Context, alertID string) ([]*domain.OutcomeRecord, error)

	// GetByTimeRange retrieves records recorded within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.OutcomeRecord, error)

	// GetAll retrieves every record, ordered by recorded_at ASC.
	GetAll(ctx context.Context) ([]*domain.OutcomeRecord, error)

	// GetDueFollowups retrieves pending records with followup_due_date <= asOf
	// that are still the latest record of their alert, ordered by due date ASC.
	GetDueFollowups(ctx context.Context, asOf time.Time) ([]*domain.OutcomeRecord, error)
}

// OutcomeFactStore holds denormalized outcome facts for analytics.
type OutcomeFactStore interface {
	// InsertBulk adds multiple facts. Fails entire batch on duplicate record_id.
	InsertBulk(ctx context.Context, facts []*domain.OutcomeFact) error

	// GetByDecisionType retrieves facts for a decision type, ordered by recorded_at ASC.
	GetByDecisionType(ctx context.Context, decisionType string) ([]*domain.OutcomeFact, error)

	// GetAll retrieves all facts, ordered by recorded_at ASC.
	GetAll(ctx context.Context) ([]*domain.OutcomeFact, error)
}
