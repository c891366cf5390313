package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"control-tower/internal/domain"
	"control-tower/internal/observability"
	"control-tower/internal/storage"
)

// OutcomeStore implements storage.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *Pool
}

// NewOutcomeStore creates a new OutcomeStore.
func NewOutcomeStore(pool *Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)

// Amounts travel as text so NUMERIC keeps full precision in both directions.
const outcomeColumns = `
	id, short_ref, alert_id,
	decision_title, decision_type,
	predicted_impact_amount::text, actual_impact_amount::text,
	outcome_verdict, outcome_notes, followup_due_date,
	recorded_at, recorded_by
`

// Insert adds a new record. Returns ErrDuplicateKey if id or short_ref exists.
func (s *OutcomeStore) Insert(ctx context.Context, r *domain.OutcomeRecord) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO outcome_records (
			id, short_ref, alert_id,
			decision_title, decision_type,
			predicted_impact_amount, actual_impact_amount,
			outcome_verdict, outcome_notes, followup_due_date,
			recorded_at, recorded_by
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6::numeric, $7::numeric,
			$8, $9, $10,
			$11, $12
		)
	`

	var actual *string
	if r.ActualImpactAmount != nil {
		v := r.ActualImpactAmount.String()
		actual = &v
	}

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.ShortRef, r.AlertID,
		r.DecisionTitle, r.DecisionType,
		r.PredictedImpactAmount.String(), actual,
		string(r.OutcomeVerdict), r.OutcomeNotes, r.FollowupDueDate,
		r.RecordedAt.UTC(), r.RecordedBy,
	)
	observability.RecordDBQuery("postgres", "insert_outcome", time.Since(start).Seconds(), err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert outcome record: %w", err)
	}
	return nil
}

// GetByID retrieves a record by its ID. Returns ErrNotFound if not exists.
func (s *OutcomeStore) GetByID(ctx context.Context, id string) (*domain.OutcomeRecord, error) {
	query := `SELECT ` + outcomeColumns + ` FROM outcome_records WHERE id = $1`

	r, err := scanOutcomeRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get outcome record by id: %w", err)
	}
	return r, nil
}

// GetByShortRef retrieves a record by its short reference.
func (s *OutcomeStore) GetByShortRef(ctx context.Context, ref string) (*domain.OutcomeRecord, error) {
	query := `SELECT ` + outcomeColumns + ` FROM outcome_records WHERE short_ref = $1`

	r, err := scanOutcomeRecord(s.pool.QueryRow(ctx, query, ref))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get outcome record by short ref: %w", err)
	}
	return r, nil
}

// GetByAlertID retrieves all records for an alert, ordered by recorded_at ASC.
func (s *OutcomeStore) GetByAlertID(ctx context.Context, alertID string) ([]*domain.OutcomeRecord, error) {
	query := `
		SELECT ` + outcomeColumns + `
		FROM outcome_records
		WHERE alert_id = $1
		ORDER BY recorded_at ASC, id ASC
	`
	return s.queryRecords(ctx, "get outcome records by alert id", query, alertID)
}

// GetByTimeRange retrieves records recorded within [start, end] (inclusive).
func (s *OutcomeStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.OutcomeRecord, error) {
	query := `
		SELECT ` + outcomeColumns + `
		FROM outcome_records
		WHERE recorded_at >= $1 AND recorded_at <= $2
		ORDER BY recorded_at ASC, id ASC
	`
	return s.queryRecords(ctx, "get outcome records by time range", query, start.UTC(), end.UTC())
}

// GetAll retrieves every record, ordered by recorded_at ASC.
func (s *OutcomeStore) GetAll(ctx context.Context) ([]*domain.OutcomeRecord, error) {
	query := `
		SELECT ` + outcomeColumns + `
		FROM outcome_records
		ORDER BY recorded_at ASC, id ASC
	`
	return s.queryRecords(ctx, "get all outcome records", query)
}

// GetDueFollowups retrieves overdue pending records that have not been
// superseded by a newer record for the same alert.
func (s *OutcomeStore) GetDueFollowups(ctx context.Context, asOf time.Time) ([]*domain.OutcomeRecord, error) {
	query := `
		SELECT ` + outcomeColumns + `
		FROM outcome_records o
		WHERE o.outcome_verdict = 'pending_followup'
		  AND o.followup_due_date <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM outcome_records n
			WHERE n.alert_id = o.alert_id
			  AND (n.recorded_at > o.recorded_at OR (n.recorded_at = o.recorded_at AND n.id > o.id))
		  )
		ORDER BY o.followup_due_date ASC, o.id ASC
	`
	return s.queryRecords(ctx, "get due follow-ups", query, asOf.UTC())
}

func (s *OutcomeStore) queryRecords(ctx context.Context, op, query string, args ...any) ([]*domain.OutcomeRecord, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	observability.RecordDBQuery("postgres", "select_outcomes", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var records []*domain.OutcomeRecord
	for rows.Next() {
		r, err := scanOutcomeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outcome record row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome record rows: %w", err)
	}

	return records, nil
}

// scanOutcomeRecord scans a single row selected with outcomeColumns.
func scanOutcomeRecord(row pgx.Row) (*domain.OutcomeRecord, error) {
	var (
		r         domain.OutcomeRecord
		predicted string
		actual    *string
		verdict   string
		due       *time.Time
	)

	err := row.Scan(
		&r.ID, &r.ShortRef, &r.AlertID,
		&r.DecisionTitle, &r.DecisionType,
		&predicted, &actual,
		&verdict, &r.OutcomeNotes, &due,
		&r.RecordedAt, &r.RecordedBy,
	)
	if err != nil {
		return nil, err
	}

	r.PredictedImpactAmount, err = decimal.NewFromString(predicted)
	if err != nil {
		return nil, fmt.Errorf("parse predicted amount %q: %w", predicted, err)
	}
	if actual != nil {
		v, err := decimal.NewFromString(*actual)
		if err != nil {
			return nil, fmt.Errorf("parse actual amount %q: %w", *actual, err)
		}
		r.ActualImpactAmount = &v
	}
	if due != nil {
		d := due.UTC()
		r.FollowupDueDate = &d
	}
	r.OutcomeVerdict = domain.Verdict(verdict)
	r.RecordedAt = r.RecordedAt.UTC()

	return &r, nil
}
