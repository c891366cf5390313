package clickhouse

import (
	"context"
	"fmt"
	"time"

	"control-tower/internal/domain"
	"control-tower/internal/observability"
	"control-tower/internal/storage"
)

// OutcomeFactStore implements storage.OutcomeFactStore using ClickHouse.
type OutcomeFactStore struct {
	conn *Conn
}

// NewOutcomeFactStore creates a new OutcomeFactStore.
func NewOutcomeFactStore(conn *Conn) *OutcomeFactStore {
	return &OutcomeFactStore{conn: conn}
}

// Compile-time interface check.
var _ storage.OutcomeFactStore = (*OutcomeFactStore)(nil)

const factColumns = `
	record_id, alert_id, decision_type, verdict,
	predicted_amount, actual_amount, variance_pct, accuracy_pct,
	recorded_at
`

// InsertBulk adds multiple facts. ReplacingMergeTree does not reject
// duplicates, so existing record ids are checked before the batch is sent.
func (s *OutcomeFactStore) InsertBulk(ctx context.Context, facts []*domain.OutcomeFact) error {
	if len(facts) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(facts))
	ids := make([]string, 0, len(facts))
	for _, f := range facts {
		if f == nil || f.RecordID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := seen[f.RecordID]; dup {
			return storage.ErrDuplicateKey
		}
		seen[f.RecordID] = struct{}{}
		ids = append(ids, f.RecordID)
	}

	var existing uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM outcome_facts FINAL WHERE record_id IN (?)`, ids,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check existing facts: %w", err)
	}
	if existing > 0 {
		return storage.ErrDuplicateKey
	}

	start := time.Now()
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO outcome_facts (`+factColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, f := range facts {
		err = batch.Append(
			f.RecordID, f.AlertID, f.DecisionType, string(f.Verdict),
			f.PredictedAmount, f.ActualAmount, f.VariancePct, f.AccuracyPct,
			f.RecordedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	err = batch.Send()
	observability.RecordDBQuery("clickhouse", "insert_facts", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByDecisionType retrieves facts for a decision type, ordered by recorded_at ASC.
func (s *OutcomeFactStore) GetByDecisionType(ctx context.Context, decisionType string) ([]*domain.OutcomeFact, error) {
	query := `
		SELECT ` + factColumns + `
		FROM outcome_facts FINAL
		WHERE decision_type = ?
		ORDER BY recorded_at ASC, record_id ASC
	`
	return s.query(ctx, query, decisionType)
}

// GetAll retrieves all facts, ordered by recorded_at ASC.
func (s *OutcomeFactStore) GetAll(ctx context.Context) ([]*domain.OutcomeFact, error) {
	query := `
		SELECT ` + factColumns + `
		FROM outcome_facts FINAL
		ORDER BY recorded_at ASC, record_id ASC
	`
	return s.query(ctx, query)
}

func (s *OutcomeFactStore) query(ctx context.Context, query string, args ...any) ([]*domain.OutcomeFact, error) {
	start := time.Now()
	rows, err := s.conn.Query(ctx, query, args...)
	observability.RecordDBQuery("clickhouse", "select_facts", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query outcome facts: %w", err)
	}
	defer rows.Close()

	var facts []*domain.OutcomeFact
	for rows.Next() {
		var (
			f       domain.OutcomeFact
			verdict string
		)
		err := rows.Scan(
			&f.RecordID, &f.AlertID, &f.DecisionType, &verdict,
			&f.PredictedAmount, &f.ActualAmount, &f.VariancePct, &f.AccuracyPct,
			&f.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outcome fact row: %w", err)
		}
		f.Verdict = domain.Verdict(verdict)
		f.RecordedAt = f.RecordedAt.UTC()
		facts = append(facts, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome fact rows: %w", err)
	}

	return facts, nil
}
