package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"control-tower/internal/domain"
	"control-tower/internal/storage"
)

// OutcomeStore is an in-memory implementation of storage.OutcomeStore.
type OutcomeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.OutcomeRecord // keyed by id
}

// NewOutcomeStore creates a new in-memory outcome store.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{
		data: make(map[string]*domain.OutcomeRecord),
	}
}

// Insert adds a new record. Returns ErrDuplicateKey if id exists.
func (s *OutcomeStore) Insert(_ context.Context, r *domain.OutcomeRecord) error {
	if r == nil || r.ID == "" || r.Validate() != nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[r.ID] = cloneRecord(r)
	return nil
}

// GetByID retrieves a record by its ID. Returns ErrNotFound if not exists.
func (s *OutcomeStore) GetByID(_ context.Context, id string) (*domain.OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneRecord(r), nil
}

// GetByShortRef retrieves a record by its short reference.
func (s *OutcomeStore) GetByShortRef(_ context.Context, ref string) (*domain.OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.data {
		if r.ShortRef == ref {
			return cloneRecord(r), nil
		}
	}
	return nil, storage.ErrNotFound
}

// GetByAlertID retrieves all records for an alert, ordered by recorded_at ASC.
func (s *OutcomeStore) GetByAlertID(_ context.Context, alertID string) ([]*domain.OutcomeRecord, error) {
	return s.filter(func(r *domain.OutcomeRecord) bool {
		return r.AlertID == alertID
	}), nil
}

// GetByTimeRange retrieves records recorded within [start, end] (inclusive).
func (s *OutcomeStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]*domain.OutcomeRecord, error) {
	return s.filter(func(r *domain.OutcomeRecord) bool {
		return !r.RecordedAt.Before(start) && !r.RecordedAt.After(end)
	}), nil
}

// GetAll retrieves every record, ordered by recorded_at ASC.
func (s *OutcomeStore) GetAll(_ context.Context) ([]*domain.OutcomeRecord, error) {
	return s.filter(func(*domain.OutcomeRecord) bool { return true }), nil
}

// GetDueFollowups retrieves overdue pending records that are still the latest
// record of their alert, ordered by due date ASC.
func (s *OutcomeStore) GetDueFollowups(_ context.Context, asOf time.Time) ([]*domain.OutcomeRecord, error) {
	s.mu.RLock()
	byAlert := make(map[string][]*domain.OutcomeRecord)
	for _, r := range s.data {
		byAlert[r.AlertID] = append(byAlert[r.AlertID], r)
	}

	var result []*domain.OutcomeRecord
	for _, records := range byAlert {
		latest := domain.Latest(records)
		if latest.Overdue(asOf) {
			result = append(result, cloneRecord(latest))
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].FollowupDueDate.Equal(*result[j].FollowupDueDate) {
			return result[i].FollowupDueDate.Before(*result[j].FollowupDueDate)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// filter returns sorted copies of records matching keep.
func (s *OutcomeStore) filter(keep func(*domain.OutcomeRecord) bool) []*domain.OutcomeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.OutcomeRecord
	for _, r := range s.data {
		if keep(r) {
			result = append(result, cloneRecord(r))
		}
	}

	sortByRecordedAt(result)
	return result
}

func sortByRecordedAt(records []*domain.OutcomeRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].RecordedAt.Equal(records[j].RecordedAt) {
			return records[i].RecordedAt.Before(records[j].RecordedAt)
		}
		return records[i].ID < records[j].ID
	})
}

// cloneRecord copies r including its pointer fields.
func cloneRecord(r *domain.OutcomeRecord) *domain.OutcomeRecord {
	c := *r
	if r.ActualImpactAmount != nil {
		actual := *r.ActualImpactAmount
		c.ActualImpactAmount = &actual
	}
	if r.FollowupDueDate != nil {
		due := *r.FollowupDueDate
		c.FollowupDueDate = &due
	}
	return &c
}

var _ storage.OutcomeStore = (*OutcomeStore)(nil)
