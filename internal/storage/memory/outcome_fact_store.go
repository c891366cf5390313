package memory

import (
	"context"
	"sort"
	"sync"

	"control-tower/internal/domain"
	"control-tower/internal/storage"
)

// OutcomeFactStore is an in-memory implementation of storage.OutcomeFactStore.
type OutcomeFactStore struct {
	mu   sync.RWMutex
	data map[string]*domain.OutcomeFact // keyed by record_id
}

// NewOutcomeFactStore creates a new in-memory fact store.
func NewOutcomeFactStore() *OutcomeFactStore {
	return &OutcomeFactStore{
		data: make(map[string]*domain.OutcomeFact),
	}
}

// InsertBulk adds multiple facts atomically. Fails entire batch on any duplicate.
func (s *OutcomeFactStore) InsertBulk(_ context.Context, facts []*domain.OutcomeFact) error {
	if len(facts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(facts))
	for _, f := range facts {
		if f == nil || f.RecordID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[f.RecordID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[f.RecordID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[f.RecordID] = struct{}{}
	}

	for _, f := range facts {
		copy := *f
		s.data[f.RecordID] = &copy
	}
	return nil
}

// GetByDecisionType retrieves facts for a decision type, ordered by recorded_at ASC.
func (s *OutcomeFactStore) GetByDecisionType(_ context.Context, decisionType string) ([]*domain.OutcomeFact, error) {
	return s.filter(func(f *domain.OutcomeFact) bool { return f.DecisionType == decisionType }), nil
}

// GetAll retrieves all facts, ordered by recorded_at ASC.
func (s *OutcomeFactStore) GetAll(_ context.Context) ([]*domain.OutcomeFact, error) {
	return s.filter(func(*domain.OutcomeFact) bool { return true }), nil
}

func (s *OutcomeFactStore) filter(keep func(*domain.OutcomeFact) bool) []*domain.OutcomeFact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.OutcomeFact
	for _, f := range s.data {
		if keep(f) {
			copy := *f
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].RecordedAt.Equal(result[j].RecordedAt) {
			return result[i].RecordedAt.Before(result[j].RecordedAt)
		}
		return result[i].RecordID < result[j].RecordID
	})
	return result
}

var _ storage.OutcomeFactStore = (*OutcomeFactStore)(nil)
