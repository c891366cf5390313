package submission

import (
	"context"

	"control-tower/internal/domain"
	"control-tower/internal/outcome"
	"control-tower/internal/storage"
)

// FactPublisher writes each record's analytics fact to an OutcomeFactStore.
type FactPublisher struct {
	Store storage.OutcomeFactStore
}

// Publish implements Publisher.
func (p FactPublisher) Publish(ctx context.Context, r *domain.OutcomeRecord) error {
	return p.Store.InsertBulk(ctx, []*domain.OutcomeFact{outcome.BuildFact(r)})
}
