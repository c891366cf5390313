package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"control-tower/internal/domain"
	"control-tower/internal/storage"
)

func ptr[T any](v T) *T {
	return &v
}

func TestOutcomeFactStore_InsertBulkAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewOutcomeFactStore(conn)
	t0 := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	facts := []*domain.OutcomeFact{
		{
			RecordID: "r1", AlertID: "a1", DecisionType: "markdown",
			Verdict: domain.VerdictBetterThanExpected, PredictedAmount: 45_000_000,
			ActualAmount: ptr(50_000_000.0), VariancePct: ptr(11.11), AccuracyPct: ptr(90.0),
			RecordedAt: t0,
		},
		{
			RecordID: "r2", AlertID: "a2", DecisionType: "markdown",
			Verdict: domain.VerdictPendingFollowup, PredictedAmount: 1_000,
			RecordedAt: t0.Add(time.Hour),
		},
		{
			RecordID: "r3", AlertID: "a3", DecisionType: "reorder",
			Verdict: domain.VerdictAsExpected, PredictedAmount: 10,
			ActualAmount: ptr(10.0), VariancePct: ptr(0.0), AccuracyPct: ptr(100.0),
			RecordedAt: t0,
		},
	}
	require.NoError(t, store.InsertBulk(ctx, facts))

	got, err := store.GetByDecisionType(ctx, "markdown")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].RecordID)
	require.NotNil(t, got[0].AccuracyPct)
	assert.InDelta(t, 90.0, *got[0].AccuracyPct, 1e-9)
	assert.Nil(t, got[1].ActualAmount)
	assert.Equal(t, domain.VerdictPendingFollowup, got[1].Verdict)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	err = store.InsertBulk(ctx, []*domain.OutcomeFact{{RecordID: "r1", RecordedAt: t0}})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}
