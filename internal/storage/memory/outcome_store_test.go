package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"control-tower/internal/domain"
	"control-tower/internal/storage"
)

var baseTime = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func finalRecord(id, alertID string, at time.Time) *domain.OutcomeRecord {
	actual := decimal.NewFromInt(50_000_000)
	return &domain.OutcomeRecord{
		ID:                    id,
		ShortRef:              "ref-" + id,
		AlertID:               alertID,
		DecisionType:          "markdown",
		PredictedImpactAmount: decimal.NewFromInt(45_000_000),
		ActualImpactAmount:    &actual,
		OutcomeVerdict:        domain.VerdictBetterThanExpected,
		RecordedAt:            at,
	}
}

func pendingRecord(id, alertID string, at, due time.Time) *domain.OutcomeRecord {
	return &domain.OutcomeRecord{
		ID:                    id,
		ShortRef:              "ref-" + id,
		AlertID:               alertID,
		DecisionType:          "markdown",
		PredictedImpactAmount: decimal.NewFromInt(45_000_000),
		OutcomeVerdict:        domain.VerdictPendingFollowup,
		FollowupDueDate:       &due,
		RecordedAt:            at,
	}
}

func TestOutcomeStore_InsertAndGet(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()

	rec := finalRecord("r1", "a1", baseTime)
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "r1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.ActualImpactAmount.Equal(*rec.ActualImpactAmount) {
		t.Errorf("ActualImpactAmount mismatch: got %s, want %s", got.ActualImpactAmount, rec.ActualImpactAmount)
	}

	byRef, err := store.GetByShortRef(ctx, "ref-r1")
	if err != nil {
		t.Fatalf("GetByShortRef failed: %v", err)
	}
	if byRef.ID != "r1" {
		t.Errorf("GetByShortRef returned %s", byRef.ID)
	}

	// mutation of returned copy must not leak into the store
	*got.ActualImpactAmount = decimal.Zero
	again, _ := store.GetByID(ctx, "r1")
	if again.ActualImpactAmount.IsZero() {
		t.Error("store returned shared pointer")
	}
}

func TestOutcomeStore_DuplicateKey(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()

	rec := finalRecord("r1", "a1", baseTime)
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, rec)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestOutcomeStore_RejectsInvalid(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()

	rec := finalRecord("r1", "a1", baseTime)
	rec.ActualImpactAmount = nil

	if err := store.Insert(ctx, rec); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	if err := store.Insert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil, got %v", err)
	}
}

func TestOutcomeStore_NotFound(t *testing.T) {
	store := NewOutcomeStore()

	_, err := store.GetByID(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestOutcomeStore_GetByAlertIDOrdered(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()

	_ = store.Insert(ctx, finalRecord("r3", "a1", baseTime.Add(2*time.Hour)))
	_ = store.Insert(ctx, pendingRecord("r1", "a1", baseTime, baseTime.Add(24*time.Hour)))
	_ = store.Insert(ctx, finalRecord("r2", "a2", baseTime.Add(time.Hour)))

	got, err := store.GetByAlertID(ctx, "a1")
	if err != nil {
		t.Fatalf("GetByAlertID failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	if got[0].ID != "r1" || got[1].ID != "r3" {
		t.Errorf("Wrong order: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestOutcomeStore_GetByTimeRangeInclusive(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()

	for i, id := range []string{"r0", "r1", "r2", "r3"} {
		_ = store.Insert(ctx, finalRecord(id, "a"+id, baseTime.Add(time.Duration(i)*time.Hour)))
	}

	got, err := store.GetByTimeRange(ctx, baseTime.Add(time.Hour), baseTime.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r1" || got[1].ID != "r2" {
		t.Errorf("Unexpected range result: %+v", got)
	}
}

func TestOutcomeStore_GetDueFollowups(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()
	asOf := baseTime.Add(20 * 24 * time.Hour)

	// overdue and still latest
	_ = store.Insert(ctx, pendingRecord("p1", "a1", baseTime, baseTime.Add(14*24*time.Hour)))
	// overdue but resolved later
	_ = store.Insert(ctx, pendingRecord("p2", "a2", baseTime, baseTime.Add(10*24*time.Hour)))
	_ = store.Insert(ctx, finalRecord("f2", "a2", baseTime.Add(12*24*time.Hour)))
	// not yet due
	_ = store.Insert(ctx, pendingRecord("p3", "a3", baseTime, baseTime.Add(30*24*time.Hour)))
	// overdue, earlier due date
	_ = store.Insert(ctx, pendingRecord("p4", "a4", baseTime, baseTime.Add(7*24*time.Hour)))

	got, err := store.GetDueFollowups(ctx, asOf)
	if err != nil {
		t.Fatalf("GetDueFollowups failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 due follow-ups, got %d", len(got))
	}
	if got[0].ID != "p4" || got[1].ID != "p1" {
		t.Errorf("Wrong due order: %s, %s", got[0].ID, got[1].ID)
	}
}
