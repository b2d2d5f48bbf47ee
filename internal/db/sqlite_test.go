package db

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm/logger"

	"github.com/pysugar/universal-ai-router/internal/db/models"
)

func newTestRepo(t *testing.T) *UsageRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:usage-%s?mode=memory&cache=shared", uuid.NewString())
	db, err := InitDB(dsn, logger.Silent)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	repo := NewUsageRepository(db)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func record(ts int64, provider, caller string, tokens int, cost float64) models.UsageRecord {
	return models.UsageRecord{
		ID:            uuid.NewString(),
		Timestamp:     ts,
		Provider:      provider,
		TotalTokens:   tokens,
		CallerID:      caller,
		EstimatedCost: cost,
	}
}

func TestUsageRepository_Aggregate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rows := []models.UsageRecord{
		record(1_000, "openai", "alice", 100, 0.01),
		record(2_000, "anthropic", "alice", 200, 0.02),
		record(3_000, "gemini", "bob", 300, 0.03),
		record(500, "openai", "alice", 999, 9.99), // outside window
	}
	for _, r := range rows {
		if err := repo.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := repo.Aggregate(ctx, models.UsageQuery{SinceMillis: 1_000})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if all.RequestCount != 3 || all.TotalTokens != 600 || math.Abs(all.TotalCost-0.06) > 1e-9 {
		t.Fatalf("unexpected totals %+v", all)
	}

	alice, err := repo.Aggregate(ctx, models.UsageQuery{SinceMillis: 1_000, CallerID: "alice"})
	if err != nil {
		t.Fatalf("aggregate alice: %v", err)
	}
	if alice.RequestCount != 2 || alice.TotalTokens != 300 {
		t.Fatalf("unexpected alice totals %+v", alice)
	}

	gemini, err := repo.Aggregate(ctx, models.UsageQuery{Provider: "gemini"})
	if err != nil {
		t.Fatalf("aggregate gemini: %v", err)
	}
	if gemini.RequestCount != 1 || gemini.TotalTokens != 300 {
		t.Fatalf("unexpected gemini totals %+v", gemini)
	}
}

func TestUsageRepository_EmptyWindow(t *testing.T) {
	repo := newTestRepo(t)

	stats, err := repo.Aggregate(context.Background(), models.UsageQuery{SinceMillis: 42})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if stats != (models.UsageStats{}) {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}

func TestUsageRepository_ImmutableIDs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := record(1, "openai", "", 1, 0)
	if err := repo.Append(ctx, first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := repo.Append(ctx, record(2, "gemini", "", 2, 0)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := repo.Append(ctx, first); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}

	stats, err := repo.Aggregate(ctx, models.UsageQuery{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if stats.RequestCount != 2 {
		t.Fatalf("expected 2 records after duplicate append, got %d", stats.RequestCount)
	}
}
