package db

import (
	"context"
	"testing"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// TestConflictLogRepository_CreateAndList verifies ordering and round trip.
func TestConflictLogRepository_CreateAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewConflictLogRepository(openTestDB(t))

	older := &models.ConflictLog{
		ItemID: "item-1", EntityType: models.EntityVisit, EntityID: "V1",
		Resolution: "local", Detail: "server has newer visit", ResolvedAt: 100,
	}
	newer := &models.ConflictLog{
		ItemID: "item-2", EntityType: models.EntityQuote, EntityID: "Q1",
		Resolution: "server", ResolvedAt: 200,
	}

	for _, e := range []*models.ConflictLog{older, newer} {
		if err := repo.CreateConflictLog(ctx, e); err != nil {
			t.Fatalf("CreateConflictLog() error = %v", err)
		}
		if e.ID == "" {
			t.Error("CreateConflictLog() should assign an ID")
		}
	}

	logs, err := repo.ListConflictLogs(ctx, 10)
	if err != nil {
		t.Fatalf("ListConflictLogs() error = %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("len = %d, want 2", len(logs))
	}
	if logs[0].ItemID != "item-2" || logs[1].ItemID != "item-1" {
		t.Errorf("unexpected order: %s, %s", logs[0].ItemID, logs[1].ItemID)
	}
	if logs[1].Detail != "server has newer visit" || logs[1].EntityType != models.EntityVisit {
		t.Errorf("round trip mismatch: %+v", logs[1])
	}
}

// TestConflictLogRepository_rejectsUnknownResolution verifies the schema check.
func TestConflictLogRepository_rejectsUnknownResolution(t *testing.T) {
	repo := NewConflictLogRepository(openTestDB(t))

	err := repo.CreateConflictLog(context.Background(), &models.ConflictLog{
		ItemID: "item-1", EntityType: models.EntityVisit, EntityID: "V1",
		Resolution: "merge", ResolvedAt: 1,
	})
	if err == nil {
		t.Error("CreateConflictLog() with unknown resolution should fail")
	}
}
