package db

import (
	"context"
	"testing"
)

// TestDocumentStore_LoadMissing verifies absent keys return nil without error.
func TestDocumentStore_LoadMissing(t *testing.T) {
	store := NewDocumentStore(openTestDB(t))

	body, err := store.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if body != nil {
		t.Errorf("Load() = %q, want nil", body)
	}
}

// TestDocumentStore_SaveOverwrites verifies the latest save wins.
func TestDocumentStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore(openTestDB(t))

	if err := store.Save(ctx, "outbox", []byte(`[1]`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, "outbox", []byte(`[1,2]`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	body, err := store.Load(ctx, "outbox")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(body) != `[1,2]` {
		t.Errorf("Load() = %s, want [1,2]", body)
	}
}

// TestDocumentStore_closedDatabase verifies errors are surfaced.
func TestDocumentStore_closedDatabase(t *testing.T) {
	database := openTestDB(t)
	store := NewDocumentStore(database)
	database.Close()

	if err := store.Save(context.Background(), "outbox", []byte(`[]`)); err == nil {
		t.Error("Save() on closed database should fail")
	}
}
