// Package db tests for database migration management.
package db

import (
	"database/sql"
	"testing"
	"testing/fstest"
)

func memoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestMigrator_UpAndDown verifies ordering, recording and rollback.
func TestMigrator_UpAndDown(t *testing.T) {
	db := memoryDB(t)
	files := fstest.MapFS{
		"migrations/V2__second.up.sql":   {Data: []byte("CREATE TABLE second (id INTEGER);")},
		"migrations/V2__second.down.sql": {Data: []byte("DROP TABLE second;")},
		"migrations/V1__first.up.sql":    {Data: []byte("CREATE TABLE first (id INTEGER);")},
		"migrations/README.md":           {Data: []byte("ignored")},
	}

	m := NewMigrator(db, files)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 2 {
		t.Errorf("CurrentVersion() = %d, want 2", version)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 || applied[0].Description != "first" || len(applied[0].Checksum) != 64 {
		t.Errorf("unexpected applied migrations: %+v", applied)
	}

	// Running Up again is a no-op
	if err := m.Up(); err != nil {
		t.Fatalf("second Up() failed: %v", err)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	if version, _ := m.CurrentVersion(); version != 1 {
		t.Errorf("CurrentVersion() after Down = %d, want 1", version)
	}

	// V1 has no down file
	if err := m.Down(); err == nil {
		t.Error("Down() without rollback file should fail")
	}
}

// TestMigrator_Down_nothingApplied verifies rollback on an empty schema.
func TestMigrator_Down_nothingApplied(t *testing.T) {
	m := NewMigrator(memoryDB(t), Migrations)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Down(); err == nil {
		t.Error("Down() with no migrations should fail")
	}
}

// TestMigrator_badSQL verifies a failing migration is not recorded.
func TestMigrator_badSQL(t *testing.T) {
	db := memoryDB(t)
	m := NewMigrator(db, fstest.MapFS{
		"migrations/V1__broken.up.sql": {Data: []byte("CREATE TABLE (")},
	})
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err == nil {
		t.Fatal("Up() should fail on invalid SQL")
	}
	if version, _ := m.CurrentVersion(); version != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", version)
	}
}
