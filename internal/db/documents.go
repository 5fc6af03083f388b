package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DocumentStore keeps whole documents under fixed keys. The outbox is
// persisted as a single document rewritten after every mutation.
type DocumentStore struct {
	db *sql.DB
}

// NewDocumentStore creates a document store on an opened database.
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db.DB}
}

// Load returns the document stored under key, or nil when absent.
func (s *DocumentStore) Load(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, "SELECT body FROM documents WHERE key = ?", key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", key, err)
	}
	return body, nil
}

// Save replaces the document stored under key.
func (s *DocumentStore) Save(ctx context.Context, key string, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (key, body, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		key, body, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", key, err)
	}
	return nil
}
