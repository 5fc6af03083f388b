package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/uuid"
)

// ConflictLogRepository persists conflict resolutions for later review.
type ConflictLogRepository struct {
	db *sql.DB
}

// NewConflictLogRepository creates a repository on an opened database.
func NewConflictLogRepository(db *DB) *ConflictLogRepository {
	return &ConflictLogRepository{db: db.DB}
}

// CreateConflictLog records a resolution. An empty ID is generated.
func (r *ConflictLogRepository) CreateConflictLog(ctx context.Context, entry *models.ConflictLog) error {
	if entry.ID == "" {
		entry.ID = models.UUID(uuid.New())
	}

	var detail sql.NullString
	if entry.Detail != "" {
		detail = sql.NullString{String: entry.Detail, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conflict_log (id, item_id, entity_type, entity_id, resolution, detail, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ItemID, string(entry.EntityType), entry.EntityID, entry.Resolution, detail, entry.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conflict log: %w", err)
	}
	return nil
}

// ListConflictLogs returns the most recent resolutions first.
func (r *ConflictLogRepository) ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, item_id, entity_type, entity_id, resolution, detail, resolved_at
		 FROM conflict_log ORDER BY resolved_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflict logs: %w", err)
	}
	defer rows.Close()

	var out []*models.ConflictLog
	for rows.Next() {
		var (
			entry      models.ConflictLog
			entityType string
			detail     sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.ItemID, &entityType, &entry.EntityID, &entry.Resolution, &detail, &entry.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict log: %w", err)
		}
		entry.EntityType = models.EntityType(entityType)
		entry.Detail = detail.String
		out = append(out, &entry)
	}
	return out, rows.Err()
}
