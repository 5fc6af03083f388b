package models

import "time"

// ConflictLog records how a user resolved a conflicting mutation.
type ConflictLog struct {
	ID         UUID       `db:"id" json:"id"`
	ItemID     UUID       `db:"item_id" json:"item_id"`
	EntityType EntityType `db:"entity_type" json:"entity_type"`
	EntityID   string     `db:"entity_id" json:"entity_id"`
	Resolution string     `db:"resolution" json:"resolution"` // local, server
	Detail     string     `db:"detail" json:"detail,omitempty"`
	ResolvedAt int64      `db:"resolved_at" json:"resolved_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// ResolvedAtTime returns the ResolvedAt as time.Time.
func (c *ConflictLog) ResolvedAtTime() time.Time {
	return time.Unix(c.ResolvedAt, 0)
}
