// Package models provides data model definitions for the field sync core.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// EntityType is the kind of domain object an outbox item mutates.
type EntityType string

const (
	EntityVisit EntityType = "visit"
	EntityTask  EntityType = "task"
	EntityParty EntityType = "party"
	EntityQuote EntityType = "quote"
	EntityMedia EntityType = "media"
)

// EntityTypes lists every supported entity type.
var EntityTypes = []EntityType{EntityVisit, EntityTask, EntityParty, EntityQuote, EntityMedia}

// Valid reports whether t belongs to the closed set of entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityVisit, EntityTask, EntityParty, EntityQuote, EntityMedia:
		return true
	}
	return false
}

// Operation is the kind of mutation queued for an entity.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether op is create, update or delete.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// OutboxStatus is the lifecycle state of a queued mutation.
type OutboxStatus string

const (
	StatusPending   OutboxStatus = "pending"
	StatusUploading OutboxStatus = "uploading"
	StatusSynced    OutboxStatus = "synced"
	StatusError     OutboxStatus = "error"
	StatusConflict  OutboxStatus = "conflict"
)

// Valid reports whether s is a known status.
func (s OutboxStatus) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusSynced, StatusError, StatusConflict:
		return true
	}
	return false
}

// OutboxItem is a queued local mutation awaiting confirmation by the server.
// The ID doubles as the idempotency key and never changes across retries.
type OutboxItem struct {
	ID             UUID
	EntityType     EntityType
	Operation      Operation
	Payload        Payload
	CreatedAt      time.Time
	Attempts       int
	MaxAttempts    int
	Status         OutboxStatus
	LastError      string
	UploadProgress *int
	NextEligibleAt *time.Time
	SyncedAt       *time.Time
}

// EntityKey identifies the logical entity an item mutates ("visit/V1").
// Items sharing a key must be applied in creation order.
func (i OutboxItem) EntityKey() string {
	if i.Payload == nil {
		return string(i.EntityType) + "/"
	}
	return string(i.EntityType) + "/" + i.Payload.EntityID()
}

// Eligible reports whether the item qualifies for a sync cycle at now.
func (i OutboxItem) Eligible(now time.Time) bool {
	if i.Status != StatusPending || i.Attempts >= i.MaxAttempts {
		return false
	}
	if i.NextEligibleAt != nil && i.NextEligibleAt.After(now) {
		return false
	}
	return true
}

// Clone returns a deep copy so callers never alias store internals.
func (i OutboxItem) Clone() OutboxItem {
	out := i
	if i.Payload != nil {
		out.Payload = i.Payload.clonePayload()
	}
	if i.UploadProgress != nil {
		p := *i.UploadProgress
		out.UploadProgress = &p
	}
	if i.NextEligibleAt != nil {
		t := *i.NextEligibleAt
		out.NextEligibleAt = &t
	}
	if i.SyncedAt != nil {
		t := *i.SyncedAt
		out.SyncedAt = &t
	}
	return out
}

// Validate checks the enqueue-time invariants of an item.
func (i OutboxItem) Validate() error {
	if !i.EntityType.Valid() {
		return fmt.Errorf("unknown entity type %q", i.EntityType)
	}
	if !i.Operation.Valid() {
		return fmt.Errorf("unknown operation %q", i.Operation)
	}
	if i.Payload == nil {
		return fmt.Errorf("payload is required")
	}
	if i.Payload.EntityType() != i.EntityType {
		return fmt.Errorf("payload kind %q does not match entity type %q", i.Payload.EntityType(), i.EntityType)
	}
	if i.Payload.EntityID() == "" {
		return fmt.Errorf("payload entity id is required")
	}
	if i.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", i.MaxAttempts)
	}
	return nil
}

// ConnectivityState is the reachability state reported to the UI.
type ConnectivityState string

const (
	ConnectivityOnline  ConnectivityState = "online"
	ConnectivityOffline ConnectivityState = "offline"
	ConnectivitySyncing ConnectivityState = "syncing"
)
