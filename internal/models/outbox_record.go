package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutboxStorageKey is the fixed document key the queue is persisted under.
const OutboxStorageKey = "fieldsync.outbox.v1"

// OutboxRecord is the persisted form of an OutboxItem.
type OutboxRecord struct {
	ID             UUID            `json:"id"`
	EntityType     EntityType      `json:"entityType"`
	Operation      Operation       `json:"operation"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"createdAt"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"maxAttempts"`
	Status         OutboxStatus    `json:"status"`
	LastError      string          `json:"lastError,omitempty"`
	UploadProgress *int            `json:"uploadProgress,omitempty"`
	NextEligibleAt *time.Time      `json:"nextEligibleAt,omitempty"`
	SyncedAt       *time.Time      `json:"syncedAt,omitempty"`
}

// ToRecord converts an OutboxItem to its persisted form.
func (i OutboxItem) ToRecord() (OutboxRecord, error) {
	payload, err := EncodePayload(i.Payload)
	if err != nil {
		return OutboxRecord{}, err
	}
	c := i.Clone()
	return OutboxRecord{
		ID:             c.ID,
		EntityType:     c.EntityType,
		Operation:      c.Operation,
		Payload:        payload,
		CreatedAt:      c.CreatedAt,
		Attempts:       c.Attempts,
		MaxAttempts:    c.MaxAttempts,
		Status:         c.Status,
		LastError:      c.LastError,
		UploadProgress: c.UploadProgress,
		NextEligibleAt: c.NextEligibleAt,
		SyncedAt:       c.SyncedAt,
	}, nil
}

// FromRecord rebuilds an OutboxItem from its persisted form.
// An item that was mid-upload when the process stopped comes back as
// pending; idempotent apply makes the re-attempt safe.
func FromRecord(r OutboxRecord) (OutboxItem, error) {
	if r.ID == "" {
		return OutboxItem{}, fmt.Errorf("record has empty id")
	}
	if !r.Status.Valid() {
		return OutboxItem{}, fmt.Errorf("record %s has unknown status %q", r.ID, r.Status)
	}
	if !r.Operation.Valid() {
		return OutboxItem{}, fmt.Errorf("record %s has unknown operation %q", r.ID, r.Operation)
	}
	payload, err := DecodePayload(r.EntityType, r.Payload)
	if err != nil {
		return OutboxItem{}, fmt.Errorf("record %s: %w", r.ID, err)
	}

	item := OutboxItem{
		ID:             r.ID,
		EntityType:     r.EntityType,
		Operation:      r.Operation,
		Payload:        payload,
		CreatedAt:      r.CreatedAt,
		Attempts:       r.Attempts,
		MaxAttempts:    r.MaxAttempts,
		Status:         r.Status,
		LastError:      r.LastError,
		UploadProgress: r.UploadProgress,
		NextEligibleAt: r.NextEligibleAt,
		SyncedAt:       r.SyncedAt,
	}
	if err := item.Validate(); err != nil {
		return OutboxItem{}, fmt.Errorf("record %s: %w", r.ID, err)
	}
	if item.Attempts < 0 {
		return OutboxItem{}, fmt.Errorf("record %s has negative attempts %d", r.ID, item.Attempts)
	}
	if item.Status == StatusUploading {
		item.Status = StatusPending
	}
	if item.Status == StatusPending && item.Attempts >= item.MaxAttempts {
		return OutboxItem{}, fmt.Errorf("record %s is pending with attempts %d of %d", r.ID, item.Attempts, item.MaxAttempts)
	}
	return item.Clone(), nil
}

// EncodeOutbox serializes an ordered queue into the persisted document.
func EncodeOutbox(items []OutboxItem) ([]byte, error) {
	records := make([]OutboxRecord, 0, len(items))
	for _, item := range items {
		rec, err := item.ToRecord()
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item.ID, err)
		}
		records = append(records, rec)
	}
	return json.Marshal(records)
}

// DecodeOutbox parses a persisted document back into an ordered queue.
// Any malformed record invalidates the whole document.
func DecodeOutbox(data []byte) ([]OutboxItem, error) {
	var records []OutboxRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox document: %w", err)
	}

	items := make([]OutboxItem, 0, len(records))
	seen := make(map[UUID]bool, len(records))
	for _, rec := range records {
		if seen[rec.ID] {
			return nil, fmt.Errorf("duplicate record id %s", rec.ID)
		}
		seen[rec.ID] = true

		item, err := FromRecord(rec)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
