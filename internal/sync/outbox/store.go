// Package outbox provides the durable queue of pending local mutations.
//
// The queue is an id-indexed collection with an explicit insertion order.
// Every mutation funnels through a single non-reentrant entry point that
// applies the change and then synchronously rewrites the persisted
// snapshot, so an item is durable as soon as Enqueue returns.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/telemetry"
	"github.com/kimhsiao/fieldsync/backend/internal/uuid"
)

// DefaultMaxAttempts is used when an enqueue request leaves MaxAttempts unset.
const DefaultMaxAttempts = 5

// DocumentStore persists the queue as a single document under a fixed key.
type DocumentStore interface {
	// Load returns the stored document, or nil when none exists.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save replaces the stored document.
	Save(ctx context.Context, key string, body []byte) error
}

// EnqueueRequest describes a mutation a domain screen wants synchronized.
type EnqueueRequest struct {
	EntityType  models.EntityType
	Operation   models.Operation
	Payload     models.Payload
	MaxAttempts int // 0 selects the store default
}

// Counts summarizes the queue by status.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Uploading int `json:"uploading"`
	Synced    int `json:"synced"`
	Error     int `json:"error"`
	Conflict  int `json:"conflict"`
}

// ByStatus returns the counts keyed by status name.
func (c Counts) ByStatus() map[string]int {
	return map[string]int{
		string(models.StatusPending):   c.Pending,
		string(models.StatusUploading): c.Uploading,
		string(models.StatusSynced):    c.Synced,
		string(models.StatusError):     c.Error,
		string(models.StatusConflict):  c.Conflict,
	}
}

// Store is the durable outbox.
type Store struct {
	mu    sync.Mutex
	items map[models.UUID]*models.OutboxItem
	order []models.UUID

	docs               DocumentStore
	key                string
	now                func() time.Time
	newID              uuid.Generator
	defaultMaxAttempts int
	log                *logging.Logger

	rehydrateErr  error
	durabilityErr error
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides item id generation.
func WithIDGenerator(gen uuid.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithDefaultMaxAttempts sets the retry budget for requests that leave it unset.
func WithDefaultMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.defaultMaxAttempts = n
		}
	}
}

// WithStorageKey overrides the document key.
func WithStorageKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates a Store and rehydrates it from docs. Bad persisted state
// never fails construction: the queue starts empty and the problem is
// reported through RehydrateError.
func New(ctx context.Context, docs DocumentStore, opts ...Option) *Store {
	s := &Store{
		items:              make(map[models.UUID]*models.OutboxItem),
		docs:               docs,
		key:                models.OutboxStorageKey,
		now:                time.Now,
		newID:              uuid.NewItemID,
		defaultMaxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Get()
	}
	s.log = s.log.With(map[string]interface{}{"component": "outbox"})

	s.rehydrate(ctx)
	return s
}

func (s *Store) rehydrate(ctx context.Context) {
	data, err := s.docs.Load(ctx, s.key)
	if err != nil {
		s.rehydrateErr = errors.Wrap(errors.ErrDurabilityWarning, "failed to load persisted outbox", err)
		s.log.WarnWithCode("Starting with empty outbox", string(errors.ErrDurabilityWarning), err)
		telemetry.RecordDurabilityWarning()
		return
	}
	if len(data) == 0 {
		return
	}

	items, err := models.DecodeOutbox(data)
	if err != nil {
		s.rehydrateErr = errors.Wrap(errors.ErrCorruptState, "persisted outbox is unreadable", err)
		s.log.WarnWithCode("Discarding corrupt outbox", string(errors.ErrCorruptState), err,
			map[string]interface{}{"bytes": len(data)})
		telemetry.RecordCorruptState()

		// Keep the unreadable document around for inspection.
		if saveErr := s.docs.Save(ctx, s.key+".corrupt", data); saveErr != nil {
			s.log.Error("Failed to back up corrupt outbox", saveErr)
		}
		return
	}

	for i := range items {
		item := items[i]
		s.items[item.ID] = &item
		s.order = append(s.order, item.ID)
	}
	s.log.Info("Outbox rehydrated", map[string]interface{}{"items": len(items)})
}

// RehydrateError returns the CORRUPT_STATE or DURABILITY_WARNING error
// raised while loading the persisted queue, if any.
func (s *Store) RehydrateError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rehydrateErr
}

// LastDurabilityError returns the most recent persistence failure, or nil
// once a later write has succeeded.
func (s *Store) LastDurabilityError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durabilityErr
}

// mutate is the single write path. fn runs under the lock and reports
// whether it changed anything; changed state is persisted before the lock
// is released. fn must not call back into the Store.
func (s *Store) mutate(ctx context.Context, fn func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !fn() {
		return
	}
	s.persistLocked(ctx)
}

func (s *Store) persistLocked(ctx context.Context) {
	snapshot := make([]models.OutboxItem, 0, len(s.order))
	for _, id := range s.order {
		snapshot = append(snapshot, *s.items[id])
	}

	data, err := models.EncodeOutbox(snapshot)
	if err == nil {
		err = s.docs.Save(ctx, s.key, data)
	}
	if err != nil {
		s.durabilityErr = errors.Wrap(errors.ErrDurabilityWarning, "failed to persist outbox", err)
		s.log.WarnWithCode("Outbox persistence failed; keeping in-memory state", string(errors.ErrDurabilityWarning), err,
			map[string]interface{}{"items": len(snapshot)})
		telemetry.RecordDurabilityWarning()
		return
	}
	s.durabilityErr = nil
}

// Enqueue validates req, appends a new pending item to the tail and
// persists the queue. Only malformed requests return an error.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (models.OutboxItem, error) {
	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.defaultMaxAttempts
	}

	item := models.OutboxItem{
		EntityType:  req.EntityType,
		Operation:   req.Operation,
		Payload:     req.Payload,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		Status:      models.StatusPending,
	}
	if err := item.Validate(); err != nil {
		return models.OutboxItem{}, errors.Wrap(errors.ErrInvalid, "invalid enqueue request", err)
	}
	item = item.Clone()

	s.mutate(ctx, func() bool {
		item.ID = s.newID()
		for s.items[item.ID] != nil {
			item.ID = s.newID()
		}
		item.CreatedAt = s.now()

		stored := item.Clone()
		s.items[item.ID] = &stored
		s.order = append(s.order, item.ID)
		return true
	})

	telemetry.RecordEnqueued(string(item.EntityType), string(item.Operation))
	s.log.Info("Enqueued mutation", map[string]interface{}{
		"item_id":     item.ID,
		"entity_type": item.EntityType,
		"operation":   item.Operation,
		"entity_id":   item.Payload.EntityID(),
	})

	return item, nil
}

// Remove deletes an item. Removing an unknown id is a no-op.
func (s *Store) Remove(ctx context.Context, id models.UUID) bool {
	removed := false
	s.mutate(ctx, func() bool {
		removed = s.removeLocked(id)
		return removed
	})
	return removed
}

func (s *Store) removeLocked(id models.UUID) bool {
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// UpdateStatus applies patch to the item and returns the updated copy.
// It reports false when the id is unknown.
func (s *Store) UpdateStatus(ctx context.Context, id models.UUID, patch Patch) (models.OutboxItem, bool) {
	var (
		updated models.OutboxItem
		found   bool
	)
	s.mutate(ctx, func() bool {
		item, ok := s.items[id]
		if !ok {
			return false
		}
		found = true
		patch.apply(item)
		updated = item.Clone()
		return true
	})
	return updated, found
}

// UpdateIf applies patch only when the item currently has status from.
func (s *Store) UpdateIf(ctx context.Context, id models.UUID, from models.OutboxStatus, patch Patch) (models.OutboxItem, bool) {
	var (
		updated models.OutboxItem
		found   bool
	)
	s.mutate(ctx, func() bool {
		item, ok := s.items[id]
		if !ok || item.Status != from {
			return false
		}
		found = true
		patch.apply(item)
		updated = item.Clone()
		return true
	})
	return updated, found
}

// RemoveIf deletes the item only when it currently has status from, and
// returns the removed item.
func (s *Store) RemoveIf(ctx context.Context, id models.UUID, from models.OutboxStatus) (models.OutboxItem, bool) {
	var (
		removed models.OutboxItem
		found   bool
	)
	s.mutate(ctx, func() bool {
		item, ok := s.items[id]
		if !ok || item.Status != from {
			return false
		}
		removed = item.Clone()
		found = s.removeLocked(id)
		return found
	})
	return removed, found
}

// Get returns a copy of the item with id.
func (s *Store) Get(id models.UUID) (models.OutboxItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return models.OutboxItem{}, false
	}
	return item.Clone(), true
}

// ListAll returns an ordered deep copy of the queue.
func (s *Store) ListAll() []models.OutboxItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.OutboxItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out
}

// Eligible returns, in queue order, the items a cycle may upload at now.
func (s *Store) Eligible(now time.Time) []models.OutboxItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.OutboxItem
	for _, id := range s.order {
		if item := s.items[id]; item.Eligible(now) {
			out = append(out, item.Clone())
		}
	}
	return out
}

// HasEligible reports whether any item is eligible at now.
func (s *Store) HasEligible(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		if s.items[id].Eligible(now) {
			return true
		}
	}
	return false
}

// ListByStatus returns, in queue order, the items with status.
func (s *Store) ListByStatus(status models.OutboxStatus) []models.OutboxItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.OutboxItem
	for _, id := range s.order {
		if item := s.items[id]; item.Status == status {
			out = append(out, item.Clone())
		}
	}
	return out
}

// Len returns the number of queued items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Counts returns per-status totals.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Counts{Total: len(s.order)}
	for _, item := range s.items {
		switch item.Status {
		case models.StatusPending:
			c.Pending++
		case models.StatusUploading:
			c.Uploading++
		case models.StatusSynced:
			c.Synced++
		case models.StatusError:
			c.Error++
		case models.StatusConflict:
			c.Conflict++
		}
	}
	return c
}

// Clear removes every item. It is only ever invoked explicitly by a user.
func (s *Store) Clear(ctx context.Context) int {
	removed := 0
	s.mutate(ctx, func() bool {
		removed = len(s.order)
		s.items = make(map[models.UUID]*models.OutboxItem)
		s.order = nil
		return true
	})
	s.log.Info("Outbox cleared", map[string]interface{}{"removed": removed})
	return removed
}

// PurgeSynced removes synced items whose SyncedAt is at or before cutoff.
func (s *Store) PurgeSynced(ctx context.Context, cutoff time.Time) int {
	purged := 0
	s.mutate(ctx, func() bool {
		var ids []models.UUID
		for _, id := range s.order {
			item := s.items[id]
			if item.Status == models.StatusSynced && item.SyncedAt != nil && !item.SyncedAt.After(cutoff) {
				ids = append(ids, id)
			}
		}
		for _, id := range ids {
			s.removeLocked(id)
		}
		purged = len(ids)
		return purged > 0
	})
	if purged > 0 {
		s.log.Debug("Purged synced items", map[string]interface{}{"purged": purged})
	}
	return purged
}

// Retry moves a single error item back to pending with a fresh budget.
func (s *Store) Retry(ctx context.Context, id models.UUID) bool {
	retried := false
	s.mutate(ctx, func() bool {
		item, ok := s.items[id]
		if !ok || item.Status != models.StatusError {
			return false
		}
		resetForRetry(item)
		retried = true
		return true
	})
	return retried
}

// RetryFailed moves every error item back to pending with a fresh budget.
func (s *Store) RetryFailed(ctx context.Context) int {
	count := 0
	s.mutate(ctx, func() bool {
		for _, id := range s.order {
			if item := s.items[id]; item.Status == models.StatusError {
				resetForRetry(item)
				count++
			}
		}
		return count > 0
	})
	if count > 0 {
		s.log.Info("Reset failed items for retry", map[string]interface{}{"count": count})
	}
	return count
}

func resetForRetry(item *models.OutboxItem) {
	item.Status = models.StatusPending
	item.Attempts = 0
	item.LastError = ""
	item.NextEligibleAt = nil
	item.UploadProgress = nil
}
