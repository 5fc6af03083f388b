package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/conflict"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/scheduler"
)

// SyncEngineInterface defines the engine operations used by the diagnostics
// server and the CLI. This interface allows for mocking in tests.
type SyncEngineInterface interface {
	// TriggerSync starts a cycle in the background.
	// Returns false when a cycle is already running.
	TriggerSync(ctx context.Context) bool

	// SyncNow runs a cycle and waits for its result.
	SyncNow(ctx context.Context) (*scheduler.CycleResult, error)

	// Resolve applies a user decision to a conflict item.
	Resolve(ctx context.Context, id models.UUID, resolution conflict.Resolution) conflict.ResolveResult

	// Retry gives one error item a fresh attempt budget.
	Retry(ctx context.Context, id models.UUID) error

	// SetEventHandler sets the handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the aggregate engine status.
	Status() EngineStatus

	// Snapshot returns every outbox item in queue order.
	Snapshot() []models.OutboxItem

	// LastSyncTime returns the completion time of the last cycle, or nil.
	LastSyncTime() *time.Time
}

var _ SyncEngineInterface = (*Engine)(nil)

// SyncEventType names an engine event.
type SyncEventType string

const (
	SyncEventStarted      SyncEventType = "sync.started"
	SyncEventCompleted    SyncEventType = "sync.completed"
	SyncEventItemSynced   SyncEventType = "sync.item_synced"
	SyncEventItemFailed   SyncEventType = "sync.item_failed"
	SyncEventConflict     SyncEventType = "sync.conflict_detected"
	SyncEventConnectivity SyncEventType = "connectivity.changed"
	SyncEventEnqueued     SyncEventType = "outbox.enqueued"
	SyncEventResolved     SyncEventType = "conflict.resolved"
	SyncEventRetried      SyncEventType = "outbox.retried"
)

// SyncEvent is a notification delivered to the event handler.
type SyncEvent struct {
	Type         SyncEventType            `json:"type"`
	Time         time.Time                `json:"time"`
	ItemID       models.UUID              `json:"itemId,omitempty"`
	EntityType   models.EntityType        `json:"entityType,omitempty"`
	EntityID     string                   `json:"entityId,omitempty"`
	Status       models.OutboxStatus      `json:"status,omitempty"`
	Connectivity models.ConnectivityState `json:"connectivity,omitempty"`
	Detail       string                   `json:"detail,omitempty"`
	Pending      int                      `json:"pending"`
	Result       *scheduler.CycleResult   `json:"result,omitempty"`
}

// SyncEventHandler receives engine events. Handlers run on the goroutine
// that produced the event and must not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(SyncEvent)

// OnSyncEvent calls f(event).
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) { f(event) }

// SetEventHandler sets the event handler. A nil handler disables events.
func (e *Engine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

func (e *Engine) emitEvent(event SyncEvent) {
	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()

	if h == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = e.now()
	}
	h.OnSyncEvent(event)
}
