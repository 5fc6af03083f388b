package scheduler

import (
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// EventType names a scheduler event.
type EventType string

const (
	EventCycleStarted   EventType = "cycle.started"
	EventItemSynced     EventType = "item.synced"
	EventItemFailed     EventType = "item.failed"
	EventItemConflict   EventType = "item.conflict"
	EventCycleCompleted EventType = "cycle.completed"
)

// Event describes progress within a cycle. Item fields are empty for
// cycle events.
type Event struct {
	Type       EventType
	Time       time.Time
	ItemID     models.UUID
	EntityType models.EntityType
	EntityID   string
	Status     models.OutboxStatus
	Detail     string
	Pending    int
	Result     *CycleResult
}

// EventHandler receives events on the cycle's goroutine and must not block.
type EventHandler func(Event)
