// Package sync composes the outbox, connectivity monitor, scheduler and
// conflict resolver into a single engine.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/adapter"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/conflict"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/connectivity"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/outbox"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/scheduler"
	"github.com/kimhsiao/fieldsync/backend/internal/telemetry"
	"github.com/kimhsiao/fieldsync/backend/internal/uuid"
)

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	// SyncStatusFailed means the last cycle left items in error or conflict.
	SyncStatusFailed SyncStatus = "failed"
)

// Config holds engine configuration.
type Config struct {
	Scheduler          *scheduler.SchedulerConfig
	DefaultMaxAttempts int
	InitiallyOnline    bool
	StorageKey         string
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		Scheduler:          scheduler.DefaultSchedulerConfig(),
		DefaultMaxAttempts: outbox.DefaultMaxAttempts,
	}
}

// Dependencies are the collaborators injected into an Engine.
type Dependencies struct {
	Documents   outbox.DocumentStore
	Adapter     adapter.Adapter
	ConflictLog conflict.LogSink // optional
	IDGenerator uuid.Generator   // optional
	Logger      *logging.Logger  // optional
}

// EngineStatus is the aggregate status surface shown to the user.
type EngineStatus struct {
	Status            SyncStatus               `json:"status"`
	Connectivity      models.ConnectivityState `json:"connectivity"`
	Running           bool                     `json:"running"`
	Counts            outbox.Counts            `json:"counts"`
	LastSyncTime      *time.Time               `json:"lastSyncTime,omitempty"`
	LastCycle         *scheduler.CycleResult   `json:"lastCycle,omitempty"`
	DurabilityWarning string                   `json:"durabilityWarning,omitempty"`
	RehydrateError    string                   `json:"rehydrateError,omitempty"`
}

// Engine is the offline outbox sync engine.
type Engine struct {
	store     *outbox.Store
	monitor   *connectivity.Monitor
	scheduler *scheduler.Scheduler
	resolver  *conflict.Resolver

	gracePeriod time.Duration
	now         func() time.Time

	mu          gosync.RWMutex
	handler     SyncEventHandler
	unsubscribe func()
}

// NewEngine creates a new Engine and rehydrates the outbox from deps.Documents.
// A rehydrate failure does not fail construction; see RehydrateError.
func NewEngine(ctx context.Context, deps Dependencies, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	schedCfg := cfg.Scheduler
	if schedCfg == nil {
		schedCfg = scheduler.DefaultSchedulerConfig()
	}
	now := schedCfg.Clock
	if now == nil {
		now = time.Now
	}

	storeOpts := []outbox.Option{outbox.WithClock(now)}
	if cfg.DefaultMaxAttempts > 0 {
		storeOpts = append(storeOpts, outbox.WithDefaultMaxAttempts(cfg.DefaultMaxAttempts))
	}
	if cfg.StorageKey != "" {
		storeOpts = append(storeOpts, outbox.WithStorageKey(cfg.StorageKey))
	}
	if deps.IDGenerator != nil {
		storeOpts = append(storeOpts, outbox.WithIDGenerator(deps.IDGenerator))
	}
	if deps.Logger != nil {
		storeOpts = append(storeOpts, outbox.WithLogger(deps.Logger))
	}

	store := outbox.New(ctx, deps.Documents, storeOpts...)
	monitor := connectivity.NewMonitor(cfg.InitiallyOnline)
	sched := scheduler.NewScheduler(store, monitor, deps.Adapter, schedCfg)

	resolverOpts := []conflict.Option{conflict.WithClock(now)}
	if deps.ConflictLog != nil {
		resolverOpts = append(resolverOpts, conflict.WithLogSink(deps.ConflictLog))
	}

	e := &Engine{
		store:       store,
		monitor:     monitor,
		scheduler:   sched,
		gracePeriod: schedCfg.GracePeriod,
		now:         now,
	}
	e.resolver = conflict.NewResolver(store, e, resolverOpts...)
	sched.SetEventHandler(e.onSchedulerEvent)
	telemetry.SetQueueDepth(store.Counts().ByStatus())
	return e
}

// Start begins reacting to connectivity changes. Synced items left over
// from a previous run are purged once their grace period has passed.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.unsubscribe == nil {
		e.unsubscribe = e.monitor.Subscribe(e.onConnectivity)
	}
	e.mu.Unlock()

	if n := e.store.PurgeSynced(ctx, e.now().Add(-e.gracePeriod)); n > 0 {
		logging.Info("Purged synced items from previous run", map[string]interface{}{"count": n})
	}
	e.scheduler.Start(ctx)
}

// Stop stops the scheduler and waits for a running cycle to finish.
func (e *Engine) Stop() {
	e.scheduler.Stop()

	e.mu.Lock()
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Enqueue records a local mutation. It returns once the outbox has made a
// persist attempt; only malformed requests return an error. While online a
// debounced cycle is scheduled.
func (e *Engine) Enqueue(ctx context.Context, req outbox.EnqueueRequest) (models.OutboxItem, error) {
	item, err := e.store.Enqueue(ctx, req)
	if err != nil {
		return models.OutboxItem{}, err
	}

	e.emitEvent(SyncEvent{
		Type:       SyncEventEnqueued,
		ItemID:     item.ID,
		EntityType: item.EntityType,
		EntityID:   item.Payload.EntityID(),
		Status:     item.Status,
		Pending:    e.PendingCount(),
	})
	e.scheduler.Schedule()
	return item, nil
}

// SetOnline feeds a reachability observation into the monitor.
func (e *Engine) SetOnline(online bool) {
	e.monitor.SetReachable(online)
}

// TriggerSync starts a cycle in the background. It returns false when a
// cycle is already running. The cycle outlives ctx cancellation, so request
// scoped contexts are safe to pass.
func (e *Engine) TriggerSync(ctx context.Context) bool {
	return e.scheduler.TriggerSync(context.WithoutCancel(ctx))
}

// SyncNow runs a cycle and waits for it to finish.
func (e *Engine) SyncNow(ctx context.Context) (*scheduler.CycleResult, error) {
	return e.scheduler.SyncNow(ctx)
}

// Resolve applies a user decision to a conflict item.
func (e *Engine) Resolve(ctx context.Context, id models.UUID, resolution conflict.Resolution) conflict.ResolveResult {
	result := e.resolver.Resolve(ctx, id, resolution)
	if result.Applied() {
		e.emitEvent(SyncEvent{
			Type:    SyncEventResolved,
			ItemID:  id,
			Detail:  string(resolution),
			Pending: e.PendingCount(),
		})
	}
	return result
}

// ResolveAll applies resolution to every conflict item.
func (e *Engine) ResolveAll(ctx context.Context, resolution conflict.Resolution) []conflict.ResolveResult {
	pending := e.resolver.Pending()
	results := make([]conflict.ResolveResult, 0, len(pending))
	for _, item := range pending {
		results = append(results, e.Resolve(ctx, item.ID, resolution))
	}
	return results
}

// Retry moves one error item back to pending with a fresh attempt budget
// and schedules a cycle. It returns a NOT_FOUND error when id is unknown or
// not in error.
func (e *Engine) Retry(ctx context.Context, id models.UUID) error {
	if !e.store.Retry(ctx, id) {
		return errors.New(errors.ErrNotFound, fmt.Sprintf("item %s not found or not in error", id))
	}
	e.emitEvent(SyncEvent{
		Type:    SyncEventRetried,
		ItemID:  id,
		Pending: e.PendingCount(),
	})
	e.scheduler.Schedule()
	return nil
}

// RetryFailed moves every error item back to pending with a fresh
// attempt budget and schedules a cycle.
func (e *Engine) RetryFailed(ctx context.Context) int {
	n := e.store.RetryFailed(ctx)
	if n > 0 {
		e.scheduler.Schedule()
	}
	return n
}

// Clear empties the outbox.
func (e *Engine) Clear(ctx context.Context) int {
	n := e.store.Clear(ctx)
	telemetry.SetQueueDepth(e.store.Counts().ByStatus())
	return n
}

// Snapshot returns every outbox item in queue order.
func (e *Engine) Snapshot() []models.OutboxItem {
	return e.store.ListAll()
}

// Item returns a single outbox item.
func (e *Engine) Item(id models.UUID) (models.OutboxItem, bool) {
	return e.store.Get(id)
}

// PendingCount returns the number of items waiting to upload.
func (e *Engine) PendingCount() int {
	c := e.store.Counts()
	return c.Pending + c.Uploading
}

// ConflictCount returns the number of items awaiting resolution.
func (e *Engine) ConflictCount() int {
	return e.store.Counts().Conflict
}

// ErrorCount returns the number of items that exhausted or lost their retries.
func (e *Engine) ErrorCount() int {
	return e.store.Counts().Error
}

// LastSyncTime returns when the last completed cycle finished, or nil.
func (e *Engine) LastSyncTime() *time.Time {
	if t, ok := e.scheduler.LastSyncTime(); ok {
		return &t
	}
	return nil
}

// Connectivity returns the current connectivity state.
func (e *Engine) Connectivity() models.ConnectivityState {
	return e.monitor.State()
}

// Monitor exposes the connectivity monitor so probers can feed it.
func (e *Engine) Monitor() *connectivity.Monitor {
	return e.monitor
}

// RehydrateError returns the error encountered loading the persisted outbox.
func (e *Engine) RehydrateError() error {
	return e.store.RehydrateError()
}

// Status returns the aggregate engine status.
func (e *Engine) Status() EngineStatus {
	sched := e.scheduler.Status()
	status := EngineStatus{
		Status:       SyncStatusIdle,
		Connectivity: e.monitor.State(),
		Running:      sched.IsRunning,
		Counts:       e.store.Counts(),
		LastSyncTime: sched.LastSyncTime,
		LastCycle:    sched.LastResult,
	}

	switch {
	case sched.SyncInProgress:
		status.Status = SyncStatusSyncing
	case sched.LastResult != nil && (sched.LastResult.Failed > 0 || sched.LastResult.Conflicts > 0):
		status.Status = SyncStatusFailed
	}

	if err := e.store.LastDurabilityError(); err != nil {
		status.DurabilityWarning = err.Error()
	}
	if err := e.store.RehydrateError(); err != nil {
		status.RehydrateError = err.Error()
	}
	return status
}

func (e *Engine) onConnectivity(prev, next models.ConnectivityState) {
	e.emitEvent(SyncEvent{
		Type:         SyncEventConnectivity,
		Connectivity: next,
		Detail:       string(prev),
	})
}

func (e *Engine) onSchedulerEvent(ev scheduler.Event) {
	out := SyncEvent{
		Time:       ev.Time,
		ItemID:     ev.ItemID,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Status:     ev.Status,
		Detail:     ev.Detail,
		Pending:    ev.Pending,
		Result:     ev.Result,
	}
	switch ev.Type {
	case scheduler.EventCycleStarted:
		out.Type = SyncEventStarted
	case scheduler.EventCycleCompleted:
		out.Type = SyncEventCompleted
	case scheduler.EventItemSynced:
		out.Type = SyncEventItemSynced
	case scheduler.EventItemFailed:
		out.Type = SyncEventItemFailed
	case scheduler.EventItemConflict:
		out.Type = SyncEventConflict
	default:
		return
	}
	e.emitEvent(out)
}
