// Package scheduler drives outbox upload cycles under changing connectivity.
//
// A cycle is started automatically, debounced, when the backend becomes
// reachable and eligible items exist, or manually through TriggerSync and
// SyncNow. At most one cycle runs at a time; triggers received while a
// cycle is running are coalesced into no-ops.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/adapter"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/connectivity"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/outbox"
	"github.com/kimhsiao/fieldsync/backend/internal/telemetry"
)

// Scheduler runs sync cycles against an outbox.
type Scheduler struct {
	store   *outbox.Store
	monitor *connectivity.Monitor
	adapter adapter.Adapter

	settleDelay   time.Duration
	gracePeriod   time.Duration
	uploadTimeout time.Duration
	backoffBase   time.Duration
	backoffMax    time.Duration
	now           func() time.Time

	mu             sync.RWMutex
	isRunning      bool
	runCtx         context.Context
	unsubscribe    func()
	debounce       *time.Timer
	purgeTimer     *time.Timer
	syncInProgress bool
	lastSyncTime   time.Time
	lastResult     *CycleResult
	handler        EventHandler

	// idle is signalled under mu whenever syncInProgress is cleared.
	idle *sync.Cond
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SettleDelay   time.Duration // Pause after going online before a cycle (default: 2s)
	GracePeriod   time.Duration // How long synced items stay visible (default: 5s)
	UploadTimeout time.Duration // Per adapter call deadline (default: 30s)
	BackoffBase   time.Duration // 0 disables per-item backoff
	BackoffMax    time.Duration // Upper bound for a single backoff delay
	Clock         func() time.Time
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SettleDelay:   2 * time.Second,
		GracePeriod:   5 * time.Second,
		UploadTimeout: 30 * time.Second,
		BackoffBase:   0,
		BackoffMax:    time.Hour,
	}
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	// Skipped is set when the cycle did nothing because the backend was
	// unreachable.
	Skipped   bool `json:"skipped"`
	Attempted int  `json:"attempted"`
	Synced    int  `json:"synced"`
	Retrying  int  `json:"retrying"`
	Failed    int  `json:"failed"`
	Conflicts int  `json:"conflicts"`
	// Deferred counts items left pending because an earlier item for the
	// same entity failed in this cycle.
	Deferred int `json:"deferred"`
}

// Duration returns how long the cycle ran.
func (r CycleResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	IsRunning      bool
	SyncInProgress bool
	DebounceArmed  bool
	LastSyncTime   *time.Time
	LastResult     *CycleResult
}

// NewScheduler creates a new Scheduler.
func NewScheduler(store *outbox.Store, monitor *connectivity.Monitor, a adapter.Adapter, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	timeout := config.UploadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Scheduler{
		store:         store,
		monitor:       monitor,
		adapter:       a,
		settleDelay:   config.SettleDelay,
		gracePeriod:   config.GracePeriod,
		uploadTimeout: timeout,
		backoffBase:   config.BackoffBase,
		backoffMax:    config.BackoffMax,
		now:           now,
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// SetEventHandler registers h for cycle and item events. It replaces any
// previous handler; nil removes it.
func (s *Scheduler) SetEventHandler(h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Start subscribes to connectivity transitions. Cycles it starts use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.runCtx = ctx
	s.mu.Unlock()

	unsubscribe := s.monitor.Subscribe(s.onConnectivity)

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	// Items left over from a previous session sync once the settle delay passes.
	if s.monitor.IsReachable() && s.store.HasEligible(s.now()) {
		s.armDebounce()
	}

	logging.Info("Sync scheduler started", map[string]interface{}{
		"settle_delay_ms":   s.settleDelay.Milliseconds(),
		"upload_timeout_ms": s.uploadTimeout.Milliseconds(),
	})
}

// Stop disarms pending triggers and waits for a running cycle to finish.
// The running cycle is never aborted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.purgeTimer != nil {
		s.purgeTimer.Stop()
		s.purgeTimer = nil
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	s.mu.Lock()
	for s.syncInProgress {
		s.idle.Wait()
	}
	s.mu.Unlock()

	logging.Info("Sync scheduler stopped", nil)
}

// onConnectivity reacts to monitor transitions. It runs under the
// monitor's notification lock and must not call back into it.
func (s *Scheduler) onConnectivity(prev, next models.ConnectivityState) {
	switch {
	case prev == models.ConnectivityOffline && next == models.ConnectivityOnline:
		if s.store.HasEligible(s.now()) {
			s.armDebounce()
		}
	case next == models.ConnectivityOffline:
		s.disarmDebounce()
	}
}

// armDebounce (re)starts the settle timer. Every call pushes the cycle
// back by a full settle delay.
func (s *Scheduler) armDebounce() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.settleDelay, s.fireDebounce)
	logging.Debug("Sync armed", map[string]interface{}{"settle_delay_ms": s.settleDelay.Milliseconds()})
}

// Schedule arms a debounced cycle if the scheduler is running, the backend
// is reachable and eligible items exist. Repeated calls coalesce.
func (s *Scheduler) Schedule() bool {
	if !s.IsRunning() || !s.monitor.IsReachable() || !s.store.HasEligible(s.now()) {
		return false
	}
	s.armDebounce()
	return true
}

func (s *Scheduler) disarmDebounce() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
		logging.Debug("Sync disarmed", nil)
	}
}

func (s *Scheduler) fireDebounce() {
	s.mu.Lock()
	s.debounce = nil
	running := s.isRunning
	ctx := s.runCtx
	s.mu.Unlock()

	if !running || !s.monitor.IsReachable() {
		return
	}
	if !s.TriggerSync(ctx) {
		logging.Debug("Sync already in progress, skipping automatic trigger", nil)
	}
}

// tryBegin claims the single cycle slot.
func (s *Scheduler) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.syncInProgress {
		return false
	}
	s.syncInProgress = true
	return true
}

func (s *Scheduler) finish(result *CycleResult) {
	s.mu.Lock()
	s.syncInProgress = false
	s.lastResult = result
	if !result.Skipped {
		s.lastSyncTime = result.CompletedAt
	}
	s.idle.Broadcast()
	s.mu.Unlock()
}

// TriggerSync starts a cycle in the background.
// Returns true if a cycle was started, false if one is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if !s.tryBegin() {
		telemetry.RecordCycle("coalesced", 0)
		return false
	}

	go s.runCycle(ctx)
	return true
}

// SyncNow runs a cycle and waits for it to complete. It returns a
// CYCLE_IN_PROGRESS error when another cycle is running.
func (s *Scheduler) SyncNow(ctx context.Context) (*CycleResult, error) {
	if !s.tryBegin() {
		telemetry.RecordCycle("coalesced", 0)
		return nil, errors.New(errors.ErrCycleInProgress, "a sync cycle is already running")
	}

	return s.runCycle(ctx), nil
}

// runCycle executes one cycle. The caller must hold the cycle slot.
// A cancelled ctx or a lost connection stops the cycle before its next
// item; the adapter call in flight always runs to completion or to its
// own timeout.
func (s *Scheduler) runCycle(ctx context.Context) *CycleResult {
	result := &CycleResult{StartedAt: s.now()}
	rearm := false
	defer func() {
		s.finish(result)
		if rearm {
			s.armDebounce()
		}
	}()

	if !s.monitor.IsReachable() {
		result.Skipped = true
		result.CompletedAt = s.now()
		telemetry.RecordCycle("skipped", 0)
		logging.Debug("Skipping sync - backend is unreachable", nil)
		return result
	}

	items := s.store.Eligible(result.StartedAt)
	// Status writes must land even if ctx is cancelled mid-cycle.
	storeCtx := context.WithoutCancel(ctx)
	reconnects := s.monitor.Reconnects()

	s.monitor.BeginSync()
	s.emit(Event{Type: EventCycleStarted, Time: result.StartedAt, Pending: len(items)})
	logging.Info("Starting sync cycle", map[string]interface{}{"eligible": len(items)})

	blocked := make(map[string]bool)
	for _, snapshot := range items {
		if ctx.Err() != nil {
			logging.Info("Sync cycle interrupted; remaining items stay pending", map[string]interface{}{
				"remaining": len(items) - result.Attempted - result.Deferred,
			})
			break
		}
		if !s.monitor.IsReachable() {
			logging.Info("Backend became unreachable; remaining items stay pending", map[string]interface{}{
				"remaining": len(items) - result.Attempted - result.Deferred,
			})
			break
		}

		key := snapshot.EntityKey()
		if blocked[key] {
			result.Deferred++
			continue
		}

		// The item may have been retried, resolved or removed since the snapshot.
		item, ok := s.store.Get(snapshot.ID)
		if !ok || !item.Eligible(s.now()) {
			continue
		}

		if _, ok := s.store.UpdateStatus(storeCtx, item.ID, outbox.StatusPatch(models.StatusUploading)); !ok {
			continue
		}
		result.Attempted++

		outcome := s.apply(ctx, item)
		telemetry.RecordOutcome(string(item.EntityType), string(outcome.Kind()))

		if !s.record(storeCtx, item, outcome, result) {
			blocked[key] = true
		}
	}

	s.monitor.EndSync()
	result.CompletedAt = s.now()

	// A reconnect during the cycle is hidden behind the syncing state, so
	// the listener never sees an offline to online transition for it.
	if s.monitor.Reconnects() != reconnects && s.monitor.IsReachable() && s.store.HasEligible(result.CompletedAt) {
		rearm = true
	}

	counts := s.store.Counts()
	telemetry.SetQueueDepth(counts.ByStatus())
	telemetry.RecordLastSync(result.CompletedAt)
	telemetry.RecordCycle("completed", result.Duration())

	if result.Synced > 0 {
		s.schedulePurge()
	}

	s.emit(Event{Type: EventCycleCompleted, Time: result.CompletedAt, Result: result, Pending: counts.Pending})
	logging.Info("Sync cycle completed", map[string]interface{}{
		"attempted":      result.Attempted,
		"synced":         result.Synced,
		"retrying":       result.Retrying,
		"failed":         result.Failed,
		"conflicts":      result.Conflicts,
		"deferred":       result.Deferred,
		"queue_pending":  counts.Pending,
		"queue_error":    counts.Error,
		"queue_conflict": counts.Conflict,
	})
	return result
}

type applyResult struct {
	outcome adapter.Outcome
	err     error
}

// apply calls the adapter under the engine deadline. The call context is
// detached from ctx so cancelling the caller never aborts it.
func (s *Scheduler) apply(ctx context.Context, item models.OutboxItem) adapter.Outcome {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.uploadTimeout)
	defer cancel()

	req := adapter.Request{
		ItemID:     item.ID,
		EntityType: item.EntityType,
		Operation:  item.Operation,
		Payload:    item.Payload,
		Attempts:   item.Attempts,
	}

	done := make(chan applyResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- applyResult{err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		outcome, err := s.adapter.Apply(callCtx, req)
		done <- applyResult{outcome: outcome, err: err}
	}()

	select {
	case res := <-done:
		switch {
		case res.err != nil:
			return adapter.RejectedTransient{Reason: res.err.Error()}
		case res.outcome == nil:
			return adapter.RejectedTransient{Reason: "adapter returned no outcome"}
		}
		return res.outcome
	case <-callCtx.Done():
		logging.WarnWithCode("Upload timed out", string(errors.ErrUploadTimeout), callCtx.Err(),
			map[string]interface{}{"item_id": item.ID, "timeout_ms": s.uploadTimeout.Milliseconds()})
		return adapter.RejectedTransient{Reason: fmt.Sprintf("upload timed out after %s", s.uploadTimeout)}
	}
}

// record stores the outcome on the item. It returns false when the item
// did not sync, which blocks later items for the same entity this cycle.
func (s *Scheduler) record(ctx context.Context, item models.OutboxItem, outcome adapter.Outcome, result *CycleResult) bool {
	now := s.now()
	event := Event{ItemID: item.ID, EntityType: item.EntityType, EntityID: item.Payload.EntityID(), Time: now}

	var patch outbox.Patch
	switch o := outcome.(type) {
	case adapter.Applied:
		status := models.StatusSynced
		patch = outbox.Patch{Status: &status, SyncedAt: &now, ClearUploadProgress: true, ClearNextEligibleAt: true}
		result.Synced++
		event.Type = EventItemSynced
		event.Status = status
		event.Detail = o.ServerVersion

	case adapter.RejectedTransient:
		attempts := item.Attempts + 1
		reason := o.Reason
		status := models.StatusPending
		patch = outbox.Patch{Attempts: &attempts, LastError: &reason, ClearUploadProgress: true}
		if attempts >= item.MaxAttempts {
			status = models.StatusError
			result.Failed++
			logging.WarnWithCode("Item exhausted retry budget", string(errors.ErrTransientUpload), nil,
				map[string]interface{}{"item_id": item.ID, "attempts": attempts, "reason": reason})
		} else {
			result.Retrying++
			if next, ok := s.backoff(now, attempts); ok {
				patch.NextEligibleAt = &next
			}
		}
		patch.Status = &status
		event.Type = EventItemFailed
		event.Status = status
		event.Detail = reason

	case adapter.RejectedConflict:
		status := models.StatusConflict
		detail := adapter.Describe(o)
		patch = outbox.Patch{Status: &status, LastError: &detail, ClearUploadProgress: true}
		result.Conflicts++
		event.Type = EventItemConflict
		event.Status = status
		event.Detail = detail
		logging.WarnWithCode("Server reported conflict", string(errors.ErrConflict), nil,
			map[string]interface{}{"item_id": item.ID, "entity": item.EntityKey(), "detail": detail})

	case adapter.RejectedPermanent:
		status := models.StatusError
		reason := o.Reason
		patch = outbox.Patch{Status: &status, LastError: &reason, ClearUploadProgress: true}
		result.Failed++
		event.Type = EventItemFailed
		event.Status = status
		event.Detail = reason
		logging.WarnWithCode("Server rejected mutation", string(errors.ErrPermanentUpload), nil,
			map[string]interface{}{"item_id": item.ID, "entity": item.EntityKey(), "reason": reason})
	}

	s.store.UpdateStatus(ctx, item.ID, patch)
	s.emit(event)
	return event.Type == EventItemSynced
}

// backoff returns the next eligibility time after the given number of
// failed attempts, or false when backoff is disabled.
func (s *Scheduler) backoff(now time.Time, attempts int) (time.Time, bool) {
	if s.backoffBase <= 0 {
		return time.Time{}, false
	}
	delay := s.backoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if s.backoffMax > 0 && delay >= s.backoffMax {
			break
		}
	}
	if s.backoffMax > 0 && delay > s.backoffMax {
		delay = s.backoffMax
	}
	return now.Add(delay), true
}

// schedulePurge removes synced items once the grace period has elapsed.
func (s *Scheduler) schedulePurge() {
	if s.gracePeriod <= 0 {
		s.purge()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stopped schedulers leave synced items for the next Start to purge.
	if !s.isRunning {
		return
	}
	if s.purgeTimer != nil {
		s.purgeTimer.Stop()
	}
	s.purgeTimer = time.AfterFunc(s.gracePeriod, s.purge)
}

func (s *Scheduler) purge() {
	cutoff := s.now().Add(-s.gracePeriod)
	if n := s.store.PurgeSynced(context.Background(), cutoff); n > 0 {
		telemetry.SetQueueDepth(s.store.Counts().ByStatus())
	}
}

func (s *Scheduler) emit(e Event) {
	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()

	if h != nil {
		h(e)
	}
}

// Status returns the current status of the scheduler.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		SyncInProgress: s.syncInProgress,
		DebounceArmed:  s.debounce != nil,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.lastResult != nil {
		r := *s.lastResult
		status.LastResult = &r
	}
	return status
}

// LastSyncTime returns when the last non-skipped cycle completed.
func (s *Scheduler) LastSyncTime() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncTime, !s.lastSyncTime.IsZero()
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// InProgress reports whether a cycle is currently running.
func (s *Scheduler) InProgress() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncInProgress
}
