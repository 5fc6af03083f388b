// Package conflict provides user-directed resolution for outbox items the
// server rejected as conflicting.
//
// Conflict items are never retried automatically. They change state only
// through Resolve: "local" resubmits the local mutation, "server" discards it.
package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/outbox"
)

// Resolution selects which side of a conflict wins.
type Resolution string

const (
	// ResolutionLocal resubmits the local payload, overwriting server state.
	ResolutionLocal Resolution = "local"
	// ResolutionServer discards the local mutation.
	ResolutionServer Resolution = "server"
)

// ParseResolution converts user input into a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(s) {
	case ResolutionLocal, ResolutionServer:
		return Resolution(s), nil
	}
	return "", errors.New(errors.ErrInvalid, fmt.Sprintf("unknown resolution %q, want local or server", s))
}

// Outcome reports what Resolve did.
type Outcome string

const (
	OutcomeResubmitted             Outcome = "resubmitted"
	OutcomeDiscarded               Outcome = "discarded"
	OutcomeNotFoundOrNotConflicted Outcome = "not_found_or_not_conflicted"
)

// ResolveResult represents the outcome of a resolve call.
type ResolveResult struct {
	ItemID     models.UUID
	Resolution Resolution
	Outcome    Outcome
	// Triggered is set when a resubmission started a new sync cycle.
	Triggered bool
	// Err explains a no-op outcome. It is never returned as a failure.
	Err error
}

// Applied reports whether the call changed the item.
func (r ResolveResult) Applied() bool {
	return r.Outcome != OutcomeNotFoundOrNotConflicted
}

// Trigger starts a sync cycle in the background.
type Trigger interface {
	TriggerSync(ctx context.Context) bool
}

// LogSink stores resolution audit entries.
type LogSink interface {
	CreateConflictLog(ctx context.Context, entry *models.ConflictLog) error
}

// Resolver applies user decisions to conflict items.
type Resolver struct {
	store   *outbox.Store
	trigger Trigger
	sink    LogSink
	now     func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogSink records every applied resolution in sink.
func WithLogSink(sink LogSink) Option {
	return func(r *Resolver) { r.sink = sink }
}

// WithClock overrides the time source used for audit entries.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a new Resolver. trigger may be nil, in which case
// resubmitted items wait for the next cycle.
func NewResolver(store *outbox.Store, trigger Trigger, opts ...Option) *Resolver {
	r := &Resolver{
		store:   store,
		trigger: trigger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve applies resolution to the conflict item id. Calling it for an
// unknown id, an item not in conflict or an unknown resolution is a no-op
// reported as OutcomeNotFoundOrNotConflicted.
func (r *Resolver) Resolve(ctx context.Context, id models.UUID, resolution Resolution) ResolveResult {
	result := ResolveResult{ItemID: id, Resolution: resolution, Outcome: OutcomeNotFoundOrNotConflicted}

	// Captured before the change; resubmission clears lastError.
	detail := ""
	if before, found := r.store.Get(id); found {
		detail = before.LastError
	}

	var (
		item models.OutboxItem
		ok   bool
	)
	switch resolution {
	case ResolutionLocal:
		status := models.StatusPending
		attempts := 0
		patch := outbox.Patch{Status: &status, Attempts: &attempts, ClearNextEligibleAt: true, ClearUploadProgress: true}
		item, ok = r.store.UpdateIf(ctx, id, models.StatusConflict, patch)
		if ok {
			result.Outcome = OutcomeResubmitted
		}

	case ResolutionServer:
		item, ok = r.store.RemoveIf(ctx, id, models.StatusConflict)
		if ok {
			result.Outcome = OutcomeDiscarded
		}

	default:
		result.Err = errors.New(errors.ErrInvalid, fmt.Sprintf("unknown resolution %q", resolution))
		logging.Warn("Ignoring resolve with unknown resolution", map[string]interface{}{
			"item_id":    id,
			"resolution": resolution,
		})
		return result
	}

	if !ok {
		result.Err = errors.New(errors.ErrNotFoundOrNotConflicted,
			fmt.Sprintf("item %s is not awaiting conflict resolution", id))
		logging.Debug("Resolve ignored", map[string]interface{}{"item_id": id, "resolution": resolution})
		return result
	}

	logging.Info("Conflict resolved", map[string]interface{}{
		"item_id":     id,
		"entity_type": item.EntityType,
		"entity_id":   item.Payload.EntityID(),
		"resolution":  resolution,
		"outcome":     result.Outcome,
	})
	r.audit(ctx, item, resolution, detail)

	if result.Outcome == OutcomeResubmitted && r.trigger != nil {
		result.Triggered = r.trigger.TriggerSync(ctx)
	}
	return result
}

// ResolveAll applies resolution to every item currently in conflict.
func (r *Resolver) ResolveAll(ctx context.Context, resolution Resolution) []ResolveResult {
	pending := r.Pending()
	results := make([]ResolveResult, 0, len(pending))
	for _, item := range pending {
		results = append(results, r.Resolve(ctx, item.ID, resolution))
	}
	return results
}

// Pending returns the items awaiting resolution, in queue order.
func (r *Resolver) Pending() []models.OutboxItem {
	return r.store.ListByStatus(models.StatusConflict)
}

func (r *Resolver) audit(ctx context.Context, item models.OutboxItem, resolution Resolution, detail string) {
	if r.sink == nil {
		return
	}

	entry := &models.ConflictLog{
		ItemID:     item.ID,
		EntityType: item.EntityType,
		EntityID:   item.Payload.EntityID(),
		Resolution: string(resolution),
		Detail:     detail,
		ResolvedAt: r.now().Unix(),
	}
	if err := r.sink.CreateConflictLog(ctx, entry); err != nil {
		logging.Error("Failed to record conflict resolution", err, map[string]interface{}{"item_id": item.ID})
	}
}
