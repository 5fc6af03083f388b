// Package adapter defines the contract the sync scheduler uses to apply a
// queued mutation on the remote backend, plus an HTTP implementation and a
// scripted fake.
package adapter

import (
	"context"
	"encoding/json"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// Request is one apply attempt for an outbox item.
type Request struct {
	// ItemID is the idempotency key. It is identical across retries.
	ItemID     models.UUID
	EntityType models.EntityType
	Operation  models.Operation
	Payload    models.Payload
	// Attempts counts the failed transient attempts before this one.
	Attempts int
}

// EntityKey returns the logical entity the request mutates.
func (r Request) EntityKey() string {
	return string(r.EntityType) + "/" + r.Payload.EntityID()
}

// Adapter applies mutations remotely. Apply must be idempotent per
// Request.ItemID. A non-nil error is treated like RejectedTransient.
type Adapter interface {
	Apply(ctx context.Context, req Request) (Outcome, error)
}

// Func adapts a plain function to the Adapter interface.
type Func func(ctx context.Context, req Request) (Outcome, error)

// Apply implements Adapter.
func (f Func) Apply(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}

// OutcomeKind names an outcome for logs and metrics.
type OutcomeKind string

const (
	KindApplied   OutcomeKind = "applied"
	KindTransient OutcomeKind = "transient"
	KindConflict  OutcomeKind = "conflict"
	KindPermanent OutcomeKind = "permanent"
)

// Outcome is the closed set of apply results. Only the four types below
// implement it.
type Outcome interface {
	Kind() OutcomeKind
	isOutcome()
}

// Applied means the server accepted the mutation.
type Applied struct {
	ServerVersion string
}

// RejectedTransient means the attempt failed for a reason that may clear
// up on its own (timeout, 5xx, network).
type RejectedTransient struct {
	Reason string
}

// RejectedConflict means the server holds a concurrent change that the
// mutation would overwrite.
type RejectedConflict struct {
	Detail         string
	ServerSnapshot json.RawMessage
}

// RejectedPermanent means retrying cannot succeed (validation, auth).
type RejectedPermanent struct {
	Reason string
}

func (Applied) Kind() OutcomeKind           { return KindApplied }
func (RejectedTransient) Kind() OutcomeKind { return KindTransient }
func (RejectedConflict) Kind() OutcomeKind  { return KindConflict }
func (RejectedPermanent) Kind() OutcomeKind { return KindPermanent }

func (Applied) isOutcome()           {}
func (RejectedTransient) isOutcome() {}
func (RejectedConflict) isOutcome()  {}
func (RejectedPermanent) isOutcome() {}

// Describe returns the human-readable reason carried by an outcome.
func Describe(o Outcome) string {
	switch v := o.(type) {
	case Applied:
		return "applied at version " + v.ServerVersion
	case RejectedTransient:
		return v.Reason
	case RejectedConflict:
		if v.Detail != "" {
			return v.Detail
		}
		return "server reported a conflicting change"
	case RejectedPermanent:
		return v.Reason
	}
	return "unknown outcome"
}
