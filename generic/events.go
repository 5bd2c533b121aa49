package generic

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// DOMAIN EVENTS - Consumed by the external notifier
// =============================================================================

type EventType string

const (
	EventPenaltyApplied      EventType = "penalty.applied"
	EventWaiverApproved      EventType = "penalty_waiver.approved"
	EventWaiverRejected      EventType = "penalty_waiver.rejected"
	EventGradeChangeApproved EventType = "grade_change.approved"
	EventGradeChangeRejected EventType = "grade_change.rejected"
	EventPaymentCompleted    EventType = "payment.completed"
	EventPaymentFailed       EventType = "payment.failed"
)

type Event struct {
	Type          EventType      `json:"type"`
	InstitutionID string         `json:"institution_id"`
	Payload       map[string]any `json:"payload"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Notifier dispatches domain events to the notification collaborator.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// =============================================================================
// AUDIT LOG - Append-only trail of state transitions
// =============================================================================

type AuditRecord struct {
	Action        string         `json:"action"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	InstitutionID string         `json:"institution_id"`
	ActorID       string         `json:"actor_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	At            time.Time      `json:"at"`
}

// AuditSink stores audit records. Append-only.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// =============================================================================
// EMITTER - Post-commit fan-out that never fails the caller
// =============================================================================

// Emitter delivers events and audit records after a write has committed.
// Delivery failures are logged and swallowed: a notifier outage must never
// roll back a ledger write.
type Emitter struct {
	notifier Notifier
	audit    AuditSink
	log      *zap.Logger
}

// NewEmitter builds an emitter. Any argument may be nil.
func NewEmitter(notifier Notifier, audit AuditSink, log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{notifier: notifier, audit: audit, log: log}
}

func (e *Emitter) Notify(ctx context.Context, ev Event) {
	if e == nil || e.notifier == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.log.Warn("notification dispatch failed",
			zap.String("type", string(ev.Type)),
			zap.String("institution_id", ev.InstitutionID),
			zap.Error(err))
	}
}

func (e *Emitter) Audit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.audit == nil {
		return
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	if err := e.audit.Record(ctx, rec); err != nil {
		e.log.Warn("audit record dropped",
			zap.String("action", rec.Action),
			zap.String("entity_id", rec.EntityID),
			zap.Error(err))
	}
}

// Transition is shorthand for the {from_status, to_status, reason} audit
// shape every state machine in the engine emits.
func (e *Emitter) Transition(ctx context.Context, entityType, entityID, institutionID, actorID, from, to, reason string) {
	e.Audit(ctx, AuditRecord{
		Action:        entityType + "." + to,
		EntityType:    entityType,
		EntityID:      entityID,
		InstitutionID: institutionID,
		ActorID:       actorID,
		Metadata: map[string]any{
			"from_status": from,
			"to_status":   to,
			"reason":      reason,
		},
	})
}
