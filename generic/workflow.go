/*
workflow.go - Generic two-party approval workflow

PURPOSE:
  One state machine for every "someone asks, someone else decides"
  process in the system. It is parameterized over the target type and an
  injected on-approve side effect, so penalty waivers and grade-change
  approvals share the same contract instead of two copies of it.

REQUEST FLOW:
  ┌────────────────────────────────────────────────────────────────┐
  │                                                                │
  │  Requester      Load target       No other pending     Pending │
  │  submits   ──▶  + validate   ──▶  request for it? ──▶  request │
  │                                                                │
  │                                         │                      │
  │                        ┌────────────────┴──────────┐           │
  │                        ▼                           ▼           │
  │                  ┌──────────┐                ┌──────────┐      │
  │                  │ Approved │──▶ OnApprove   │ Rejected │      │
  │                  └──────────┘   (same tx)    └──────────┘      │
  │                                                                │
  └────────────────────────────────────────────────────────────────┘

CONTRACT:
  - At most one pending request per (kind, target) → ErrDuplicateRequest
  - approved/rejected are terminal → ErrInvalidTransition
  - Approve writes the request status AND runs OnApprove in one
    transaction: either both are visible or neither is.

EXAMPLE:
  wf := generic.NewWorkflow(generic.KindPenaltyWaiver, store, generic.WorkflowHooks[*generic.AppliedPenalty]{
      Load:      func(ctx context.Context, tx generic.Tx, id string) (*generic.AppliedPenalty, error) { return tx.GetPenalty(ctx, id) },
      OnApprove: waive,
  }, emitter)

  req, err := wf.Request(ctx, generic.RequestInput{TargetID: penaltyID, ...})
  req, err = wf.Approve(ctx, req.ID, "bursar-1", "first offence")

SEE ALSO:
  - billing/waiver.go: Penalty waiver binding
  - academics/gradechange.go: Grade-change binding
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// REQUEST - A request awaiting a decision
// =============================================================================

type RequestKind string

const (
	KindPenaltyWaiver RequestKind = "penalty_waiver"
	KindGradeChange   RequestKind = "grade_change"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestRejected
}

type RequesterType string

const (
	RequesterParent RequesterType = "parent"
	RequesterStaff  RequesterType = "staff"
)

func (t RequesterType) IsValid() bool {
	return t == RequesterParent || t == RequesterStaff
}

// ApprovalRequest is one request of any kind. TargetID is opaque to the
// workflow; Payload carries kind-specific data (e.g. a corrected score).
type ApprovalRequest struct {
	ID            string
	InstitutionID string
	Kind          RequestKind
	TargetID      string
	RequestedBy   string
	RequesterType RequesterType
	Reason        string
	Payload       map[string]string

	Status      RequestStatus
	ReviewedBy  string
	ReviewedAt  *time.Time
	ReviewNotes string

	CreatedAt time.Time
}

// =============================================================================
// WORKFLOW
// =============================================================================

// WorkflowHooks binds the workflow to a target type.
type WorkflowHooks[T any] struct {
	// Load fetches the target inside the transaction. Required.
	Load func(ctx context.Context, tx Tx, targetID string) (T, error)

	// Validate runs before a request is opened. Optional.
	Validate func(ctx context.Context, tx Tx, req *ApprovalRequest, target T) error

	// OnApprove applies the approved change in the same transaction as
	// the status write. req already carries reviewer, time and notes.
	OnApprove func(ctx context.Context, tx Tx, req *ApprovalRequest, target T) error

	// Approved/Rejected event types sent to the notifier. Optional.
	ApprovedEvent EventType
	RejectedEvent EventType
}

// Workflow is the two-party approval state machine for one RequestKind.
type Workflow[T any] struct {
	kind    RequestKind
	store   Store
	hooks   WorkflowHooks[T]
	emitter *Emitter
	locks   KeyedMutex
	now     func() time.Time
}

func NewWorkflow[T any](kind RequestKind, store Store, hooks WorkflowHooks[T], emitter *Emitter) *Workflow[T] {
	return &Workflow[T]{
		kind:    kind,
		store:   store,
		hooks:   hooks,
		emitter: emitter,
		now:     time.Now,
	}
}

// WithClock overrides the clock used for CreatedAt/ReviewedAt.
func (w *Workflow[T]) WithClock(now func() time.Time) *Workflow[T] {
	w.now = now
	return w
}

// RequestInput opens a new request.
type RequestInput struct {
	InstitutionID string
	TargetID      string
	RequestedBy   string
	RequesterType RequesterType
	Reason        string
	Payload       map[string]string
}

// Request opens a pending request against TargetID.
func (w *Workflow[T]) Request(ctx context.Context, in RequestInput) (*ApprovalRequest, error) {
	if in.TargetID == "" || in.RequestedBy == "" {
		return nil, fmt.Errorf("%w: target and requester are required", ErrInvalidInput)
	}
	if !in.RequesterType.IsValid() {
		return nil, fmt.Errorf("%w: unknown requester type %q", ErrInvalidInput, in.RequesterType)
	}

	unlock := w.locks.Lock("target:" + in.TargetID)
	defer unlock()

	req := &ApprovalRequest{
		ID:            uuid.NewString(),
		InstitutionID: in.InstitutionID,
		Kind:          w.kind,
		TargetID:      in.TargetID,
		RequestedBy:   in.RequestedBy,
		RequesterType: in.RequesterType,
		Reason:        in.Reason,
		Payload:       in.Payload,
		Status:        RequestPending,
		CreatedAt:     w.now().UTC(),
	}

	err := w.store.WithTx(ctx, func(tx Tx) error {
		target, err := w.hooks.Load(ctx, tx, in.TargetID)
		if err != nil {
			return err
		}
		existing, err := tx.FindPendingRequest(ctx, w.kind, in.TargetID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &DuplicateRequestError{Kind: w.kind, TargetID: in.TargetID, ExistingID: existing.ID}
		}
		if w.hooks.Validate != nil {
			if err := w.hooks.Validate(ctx, tx, req, target); err != nil {
				return err
			}
		}
		return tx.SaveRequest(ctx, *req)
	})
	if err != nil {
		return nil, err
	}

	w.emitter.Transition(ctx, string(w.kind), req.ID, req.InstitutionID, req.RequestedBy, "", string(RequestPending), req.Reason)
	return req, nil
}

// Approve resolves a pending request and applies OnApprove atomically.
func (w *Workflow[T]) Approve(ctx context.Context, requestID, reviewerID, notes string) (*ApprovalRequest, error) {
	return w.resolve(ctx, requestID, reviewerID, notes, RequestApproved)
}

// Reject resolves a pending request without touching the target.
func (w *Workflow[T]) Reject(ctx context.Context, requestID, reviewerID, notes string) (*ApprovalRequest, error) {
	return w.resolve(ctx, requestID, reviewerID, notes, RequestRejected)
}

func (w *Workflow[T]) resolve(ctx context.Context, requestID, reviewerID, notes string, to RequestStatus) (*ApprovalRequest, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer is required", ErrInvalidInput)
	}

	unlock := w.locks.Lock("request:" + requestID)
	defer unlock()

	var req *ApprovalRequest
	err := w.store.WithTx(ctx, func(tx Tx) error {
		r, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if r.Kind != w.kind {
			return NewNotFound(string(w.kind)+" request", requestID)
		}
		if r.Status != RequestPending {
			return &TransitionError{Entity: string(w.kind), ID: r.ID, From: string(r.Status), To: string(to)}
		}

		at := w.now().UTC()
		r.Status = to
		r.ReviewedBy = reviewerID
		r.ReviewedAt = &at
		r.ReviewNotes = notes

		if to == RequestApproved && w.hooks.OnApprove != nil {
			target, err := w.hooks.Load(ctx, tx, r.TargetID)
			if err != nil {
				return err
			}
			if err := w.hooks.OnApprove(ctx, tx, r, target); err != nil {
				return err
			}
		}

		req = r
		return tx.SaveRequest(ctx, *r)
	})
	if err != nil {
		return nil, err
	}

	w.emitter.Transition(ctx, string(w.kind), req.ID, req.InstitutionID, reviewerID, string(RequestPending), string(to), notes)

	eventType := w.hooks.RejectedEvent
	if to == RequestApproved {
		eventType = w.hooks.ApprovedEvent
	}
	if eventType != "" {
		w.emitter.Notify(ctx, Event{
			Type:          eventType,
			InstitutionID: req.InstitutionID,
			Payload: map[string]any{
				"request_id":   req.ID,
				"target_id":    req.TargetID,
				"requested_by": req.RequestedBy,
				"reviewed_by":  req.ReviewedBy,
				"notes":        req.ReviewNotes,
			},
		})
	}
	return req, nil
}

// List returns this workflow's requests matching the filter.
func (w *Workflow[T]) List(ctx context.Context, institutionID string, status RequestStatus) ([]ApprovalRequest, error) {
	return w.store.ListRequests(ctx, RequestFilter{InstitutionID: institutionID, Kind: w.kind, Status: status})
}

// Get returns one request of this workflow's kind.
func (w *Workflow[T]) Get(ctx context.Context, requestID string) (*ApprovalRequest, error) {
	r, err := w.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Kind != w.kind {
		return nil, NewNotFound(string(w.kind)+" request", requestID)
	}
	return r, nil
}
