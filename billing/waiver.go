package billing

import (
	"context"
	"fmt"

	"github.com/warp/fees-engine/generic"
)

// =============================================================================
// WAIVER SERVICE - Penalty waivers on the generic approval workflow
// =============================================================================

// WaiverService lets a parent or staff member dispute an applied penalty
// and a reviewer waive it. Approval sets the penalty's waived flag in the
// same transaction as the request status, which removes it from balance
// immediately; the row itself is kept.
//
// A waiver grants no compensating credit: the penalty simply stops
// counting.
type WaiverService struct {
	wf *generic.Workflow[*generic.AppliedPenalty]
}

type WaiverInput struct {
	InstitutionID string
	PenaltyID     string
	RequestedBy   string
	RequesterType generic.RequesterType
	Reason        string
}

func NewWaiverService(store generic.Store, emitter *generic.Emitter) *WaiverService {
	hooks := generic.WorkflowHooks[*generic.AppliedPenalty]{
		Load: func(ctx context.Context, tx generic.Tx, id string) (*generic.AppliedPenalty, error) {
			return tx.GetPenalty(ctx, id)
		},
		Validate:      validateWaiver,
		OnApprove:     waivePenalty,
		ApprovedEvent: generic.EventWaiverApproved,
		RejectedEvent: generic.EventWaiverRejected,
	}
	return &WaiverService{wf: generic.NewWorkflow(generic.KindPenaltyWaiver, store, hooks, emitter)}
}

// Workflow exposes the underlying workflow (clock overrides in tests).
func (s *WaiverService) Workflow() *generic.Workflow[*generic.AppliedPenalty] { return s.wf }

// Request opens a waiver request. A second request while one is pending
// for the same penalty fails with *DuplicateRequestError.
func (s *WaiverService) Request(ctx context.Context, in WaiverInput) (*generic.ApprovalRequest, error) {
	return s.wf.Request(ctx, generic.RequestInput{
		InstitutionID: in.InstitutionID,
		TargetID:      in.PenaltyID,
		RequestedBy:   in.RequestedBy,
		RequesterType: in.RequesterType,
		Reason:        in.Reason,
	})
}

func (s *WaiverService) Approve(ctx context.Context, requestID, reviewerID, notes string) (*generic.ApprovalRequest, error) {
	return s.wf.Approve(ctx, requestID, reviewerID, notes)
}

func (s *WaiverService) Reject(ctx context.Context, requestID, reviewerID, notes string) (*generic.ApprovalRequest, error) {
	return s.wf.Reject(ctx, requestID, reviewerID, notes)
}

func (s *WaiverService) Get(ctx context.Context, requestID string) (*generic.ApprovalRequest, error) {
	return s.wf.Get(ctx, requestID)
}

func (s *WaiverService) List(ctx context.Context, institutionID string, status generic.RequestStatus) ([]generic.ApprovalRequest, error) {
	return s.wf.List(ctx, institutionID, status)
}

func validateWaiver(_ context.Context, _ generic.Tx, req *generic.ApprovalRequest, p *generic.AppliedPenalty) error {
	if req.InstitutionID == "" {
		req.InstitutionID = p.InstitutionID
	}
	if req.InstitutionID != p.InstitutionID {
		return fmt.Errorf("%w: penalty %s belongs to another institution", generic.ErrInvalidInput, p.ID)
	}
	if p.Waived {
		return &generic.TransitionError{Entity: "applied_penalty", ID: p.ID, From: "waived", To: "waived"}
	}
	return nil
}

// waivePenalty is the on-approve effect. The penalty's applied date is
// its effective date, so a waiver can't rewrite a locked period.
func waivePenalty(ctx context.Context, tx generic.Tx, req *generic.ApprovalRequest, p *generic.AppliedPenalty) error {
	if p.Waived {
		return &generic.TransitionError{Entity: "applied_penalty", ID: p.ID, From: "waived", To: "waived"}
	}
	if err := generic.CheckPeriod(ctx, tx, p.InstitutionID, p.AppliedDate); err != nil {
		return err
	}
	p.Waived = true
	p.WaivedAt = req.ReviewedAt
	p.WaivedBy = req.ReviewedBy
	p.WaiverReason = req.Reason
	if req.ReviewNotes != "" {
		p.WaiverReason = req.ReviewNotes
	}
	return tx.SavePenalty(ctx, *p)
}
