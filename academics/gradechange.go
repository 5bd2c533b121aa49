// Package academics holds the grade-change approval process: a teacher
// asks for a recorded score to be corrected and an administrator decides.
// It runs on the same generic workflow as penalty waivers.
package academics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fees-engine/generic"
)

// PayloadScore is the request payload key carrying the corrected score.
const PayloadScore = "score"

// PayloadPreviousScore is filled in on approval with the score replaced.
const PayloadPreviousScore = "previous_score"

var maxScore = decimal.NewFromInt(100)

// =============================================================================
// GRADE CHANGE SERVICE
// =============================================================================

type GradeChangeService struct {
	store generic.Store
	wf    *generic.Workflow[*generic.Result]
	now   func() time.Time
}

type ResultInput struct {
	InstitutionID string
	StudentID     string
	Subject       string
	Score         decimal.Decimal
}

type GradeChangeInput struct {
	InstitutionID string
	ResultID      string
	RequestedBy   string
	Reason        string
	NewScore      decimal.Decimal
}

func NewGradeChangeService(store generic.Store, emitter *generic.Emitter) *GradeChangeService {
	s := &GradeChangeService{store: store, now: time.Now}
	hooks := generic.WorkflowHooks[*generic.Result]{
		Load: func(ctx context.Context, tx generic.Tx, id string) (*generic.Result, error) {
			return tx.GetResult(ctx, id)
		},
		Validate:      validateGradeChange,
		OnApprove:     s.applyGradeChange,
		ApprovedEvent: generic.EventGradeChangeApproved,
		RejectedEvent: generic.EventGradeChangeRejected,
	}
	s.wf = generic.NewWorkflow(generic.KindGradeChange, store, hooks, emitter)
	return s
}

// WithClock overrides the time source of the service and its workflow.
func (s *GradeChangeService) WithClock(now func() time.Time) *GradeChangeService {
	s.now = now
	s.wf.WithClock(now)
	return s
}

// RecordResult stores a score as originally entered.
func (s *GradeChangeService) RecordResult(ctx context.Context, in ResultInput) (*generic.Result, error) {
	if in.InstitutionID == "" || in.StudentID == "" || in.Subject == "" {
		return nil, fmt.Errorf("%w: institution, student and subject are required", generic.ErrInvalidInput)
	}
	if err := checkScore(in.Score); err != nil {
		return nil, err
	}
	r := generic.Result{
		ID:            uuid.NewString(),
		InstitutionID: in.InstitutionID,
		StudentID:     in.StudentID,
		Subject:       in.Subject,
		Score:         in.Score,
		UpdatedAt:     s.now().UTC(),
	}
	if err := s.store.WithTx(ctx, func(tx generic.Tx) error {
		return tx.SaveResult(ctx, r)
	}); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *GradeChangeService) GetResult(ctx context.Context, id string) (*generic.Result, error) {
	return s.store.GetResult(ctx, id)
}

// Request opens a grade-change request. Only staff may ask.
func (s *GradeChangeService) Request(ctx context.Context, in GradeChangeInput) (*generic.ApprovalRequest, error) {
	if err := checkScore(in.NewScore); err != nil {
		return nil, err
	}
	return s.wf.Request(ctx, generic.RequestInput{
		InstitutionID: in.InstitutionID,
		TargetID:      in.ResultID,
		RequestedBy:   in.RequestedBy,
		RequesterType: generic.RequesterStaff,
		Reason:        in.Reason,
		Payload:       map[string]string{PayloadScore: in.NewScore.String()},
	})
}

func (s *GradeChangeService) Approve(ctx context.Context, requestID, reviewerID, notes string) (*generic.ApprovalRequest, error) {
	return s.wf.Approve(ctx, requestID, reviewerID, notes)
}

func (s *GradeChangeService) Reject(ctx context.Context, requestID, reviewerID, notes string) (*generic.ApprovalRequest, error) {
	return s.wf.Reject(ctx, requestID, reviewerID, notes)
}

func (s *GradeChangeService) Get(ctx context.Context, requestID string) (*generic.ApprovalRequest, error) {
	return s.wf.Get(ctx, requestID)
}

func (s *GradeChangeService) List(ctx context.Context, institutionID string, status generic.RequestStatus) ([]generic.ApprovalRequest, error) {
	return s.wf.List(ctx, institutionID, status)
}

func validateGradeChange(_ context.Context, _ generic.Tx, req *generic.ApprovalRequest, r *generic.Result) error {
	if req.InstitutionID == "" {
		req.InstitutionID = r.InstitutionID
	}
	if req.InstitutionID != r.InstitutionID {
		return fmt.Errorf("%w: result %s belongs to another institution", generic.ErrInvalidInput, r.ID)
	}
	score, err := requestedScore(req)
	if err != nil {
		return err
	}
	if score.Equal(r.Score) {
		return fmt.Errorf("%w: score is already %s", generic.ErrInvalidInput, r.Score)
	}
	return nil
}

func (s *GradeChangeService) applyGradeChange(ctx context.Context, tx generic.Tx, req *generic.ApprovalRequest, r *generic.Result) error {
	score, err := requestedScore(req)
	if err != nil {
		return err
	}
	if req.Payload == nil {
		req.Payload = map[string]string{}
	}
	req.Payload[PayloadPreviousScore] = r.Score.String()
	r.Score = score
	r.UpdatedAt = s.now().UTC()
	return tx.SaveResult(ctx, *r)
}

func requestedScore(req *generic.ApprovalRequest) (decimal.Decimal, error) {
	raw, ok := req.Payload[PayloadScore]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: grade change without a score", generic.ErrInvalidInput)
	}
	score, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: score %q: %v", generic.ErrInvalidInput, raw, err)
	}
	return score, checkScore(score)
}

func checkScore(score decimal.Decimal) error {
	if score.IsNegative() || score.GreaterThan(maxScore) {
		return fmt.Errorf("%w: score %s outside 0-100", generic.ErrInvalidInput, score)
	}
	return nil
}
