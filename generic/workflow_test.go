package generic_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fees-engine/events"
	"github.com/warp/fees-engine/generic"
	"github.com/warp/fees-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var errRefused = errors.New("refused by hook")

// newResultWorkflow binds a workflow to a Result target. onApprove bumps
// the score by one, or fails when fail is set.
func newResultWorkflow(t *testing.T, fail bool) (*generic.Workflow[*generic.Result], *store.Memory, *events.Recorder) {
	t.Helper()
	mem := store.NewMemory()
	rec := events.NewRecorder()

	require.NoError(t, mem.WithTx(context.Background(), func(tx generic.Tx) error {
		return tx.SaveResult(context.Background(), generic.Result{
			ID:            "res-1",
			InstitutionID: inst,
			StudentID:     "stu-1",
			Subject:       "Maths",
			Score:         generic.MustParseDecimal("60"),
		})
	}))

	wf := generic.NewWorkflow(generic.KindGradeChange, mem, generic.WorkflowHooks[*generic.Result]{
		Load: func(ctx context.Context, tx generic.Tx, id string) (*generic.Result, error) {
			return tx.GetResult(ctx, id)
		},
		OnApprove: func(ctx context.Context, tx generic.Tx, _ *generic.ApprovalRequest, r *generic.Result) error {
			if fail {
				return errRefused
			}
			r.Score = r.Score.Add(generic.MustParseDecimal("1"))
			return tx.SaveResult(ctx, *r)
		},
		ApprovedEvent: generic.EventGradeChangeApproved,
		RejectedEvent: generic.EventGradeChangeRejected,
	}, generic.NewEmitter(rec, rec, nil))
	return wf, mem, rec
}

func requestInput() generic.RequestInput {
	return generic.RequestInput{
		InstitutionID: inst,
		TargetID:      "res-1",
		RequestedBy:   "teacher-1",
		RequesterType: generic.RequesterStaff,
		Reason:        "marking error",
	}
}

// =============================================================================
// REQUEST
// =============================================================================

func TestWorkflow_OnePendingRequestPerTarget(t *testing.T) {
	// GIVEN: A pending request against res-1
	// WHEN: A second request is opened for the same target
	// THEN: It fails with ErrDuplicateRequest naming the pending one

	ctx := context.Background()
	wf, _, _ := newResultWorkflow(t, false)

	first, err := wf.Request(ctx, requestInput())
	require.NoError(t, err)
	assert.Equal(t, generic.RequestPending, first.Status)

	_, err = wf.Request(ctx, requestInput())
	var dup *generic.DuplicateRequestError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.ID, dup.ExistingID)

	// THEN: Once resolved, a new request may be opened
	_, err = wf.Reject(ctx, first.ID, "head-1", "no")
	require.NoError(t, err)
	_, err = wf.Request(ctx, requestInput())
	assert.NoError(t, err)
}

func TestWorkflow_ConcurrentRequestsOpenExactlyOne(t *testing.T) {
	ctx := context.Background()
	wf, _, _ := newResultWorkflow(t, false)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		opened  int
		dupes   int
		unknown []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := wf.Request(ctx, requestInput())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				opened++
			case errors.Is(err, generic.ErrDuplicateRequest):
				dupes++
			default:
				unknown = append(unknown, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, unknown)
	assert.Equal(t, 1, opened)
	assert.Equal(t, 7, dupes)
}

func TestWorkflow_RequestValidation(t *testing.T) {
	ctx := context.Background()
	wf, _, _ := newResultWorkflow(t, false)

	in := requestInput()
	in.RequesterType = "student"
	_, err := wf.Request(ctx, in)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	in = requestInput()
	in.TargetID = "missing"
	_, err = wf.Request(ctx, in)
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// RESOLVE
// =============================================================================

func TestWorkflow_ApproveAppliesSideEffect(t *testing.T) {
	// GIVEN: A pending request
	// WHEN: It is approved
	// THEN: The request records the reviewer, the hook ran, and the
	//       approved event was sent

	ctx := context.Background()
	wf, mem, rec := newResultWorkflow(t, false)
	req, err := wf.Request(ctx, requestInput())
	require.NoError(t, err)

	approved, err := wf.Approve(ctx, req.ID, "head-1", "checked")
	require.NoError(t, err)
	assert.Equal(t, generic.RequestApproved, approved.Status)
	assert.Equal(t, "head-1", approved.ReviewedBy)
	assert.Equal(t, "checked", approved.ReviewNotes)
	require.NotNil(t, approved.ReviewedAt)

	res, err := mem.GetResult(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, "61", res.Score.String())

	evs := rec.EventsOfType(generic.EventGradeChangeApproved)
	require.Len(t, evs, 1)
	assert.Equal(t, req.ID, evs[0].Payload["request_id"])
}

func TestWorkflow_FailedSideEffectLeavesRequestPending(t *testing.T) {
	// GIVEN: A workflow whose OnApprove fails
	// WHEN: A request is approved
	// THEN: The error surfaces and neither the request nor the target changed

	ctx := context.Background()
	wf, mem, rec := newResultWorkflow(t, true)
	req, err := wf.Request(ctx, requestInput())
	require.NoError(t, err)

	_, err = wf.Approve(ctx, req.ID, "head-1", "")
	assert.ErrorIs(t, err, errRefused)

	stored, err := wf.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.RequestPending, stored.Status)
	assert.Empty(t, stored.ReviewedBy)

	res, err := mem.GetResult(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, "60", res.Score.String())
	assert.Empty(t, rec.EventsOfType(generic.EventGradeChangeApproved))
}

func TestWorkflow_TerminalStatesAreFinal(t *testing.T) {
	ctx := context.Background()
	wf, _, rec := newResultWorkflow(t, false)
	req, err := wf.Request(ctx, requestInput())
	require.NoError(t, err)

	_, err = wf.Reject(ctx, req.ID, "head-1", "insufficient evidence")
	require.NoError(t, err)
	require.Len(t, rec.EventsOfType(generic.EventGradeChangeRejected), 1)

	_, err = wf.Approve(ctx, req.ID, "head-1", "")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	_, err = wf.Reject(ctx, req.ID, "head-1", "")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	_, err = wf.Approve(ctx, req.ID, "", "")
	assert.ErrorIs(t, err, generic.ErrInvalidInput, "reviewer is required")
}

func TestWorkflow_KindsDoNotLeak(t *testing.T) {
	// GIVEN: A grade-change request
	// WHEN: A waiver workflow on the same store looks it up
	// THEN: It is not found

	ctx := context.Background()
	wf, mem, _ := newResultWorkflow(t, false)
	req, err := wf.Request(ctx, requestInput())
	require.NoError(t, err)

	waivers := generic.NewWorkflow(generic.KindPenaltyWaiver, mem, generic.WorkflowHooks[*generic.AppliedPenalty]{
		Load: func(ctx context.Context, tx generic.Tx, id string) (*generic.AppliedPenalty, error) {
			return tx.GetPenalty(ctx, id)
		},
	}, nil)

	_, err = waivers.Get(ctx, req.ID)
	assert.True(t, generic.IsNotFound(err))
	_, err = waivers.Approve(ctx, req.ID, "head-1", "")
	assert.True(t, generic.IsNotFound(err))

	list, err := waivers.List(ctx, inst, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}
