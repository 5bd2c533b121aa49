package academics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fees-engine/academics"
	"github.com/warp/fees-engine/events"
	"github.com/warp/fees-engine/generic"
	"github.com/warp/fees-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var clock = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*academics.GradeChangeService, *events.Recorder, *generic.Result) {
	t.Helper()
	rec := events.NewRecorder()
	svc := academics.NewGradeChangeService(store.NewMemory(), generic.NewEmitter(rec, rec, nil)).
		WithClock(func() time.Time { return clock })

	res, err := svc.RecordResult(context.Background(), academics.ResultInput{
		InstitutionID: "inst-1",
		StudentID:     "stu-1",
		Subject:       "Chemistry",
		Score:         generic.MustParseDecimal("58"),
	})
	require.NoError(t, err)
	return svc, rec, res
}

func changeTo(res *generic.Result, score string) academics.GradeChangeInput {
	return academics.GradeChangeInput{
		ResultID:    res.ID,
		RequestedBy: "teacher-1",
		Reason:      "paper 2 was not counted",
		NewScore:    generic.MustParseDecimal(score),
	}
}

// =============================================================================
// TESTS
// =============================================================================

func TestGradeChange_ApproveUpdatesScore(t *testing.T) {
	// GIVEN: A recorded score of 58
	// WHEN: A teacher asks for 72 and the head approves
	// THEN: The result is 72 and the request remembers the previous score

	ctx := context.Background()
	svc, rec, res := newService(t)

	req, err := svc.Request(ctx, changeTo(res, "72"))
	require.NoError(t, err)
	assert.Equal(t, generic.RequesterStaff, req.RequesterType)
	assert.Equal(t, "72", req.Payload[academics.PayloadScore])
	assert.Equal(t, "inst-1", req.InstitutionID)

	approved, err := svc.Approve(ctx, req.ID, "head-1", "verified against scripts")
	require.NoError(t, err)
	assert.Equal(t, "58", approved.Payload[academics.PayloadPreviousScore])

	updated, err := svc.GetResult(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "72", updated.Score.String())

	stored, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "58", stored.Payload[academics.PayloadPreviousScore])

	assert.Len(t, rec.EventsOfType(generic.EventGradeChangeApproved), 1)
}

func TestGradeChange_RejectLeavesScore(t *testing.T) {
	ctx := context.Background()
	svc, rec, res := newService(t)

	req, err := svc.Request(ctx, changeTo(res, "90"))
	require.NoError(t, err)
	_, err = svc.Reject(ctx, req.ID, "head-1", "no evidence")
	require.NoError(t, err)

	unchanged, err := svc.GetResult(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "58", unchanged.Score.String())
	assert.Len(t, rec.EventsOfType(generic.EventGradeChangeRejected), 1)

	_, err = svc.Approve(ctx, req.ID, "head-1", "")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestGradeChange_OnePendingPerResult(t *testing.T) {
	ctx := context.Background()
	svc, _, res := newService(t)

	_, err := svc.Request(ctx, changeTo(res, "60"))
	require.NoError(t, err)
	_, err = svc.Request(ctx, changeTo(res, "61"))
	assert.ErrorIs(t, err, generic.ErrDuplicateRequest)

	pending, err := svc.List(ctx, "inst-1", generic.RequestPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestGradeChange_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _, res := newService(t)

	tests := []struct {
		name string
		in   academics.GradeChangeInput
	}{
		{"above 100", changeTo(res, "100.5")},
		{"negative", changeTo(res, "-1")},
		{"same score", changeTo(res, "58")},
		{"other institution", func() academics.GradeChangeInput {
			in := changeTo(res, "70")
			in.InstitutionID = "inst-2"
			return in
		}()},
		{"no requester", func() academics.GradeChangeInput {
			in := changeTo(res, "70")
			in.RequestedBy = ""
			return in
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Request(ctx, tt.in)
			assert.ErrorIs(t, err, generic.ErrInvalidInput)
		})
	}

	_, err := svc.Request(ctx, academics.GradeChangeInput{ResultID: "missing", RequestedBy: "teacher-1", NewScore: generic.MustParseDecimal("50")})
	assert.True(t, generic.IsNotFound(err))
}

func TestRecordResult_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	_, err := svc.RecordResult(ctx, academics.ResultInput{InstitutionID: "inst-1", StudentID: "stu-1", Score: generic.MustParseDecimal("50")})
	assert.ErrorIs(t, err, generic.ErrInvalidInput, "subject is required")

	_, err = svc.RecordResult(ctx, academics.ResultInput{
		InstitutionID: "inst-1", StudentID: "stu-1", Subject: "Art", Score: generic.MustParseDecimal("101"),
	})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}
