package generic_test

import (
	"context"
	"errors"
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

const inst = "inst-1"

func newTestGuard() (*generic.PeriodGuard, *store.Memory, *events.Recorder) {
	mem := store.NewMemory()
	rec := events.NewRecorder()
	return generic.NewPeriodGuard(mem, generic.NewEmitter(rec, rec, nil)), mem, rec
}

func term1() generic.PeriodInput {
	return generic.PeriodInput{
		InstitutionID: inst,
		Name:          "Term 1",
		Type:          generic.PeriodTerm,
		StartDate:     generic.MustParseDate("2025-01-01"),
		EndDate:       generic.MustParseDate("2025-04-30"),
	}
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreatePeriod_RejectsOverlap(t *testing.T) {
	// GIVEN: Term 1 covering January to April
	// WHEN: A period sharing only its first day with Term 1 is created
	// THEN: It fails with ErrPeriodOverlap; an adjacent period succeeds

	ctx := context.Background()
	guard, _, _ := newTestGuard()
	_, err := guard.CreatePeriod(ctx, term1())
	require.NoError(t, err)

	_, err = guard.CreatePeriod(ctx, generic.PeriodInput{
		InstitutionID: inst,
		Name:          "Overlapping",
		StartDate:     generic.MustParseDate("2025-04-30"),
		EndDate:       generic.MustParseDate("2025-08-31"),
	})
	assert.ErrorIs(t, err, generic.ErrPeriodOverlap)

	next, err := guard.CreatePeriod(ctx, generic.PeriodInput{
		InstitutionID: inst,
		Name:          "Term 2",
		StartDate:     generic.MustParseDate("2025-05-01"),
		EndDate:       generic.MustParseDate("2025-08-31"),
	})
	require.NoError(t, err)
	assert.Equal(t, generic.PeriodCustom, next.Type)
}

func TestCreatePeriod_OverlapIsPerInstitution(t *testing.T) {
	// GIVEN: Term 1 at one institution
	// WHEN: The same range is created at another institution
	// THEN: It succeeds

	ctx := context.Background()
	guard, _, _ := newTestGuard()
	_, err := guard.CreatePeriod(ctx, term1())
	require.NoError(t, err)

	other := term1()
	other.InstitutionID = "inst-2"
	_, err = guard.CreatePeriod(ctx, other)
	assert.NoError(t, err)
}

func TestCreatePeriod_Validation(t *testing.T) {
	ctx := context.Background()
	guard, _, _ := newTestGuard()

	tests := []struct {
		name   string
		mutate func(*generic.PeriodInput)
		want   error
	}{
		{"end before start", func(in *generic.PeriodInput) { in.EndDate = generic.MustParseDate("2024-12-31") }, generic.ErrInvalidPeriod},
		{"missing start", func(in *generic.PeriodInput) { in.StartDate = generic.Date{} }, generic.ErrInvalidPeriod},
		{"missing name", func(in *generic.PeriodInput) { in.Name = "" }, generic.ErrInvalidInput},
		{"unknown type", func(in *generic.PeriodInput) { in.Type = "fortnight" }, generic.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := term1()
			tt.mutate(&in)
			_, err := guard.CreatePeriod(ctx, in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	single := term1()
	single.EndDate = single.StartDate
	_, err := guard.CreatePeriod(ctx, single)
	assert.NoError(t, err, "a one-day period is valid")
}

// =============================================================================
// LOCK / UNLOCK
// =============================================================================

func TestLock_GuardsEveryDayInRange(t *testing.T) {
	// GIVEN: A locked Term 1
	// WHEN: Dates at both boundaries and just outside are checked
	// THEN: Only dates inside [start, end] are locked

	ctx := context.Background()
	guard, mem, rec := newTestGuard()
	p, err := guard.CreatePeriod(ctx, term1())
	require.NoError(t, err)

	locked, err := guard.Lock(ctx, p.ID, "term closed", "bursar-1")
	require.NoError(t, err)
	assert.True(t, locked.IsLocked)
	assert.Equal(t, "bursar-1", locked.LockedBy)
	require.NotNil(t, locked.LockedAt)

	for date, want := range map[string]bool{
		"2024-12-31": false,
		"2025-01-01": true,
		"2025-03-15": true,
		"2025-04-30": true,
		"2025-05-01": false,
	} {
		got, err := guard.IsLocked(ctx, inst, generic.MustParseDate(date))
		require.NoError(t, err)
		assert.Equal(t, want, got, date)
	}

	err = generic.CheckPeriod(ctx, mem, inst, generic.MustParseDate("2025-02-01"))
	var lockedErr *generic.PeriodLockedError
	require.True(t, errors.As(err, &lockedErr))
	assert.Equal(t, p.ID, lockedErr.PeriodID)
	assert.ErrorIs(t, err, generic.ErrPeriodLocked)

	other, err := guard.IsLocked(ctx, "inst-2", generic.MustParseDate("2025-02-01"))
	require.NoError(t, err)
	assert.False(t, other)

	var actions []string
	for _, r := range rec.AuditRecords() {
		actions = append(actions, r.Action)
	}
	assert.Equal(t, []string{"financial_period.open", "financial_period.locked"}, actions)
}

func TestLock_AlreadyLockedIsTransitionError(t *testing.T) {
	ctx := context.Background()
	guard, _, _ := newTestGuard()
	p, err := guard.CreatePeriod(ctx, term1())
	require.NoError(t, err)
	_, err = guard.Lock(ctx, p.ID, "", "bursar-1")
	require.NoError(t, err)

	_, err = guard.Lock(ctx, p.ID, "", "bursar-1")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestUnlock_RequiresCanUnlock(t *testing.T) {
	// GIVEN: Two locked periods, only one created with can_unlock
	// WHEN: Both are unlocked
	// THEN: The unlockable one reopens, the other fails with ErrNotUnlockable

	ctx := context.Background()
	guard, _, _ := newTestGuard()

	fixed, err := guard.CreatePeriod(ctx, term1())
	require.NoError(t, err)
	in := term1()
	in.Name = "Term 2"
	in.StartDate = generic.MustParseDate("2025-05-01")
	in.EndDate = generic.MustParseDate("2025-08-31")
	in.CanUnlock = true
	escape, err := guard.CreatePeriod(ctx, in)
	require.NoError(t, err)

	for _, id := range []string{fixed.ID, escape.ID} {
		_, err := guard.Lock(ctx, id, "close", "bursar-1")
		require.NoError(t, err)
	}

	_, err = guard.Unlock(ctx, fixed.ID, "bursar-1", "oops")
	assert.ErrorIs(t, err, generic.ErrNotUnlockable)

	reopened, err := guard.Unlock(ctx, escape.ID, "bursar-1", "oops")
	require.NoError(t, err)
	assert.False(t, reopened.IsLocked)
	assert.Nil(t, reopened.LockedAt)

	_, err = guard.Unlock(ctx, escape.ID, "bursar-1", "again")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition, "unlocking an open period")
}

func TestDeletePeriod_OnlyOpen(t *testing.T) {
	ctx := context.Background()
	guard, _, _ := newTestGuard()
	p, err := guard.CreatePeriod(ctx, term1())
	require.NoError(t, err)
	_, err = guard.Lock(ctx, p.ID, "", "bursar-1")
	require.NoError(t, err)

	err = guard.DeletePeriod(ctx, p.ID, "bursar-1")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	open, err := guard.CreatePeriod(ctx, generic.PeriodInput{
		InstitutionID: inst,
		Name:          "Holiday",
		StartDate:     generic.MustParseDate("2025-05-01"),
		EndDate:       generic.MustParseDate("2025-05-31"),
	})
	require.NoError(t, err)
	require.NoError(t, guard.DeletePeriod(ctx, open.ID, "bursar-1"))

	periods, err := guard.ListPeriods(ctx, inst)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, p.ID, periods[0].ID)

	err = guard.DeletePeriod(ctx, "missing", "bursar-1")
	assert.True(t, generic.IsNotFound(err))
}
