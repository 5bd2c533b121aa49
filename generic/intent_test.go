package generic_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fees-engine/generic"
	"github.com/warp/fees-engine/generic/store"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to generic.IntentStatus
		want     bool
	}{
		{generic.IntentPending, generic.IntentProcessing, true},
		{generic.IntentPending, generic.IntentCompleted, true},
		{generic.IntentPending, generic.IntentFailed, true},
		{generic.IntentProcessing, generic.IntentCompleted, true},
		{generic.IntentProcessing, generic.IntentFailed, true},
		{generic.IntentProcessing, generic.IntentPending, false},
		{generic.IntentCompleted, generic.IntentFailed, false},
		{generic.IntentCompleted, generic.IntentCompleted, false},
		{generic.IntentFailed, generic.IntentCompleted, false},
		{generic.IntentFailed, generic.IntentProcessing, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, generic.CanTransition(tt.from, tt.to))
		})
	}
}

func TestIntentTransition_StampsTerminalTime(t *testing.T) {
	// GIVEN: A pending intent
	// WHEN: It moves through processing to completed
	// THEN: TerminalAt is set only on the terminal step, and nothing leaves it

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	intent := generic.PaymentIntent{ID: "pi-1", Status: generic.IntentPending}

	require.NoError(t, intent.Transition(generic.IntentProcessing, at))
	assert.Nil(t, intent.TerminalAt)

	done := at.Add(time.Minute)
	require.NoError(t, intent.Transition(generic.IntentCompleted, done))
	require.NotNil(t, intent.TerminalAt)
	assert.Equal(t, done, *intent.TerminalAt)

	err := intent.Transition(generic.IntentFailed, done.Add(time.Minute))
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	assert.Equal(t, generic.IntentCompleted, intent.Status)
}

func TestStore_TerminalIntentIsNeverOverwritten(t *testing.T) {
	// GIVEN: A completed intent in the store
	// WHEN: A stale writer saves it back as failed
	// THEN: The store refuses with ErrInvalidTransition

	ctx := context.Background()
	mem := store.NewMemory()
	intent := generic.PaymentIntent{
		ID:                "pi-1",
		InstitutionID:     inst,
		ProviderReference: "SBX-1",
		Status:            generic.IntentCompleted,
	}
	require.NoError(t, mem.WithTx(ctx, func(tx generic.Tx) error { return tx.SaveIntent(ctx, intent) }))

	intent.Status = generic.IntentFailed
	err := mem.WithTx(ctx, func(tx generic.Tx) error { return tx.SaveIntent(ctx, intent) })
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	stored, err := mem.GetIntentByReference(ctx, "SBX-1")
	require.NoError(t, err)
	assert.Equal(t, generic.IntentCompleted, stored.Status)
}
