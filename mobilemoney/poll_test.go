package mobilemoney_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fees-engine/generic"
	"github.com/warp/fees-engine/mobilemoney"
)

// scriptedReader returns statuses from a script, repeating the last one.
type scriptedReader struct {
	mu     sync.Mutex
	script []generic.IntentStatus
	calls  int
	err    error
}

func (r *scriptedReader) GetStatus(context.Context, string) (mobilemoney.StatusView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return mobilemoney.StatusView{}, r.err
	}
	i := r.calls
	if i >= len(r.script) {
		i = len(r.script) - 1
	}
	r.calls++
	return mobilemoney.StatusView{Status: r.script[i]}, nil
}

func TestPoll_StopsAtTerminal(t *testing.T) {
	r := &scriptedReader{script: []generic.IntentStatus{
		generic.IntentPending, generic.IntentProcessing, generic.IntentCompleted,
	}}

	view, err := mobilemoney.Poll(context.Background(), r, "pi-1", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, generic.IntentCompleted, view.Status)
	assert.Equal(t, 3, r.calls)
}

func TestPoll_CancellationReturnsLastSeen(t *testing.T) {
	// GIVEN: An intent that stays pending
	// WHEN: The poll's context times out
	// THEN: Poll returns the last status with the context error

	r := &scriptedReader{script: []generic.IntentStatus{generic.IntentPending}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	view, err := mobilemoney.Poll(ctx, r, "pi-1", 2*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, generic.IntentPending, view.Status)
}

func TestPoll_ReaderError(t *testing.T) {
	boom := errors.New("store down")
	r := &scriptedReader{err: boom}

	_, err := mobilemoney.Poll(context.Background(), r, "pi-1", time.Millisecond)
	assert.ErrorIs(t, err, boom)
}

func TestPoll_AbandonedPollLeavesIntentUntouched(t *testing.T) {
	// GIVEN: A client that gave up polling a pending intent
	// WHEN: The success callback arrives afterwards
	// THEN: A new poll observes completed

	h := newHarness(t)
	h.invoice(t, "100")
	intent := h.initiate(t, "100")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	view, err := mobilemoney.Poll(ctx, h.engine, intent.ID, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, generic.IntentPending, view.Status)

	_, err = h.engine.HandleCallback(context.Background(), success(intent.ProviderReference))
	require.NoError(t, err)

	view, err = mobilemoney.Poll(context.Background(), h.engine, intent.ID, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, generic.IntentCompleted, view.Status)
	assert.Equal(t, "QK71ABC", view.ReceiptCode)
}

func TestPoll_RacesCallbackWithoutDoublePosting(t *testing.T) {
	// GIVEN: A pending intent
	// WHEN: A short poll and the success callback run at the same time
	// THEN: The intent ends completed with one confirmed payment and one
	//       allocation, whichever side wins

	for i := 0; i < 50; i++ {
		ctx := context.Background()
		h := newHarness(t)
		inv := h.invoice(t, "100")
		intent := h.initiate(t, "100")

		var (
			wg      sync.WaitGroup
			pollErr error
			cbErr   error
			seen    mobilemoney.StatusView
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
			defer cancel()
			seen, pollErr = mobilemoney.Poll(pctx, h.engine, intent.ID, time.Millisecond)
		}()
		go func() {
			defer wg.Done()
			_, cbErr = h.engine.HandleCallback(ctx, success(intent.ProviderReference))
		}()
		wg.Wait()

		require.NoError(t, cbErr)
		if pollErr != nil {
			require.ErrorIs(t, pollErr, context.DeadlineExceeded)
		}
		assert.Contains(t, []generic.IntentStatus{generic.IntentPending, generic.IntentCompleted}, seen.Status)

		view, err := h.engine.GetStatus(ctx, intent.ID)
		require.NoError(t, err)
		require.Equal(t, generic.IntentCompleted, view.Status, "run %d", i)

		payments, err := h.mem.ListPayments(ctx, "inst-1", "stu-1")
		require.NoError(t, err)
		require.Len(t, payments, 1, "run %d", i)
		assert.Equal(t, generic.PaymentConfirmed, payments[0].Status)

		allocs, err := h.mem.ListAllocations(ctx, generic.AllocationFilter{PaymentID: payments[0].ID})
		require.NoError(t, err)
		require.Len(t, allocs, 1, "run %d", i)
		assert.Equal(t, inv.ID, allocs[0].InvoiceID)
	}
}
