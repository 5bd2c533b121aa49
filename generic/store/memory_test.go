package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fees-engine/generic"
	"github.com/warp/fees-engine/generic/store"
)

func TestMemory_RollbackDiscardsEveryWrite(t *testing.T) {
	// GIVEN: A transaction writing an invoice and a payment, then failing
	// WHEN: The store is read afterwards
	// THEN: Neither row exists

	ctx := context.Background()
	mem := store.NewMemory()
	boom := errors.New("boom")

	err := mem.WithTx(ctx, func(tx generic.Tx) error {
		if err := tx.SaveInvoice(ctx, generic.Invoice{ID: "inv-1", InstitutionID: "inst-1", StudentID: "stu-1"}); err != nil {
			return err
		}
		if err := tx.SavePayment(ctx, generic.Payment{ID: "pay-1", TransactionReference: "R1"}); err != nil {
			return err
		}
		_, err := tx.GetInvoice(ctx, "inv-1")
		require.NoError(t, err, "writes are visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = mem.GetInvoice(ctx, "inv-1")
	assert.True(t, generic.IsNotFound(err))
	_, err = mem.GetPaymentByReference(ctx, "R1")
	assert.True(t, generic.IsNotFound(err))
}

func TestMemory_ReturnedRowsAreCopies(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.WithTx(ctx, func(tx generic.Tx) error {
		return tx.SaveRequest(ctx, generic.ApprovalRequest{
			ID: "req-1", Kind: generic.KindGradeChange, TargetID: "res-1",
			Status: generic.RequestPending, Payload: map[string]string{"score": "70"},
		})
	}))

	r, err := mem.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	r.Status = generic.RequestApproved
	r.Payload["score"] = "99"

	again, err := mem.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, generic.RequestPending, again.Status)
	assert.Equal(t, "70", again.Payload["score"])
}

func TestMemory_InvoicesOrderedByDueDate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, mem.WithTx(ctx, func(tx generic.Tx) error {
		for _, inv := range []generic.Invoice{
			{ID: "c", StudentID: "stu-1", DueDate: generic.MustParseDate("2025-03-01"), CreatedAt: created},
			{ID: "a", StudentID: "stu-1", DueDate: generic.MustParseDate("2025-01-01"), CreatedAt: created},
			{ID: "b", StudentID: "stu-1", DueDate: generic.MustParseDate("2025-03-01"), CreatedAt: created.Add(-time.Hour)},
		} {
			if err := tx.SaveInvoice(ctx, inv); err != nil {
				return err
			}
		}
		return nil
	}))

	list, err := mem.ListInvoices(ctx, generic.InvoiceFilter{StudentID: "stu-1"})
	require.NoError(t, err)
	var ids []string
	for _, inv := range list {
		ids = append(ids, inv.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestMemory_PendingRequestLookup(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	found, err := mem.FindPendingRequest(ctx, generic.KindPenaltyWaiver, "pen-1")
	require.NoError(t, err)
	assert.Nil(t, found)

	require.NoError(t, mem.WithTx(ctx, func(tx generic.Tx) error {
		return tx.SaveRequest(ctx, generic.ApprovalRequest{
			ID: "req-1", Kind: generic.KindPenaltyWaiver, TargetID: "pen-1", Status: generic.RequestPending,
		})
	}))
	found, err = mem.FindPendingRequest(ctx, generic.KindPenaltyWaiver, "pen-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "req-1", found.ID)

	found, err = mem.FindPendingRequest(ctx, generic.KindGradeChange, "pen-1")
	require.NoError(t, err)
	assert.Nil(t, found)
}
