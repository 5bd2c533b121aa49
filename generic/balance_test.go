package generic_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/fees-engine/generic"
)

func money(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

func TestComputeBalance_IgnoresNonCountingRows(t *testing.T) {
	// GIVEN: Rows in every state
	// WHEN: The balance is computed
	// THEN: Only posted invoices, confirmed payments and unwaived penalties count

	invoices := []generic.Invoice{
		{ID: "i1", TotalAmount: money("1000"), Status: generic.InvoicePosted},
		{ID: "i2", TotalAmount: money("500"), Status: generic.InvoiceDraft},
		{ID: "i3", TotalAmount: money("250"), Status: generic.InvoiceCancelled},
	}
	payments := []generic.Payment{
		{ID: "p1", Amount: money("300"), Status: generic.PaymentConfirmed},
		{ID: "p2", Amount: money("400"), Status: generic.PaymentPending},
		{ID: "p3", Amount: money("900"), Status: generic.PaymentReversed},
	}
	penalties := []generic.AppliedPenalty{
		{ID: "a1", Amount: money("10.50")},
		{ID: "a2", Amount: money("99"), Waived: true},
	}

	b := generic.ComputeBalance(invoices, payments, penalties)
	assert.Equal(t, "1000.00", b.Invoiced.StringFixed(2))
	assert.Equal(t, "300.00", b.Paid.StringFixed(2))
	assert.Equal(t, "10.50", b.Penalties.StringFixed(2))
	assert.Equal(t, "710.50", b.Balance.StringFixed(2))
}

func TestComputeBalance_OverpaymentIsNegative(t *testing.T) {
	b := generic.ComputeBalance(
		[]generic.Invoice{{TotalAmount: money("100"), Status: generic.InvoicePosted}},
		[]generic.Payment{{Amount: money("150"), Status: generic.PaymentConfirmed}},
		nil,
	)
	assert.Equal(t, "-50.00", b.Balance.StringFixed(2))
}

func TestSumAllocations_SkipsVoided(t *testing.T) {
	total := generic.SumAllocations([]generic.Allocation{
		{Amount: money("40")},
		{Amount: money("60"), Voided: true},
		{Amount: money("0.01")},
	})
	assert.Equal(t, "40.01", total.StringFixed(2))
}

// TestComputeBalance_FormulaHolds checks invoiced - paid + penalties over
// random mixes of rows, summing the counted rows independently.
func TestComputeBalance_FormulaHolds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	invoiceStates := []generic.InvoiceStatus{generic.InvoiceDraft, generic.InvoicePosted, generic.InvoiceCancelled}
	paymentStates := []generic.PaymentStatus{generic.PaymentPending, generic.PaymentConfirmed, generic.PaymentReversed}
	cents := func() decimal.Decimal { return decimal.New(rng.Int63n(1_000_000)+1, -2) }

	for round := 0; round < 200; round++ {
		var (
			invoices  []generic.Invoice
			payments  []generic.Payment
			penalties []generic.AppliedPenalty
			want      = decimal.Zero
		)
		for i := rng.Intn(6); i > 0; i-- {
			inv := generic.Invoice{TotalAmount: cents(), Status: invoiceStates[rng.Intn(3)]}
			if inv.Status == generic.InvoicePosted {
				want = want.Add(inv.TotalAmount)
			}
			invoices = append(invoices, inv)
		}
		for i := rng.Intn(6); i > 0; i-- {
			p := generic.Payment{Amount: cents(), Status: paymentStates[rng.Intn(3)]}
			if p.Status == generic.PaymentConfirmed {
				want = want.Sub(p.Amount)
			}
			payments = append(payments, p)
		}
		for i := rng.Intn(6); i > 0; i-- {
			ap := generic.AppliedPenalty{Amount: cents(), Waived: rng.Intn(2) == 0}
			if !ap.Waived {
				want = want.Add(ap.Amount)
			}
			penalties = append(penalties, ap)
		}

		b := generic.ComputeBalance(invoices, payments, penalties)
		assert.True(t, want.Equal(b.Balance), "round %d: want %s, got %s", round, want, b.Balance)
		assert.True(t, b.Invoiced.Sub(b.Paid).Add(b.Penalties).Equal(b.Balance), "round %d", round)
	}
}
