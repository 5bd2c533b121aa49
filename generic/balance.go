/*
balance.go - Balance calculation

PURPOSE:
  Computes a student's balance from ledger rows. This is the central
  calculation that answers "how much does this student owe?"

KEY INSIGHT:
  Balance is never stored. It is recomputed from the rows that are in
  the store right now, so a reversal, a cancellation or a waiver changes
  it the moment the row changes, with nothing to keep in sync.

BALANCE COMPONENTS:
  Invoiced:   Σ total_amount of posted invoices
  Paid:       Σ amount of confirmed payments (allocated or not)
  Penalties:  Σ amount of unwaived applied penalties

  Balance = Invoiced − Paid + Penalties

  A negative balance is credit: money received that no invoice absorbed.

OUTSTANDING:
  Per invoice, Outstanding = total_amount − Σ non-voided allocations.
  Allocation bounds and the penalty engine both read this.

SEE ALSO:
  - billing/ledger.go: Statement, Allocate
  - billing/penalty.go: Uses Outstanding to decide what is overdue
*/
package generic

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE
// =============================================================================

type Balance struct {
	Invoiced  decimal.Decimal `json:"invoiced"`
	Paid      decimal.Decimal `json:"paid"`
	Penalties decimal.Decimal `json:"penalties"`
	Balance   decimal.Decimal `json:"balance"`
}

// ComputeBalance applies the balance formula to the given rows. Rows in a
// non-counting state (draft/cancelled invoices, pending/reversed payments,
// waived penalties) are ignored, so callers can pass unfiltered lists.
func ComputeBalance(invoices []Invoice, payments []Payment, penalties []AppliedPenalty) Balance {
	b := Balance{Invoiced: decimal.Zero, Paid: decimal.Zero, Penalties: decimal.Zero}
	for _, inv := range invoices {
		if inv.Status == InvoicePosted {
			b.Invoiced = b.Invoiced.Add(inv.TotalAmount)
		}
	}
	for _, p := range payments {
		if p.Status == PaymentConfirmed {
			b.Paid = b.Paid.Add(p.Amount)
		}
	}
	for _, ap := range penalties {
		if !ap.Waived {
			b.Penalties = b.Penalties.Add(ap.Amount)
		}
	}
	b.Balance = RoundMoney(b.Invoiced.Sub(b.Paid).Add(b.Penalties))
	return b
}

// StudentBalance loads the student's rows from r and computes the balance.
func StudentBalance(ctx context.Context, r Reader, institutionID, studentID string) (Balance, error) {
	invoices, err := r.ListInvoices(ctx, InvoiceFilter{InstitutionID: institutionID, StudentID: studentID})
	if err != nil {
		return Balance{}, err
	}
	payments, err := r.ListPayments(ctx, institutionID, studentID)
	if err != nil {
		return Balance{}, err
	}
	penalties, err := r.ListPenalties(ctx, PenaltyFilter{InstitutionID: institutionID, StudentID: studentID})
	if err != nil {
		return Balance{}, err
	}
	return ComputeBalance(invoices, payments, penalties), nil
}

// =============================================================================
// OUTSTANDING - Per-invoice remainder
// =============================================================================

// Outstanding returns what is left to allocate against inv. Draft and
// cancelled invoices have nothing outstanding.
func Outstanding(ctx context.Context, r Reader, inv Invoice) (decimal.Decimal, error) {
	if inv.Status != InvoicePosted {
		return decimal.Zero, nil
	}
	allocs, err := r.ListAllocations(ctx, AllocationFilter{InvoiceID: inv.ID})
	if err != nil {
		return decimal.Zero, err
	}
	return inv.TotalAmount.Sub(SumAllocations(allocs)), nil
}

// SumAllocations sums the non-voided allocations.
func SumAllocations(allocs []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		if !a.Voided {
			total = total.Add(a.Amount)
		}
	}
	return total
}
