/*
Package billing implements the fees ledger: invoices, payments,
allocations, late-payment penalties and penalty waivers.

PURPOSE:
  Wraps the generic store with the receivables rules. Every mutation
  runs as one store transaction under the student's writer lock, checks
  the Period Guard with its effective date, and either commits entirely
  or leaves nothing behind.

INVARIANTS:
  1. Balance (see generic/balance.go):
       balance = Σ posted invoices − Σ confirmed payments + Σ unwaived penalties
  2. Allocation bounds, checked at allocation time:
       Σ allocations(invoice) ≤ invoice.total_amount
       Σ allocations(payment) ≤ payment.amount
  3. transaction_reference is unique across payments.
  4. No mutation whose effective date falls in a locked period:
       invoice → due_date, payment/allocation → paid_on, penalty → applied_date

STATE MACHINES:
  Invoice:  draft ──post──▶ posted ──cancel──▶ cancelled
              └─────────cancel──────────────────▲
  Payment:  pending ──confirm──▶ confirmed ──reverse──▶ reversed
            (or recorded directly as confirmed)

  Reversal voids every allocation of the payment in the same transaction:
  allocations are never reversed on their own.

CONCURRENCY:
  Writers are serialized per (institution, student). Invoices, payments
  and allocations never cross students, so this also serializes every
  posting against the same invoice while different students proceed in
  parallel. Reads (Balance, Statement) take no writer lock.

EXAMPLE:
  ledger := billing.NewLedger(store, guard, emitter, logger)

  inv, _ := ledger.CreateInvoice(ctx, billing.InvoiceInput{
      InstitutionID: "school-1", StudentID: "stu-1",
      Amount: decimal.NewFromInt(1000), DueDate: generic.MustParseDate("2024-02-01"),
  })
  inv, err := ledger.PostInvoice(ctx, inv.ID, "bursar-1")

  res, err := ledger.RecordPayment(ctx, billing.PaymentInput{
      InstitutionID: "school-1", StudentID: "stu-1",
      Amount: decimal.NewFromInt(600), Method: generic.MethodCash,
      Reference: "RCPT-0001", Confirmed: true,
  })
  // res.Allocations: 600 against inv, oldest-due-first

SEE ALSO:
  - penalty.go: Penalty engine
  - waiver.go: Penalty waiver workflow
  - mobilemoney/engine.go: Posts provider-confirmed payments via PostPayment
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fees-engine/generic"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store   generic.Store
	guard   *generic.PeriodGuard
	emitter *generic.Emitter
	locks   generic.KeyedMutex
	now     func() time.Time
	log     *zap.Logger
}

func NewLedger(store generic.Store, guard *generic.PeriodGuard, emitter *generic.Emitter, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	if guard == nil {
		guard = generic.NewPeriodGuard(store, emitter)
	}
	return &Ledger{
		store:   store,
		guard:   guard,
		emitter: emitter,
		now:     time.Now,
		log:     log.Named("ledger"),
	}
}

// WithClock overrides the clock used for timestamps and default dates.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Store exposes the underlying store for read paths.
func (l *Ledger) Store() generic.Store { return l.store }

func (l *Ledger) today() generic.Date { return generic.DateOf(l.now()) }

// WithStudent runs fn in one store transaction while holding the
// student's writer lock. Other packages use it to combine their own
// writes with ledger postings atomically.
func (l *Ledger) WithStudent(ctx context.Context, institutionID, studentID string, fn func(tx generic.Tx) error) error {
	unlock := l.locks.Lock("student:" + institutionID + "/" + studentID)
	defer unlock()
	return l.store.WithTx(ctx, fn)
}

// =============================================================================
// INVOICES
// =============================================================================

type InvoiceInput struct {
	InstitutionID string
	StudentID     string
	Description   string
	Amount        decimal.Decimal
	DueDate       generic.Date
}

// CreateInvoice records a draft invoice. Drafts don't count toward balance.
func (l *Ledger) CreateInvoice(ctx context.Context, in InvoiceInput) (*generic.Invoice, error) {
	if in.InstitutionID == "" || in.StudentID == "" {
		return nil, fmt.Errorf("%w: institution and student are required", generic.ErrInvalidInput)
	}
	if in.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: due date is required", generic.ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return nil, generic.ErrInvalidAmount
	}

	inv := generic.Invoice{
		ID:            uuid.NewString(),
		InstitutionID: in.InstitutionID,
		StudentID:     in.StudentID,
		Description:   in.Description,
		TotalAmount:   generic.RoundMoney(in.Amount),
		Status:        generic.InvoiceDraft,
		DueDate:       in.DueDate,
		CreatedAt:     l.now().UTC(),
	}

	err := l.WithStudent(ctx, in.InstitutionID, in.StudentID, func(tx generic.Tx) error {
		if err := l.guard.Check(ctx, tx, in.InstitutionID, in.DueDate); err != nil {
			return err
		}
		return tx.SaveInvoice(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// PostInvoice moves a draft invoice to posted, making it count toward
// balance. The due date must not fall in a locked period.
func (l *Ledger) PostInvoice(ctx context.Context, invoiceID, actorID string) (*generic.Invoice, error) {
	inv, err := l.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	err = l.WithStudent(ctx, inv.InstitutionID, inv.StudentID, func(tx generic.Tx) error {
		cur, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if cur.Status != generic.InvoiceDraft {
			return &generic.TransitionError{Entity: "invoice", ID: cur.ID, From: string(cur.Status), To: string(generic.InvoicePosted)}
		}
		if !cur.TotalAmount.IsPositive() {
			return generic.ErrInvalidAmount
		}
		if err := l.guard.Check(ctx, tx, cur.InstitutionID, cur.DueDate); err != nil {
			return err
		}
		at := l.now().UTC()
		cur.Status = generic.InvoicePosted
		cur.PostedAt = &at
		inv = cur
		return tx.SaveInvoice(ctx, *cur)
	})
	if err != nil {
		return nil, err
	}

	l.emitter.Transition(ctx, "invoice", inv.ID, inv.InstitutionID, actorID,
		string(generic.InvoiceDraft), string(generic.InvoicePosted), "")
	return inv, nil
}

// CancelInvoice cancels a draft or posted invoice. It fails while any
// active allocation exists against the invoice.
func (l *Ledger) CancelInvoice(ctx context.Context, invoiceID, actorID, reason string) (*generic.Invoice, error) {
	inv, err := l.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	var from generic.InvoiceStatus
	err = l.WithStudent(ctx, inv.InstitutionID, inv.StudentID, func(tx generic.Tx) error {
		cur, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if cur.Status == generic.InvoiceCancelled {
			return &generic.TransitionError{Entity: "invoice", ID: cur.ID, From: string(cur.Status), To: string(generic.InvoiceCancelled)}
		}
		allocs, err := tx.ListAllocations(ctx, generic.AllocationFilter{InvoiceID: cur.ID})
		if err != nil {
			return err
		}
		if len(allocs) > 0 {
			return fmt.Errorf("%w: invoice %s has %d active allocation(s)", generic.ErrInvalidTransition, cur.ID, len(allocs))
		}
		if err := l.guard.Check(ctx, tx, cur.InstitutionID, cur.DueDate); err != nil {
			return err
		}
		at := l.now().UTC()
		from = cur.Status
		cur.Status = generic.InvoiceCancelled
		cur.CancelledAt = &at
		inv = cur
		return tx.SaveInvoice(ctx, *cur)
	})
	if err != nil {
		return nil, err
	}

	l.emitter.Transition(ctx, "invoice", inv.ID, inv.InstitutionID, actorID,
		string(from), string(generic.InvoiceCancelled), reason)
	return inv, nil
}

// Outstanding returns what is left to allocate against an invoice.
func (l *Ledger) Outstanding(ctx context.Context, invoiceID string) (decimal.Decimal, error) {
	inv, err := l.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	return generic.Outstanding(ctx, l.store, *inv)
}

// =============================================================================
// PAYMENTS
// =============================================================================

// AllocationInput directs part of a payment to one invoice.
type AllocationInput struct {
	InvoiceID string
	Amount    decimal.Decimal
}

type PaymentInput struct {
	InstitutionID string
	StudentID     string
	Amount        decimal.Decimal
	Method        generic.PaymentMethod
	Reference     string
	// PaidOn defaults to today.
	PaidOn generic.Date
	// Confirmed records the payment as confirmed and allocates it.
	// Otherwise it is recorded pending and ConfirmPayment allocates later.
	Confirmed bool
	// Allocations overrides the default oldest-due-first allocation.
	Allocations []AllocationInput
	ActorID     string
}

type PaymentResult struct {
	Payment     generic.Payment      `json:"payment"`
	Allocations []generic.Allocation `json:"allocations"`
	// Unallocated stays on the student's account as credit.
	Unallocated decimal.Decimal `json:"unallocated"`
}

// RecordPayment records money received. A reused transaction reference
// fails with *DuplicateReferenceError.
func (l *Ledger) RecordPayment(ctx context.Context, in PaymentInput) (*PaymentResult, error) {
	var res *PaymentResult
	err := l.WithStudent(ctx, in.InstitutionID, in.StudentID, func(tx generic.Tx) error {
		var err error
		res, err = l.PostPayment(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	to := string(res.Payment.Status)
	l.emitter.Transition(ctx, "payment", res.Payment.ID, res.Payment.InstitutionID, in.ActorID, "", to, res.Payment.TransactionReference)
	l.log.Info("payment recorded",
		zap.String("payment_id", res.Payment.ID),
		zap.String("reference", res.Payment.TransactionReference),
		zap.String("status", to),
		zap.Int("allocations", len(res.Allocations)))
	return res, nil
}

// PostPayment is the body of RecordPayment against an open transaction.
// Callers must hold the student's lock (see WithStudent).
func (l *Ledger) PostPayment(ctx context.Context, tx generic.Tx, in PaymentInput) (*PaymentResult, error) {
	if in.InstitutionID == "" || in.StudentID == "" || in.Reference == "" {
		return nil, fmt.Errorf("%w: institution, student and reference are required", generic.ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return nil, generic.ErrInvalidAmount
	}
	if !in.Confirmed && len(in.Allocations) > 0 {
		return nil, fmt.Errorf("%w: allocations require a confirmed payment", generic.ErrInvalidInput)
	}
	if in.Method == "" {
		in.Method = generic.MethodCash
	}
	if in.PaidOn.IsZero() {
		in.PaidOn = l.today()
	}

	existing, err := tx.GetPaymentByReference(ctx, in.Reference)
	if err != nil && !generic.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return nil, &generic.DuplicateReferenceError{Reference: in.Reference, ExistingID: existing.ID}
	}
	if err := l.guard.Check(ctx, tx, in.InstitutionID, in.PaidOn); err != nil {
		return nil, err
	}

	now := l.now().UTC()
	p := generic.Payment{
		ID:                   uuid.NewString(),
		InstitutionID:        in.InstitutionID,
		StudentID:            in.StudentID,
		Amount:               generic.RoundMoney(in.Amount),
		Method:               in.Method,
		Status:               generic.PaymentPending,
		TransactionReference: in.Reference,
		PaidOn:               in.PaidOn,
		CreatedAt:            now,
	}
	if in.Confirmed {
		p.Status = generic.PaymentConfirmed
		p.ConfirmedAt = &now
	}
	if err := tx.SavePayment(ctx, p); err != nil {
		return nil, err
	}

	res := &PaymentResult{Payment: p, Unallocated: p.Amount}
	if !in.Confirmed {
		return res, nil
	}

	allocs, err := l.allocateConfirmed(ctx, tx, p, in.Allocations)
	if err != nil {
		return nil, err
	}
	res.Allocations = allocs
	res.Unallocated = p.Amount.Sub(generic.SumAllocations(allocs))
	return res, nil
}

// ConfirmPayment moves a pending payment to confirmed and allocates it,
// explicitly or oldest-due-first.
func (l *Ledger) ConfirmPayment(ctx context.Context, paymentID string, allocations []AllocationInput, actorID string) (*PaymentResult, error) {
	p, err := l.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	var res *PaymentResult
	err = l.WithStudent(ctx, p.InstitutionID, p.StudentID, func(tx generic.Tx) error {
		cur, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if cur.Status != generic.PaymentPending {
			return &generic.TransitionError{Entity: "payment", ID: cur.ID, From: string(cur.Status), To: string(generic.PaymentConfirmed)}
		}
		if err := l.guard.Check(ctx, tx, cur.InstitutionID, cur.PaidOn); err != nil {
			return err
		}
		at := l.now().UTC()
		cur.Status = generic.PaymentConfirmed
		cur.ConfirmedAt = &at
		if err := tx.SavePayment(ctx, *cur); err != nil {
			return err
		}
		allocs, err := l.allocateConfirmed(ctx, tx, *cur, allocations)
		if err != nil {
			return err
		}
		res = &PaymentResult{
			Payment:     *cur,
			Allocations: allocs,
			Unallocated: cur.Amount.Sub(generic.SumAllocations(allocs)),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.emitter.Transition(ctx, "payment", res.Payment.ID, res.Payment.InstitutionID, actorID,
		string(generic.PaymentPending), string(generic.PaymentConfirmed), "")
	return res, nil
}

// ReversePayment reverses a confirmed payment and voids all of its
// allocations in the same transaction.
func (l *Ledger) ReversePayment(ctx context.Context, paymentID, reason, actorID string) (*generic.Payment, error) {
	p, err := l.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	voided := 0
	err = l.WithStudent(ctx, p.InstitutionID, p.StudentID, func(tx generic.Tx) error {
		cur, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if cur.Status != generic.PaymentConfirmed {
			return &generic.TransitionError{Entity: "payment", ID: cur.ID, From: string(cur.Status), To: string(generic.PaymentReversed)}
		}
		if err := l.guard.Check(ctx, tx, cur.InstitutionID, cur.PaidOn); err != nil {
			return err
		}

		at := l.now().UTC()
		allocs, err := tx.ListAllocations(ctx, generic.AllocationFilter{PaymentID: cur.ID})
		if err != nil {
			return err
		}
		for _, a := range allocs {
			a.Voided = true
			a.VoidedAt = &at
			if err := tx.SaveAllocation(ctx, a); err != nil {
				return err
			}
		}
		voided = len(allocs)

		cur.Status = generic.PaymentReversed
		cur.ReversedAt = &at
		cur.ReversedBy = actorID
		cur.ReversalReason = reason
		p = cur
		return tx.SavePayment(ctx, *cur)
	})
	if err != nil {
		return nil, err
	}

	l.emitter.Transition(ctx, "payment", p.ID, p.InstitutionID, actorID,
		string(generic.PaymentConfirmed), string(generic.PaymentReversed), reason)
	l.log.Info("payment reversed",
		zap.String("payment_id", p.ID),
		zap.Int("voided_allocations", voided))
	return p, nil
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Allocate assigns part of a confirmed payment to a posted invoice of the
// same student.
func (l *Ledger) Allocate(ctx context.Context, paymentID, invoiceID string, amount decimal.Decimal, actorID string) (*generic.Allocation, error) {
	p, err := l.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	var alloc *generic.Allocation
	err = l.WithStudent(ctx, p.InstitutionID, p.StudentID, func(tx generic.Tx) error {
		cur, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if cur.Status != generic.PaymentConfirmed {
			return fmt.Errorf("%w: payment %s is %s", generic.ErrInvalidTransition, cur.ID, cur.Status)
		}
		alloc, err = l.allocate(ctx, tx, *cur, invoiceID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.emitter.Audit(ctx, generic.AuditRecord{
		Action:        "allocation.created",
		EntityType:    "allocation",
		EntityID:      alloc.ID,
		InstitutionID: p.InstitutionID,
		ActorID:       actorID,
		Metadata: map[string]any{
			"payment_id": alloc.PaymentID,
			"invoice_id": alloc.InvoiceID,
			"amount":     alloc.Amount.StringFixed(generic.MoneyPlaces),
		},
	})
	return alloc, nil
}

// allocateConfirmed applies explicit allocations, or oldest-due-first
// when none are given. Whatever is left stays unallocated.
func (l *Ledger) allocateConfirmed(ctx context.Context, tx generic.Tx, p generic.Payment, explicit []AllocationInput) ([]generic.Allocation, error) {
	if len(explicit) > 0 {
		out := make([]generic.Allocation, 0, len(explicit))
		for _, in := range explicit {
			a, err := l.allocate(ctx, tx, p, in.InvoiceID, in.Amount)
			if err != nil {
				return nil, err
			}
			out = append(out, *a)
		}
		return out, nil
	}
	return l.allocateOldestFirst(ctx, tx, p)
}

func (l *Ledger) allocateOldestFirst(ctx context.Context, tx generic.Tx, p generic.Payment) ([]generic.Allocation, error) {
	invoices, err := tx.ListInvoices(ctx, generic.InvoiceFilter{
		InstitutionID: p.InstitutionID,
		StudentID:     p.StudentID,
		Status:        generic.InvoicePosted,
	})
	if err != nil {
		return nil, err
	}

	existing, err := tx.ListAllocations(ctx, generic.AllocationFilter{PaymentID: p.ID})
	if err != nil {
		return nil, err
	}
	remaining := p.Amount.Sub(generic.SumAllocations(existing))

	var out []generic.Allocation
	for _, inv := range invoices {
		if !remaining.IsPositive() {
			break
		}
		outstanding, err := generic.Outstanding(ctx, tx, inv)
		if err != nil {
			return nil, err
		}
		if !outstanding.IsPositive() {
			continue
		}
		a, err := l.allocate(ctx, tx, p, inv.ID, generic.MinDecimal(remaining, outstanding))
		if err != nil {
			return nil, err
		}
		remaining = remaining.Sub(a.Amount)
		out = append(out, *a)
	}
	return out, nil
}

// allocate checks both remainders and writes one allocation.
func (l *Ledger) allocate(ctx context.Context, tx generic.Tx, p generic.Payment, invoiceID string, amount decimal.Decimal) (*generic.Allocation, error) {
	amount = generic.RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, generic.ErrInvalidAmount
	}

	inv, err := tx.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.InstitutionID != p.InstitutionID || inv.StudentID != p.StudentID {
		return nil, fmt.Errorf("%w: invoice %s belongs to another student", generic.ErrInvalidInput, inv.ID)
	}
	if inv.Status != generic.InvoicePosted {
		return nil, fmt.Errorf("%w: invoice %s is %s", generic.ErrInvalidTransition, inv.ID, inv.Status)
	}
	if err := l.guard.Check(ctx, tx, p.InstitutionID, p.PaidOn); err != nil {
		return nil, err
	}

	outstanding, err := generic.Outstanding(ctx, tx, *inv)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(outstanding) {
		return nil, &generic.OverAllocationError{
			PaymentID: p.ID, InvoiceID: inv.ID,
			Requested: amount, Available: outstanding, Limit: "invoice",
		}
	}

	used, err := tx.ListAllocations(ctx, generic.AllocationFilter{PaymentID: p.ID})
	if err != nil {
		return nil, err
	}
	available := p.Amount.Sub(generic.SumAllocations(used))
	if amount.GreaterThan(available) {
		return nil, &generic.OverAllocationError{
			PaymentID: p.ID, InvoiceID: inv.ID,
			Requested: amount, Available: available, Limit: "payment",
		}
	}

	a := generic.Allocation{
		ID:        uuid.NewString(),
		PaymentID: p.ID,
		InvoiceID: inv.ID,
		Amount:    amount,
		CreatedAt: l.now().UTC(),
	}
	if err := tx.SaveAllocation(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// READS - Balance and statement
// =============================================================================

// Balance returns the student's balance breakdown.
func (l *Ledger) Balance(ctx context.Context, institutionID, studentID string) (generic.Balance, error) {
	return generic.StudentBalance(ctx, l.store, institutionID, studentID)
}

type InvoiceLine struct {
	Invoice     generic.Invoice `json:"invoice"`
	Allocated   decimal.Decimal `json:"allocated"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

type PaymentLine struct {
	Payment     generic.Payment `json:"payment"`
	Allocated   decimal.Decimal `json:"allocated"`
	Unallocated decimal.Decimal `json:"unallocated"`
}

// Statement is a student's account at one point in time.
type Statement struct {
	InstitutionID string                   `json:"institution_id"`
	StudentID     string                   `json:"student_id"`
	Invoices      []InvoiceLine            `json:"invoices"`
	Payments      []PaymentLine            `json:"payments"`
	Penalties     []generic.AppliedPenalty `json:"penalties"`
	Balance       generic.Balance          `json:"balance"`
}

// Statement assembles the student's invoices, payments and penalties with
// the balance computed from the same rows.
func (l *Ledger) Statement(ctx context.Context, institutionID, studentID string) (*Statement, error) {
	invoices, err := l.store.ListInvoices(ctx, generic.InvoiceFilter{InstitutionID: institutionID, StudentID: studentID})
	if err != nil {
		return nil, err
	}
	payments, err := l.store.ListPayments(ctx, institutionID, studentID)
	if err != nil {
		return nil, err
	}
	penalties, err := l.store.ListPenalties(ctx, generic.PenaltyFilter{InstitutionID: institutionID, StudentID: studentID})
	if err != nil {
		return nil, err
	}

	st := &Statement{
		InstitutionID: institutionID,
		StudentID:     studentID,
		Penalties:     penalties,
		Balance:       generic.ComputeBalance(invoices, payments, penalties),
	}
	for _, inv := range invoices {
		allocs, err := l.store.ListAllocations(ctx, generic.AllocationFilter{InvoiceID: inv.ID})
		if err != nil {
			return nil, err
		}
		allocated := generic.SumAllocations(allocs)
		outstanding := decimal.Zero
		if inv.Status == generic.InvoicePosted {
			outstanding = inv.TotalAmount.Sub(allocated)
		}
		st.Invoices = append(st.Invoices, InvoiceLine{Invoice: inv, Allocated: allocated, Outstanding: outstanding})
	}
	for _, p := range payments {
		allocs, err := l.store.ListAllocations(ctx, generic.AllocationFilter{PaymentID: p.ID})
		if err != nil {
			return nil, err
		}
		allocated := generic.SumAllocations(allocs)
		unallocated := decimal.Zero
		if p.Status == generic.PaymentConfirmed {
			unallocated = p.Amount.Sub(allocated)
		}
		st.Payments = append(st.Payments, PaymentLine{Payment: p, Allocated: allocated, Unallocated: unallocated})
	}
	return st, nil
}
