/*
Package generic provides the core of the institution fees ledger.

PURPOSE:
  This package holds the ledger model (periods, invoices, payments,
  allocations, penalties, approval requests, payment intents), the
  persistence contract, and the two domain-agnostic engines that every
  other package builds on: the Period Guard and the approval Workflow.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal, always rounded to 2 places at the edges
  - FinancialPeriod: an accounting period that can be locked
  - Invoice / Payment / Allocation: the receivables ledger
  - AppliedPenalty: a late-payment charge, waivable but never deleted
  - PaymentIntent: reconciliation anchor for mobile-money confirmations

BALANCE INVARIANT:
  For any student:

    balance = Σ posted invoices − Σ confirmed payments + Σ unwaived penalties

  Balance is never stored. It is always derived from rows (see balance.go),
  so it holds at every observation point, not just eventually.

SEE ALSO:
  - period.go: Period Guard (is date D locked?)
  - workflow.go: Generic two-party approval state machine
  - store.go: Persistence interfaces
  - billing/ledger.go: Ledger operations over these types
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places money is rounded to.
const MoneyPlaces = 2

// RoundMoney rounds an amount to MoneyPlaces.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// FINANCIAL PERIOD
// =============================================================================

type PeriodType string

const (
	PeriodMonth   PeriodType = "month"
	PeriodTerm    PeriodType = "term"
	PeriodQuarter PeriodType = "quarter"
	PeriodYear    PeriodType = "year"
	PeriodCustom  PeriodType = "custom"
)

func (t PeriodType) IsValid() bool {
	switch t {
	case PeriodMonth, PeriodTerm, PeriodQuarter, PeriodYear, PeriodCustom:
		return true
	}
	return false
}

// FinancialPeriod is an accounting period of one institution.
// Periods of the same institution never overlap in [StartDate, EndDate].
type FinancialPeriod struct {
	ID            string
	InstitutionID string
	Name          string
	Type          PeriodType
	StartDate     Date
	EndDate       Date

	IsLocked   bool
	LockedAt   *time.Time
	LockedBy   string
	LockReason string

	// CanUnlock is the operator escape hatch for a wrongly-locked period.
	CanUnlock bool

	CreatedAt time.Time
}

// Contains returns true if d is within [StartDate, EndDate].
func (p FinancialPeriod) Contains(d Date) bool {
	return d.AfterOrEqual(p.StartDate) && d.BeforeOrEqual(p.EndDate)
}

// Overlaps returns true if the two closed ranges share at least one day.
func (p FinancialPeriod) Overlaps(o FinancialPeriod) bool {
	return p.StartDate.BeforeOrEqual(o.EndDate) && o.StartDate.BeforeOrEqual(p.EndDate)
}

func (p FinancialPeriod) Status() string {
	if p.IsLocked {
		return "locked"
	}
	return "open"
}

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoicePosted    InvoiceStatus = "posted"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// Invoice is a fee charged to a student. Only posted invoices count
// toward balance; once posted the only allowed change is cancellation.
type Invoice struct {
	ID            string
	InstitutionID string
	StudentID     string
	Description   string
	TotalAmount   decimal.Decimal
	Status        InvoiceStatus
	DueDate       Date

	CreatedAt   time.Time
	PostedAt    *time.Time
	CancelledAt *time.Time
}

// =============================================================================
// PAYMENT + ALLOCATION
// =============================================================================

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentReversed  PaymentStatus = "reversed"
)

type PaymentMethod string

const (
	MethodCash        PaymentMethod = "cash"
	MethodBank        PaymentMethod = "bank"
	MethodMobileMoney PaymentMethod = "mobile_money"
)

// Payment is money received from a payer. TransactionReference is unique
// across the ledger and doubles as the idempotency key of external
// deliveries.
type Payment struct {
	ID                   string
	InstitutionID        string
	StudentID            string
	Amount               decimal.Decimal
	Method               PaymentMethod
	Status               PaymentStatus
	TransactionReference string

	// PaidOn is the effective date checked against the Period Guard.
	PaidOn Date

	CreatedAt      time.Time
	ConfirmedAt    *time.Time
	ReversedAt     *time.Time
	ReversedBy     string
	ReversalReason string
}

// Allocation assigns part of a payment to an invoice. Allocations are
// voided together with their payment, never individually.
type Allocation struct {
	ID        string
	PaymentID string
	InvoiceID string
	Amount    decimal.Decimal
	Voided    bool
	VoidedAt  *time.Time
	CreatedAt time.Time
}

// =============================================================================
// PENALTIES
// =============================================================================

type PenaltyType string

const (
	PenaltyFlat             PenaltyType = "flat"
	PenaltyPerDayPercentage PenaltyType = "per_day_percentage"
)

func (t PenaltyType) IsValid() bool {
	return t == PenaltyFlat || t == PenaltyPerDayPercentage
}

// PenaltyRule describes how late-payment penalties are charged.
type PenaltyRule struct {
	ID            string
	InstitutionID string
	Name          string
	Type          PenaltyType
	GraceDays     int

	// Rate is a currency amount for flat rules and a percentage of the
	// outstanding balance for per-day-percentage rules.
	Rate decimal.Decimal

	// MaxAmount caps a single applied row when valid.
	MaxAmount decimal.NullDecimal

	Active    bool
	CreatedAt time.Time
}

type AppliedBy string

const (
	AppliedBySystem AppliedBy = "system"
	AppliedByAdmin  AppliedBy = "admin"
)

// AppliedPenalty is one day's late-payment charge against an invoice.
// Waiving sets a flag; the row is kept for audit.
type AppliedPenalty struct {
	ID            string
	InstitutionID string
	InvoiceID     string
	StudentID     string
	PenaltyRuleID string
	Amount        decimal.Decimal
	DaysOverdue   int
	AppliedDate   Date
	AppliedBy     AppliedBy
	ActorID       string

	Waived       bool
	WaivedAt     *time.Time
	WaivedBy     string
	WaiverReason string

	CreatedAt time.Time
}

// =============================================================================
// RESULTS (grade-change approval target)
// =============================================================================

// Result is a student's recorded score for one subject.
type Result struct {
	ID            string
	InstitutionID string
	StudentID     string
	Subject       string
	Score         decimal.Decimal
	UpdatedAt     time.Time
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

// SweepRun records one execution of the penalty sweep.
type SweepRun struct {
	ID          string
	AsOf        Date
	Status      string // running, completed, failed
	Examined    int
	Applied     int
	Skipped     int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
