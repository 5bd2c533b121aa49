/*
store.go - Persistence interface for the fees ledger

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Reader:   Read-only queries, safe to call from pollers and guards
  Writer:   Row writes, only reachable inside WithTx
  Tx:       Reader + Writer bound to one atomic unit of work
  Store:    Reader + WithTx
  RunStore: Penalty sweep run history

ATOMIC UNITS:
  Every mutating operation in the engine runs inside Store.WithTx. If the
  callback returns an error, nothing it wrote is visible afterwards. This
  is how "no partial writes" is guaranteed for multi-row operations like
  payment reversal (payment + all allocations) or waiver approval
  (request + penalty).

STORE-LEVEL GUARDS:
  Implementations enforce the uniqueness rules the domain depends on, so
  a bug in a caller can't break them:
  - Payment.TransactionReference unique  → ErrDuplicateTransactionReference
  - PaymentIntent.ProviderReference unique → ErrDuplicateTransactionReference
  - One non-waived penalty per (invoice, applied_date) → ErrDuplicatePenalty
  - A terminal PaymentIntent is never overwritten → ErrInvalidTransition

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - period.go, workflow.go: Use WithTx for their transitions
  - billing/ledger.go: Ledger operations
*/
package generic

import "context"

// =============================================================================
// FILTERS
// =============================================================================

type InvoiceFilter struct {
	InstitutionID string
	StudentID     string
	Status        InvoiceStatus
}

type AllocationFilter struct {
	PaymentID     string
	InvoiceID     string
	IncludeVoided bool
}

type PenaltyFilter struct {
	InstitutionID string
	StudentID     string
	InvoiceID     string
	AppliedDate   *Date
}

type RequestFilter struct {
	InstitutionID string
	Kind          RequestKind
	Status        RequestStatus
}

// =============================================================================
// STORE
// =============================================================================

// Reader is the read side of the store. Getters return a *NotFoundError
// (errors.Is(err, ErrNotFound)) when the row doesn't exist.
type Reader interface {
	GetPeriod(ctx context.Context, id string) (*FinancialPeriod, error)
	ListPeriods(ctx context.Context, institutionID string) ([]FinancialPeriod, error)

	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	// ListInvoices returns invoices ordered by due date, then creation.
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)

	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*Payment, error)
	ListPayments(ctx context.Context, institutionID, studentID string) ([]Payment, error)
	ListAllocations(ctx context.Context, filter AllocationFilter) ([]Allocation, error)

	GetRule(ctx context.Context, id string) (*PenaltyRule, error)
	ListRules(ctx context.Context, institutionID string) ([]PenaltyRule, error)
	GetPenalty(ctx context.Context, id string) (*AppliedPenalty, error)
	ListPenalties(ctx context.Context, filter PenaltyFilter) ([]AppliedPenalty, error)

	GetRequest(ctx context.Context, id string) (*ApprovalRequest, error)
	// FindPendingRequest returns (nil, nil) when no request is pending.
	FindPendingRequest(ctx context.Context, kind RequestKind, targetID string) (*ApprovalRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]ApprovalRequest, error)

	GetIntent(ctx context.Context, id string) (*PaymentIntent, error)
	GetIntentByReference(ctx context.Context, providerReference string) (*PaymentIntent, error)

	GetResult(ctx context.Context, id string) (*Result, error)
}

// Writer persists rows. All Save* methods are upserts keyed by ID.
type Writer interface {
	SavePeriod(ctx context.Context, p FinancialPeriod) error
	DeletePeriod(ctx context.Context, id string) error
	SaveInvoice(ctx context.Context, inv Invoice) error
	SavePayment(ctx context.Context, p Payment) error
	SaveAllocation(ctx context.Context, a Allocation) error
	SaveRule(ctx context.Context, r PenaltyRule) error
	SavePenalty(ctx context.Context, p AppliedPenalty) error
	SaveRequest(ctx context.Context, r ApprovalRequest) error
	SaveIntent(ctx context.Context, i PaymentIntent) error
	SaveResult(ctx context.Context, r Result) error
}

// Tx is a Reader and Writer bound to one atomic unit of work.
type Tx interface {
	Reader
	Writer
}

// Store is the persistence root. Writes are only possible through WithTx.
type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// RunStore keeps the penalty sweep history.
type RunStore interface {
	SaveSweepRun(ctx context.Context, run SweepRun) error
	ListSweepRuns(ctx context.Context, limit int) ([]SweepRun, error)
}
