/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every operation that violates an invariant returns one of these, and
  aborts without partial writes.

ERROR CATEGORIES:
  1. Invariant errors - period locked, over-allocation, duplicates
  2. State machine errors - transitions from a non-source state
  3. Store errors - missing rows

USAGE:
  Structured errors unwrap to their sentinel, so callers match with
  errors.Is and read details with errors.As:

    var locked *generic.PeriodLockedError
    if errors.As(err, &locked) {
        log.Printf("period %s is closed", locked.PeriodName)
    }
    if errors.Is(err, generic.ErrPeriodLocked) { ... }

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPeriodLocked is returned when a mutation's effective date falls in a
	// locked period. Recoverable by choosing another date or unlocking.
	ErrPeriodLocked = errors.New("period locked")

	// ErrOverAllocation is returned when an allocation exceeds the invoice's
	// outstanding balance or the payment's unallocated remainder.
	ErrOverAllocation = errors.New("over-allocation")

	// ErrDuplicateTransactionReference is returned when a payment or intent
	// reuses an existing transaction/provider reference.
	ErrDuplicateTransactionReference = errors.New("duplicate transaction reference")

	// ErrDuplicateRequest is returned when an approval request is opened
	// against a target that already has a pending request.
	ErrDuplicateRequest = errors.New("duplicate pending request")

	// ErrNotUnlockable is returned when unlocking a period with can_unlock=false.
	ErrNotUnlockable = errors.New("period cannot be unlocked")

	// ErrInvalidTransition is returned for any state machine transition
	// attempted from a non-source state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPeriodOverlap is returned when a period overlaps an existing one.
	ErrPeriodOverlap = errors.New("period overlaps an existing period")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidAmount is returned for zero or negative money amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidInput is returned for malformed operation input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicatePenalty is returned by stores when a second non-waived
	// penalty is written for the same (invoice, applied_date).
	ErrDuplicatePenalty = errors.New("penalty already applied for this date")

	// ErrNotFound is returned when a referenced row doesn't exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PeriodLockedError identifies the locked period that rejected a write.
type PeriodLockedError struct {
	InstitutionID string
	Date          Date
	PeriodID      string
	PeriodName    string
}

func (e *PeriodLockedError) Error() string {
	return fmt.Sprintf("period locked: %s falls in locked period %q (%s)",
		e.Date, e.PeriodName, e.PeriodID)
}

func (e *PeriodLockedError) Unwrap() error { return ErrPeriodLocked }

// OverAllocationError provides details about an allocation that doesn't fit.
type OverAllocationError struct {
	PaymentID string
	InvoiceID string
	Requested decimal.Decimal
	Available decimal.Decimal
	// Limit is "invoice" or "payment": which remainder was exceeded.
	Limit string
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("over-allocation: requested %s exceeds %s remainder %s",
		e.Requested.StringFixed(MoneyPlaces), e.Limit, e.Available.StringFixed(MoneyPlaces))
}

func (e *OverAllocationError) Unwrap() error { return ErrOverAllocation }

// DuplicateReferenceError names the existing row holding a reference.
type DuplicateReferenceError struct {
	Reference  string
	ExistingID string
}

func (e *DuplicateReferenceError) Error() string {
	return fmt.Sprintf("duplicate transaction reference %q (existing: %s)", e.Reference, e.ExistingID)
}

func (e *DuplicateReferenceError) Unwrap() error { return ErrDuplicateTransactionReference }

// DuplicateRequestError names the pending request that blocks a new one.
type DuplicateRequestError struct {
	Kind       RequestKind
	TargetID   string
	ExistingID string
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("%s request %s is already pending for %s", e.Kind, e.ExistingID, e.TargetID)
}

func (e *DuplicateRequestError) Unwrap() error { return ErrDuplicateRequest }

// TransitionError describes a rejected state machine transition.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError names the missing row.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(entity, id string) error { return &NotFoundError{Entity: entity, ID: id} }

// NewNotFound is exported for store implementations.
func NewNotFound(entity, id string) error { return notFound(entity, id) }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true if the error is a state or uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPeriodLocked) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicateTransactionReference) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrDuplicatePenalty) ||
		errors.Is(err, ErrNotUnlockable) ||
		errors.Is(err, ErrPeriodOverlap)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrOverAllocation) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
