package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT INTENT - Reconciliation anchor for asynchronous confirmations
// =============================================================================

type IntentStatus string

const (
	IntentPending    IntentStatus = "pending"
	IntentProcessing IntentStatus = "processing"
	IntentCompleted  IntentStatus = "completed"
	IntentFailed     IntentStatus = "failed"
)

func (s IntentStatus) IsTerminal() bool {
	return s == IntentCompleted || s == IntentFailed
}

// intentTransitions lists the allowed targets of every non-terminal state.
// Terminal states have no entry: nothing leaves them.
var intentTransitions = map[IntentStatus][]IntentStatus{
	IntentPending:    {IntentProcessing, IntentCompleted, IntentFailed},
	IntentProcessing: {IntentCompleted, IntentFailed},
}

// PaymentIntent tracks one mobile-money payment from prompt to outcome.
type PaymentIntent struct {
	ID                string
	InstitutionID     string
	StudentID         string
	Amount            decimal.Decimal
	Phone             string
	ProviderReference string

	Status            IntentStatus
	ResultDescription string
	ReceiptCode       string
	// PaymentID is the confirmed ledger payment once completed.
	PaymentID string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	TerminalAt *time.Time
}

// CanTransition reports whether from → to is an allowed edge.
func CanTransition(from, to IntentStatus) bool {
	for _, s := range intentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the intent to `to`. Once terminal, every further
// transition fails with ErrInvalidTransition.
func (i *PaymentIntent) Transition(to IntentStatus, at time.Time) error {
	if !CanTransition(i.Status, to) {
		return &TransitionError{Entity: "payment_intent", ID: i.ID, From: string(i.Status), To: string(to)}
	}
	i.Status = to
	i.UpdatedAt = at
	if to.IsTerminal() {
		t := at
		i.TerminalAt = &t
	}
	return nil
}
