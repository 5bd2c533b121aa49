/*
Package mobilemoney reconciles asynchronous mobile-money payments.

PURPOSE:
  A payer starts a payment, the provider pushes a prompt to their phone,
  and some time later the provider calls back with the outcome. Meanwhile
  the client polls for status. This package is the state machine that
  keeps those three parties consistent.

STATE MACHINE:
  ┌─────────┐  MarkProcessing  ┌────────────┐
  │ pending │ ───────────────▶ │ processing │
  └─────────┘                  └────────────┘
       │                             │
       │  callback success/failure   │
       ▼                             ▼
  ┌───────────┐                ┌────────┐
  │ completed │                │ failed │     (terminal, never rewritten)
  └───────────┘                └────────┘

CALLBACK CONTRACT:
  - Idempotent on provider_reference: a callback for an intent that is
    already terminal is a no-op success. Delivery is at-least-once.
  - Success posts, in ONE transaction: the intent → completed, a
    confirmed Payment with transaction_reference = provider_reference,
    and its oldest-due-first allocations.
  - If that posting fails (e.g. today's date is in a locked period) the
    intent is written failed with the cause instead. Confirmed funds
    without a ledger posting is not a state this package produces.

READ PATH:
  GetStatus is a pure read and takes no lock; Poll is a cancellable loop
  over it. Stopping a poll never touches the intent: a later poll still
  observes the eventual terminal state.

SEE ALSO:
  - generic/intent.go: PaymentIntent and its guarded transition
  - billing/ledger.go: PostPayment
  - api/callback.go: Signed provider callback endpoint
*/
package mobilemoney

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fees-engine/billing"
	"github.com/warp/fees-engine/generic"
)

// =============================================================================
// CALLBACK + STATUS TYPES
// =============================================================================

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Callback is the provider's asynchronous outcome notification.
type Callback struct {
	ProviderReference string  `json:"provider_reference" validate:"required"`
	Outcome           Outcome `json:"outcome" validate:"required,oneof=success failure"`
	ReceiptCode       string  `json:"receipt_code,omitempty"`
	Description       string  `json:"description,omitempty"`
}

// CallbackResult reports what a delivery did.
type CallbackResult struct {
	Intent generic.PaymentIntent
	// Duplicate is true when the intent was already terminal.
	Duplicate bool
}

// StatusView is the client-visible projection of an intent.
type StatusView struct {
	Status            generic.IntentStatus `json:"status"`
	ReceiptCode       string               `json:"receiptCode,omitempty"`
	ResultDescription string               `json:"resultDescription,omitempty"`
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store    generic.Store
	ledger   *billing.Ledger
	provider Provider
	emitter  *generic.Emitter
	locks    generic.KeyedMutex
	now      func() time.Time
	log      *zap.Logger
}

func NewEngine(ledger *billing.Ledger, provider Provider, emitter *generic.Emitter, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:    ledger.Store(),
		ledger:   ledger,
		provider: provider,
		emitter:  emitter,
		now:      time.Now,
		log:      log.Named("mobilemoney"),
	}
}

// WithClock overrides the clock used for intent timestamps.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

type InitiateInput struct {
	InstitutionID string
	StudentID     string
	Amount        decimal.Decimal
	Phone         string
}

// Initiate asks the provider to prompt the payer and records a pending
// intent under the reference the provider returned.
func (e *Engine) Initiate(ctx context.Context, in InitiateInput) (*generic.PaymentIntent, error) {
	if in.InstitutionID == "" || in.StudentID == "" || in.Phone == "" {
		return nil, fmt.Errorf("%w: institution, student and phone are required", generic.ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return nil, generic.ErrInvalidAmount
	}

	id := uuid.NewString()
	amount := generic.RoundMoney(in.Amount)
	ref, err := e.provider.RequestPayment(ctx, PromptRequest{
		IntentID:         id,
		Phone:            in.Phone,
		Amount:           amount,
		AccountReference: in.StudentID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request payment prompt: %w", err)
	}

	now := e.now().UTC()
	intent := generic.PaymentIntent{
		ID:                id,
		InstitutionID:     in.InstitutionID,
		StudentID:         in.StudentID,
		Amount:            amount,
		Phone:             in.Phone,
		ProviderReference: ref,
		Status:            generic.IntentPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.WithTx(ctx, func(tx generic.Tx) error {
		return tx.SaveIntent(ctx, intent)
	}); err != nil {
		return nil, err
	}

	e.emitter.Transition(ctx, "payment_intent", intent.ID, intent.InstitutionID, "", "", string(generic.IntentPending), ref)
	e.log.Info("payment intent created",
		zap.String("intent_id", intent.ID),
		zap.String("provider_reference", ref))
	return &intent, nil
}

// MarkProcessing records the provider's optional "being acted on" signal.
// It is a no-op for an intent that is already processing or terminal.
func (e *Engine) MarkProcessing(ctx context.Context, providerReference string) (*generic.PaymentIntent, error) {
	unlock := e.locks.Lock("intent:" + providerReference)
	defer unlock()

	var (
		intent  *generic.PaymentIntent
		changed bool
	)
	err := e.store.WithTx(ctx, func(tx generic.Tx) error {
		cur, err := tx.GetIntentByReference(ctx, providerReference)
		if err != nil {
			return err
		}
		intent = cur
		if cur.Status != generic.IntentPending {
			return nil
		}
		if err := cur.Transition(generic.IntentProcessing, e.now().UTC()); err != nil {
			return err
		}
		changed = true
		return tx.SaveIntent(ctx, *cur)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.emitter.Transition(ctx, "payment_intent", intent.ID, intent.InstitutionID, "",
			string(generic.IntentPending), string(generic.IntentProcessing), "")
	}
	return intent, nil
}

// HandleCallback applies a provider outcome. See the package doc for the
// contract; the only errors returned are for malformed or unknown
// callbacks and store failures, which the provider's redelivery retries.
func (e *Engine) HandleCallback(ctx context.Context, cb Callback) (*CallbackResult, error) {
	if cb.ProviderReference == "" {
		return nil, fmt.Errorf("%w: provider_reference is required", generic.ErrInvalidInput)
	}
	if cb.Outcome != OutcomeSuccess && cb.Outcome != OutcomeFailure {
		return nil, fmt.Errorf("%w: unknown outcome %q", generic.ErrInvalidInput, cb.Outcome)
	}

	unlock := e.locks.Lock("intent:" + cb.ProviderReference)
	defer unlock()

	intent, err := e.store.GetIntentByReference(ctx, cb.ProviderReference)
	if err != nil {
		return nil, err
	}
	if intent.Status.IsTerminal() {
		e.log.Info("duplicate callback ignored",
			zap.String("provider_reference", cb.ProviderReference),
			zap.String("status", string(intent.Status)))
		return &CallbackResult{Intent: *intent, Duplicate: true}, nil
	}

	if cb.Outcome == OutcomeFailure {
		return e.fail(ctx, cb.ProviderReference, cb.Description)
	}
	return e.complete(ctx, *intent, cb)
}

func (e *Engine) complete(ctx context.Context, intent generic.PaymentIntent, cb Callback) (*CallbackResult, error) {
	var (
		result  *CallbackResult
		from    generic.IntentStatus
		payment *billing.PaymentResult
	)
	err := e.ledger.WithStudent(ctx, intent.InstitutionID, intent.StudentID, func(tx generic.Tx) error {
		cur, err := tx.GetIntentByReference(ctx, cb.ProviderReference)
		if err != nil {
			return err
		}
		if cur.Status.IsTerminal() {
			result = &CallbackResult{Intent: *cur, Duplicate: true}
			return nil
		}
		from = cur.Status

		payment, err = e.ledger.PostPayment(ctx, tx, billing.PaymentInput{
			InstitutionID: cur.InstitutionID,
			StudentID:     cur.StudentID,
			Amount:        cur.Amount,
			Method:        generic.MethodMobileMoney,
			Reference:     cur.ProviderReference,
			Confirmed:     true,
			ActorID:       "provider",
		})
		if err != nil {
			return err
		}

		if err := cur.Transition(generic.IntentCompleted, e.now().UTC()); err != nil {
			return err
		}
		cur.ReceiptCode = cb.ReceiptCode
		cur.ResultDescription = cb.Description
		cur.PaymentID = payment.Payment.ID
		if err := tx.SaveIntent(ctx, *cur); err != nil {
			return err
		}
		result = &CallbackResult{Intent: *cur}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		e.log.Error("ledger posting failed, marking intent failed",
			zap.String("provider_reference", cb.ProviderReference),
			zap.Error(err))
		return e.fail(ctx, cb.ProviderReference, "ledger posting failed: "+err.Error())
	}
	if result.Duplicate {
		return result, nil
	}

	i := result.Intent
	e.emitter.Transition(ctx, "payment_intent", i.ID, i.InstitutionID, "", string(from), string(i.Status), i.ReceiptCode)
	e.emitter.Notify(ctx, generic.Event{
		Type:          generic.EventPaymentCompleted,
		InstitutionID: i.InstitutionID,
		Payload: map[string]any{
			"intent_id":          i.ID,
			"payment_id":         i.PaymentID,
			"student_id":         i.StudentID,
			"amount":             i.Amount.StringFixed(generic.MoneyPlaces),
			"receipt_code":       i.ReceiptCode,
			"provider_reference": i.ProviderReference,
			"allocations":        len(payment.Allocations),
			"unallocated":        payment.Unallocated.StringFixed(generic.MoneyPlaces),
		},
	})
	e.log.Info("mobile money payment completed",
		zap.String("intent_id", i.ID),
		zap.String("payment_id", i.PaymentID))
	return result, nil
}

// fail moves the intent to failed in its own transaction.
func (e *Engine) fail(ctx context.Context, providerReference, description string) (*CallbackResult, error) {
	var (
		result *CallbackResult
		from   generic.IntentStatus
	)
	err := e.store.WithTx(ctx, func(tx generic.Tx) error {
		cur, err := tx.GetIntentByReference(ctx, providerReference)
		if err != nil {
			return err
		}
		if cur.Status.IsTerminal() {
			result = &CallbackResult{Intent: *cur, Duplicate: true}
			return nil
		}
		from = cur.Status
		if err := cur.Transition(generic.IntentFailed, e.now().UTC()); err != nil {
			return err
		}
		cur.ResultDescription = description
		if err := tx.SaveIntent(ctx, *cur); err != nil {
			return err
		}
		result = &CallbackResult{Intent: *cur}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Duplicate {
		return result, nil
	}

	i := result.Intent
	e.emitter.Transition(ctx, "payment_intent", i.ID, i.InstitutionID, "", string(from), string(i.Status), description)
	e.emitter.Notify(ctx, generic.Event{
		Type:          generic.EventPaymentFailed,
		InstitutionID: i.InstitutionID,
		Payload: map[string]any{
			"intent_id":          i.ID,
			"student_id":         i.StudentID,
			"provider_reference": i.ProviderReference,
			"description":        description,
		},
	})
	return result, nil
}

// =============================================================================
// READ PATH
// =============================================================================

// GetStatus is the client poll target. It never writes and never waits
// on a callback in progress.
func (e *Engine) GetStatus(ctx context.Context, intentID string) (StatusView, error) {
	i, err := e.store.GetIntent(ctx, intentID)
	if err != nil {
		return StatusView{}, err
	}
	return StatusView{
		Status:            i.Status,
		ReceiptCode:       i.ReceiptCode,
		ResultDescription: i.ResultDescription,
	}, nil
}

// GetIntent returns the full intent.
func (e *Engine) GetIntent(ctx context.Context, intentID string) (*generic.PaymentIntent, error) {
	return e.store.GetIntent(ctx, intentID)
}
