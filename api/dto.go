/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model (which carries no JSON tags) from the external API
  contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. decodeAndValidate
  rejects malformed bodies with 400 before any domain call; the domain
  still enforces its own invariants (positive amounts, period locks).

SEE ALSO:
  - handlers.go: Uses these types
  - factory/penalty.go: PenaltyRuleJSON, the rule request body
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/fees-engine/billing"
	"github.com/warp/fees-engine/generic"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// An empty body decodes as the zero value.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", generic.ErrInvalidInput, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", generic.ErrInvalidInput, err)
	}
	return nil
}

func parseDateField(name, value string) (generic.Date, error) {
	d, err := generic.ParseDate(value)
	if err != nil {
		return generic.Date{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", generic.ErrInvalidInput, name)
	}
	return d, nil
}

// =============================================================================
// PERIODS
// =============================================================================

type CreatePeriodRequest struct {
	InstitutionID string `json:"institution_id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	Type          string `json:"type" validate:"required,oneof=month term quarter year custom"`
	StartDate     string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string `json:"end_date" validate:"required,datetime=2006-01-02"`
	CanUnlock     bool   `json:"can_unlock"`
}

type PeriodActionRequest struct {
	Reason string `json:"reason"`
}

type PeriodDTO struct {
	ID            string     `json:"id"`
	InstitutionID string     `json:"institution_id"`
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	StartDate     string     `json:"start_date"`
	EndDate       string     `json:"end_date"`
	Status        string     `json:"status"`
	LockedAt      *time.Time `json:"locked_at,omitempty"`
	LockedBy      string     `json:"locked_by,omitempty"`
	LockReason    string     `json:"lock_reason,omitempty"`
	CanUnlock     bool       `json:"can_unlock"`
}

func toPeriodDTO(p generic.FinancialPeriod) PeriodDTO {
	return PeriodDTO{
		ID:            p.ID,
		InstitutionID: p.InstitutionID,
		Name:          p.Name,
		Type:          string(p.Type),
		StartDate:     p.StartDate.String(),
		EndDate:       p.EndDate.String(),
		Status:        p.Status(),
		LockedAt:      p.LockedAt,
		LockedBy:      p.LockedBy,
		LockReason:    p.LockReason,
		CanUnlock:     p.CanUnlock,
	}
}

// =============================================================================
// INVOICES
// =============================================================================

type CreateInvoiceRequest struct {
	InstitutionID string          `json:"institution_id" validate:"required"`
	StudentID     string          `json:"student_id" validate:"required"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	DueDate       string          `json:"due_date" validate:"required,datetime=2006-01-02"`
	// Post skips the draft stage.
	Post bool `json:"post"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type InvoiceDTO struct {
	ID            string          `json:"id"`
	InstitutionID string          `json:"institution_id"`
	StudentID     string          `json:"student_id"`
	Description   string          `json:"description,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        string          `json:"status"`
	DueDate       string          `json:"due_date"`
	Outstanding   *string         `json:"outstanding,omitempty"`
	PostedAt      *time.Time      `json:"posted_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
}

func toInvoiceDTO(inv generic.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:            inv.ID,
		InstitutionID: inv.InstitutionID,
		StudentID:     inv.StudentID,
		Description:   inv.Description,
		TotalAmount:   inv.TotalAmount,
		Status:        string(inv.Status),
		DueDate:       inv.DueDate.String(),
		PostedAt:      inv.PostedAt,
		CancelledAt:   inv.CancelledAt,
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

type AllocationRequest struct {
	InvoiceID string          `json:"invoice_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

type RecordPaymentRequest struct {
	InstitutionID string              `json:"institution_id" validate:"required"`
	StudentID     string              `json:"student_id" validate:"required"`
	Amount        decimal.Decimal     `json:"amount"`
	Method        string              `json:"method" validate:"required,oneof=cash bank mobile_money"`
	Reference     string              `json:"transaction_reference" validate:"required"`
	PaidOn        string              `json:"paid_on" validate:"omitempty,datetime=2006-01-02"`
	Confirmed     bool                `json:"confirmed"`
	Allocations   []AllocationRequest `json:"allocations" validate:"dive"`
}

type ConfirmPaymentRequest struct {
	Allocations []AllocationRequest `json:"allocations" validate:"dive"`
}

type ReversePaymentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type PaymentDTO struct {
	ID                   string          `json:"id"`
	InstitutionID        string          `json:"institution_id"`
	StudentID            string          `json:"student_id"`
	Amount               decimal.Decimal `json:"amount"`
	Method               string          `json:"method"`
	Status               string          `json:"status"`
	TransactionReference string          `json:"transaction_reference"`
	PaidOn               string          `json:"paid_on"`
	ConfirmedAt          *time.Time      `json:"confirmed_at,omitempty"`
	ReversedAt           *time.Time      `json:"reversed_at,omitempty"`
	ReversalReason       string          `json:"reversal_reason,omitempty"`
}

type AllocationDTO struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	InvoiceID string          `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Voided    bool            `json:"voided"`
}

type PaymentResultDTO struct {
	Payment     PaymentDTO      `json:"payment"`
	Allocations []AllocationDTO `json:"allocations"`
	Unallocated decimal.Decimal `json:"unallocated"`
}

func toAllocationInputs(reqs []AllocationRequest) []billing.AllocationInput {
	if len(reqs) == 0 {
		return nil
	}
	out := make([]billing.AllocationInput, len(reqs))
	for i, a := range reqs {
		out[i] = billing.AllocationInput{InvoiceID: a.InvoiceID, Amount: a.Amount}
	}
	return out
}

func toPaymentDTO(p generic.Payment) PaymentDTO {
	return PaymentDTO{
		ID:                   p.ID,
		InstitutionID:        p.InstitutionID,
		StudentID:            p.StudentID,
		Amount:               p.Amount,
		Method:               string(p.Method),
		Status:               string(p.Status),
		TransactionReference: p.TransactionReference,
		PaidOn:               p.PaidOn.String(),
		ConfirmedAt:          p.ConfirmedAt,
		ReversedAt:           p.ReversedAt,
		ReversalReason:       p.ReversalReason,
	}
}

func toAllocationDTO(a generic.Allocation) AllocationDTO {
	return AllocationDTO{ID: a.ID, PaymentID: a.PaymentID, InvoiceID: a.InvoiceID, Amount: a.Amount, Voided: a.Voided}
}

func toPaymentResultDTO(res *billing.PaymentResult) PaymentResultDTO {
	dto := PaymentResultDTO{
		Payment:     toPaymentDTO(res.Payment),
		Allocations: make([]AllocationDTO, len(res.Allocations)),
		Unallocated: res.Unallocated,
	}
	for i, a := range res.Allocations {
		dto.Allocations[i] = toAllocationDTO(a)
	}
	return dto
}

// =============================================================================
// STATEMENT
// =============================================================================

type BalanceDTO struct {
	Invoiced  decimal.Decimal `json:"invoiced"`
	Paid      decimal.Decimal `json:"paid"`
	Penalties decimal.Decimal `json:"penalties"`
	Balance   decimal.Decimal `json:"balance"`
}

type StatementDTO struct {
	InstitutionID string       `json:"institution_id"`
	StudentID     string       `json:"student_id"`
	Invoices      []InvoiceDTO `json:"invoices"`
	Payments      []PaymentDTO `json:"payments"`
	Penalties     []PenaltyDTO `json:"penalties"`
	Balance       BalanceDTO   `json:"balance"`
}

func toBalanceDTO(b generic.Balance) BalanceDTO {
	return BalanceDTO{Invoiced: b.Invoiced, Paid: b.Paid, Penalties: b.Penalties, Balance: b.Balance}
}

func toStatementDTO(s *billing.Statement) StatementDTO {
	dto := StatementDTO{
		InstitutionID: s.InstitutionID,
		StudentID:     s.StudentID,
		Invoices:      make([]InvoiceDTO, 0, len(s.Invoices)),
		Payments:      make([]PaymentDTO, 0, len(s.Payments)),
		Penalties:     make([]PenaltyDTO, 0, len(s.Penalties)),
		Balance:       toBalanceDTO(s.Balance),
	}
	for _, line := range s.Invoices {
		inv := toInvoiceDTO(line.Invoice)
		outstanding := line.Outstanding.StringFixed(generic.MoneyPlaces)
		inv.Outstanding = &outstanding
		dto.Invoices = append(dto.Invoices, inv)
	}
	for _, line := range s.Payments {
		dto.Payments = append(dto.Payments, toPaymentDTO(line.Payment))
	}
	for _, p := range s.Penalties {
		dto.Penalties = append(dto.Penalties, toPenaltyDTO(p))
	}
	return dto
}

// =============================================================================
// PENALTIES
// =============================================================================

type ApplyPenaltyRequest struct {
	InvoiceID string `json:"invoice_id" validate:"required"`
	RuleID    string `json:"rule_id" validate:"required"`
	Date      string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type SweepRequest struct {
	AsOf string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

type PenaltyDTO struct {
	ID            string          `json:"id"`
	InvoiceID     string          `json:"invoice_id"`
	StudentID     string          `json:"student_id"`
	PenaltyRuleID string          `json:"penalty_rule_id"`
	Amount        decimal.Decimal `json:"amount"`
	DaysOverdue   int             `json:"days_overdue"`
	AppliedDate   string          `json:"applied_date"`
	AppliedBy     string          `json:"applied_by"`
	Waived        bool            `json:"waived"`
	WaivedBy      string          `json:"waived_by,omitempty"`
	WaiverReason  string          `json:"waiver_reason,omitempty"`
}

func toPenaltyDTO(p generic.AppliedPenalty) PenaltyDTO {
	return PenaltyDTO{
		ID:            p.ID,
		InvoiceID:     p.InvoiceID,
		StudentID:     p.StudentID,
		PenaltyRuleID: p.PenaltyRuleID,
		Amount:        p.Amount,
		DaysOverdue:   p.DaysOverdue,
		AppliedDate:   p.AppliedDate.String(),
		AppliedBy:     string(p.AppliedBy),
		Waived:        p.Waived,
		WaivedBy:      p.WaivedBy,
		WaiverReason:  p.WaiverReason,
	}
}

type SweepRunDTO struct {
	ID          string     `json:"id"`
	AsOf        string     `json:"as_of"`
	Status      string     `json:"status"`
	Examined    int        `json:"examined"`
	Applied     int        `json:"applied"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type SweepScheduleDTO struct {
	Enabled  bool       `json:"enabled"`
	Interval string     `json:"interval"`
	Running  bool       `json:"running"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

func toSweepRunDTO(r generic.SweepRun) SweepRunDTO {
	return SweepRunDTO{
		ID:          r.ID,
		AsOf:        r.AsOf.String(),
		Status:      r.Status,
		Examined:    r.Examined,
		Applied:     r.Applied,
		Skipped:     r.Skipped,
		Failed:      r.Failed,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

type SweepReportDTO struct {
	RunID      string            `json:"run_id"`
	AsOf       string            `json:"as_of"`
	Examined   int               `json:"examined"`
	Applied    []PenaltyDTO      `json:"applied"`
	Skipped    map[string]int    `json:"skipped"`
	Failures   map[string]string `json:"failures"`
	DurationMs int64             `json:"duration_ms"`
}

func toSweepReportDTO(r *billing.SweepReport) SweepReportDTO {
	dto := SweepReportDTO{
		RunID:      r.RunID,
		AsOf:       r.AsOf.String(),
		Examined:   r.Examined,
		Applied:    make([]PenaltyDTO, 0, len(r.Applied)),
		Skipped:    r.Skipped,
		Failures:   r.Failures,
		DurationMs: r.Duration.Milliseconds(),
	}
	for _, p := range r.Applied {
		dto.Applied = append(dto.Applied, toPenaltyDTO(p))
	}
	return dto
}

// =============================================================================
// APPROVAL REQUESTS (waivers, grade changes)
// =============================================================================

type WaiverRequestBody struct {
	InstitutionID string `json:"institution_id"`
	PenaltyID     string `json:"penalty_id" validate:"required"`
	RequestedBy   string `json:"requested_by" validate:"required"`
	RequesterType string `json:"requester_type" validate:"required,oneof=parent staff"`
	Reason        string `json:"reason" validate:"required"`
}

type RecordResultRequest struct {
	InstitutionID string          `json:"institution_id" validate:"required"`
	StudentID     string          `json:"student_id" validate:"required"`
	Subject       string          `json:"subject" validate:"required"`
	Score         decimal.Decimal `json:"score"`
}

type GradeChangeRequestBody struct {
	InstitutionID string          `json:"institution_id"`
	ResultID      string          `json:"result_id" validate:"required"`
	RequestedBy   string          `json:"requested_by" validate:"required"`
	Reason        string          `json:"reason" validate:"required"`
	NewScore      decimal.Decimal `json:"new_score"`
}

type ReviewRequest struct {
	Notes string `json:"notes"`
}

type ApprovalRequestDTO struct {
	ID            string            `json:"id"`
	InstitutionID string            `json:"institution_id"`
	Kind          string            `json:"kind"`
	TargetID      string            `json:"target_id"`
	RequestedBy   string            `json:"requested_by"`
	RequesterType string            `json:"requester_type"`
	Reason        string            `json:"reason"`
	Payload       map[string]string `json:"payload,omitempty"`
	Status        string            `json:"status"`
	ReviewedBy    string            `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time        `json:"reviewed_at,omitempty"`
	ReviewNotes   string            `json:"review_notes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func toApprovalRequestDTO(r generic.ApprovalRequest) ApprovalRequestDTO {
	return ApprovalRequestDTO{
		ID:            r.ID,
		InstitutionID: r.InstitutionID,
		Kind:          string(r.Kind),
		TargetID:      r.TargetID,
		RequestedBy:   r.RequestedBy,
		RequesterType: string(r.RequesterType),
		Reason:        r.Reason,
		Payload:       r.Payload,
		Status:        string(r.Status),
		ReviewedBy:    r.ReviewedBy,
		ReviewedAt:    r.ReviewedAt,
		ReviewNotes:   r.ReviewNotes,
		CreatedAt:     r.CreatedAt,
	}
}

type ResultDTO struct {
	ID            string          `json:"id"`
	InstitutionID string          `json:"institution_id"`
	StudentID     string          `json:"student_id"`
	Subject       string          `json:"subject"`
	Score         decimal.Decimal `json:"score"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func toResultDTO(r generic.Result) ResultDTO {
	return ResultDTO{
		ID:            r.ID,
		InstitutionID: r.InstitutionID,
		StudentID:     r.StudentID,
		Subject:       r.Subject,
		Score:         r.Score,
		UpdatedAt:     r.UpdatedAt,
	}
}

// =============================================================================
// PAYMENT INTENTS
// =============================================================================

type InitiatePaymentRequest struct {
	InstitutionID string          `json:"institution_id" validate:"required"`
	StudentID     string          `json:"student_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Phone         string          `json:"phone" validate:"required,e164"`
}

type ProcessingAckRequest struct {
	ProviderReference string `json:"provider_reference" validate:"required"`
}

type IntentDTO struct {
	ID                string          `json:"id"`
	InstitutionID     string          `json:"institution_id"`
	StudentID         string          `json:"student_id"`
	Amount            decimal.Decimal `json:"amount"`
	ProviderReference string          `json:"provider_reference"`
	Status            string          `json:"status"`
	ReceiptCode       string          `json:"receipt_code,omitempty"`
	ResultDescription string          `json:"result_description,omitempty"`
	PaymentID         string          `json:"payment_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func toIntentDTO(i generic.PaymentIntent) IntentDTO {
	return IntentDTO{
		ID:                i.ID,
		InstitutionID:     i.InstitutionID,
		StudentID:         i.StudentID,
		Amount:            i.Amount,
		ProviderReference: i.ProviderReference,
		Status:            string(i.Status),
		ReceiptCode:       i.ReceiptCode,
		ResultDescription: i.ResultDescription,
		PaymentID:         i.PaymentID,
		CreatedAt:         i.CreatedAt,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
