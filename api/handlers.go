/*
handlers.go - HTTP API handlers for the fees ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the domain services.

ENDPOINTS:
  Periods:
    GET    /api/periods?institution_id=        List periods
    POST   /api/periods                        Create period
    GET    /api/periods/locked?institution_id=&date=  Is a date locked
    POST   /api/periods/{id}/lock              Lock period
    POST   /api/periods/{id}/unlock            Unlock period
    DELETE /api/periods/{id}                   Delete open period

  Invoices / payments:
    POST   /api/invoices                       Create (optionally post)
    POST   /api/invoices/{id}/post             Post draft
    POST   /api/invoices/{id}/cancel           Cancel
    POST   /api/payments                       Record payment
    POST   /api/payments/{id}/confirm          Confirm pending payment
    POST   /api/payments/{id}/allocations      Allocate to an invoice
    POST   /api/payments/{id}/reverse          Reverse payment
    GET    /api/students/{id}/statement        Statement + balance

  Penalties:
    GET    /api/penalty-rules?institution_id=  List rules
    POST   /api/penalty-rules                  Create rule from JSON
    POST   /api/penalties                      Apply manually (admin)
    POST   /api/penalties/sweep                Run sweep now
    GET    /api/penalties/sweeps               Sweep history

  Approvals:
    POST   /api/waivers, /api/grade-changes    Open request
    POST   /api/{kind}/{id}/approve|reject     Decide

  Mobile money: see callback.go.

ACTOR:
  The acting user is read from the X-Actor-ID header and recorded on
  audit records. Authentication is done upstream.

ERROR HANDLING:
  Domain errors map to status codes in writeDomainError:
  - 400: Malformed input
  - 404: Resource not found
  - 409: Locked period, invalid transition, duplicates
  - 422: Over-allocation, invalid amounts
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/fees-engine/academics"
	"github.com/warp/fees-engine/billing"
	"github.com/warp/fees-engine/factory"
	"github.com/warp/fees-engine/generic"
	"github.com/warp/fees-engine/logger"
	"github.com/warp/fees-engine/mobilemoney"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     generic.Store
	Runs      generic.RunStore
	Guard     *generic.PeriodGuard
	Ledger    *billing.Ledger
	Penalties *billing.PenaltyEngine
	Waivers   *billing.WaiverService
	Grades    *academics.GradeChangeService
	Payments  *mobilemoney.Engine
	Rules     *factory.PenaltyFactory
	Scheduler *PenaltyScheduler
	Metrics   *Metrics
	Log       *zap.Logger

	// CallbackSecret verifies provider callbacks; empty skips the check.
	CallbackSecret string
	PollLimiter    *PollLimiter
	Wait           WaitConfig
}

const actorHeader = "X-Actor-ID"

func actor(r *http.Request) string {
	if a := r.Header.Get(actorHeader); a != "" {
		return a
	}
	return "anonymous"
}

func requireQuery(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", &queryError{name: name}
	}
	return v, nil
}

type queryError struct{ name string }

func (e *queryError) Error() string { return "query parameter " + e.name + " is required" }
func (e *queryError) Unwrap() error { return generic.ErrInvalidInput }

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// ListPeriods returns an institution's periods.
// GET /api/periods?institution_id=
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	inst, err := requireQuery(r, "institution_id")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	periods, err := h.Guard.ListPeriods(r.Context(), inst)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toPeriodDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePeriod opens a new accounting period.
// POST /api/periods
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req CreatePeriodRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	start, err := parseDateField("start_date", req.StartDate)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	end, err := parseDateField("end_date", req.EndDate)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	p, err := h.Guard.CreatePeriod(r.Context(), generic.PeriodInput{
		InstitutionID: req.InstitutionID,
		Name:          req.Name,
		Type:          generic.PeriodType(req.Type),
		StartDate:     start,
		EndDate:       end,
		CanUnlock:     req.CanUnlock,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(*p))
}

// IsLocked reports whether a date falls in a locked period.
// GET /api/periods/locked?institution_id=&date=
func (h *Handler) IsLocked(w http.ResponseWriter, r *http.Request) {
	inst, err := requireQuery(r, "institution_id")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	raw, err := requireQuery(r, "date")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	d, err := parseDateField("date", raw)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	locked, err := h.Guard.IsLocked(r.Context(), inst, d)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"institution_id": inst, "date": d.String(), "locked": locked})
}

// LockPeriod closes a period to further mutation.
// POST /api/periods/{id}/lock
func (h *Handler) LockPeriod(w http.ResponseWriter, r *http.Request) {
	var req PeriodActionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	p, err := h.Guard.Lock(r.Context(), chi.URLParam(r, "id"), req.Reason, actor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(*p))
}

// UnlockPeriod reopens a period that allows it.
// POST /api/periods/{id}/unlock
func (h *Handler) UnlockPeriod(w http.ResponseWriter, r *http.Request) {
	var req PeriodActionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	p, err := h.Guard.Unlock(r.Context(), chi.URLParam(r, "id"), actor(r), req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(*p))
}

// DeletePeriod removes an open period.
// DELETE /api/periods/{id}
func (h *Handler) DeletePeriod(w http.ResponseWriter, r *http.Request) {
	if err := h.Guard.DeletePeriod(r.Context(), chi.URLParam(r, "id"), actor(r)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// CreateInvoice records a draft invoice, posting it when asked.
// POST /api/invoices
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	due, err := parseDateField("due_date", req.DueDate)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	inv, err := h.Ledger.CreateInvoice(r.Context(), billing.InvoiceInput{
		InstitutionID: req.InstitutionID,
		StudentID:     req.StudentID,
		Description:   req.Description,
		Amount:        req.Amount,
		DueDate:       due,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if req.Post {
		if inv, err = h.Ledger.PostInvoice(r.Context(), inv.ID, actor(r)); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(*inv))
}

// PostInvoice moves a draft invoice to posted.
// POST /api/invoices/{id}/post
func (h *Handler) PostInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Ledger.PostInvoice(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// CancelInvoice cancels an invoice with no active allocations.
// POST /api/invoices/{id}/cancel
func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	inv, err := h.Ledger.CancelInvoice(r.Context(), chi.URLParam(r, "id"), actor(r), req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment records money received.
// POST /api/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var paidOn generic.Date
	if req.PaidOn != "" {
		d, err := parseDateField("paid_on", req.PaidOn)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		paidOn = d
	}
	res, err := h.Ledger.RecordPayment(r.Context(), billing.PaymentInput{
		InstitutionID: req.InstitutionID,
		StudentID:     req.StudentID,
		Amount:        req.Amount,
		Method:        generic.PaymentMethod(req.Method),
		Reference:     req.Reference,
		PaidOn:        paidOn,
		Confirmed:     req.Confirmed,
		Allocations:   toAllocationInputs(req.Allocations),
		ActorID:       actor(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.Metrics.observePayment(res.Payment)
	writeJSON(w, http.StatusCreated, toPaymentResultDTO(res))
}

// ConfirmPayment confirms a pending payment and allocates it.
// POST /api/payments/{id}/confirm
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req ConfirmPaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	res, err := h.Ledger.ConfirmPayment(r.Context(), chi.URLParam(r, "id"), toAllocationInputs(req.Allocations), actor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.Metrics.observePayment(res.Payment)
	writeJSON(w, http.StatusOK, toPaymentResultDTO(res))
}

// AllocatePayment directs part of a confirmed payment to an invoice.
// POST /api/payments/{id}/allocations
func (h *Handler) AllocatePayment(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	a, err := h.Ledger.Allocate(r.Context(), chi.URLParam(r, "id"), req.InvoiceID, req.Amount, actor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(*a))
}

// ReversePayment voids a payment and all its allocations.
// POST /api/payments/{id}/reverse
func (h *Handler) ReversePayment(w http.ResponseWriter, r *http.Request) {
	var req ReversePaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	p, err := h.Ledger.ReversePayment(r.Context(), chi.URLParam(r, "id"), req.Reason, actor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// GetStatement returns the student's statement.
// GET /api/students/{id}/statement?institution_id=
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	inst, err := requireQuery(r, "institution_id")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	st, err := h.Ledger.Statement(r.Context(), inst, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

// =============================================================================
// PENALTY HANDLERS
// =============================================================================

// ListPenaltyRules returns an institution's rules.
// GET /api/penalty-rules?institution_id=
func (h *Handler) ListPenaltyRules(w http.ResponseWriter, r *http.Request) {
	inst, err := requireQuery(r, "institution_id")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	rules, err := h.Store.ListRules(r.Context(), inst)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]factory.PenaltyRuleJSON, len(rules))
	for i := range rules {
		out[i] = h.Rules.ToJSON(&rules[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// CreatePenaltyRule stores a rule parsed by the penalty factory.
// POST /api/penalty-rules
func (h *Handler) CreatePenaltyRule(w http.ResponseWriter, r *http.Request) {
	var rj factory.PenaltyRuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		h.writeDomainError(w, r, errors.Join(generic.ErrInvalidInput, err))
		return
	}
	rule, err := h.Rules.FromJSON(rj)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.Store.WithTx(r.Context(), func(tx generic.Tx) error {
		return tx.SaveRule(r.Context(), *rule)
	}); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Rules.ToJSON(rule))
}

// ApplyPenalty charges a penalty by hand.
// POST /api/penalties
func (h *Handler) ApplyPenalty(w http.ResponseWriter, r *http.Request) {
	var req ApplyPenaltyRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	d := generic.Today()
	if req.Date != "" {
		var err error
		if d, err = parseDateField("date", req.Date); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
	}
	p, err := h.Penalties.ApplyPenalty(r.Context(), req.InvoiceID, req.RuleID, d, actor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.Metrics.observePenalties(generic.AppliedByAdmin, 1)
	writeJSON(w, http.StatusCreated, toPenaltyDTO(*p))
}

// RunSweep runs the penalty sweep synchronously.
// POST /api/penalties/sweep
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	asOf := generic.Today()
	if req.AsOf != "" {
		var err error
		if asOf, err = parseDateField("as_of", req.AsOf); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
	}
	report, err := h.Scheduler.RunNow(r.Context(), asOf)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepReportDTO(report))
}

// SweepSchedule reports the background sweep loop.
// GET /api/penalties/schedule
func (h *Handler) SweepSchedule(w http.ResponseWriter, r *http.Request) {
	resp := SweepScheduleDTO{
		Enabled:  h.Scheduler.Enabled,
		Interval: h.Scheduler.Interval.String(),
	}
	if next := h.Scheduler.NextRunTime(); !next.IsZero() {
		resp.Running = true
		resp.NextRun = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSweepRuns returns recent sweep runs, newest first.
// GET /api/penalties/sweeps?limit=
func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeDomainError(w, r, &queryError{name: "limit"})
			return
		}
		limit = n
	}
	if h.Runs == nil {
		writeJSON(w, http.StatusOK, []SweepRunDTO{})
		return
	}
	runs, err := h.Runs.ListSweepRuns(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]SweepRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSweepRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// WAIVER HANDLERS
// =============================================================================

// RequestWaiver opens a waiver request against an applied penalty.
// POST /api/waivers
func (h *Handler) RequestWaiver(w http.ResponseWriter, r *http.Request) {
	var req WaiverRequestBody
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	ar, err := h.Waivers.Request(r.Context(), billing.WaiverInput{
		InstitutionID: req.InstitutionID,
		PenaltyID:     req.PenaltyID,
		RequestedBy:   req.RequestedBy,
		RequesterType: generic.RequesterType(req.RequesterType),
		Reason:        req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApprovalRequestDTO(*ar))
}

// ListWaivers returns waiver requests, optionally by status.
// GET /api/waivers?institution_id=&status=
func (h *Handler) ListWaivers(w http.ResponseWriter, r *http.Request) {
	h.listRequests(w, r, h.Waivers.List)
}

// ApproveWaiver approves a pending waiver.
// POST /api/waivers/{id}/approve
func (h *Handler) ApproveWaiver(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Waivers.Approve)
}

// RejectWaiver rejects a pending waiver.
// POST /api/waivers/{id}/reject
func (h *Handler) RejectWaiver(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Waivers.Reject)
}

// =============================================================================
// GRADE CHANGE HANDLERS
// =============================================================================

// RecordResult stores a score.
// POST /api/results
func (h *Handler) RecordResult(w http.ResponseWriter, r *http.Request) {
	var req RecordResultRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	res, err := h.Grades.RecordResult(r.Context(), academics.ResultInput{
		InstitutionID: req.InstitutionID,
		StudentID:     req.StudentID,
		Subject:       req.Subject,
		Score:         req.Score,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResultDTO(*res))
}

// GetResult returns a stored score.
// GET /api/results/{id}
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.Grades.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(*res))
}

// RequestGradeChange opens a grade-change request.
// POST /api/grade-changes
func (h *Handler) RequestGradeChange(w http.ResponseWriter, r *http.Request) {
	var req GradeChangeRequestBody
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	ar, err := h.Grades.Request(r.Context(), academics.GradeChangeInput{
		InstitutionID: req.InstitutionID,
		ResultID:      req.ResultID,
		RequestedBy:   req.RequestedBy,
		Reason:        req.Reason,
		NewScore:      req.NewScore,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApprovalRequestDTO(*ar))
}

// ListGradeChanges returns grade-change requests.
// GET /api/grade-changes?institution_id=&status=
func (h *Handler) ListGradeChanges(w http.ResponseWriter, r *http.Request) {
	h.listRequests(w, r, h.Grades.List)
}

// ApproveGradeChange approves a pending grade change.
// POST /api/grade-changes/{id}/approve
func (h *Handler) ApproveGradeChange(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Grades.Approve)
}

// RejectGradeChange rejects a pending grade change.
// POST /api/grade-changes/{id}/reject
func (h *Handler) RejectGradeChange(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Grades.Reject)
}

// =============================================================================
// SHARED APPROVAL HELPERS
// =============================================================================

type reviewFunc func(ctx context.Context, requestID, reviewerID, notes string) (*generic.ApprovalRequest, error)

type listFunc func(ctx context.Context, institutionID string, status generic.RequestStatus) ([]generic.ApprovalRequest, error)

func (h *Handler) review(w http.ResponseWriter, r *http.Request, fn reviewFunc) {
	var req ReviewRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	ar, err := fn(r.Context(), chi.URLParam(r, "id"), actor(r), req.Notes)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalRequestDTO(*ar))
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request, fn listFunc) {
	inst, err := requireQuery(r, "institution_id")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	reqs, err := fn(r.Context(), inst, generic.RequestStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]ApprovalRequestDTO, len(reqs))
	for i, ar := range reqs {
		dtos[i] = toApprovalRequestDTO(ar)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP statuses. Unexpected errors
// are logged with the request id; their details are not echoed.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	log := logger.FromContext(r.Context())
	switch {
	case status == http.StatusInternalServerError:
		log.Error("request failed", zap.Error(err))
		writeError(w, status, "Internal error", code, nil)
		return
	case generic.IsConflict(err):
		log.Info("request conflicts with ledger state", zap.String("code", code), zap.Error(err))
	case generic.IsClientError(err):
		log.Debug("request rejected", zap.String("code", code), zap.Error(err))
	}
	writeError(w, status, http.StatusText(status), code, err)
}

func classify(err error) (int, string) {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrPeriodLocked):
		return http.StatusConflict, "period_locked"
	case errors.Is(err, generic.ErrDuplicateTransactionReference):
		return http.StatusConflict, "duplicate_transaction_reference"
	case errors.Is(err, generic.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate_request"
	case errors.Is(err, generic.ErrDuplicatePenalty):
		return http.StatusConflict, "duplicate_penalty"
	case errors.Is(err, generic.ErrNotUnlockable):
		return http.StatusConflict, "not_unlockable"
	case errors.Is(err, generic.ErrPeriodOverlap):
		return http.StatusConflict, "period_overlap"
	case errors.Is(err, generic.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, generic.ErrOverAllocation):
		return http.StatusUnprocessableEntity, "over_allocation"
	case errors.Is(err, generic.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, "invalid_amount"
	case errors.Is(err, generic.ErrInvalidPeriod):
		return http.StatusUnprocessableEntity, "invalid_period"
	case errors.Is(err, generic.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
