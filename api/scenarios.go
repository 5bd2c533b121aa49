/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	fees data for demos and manual testing. Each scenario creates its own
	institution, so loading one never disturbs existing data.

AVAILABLE SCENARIOS:

	overdue-term-fees:  Two overdue invoices, a daily flat late fee, one sweep
	partial-payments:   Three monthly instalments paid oldest-first, one overpayment
	locked-period:      A locked January, an open February
	grade-appeal:       A recorded score with a pending grade change

HOW SCENARIOS WORK:
 1. Generate a fresh institution id ("demo-" + short uuid)
 2. Create rules, periods, invoices and payments through the domain services
 3. Return the institution id so the client can browse it

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "overdue-term-fees"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Write a loader func(ctx, h, institutionID) error
 3. Register it in scenarioLoaders

SEE ALSO:
  - handlers.go: The endpoints the scenarios mirror
  - factory/penalty.go: Penalty rule presets
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/warp/fees-engine/academics"
	"github.com/warp/fees-engine/billing"
	"github.com/warp/fees-engine/factory"
	"github.com/warp/fees-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "overdue-term-fees",
		Name:        "Overdue Term Fees",
		Description: "Two overdue invoices with a 50.00 daily flat late fee, swept once",
		Category:    "penalties",
	},
	{
		ID:          "partial-payments",
		Name:        "Partial Payments",
		Description: "Three invoices paid down oldest-first, leaving an unallocated excess",
		Category:    "payments",
	},
	{
		ID:          "locked-period",
		Name:        "Locked Period",
		Description: "January locked after audit, February still open",
		Category:    "periods",
	},
	{
		ID:          "grade-appeal",
		Name:        "Grade Appeal",
		Description: "A chemistry score with a pending grade-change request",
		Category:    "academics",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, inst string) error

var scenarioLoaders = map[string]scenarioLoader{
	"overdue-term-fees": loadOverdueTermFees,
	"partial-payments":  loadPartialPayments,
	"locked-period":     loadLockedPeriod,
	"grade-appeal":      loadGradeAppeal,
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario into a new institution.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		h.writeDomainError(w, r, fmt.Errorf("%w: unknown scenario %q", generic.ErrInvalidInput, req.ScenarioID))
		return
	}

	inst := "demo-" + uuid.NewString()[:8]
	if err := load(r.Context(), h, inst); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"status":         "loaded",
		"scenario":       req.ScenarioID,
		"institution_id": inst,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const demoActor = "demo-bursar"

func demoInvoice(ctx context.Context, h *Handler, inst, student, desc, amount string, due generic.Date) (*generic.Invoice, error) {
	inv, err := h.Ledger.CreateInvoice(ctx, billing.InvoiceInput{
		InstitutionID: inst,
		StudentID:     student,
		Description:   desc,
		Amount:        generic.MustParseDecimal(amount),
		DueDate:       due,
	})
	if err != nil {
		return nil, err
	}
	return h.Ledger.PostInvoice(ctx, inv.ID, demoActor)
}

func loadOverdueTermFees(ctx context.Context, h *Handler, inst string) error {
	today := generic.Today()
	rule, err := h.Rules.ParsePenaltyRule(factory.FlatFeeJSON(uuid.NewString(), inst, 3, "50"))
	if err != nil {
		return err
	}
	if err := h.Store.WithTx(ctx, func(tx generic.Tx) error {
		return tx.SaveRule(ctx, *rule)
	}); err != nil {
		return err
	}

	if _, err := demoInvoice(ctx, h, inst, "stu-amina", "Term 1 tuition", "12000", today.AddDays(-10)); err != nil {
		return err
	}
	if _, err := demoInvoice(ctx, h, inst, "stu-brian", "Boarding fee", "4500", today.AddDays(-5)); err != nil {
		return err
	}
	// Due in the future: examined but not charged.
	if _, err := demoInvoice(ctx, h, inst, "stu-brian", "Term 2 tuition", "12000", today.AddDays(20)); err != nil {
		return err
	}

	_, err = h.Scheduler.RunNow(ctx, today)
	return err
}

func loadPartialPayments(ctx context.Context, h *Handler, inst string) error {
	today := generic.Today()
	for i, amount := range []string{"3000", "2500", "4000"} {
		desc := fmt.Sprintf("Instalment %d", i+1)
		if _, err := demoInvoice(ctx, h, inst, "stu-chege", desc, amount, today.AddMonths(i-2)); err != nil {
			return err
		}
	}
	payments := []struct{ ref, amount string }{
		{"BANK-0001", "4000"},
		{"BANK-0002", "6000"},
	}
	for _, p := range payments {
		if _, err := h.Ledger.RecordPayment(ctx, billing.PaymentInput{
			InstitutionID: inst,
			StudentID:     "stu-chege",
			Amount:        generic.MustParseDecimal(p.amount),
			Method:        generic.MethodBank,
			Reference:     inst + "-" + p.ref,
			Confirmed:     true,
			ActorID:       demoActor,
		}); err != nil {
			return err
		}
	}
	return nil
}

func loadLockedPeriod(ctx context.Context, h *Handler, inst string) error {
	year := generic.Today().Year() - 1
	jan, err := h.Guard.CreatePeriod(ctx, generic.PeriodInput{
		InstitutionID: inst,
		Name:          fmt.Sprintf("January %d", year),
		Type:          generic.PeriodMonth,
		StartDate:     generic.StartOfMonth(year, 1),
		EndDate:       generic.EndOfMonth(year, 1),
		CanUnlock:     true,
	})
	if err != nil {
		return err
	}
	if _, err := h.Guard.CreatePeriod(ctx, generic.PeriodInput{
		InstitutionID: inst,
		Name:          fmt.Sprintf("February %d", year),
		Type:          generic.PeriodMonth,
		StartDate:     generic.StartOfMonth(year, 2),
		EndDate:       generic.EndOfMonth(year, 2),
	}); err != nil {
		return err
	}

	if _, err := h.Ledger.RecordPayment(ctx, billing.PaymentInput{
		InstitutionID: inst,
		StudentID:     "stu-dalia",
		Amount:        generic.MustParseDecimal("1500"),
		Method:        generic.MethodCash,
		Reference:     inst + "-RCPT-0001",
		PaidOn:        generic.NewDate(year, 1, 15),
		Confirmed:     true,
		ActorID:       demoActor,
	}); err != nil {
		return err
	}
	_, err = h.Guard.Lock(ctx, jan.ID, "month-end audit complete", demoActor)
	return err
}

func loadGradeAppeal(ctx context.Context, h *Handler, inst string) error {
	res, err := h.Grades.RecordResult(ctx, academics.ResultInput{
		InstitutionID: inst,
		StudentID:     "stu-esther",
		Subject:       "Chemistry",
		Score:         generic.MustParseDecimal("58"),
	})
	if err != nil {
		return err
	}
	_, err = h.Grades.Request(ctx, academics.GradeChangeInput{
		InstitutionID: inst,
		ResultID:      res.ID,
		RequestedBy:   "teacher-odhiambo",
		Reason:        "paper 2 was not counted",
		NewScore:      generic.MustParseDecimal("72"),
	})
	return err
}
