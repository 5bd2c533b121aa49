package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/fees-engine/generic"
)

// =============================================================================
// PENALTY AMOUNT
// =============================================================================

// PenaltyAmount computes one day's charge for a rule. Flat rules charge
// Rate; per-day-percentage rules charge Rate% of the outstanding amount.
// MaxAmount, when set, caps the row.
func PenaltyAmount(rule generic.PenaltyRule, outstanding decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch rule.Type {
	case generic.PenaltyFlat:
		amount = rule.Rate
	case generic.PenaltyPerDayPercentage:
		amount = outstanding.Mul(rule.Rate).Div(decimal.NewFromInt(100))
	default:
		return decimal.Zero
	}
	if rule.MaxAmount.Valid && amount.GreaterThan(rule.MaxAmount.Decimal) {
		amount = rule.MaxAmount.Decimal
	}
	return generic.RoundMoney(amount)
}

// ActiveRule returns the institution's oldest active rule, or nil.
func ActiveRule(rules []generic.PenaltyRule) *generic.PenaltyRule {
	for i := range rules {
		if rules[i].Active {
			return &rules[i]
		}
	}
	return nil
}

// =============================================================================
// PENALTY ENGINE
// =============================================================================

// PenaltyEngine charges late-payment penalties against overdue invoices.
//
// A sweep is safe to re-run: for each invoice at most one penalty row is
// written per applied date, whether the sweep runs once or ten times that
// day, and whether or not an earlier row for the day was since waived.
type PenaltyEngine struct {
	ledger      *Ledger
	runs        generic.RunStore
	emitter     *generic.Emitter
	log         *zap.Logger
	concurrency int
}

// PenaltyOption configures a PenaltyEngine.
type PenaltyOption func(*PenaltyEngine)

// WithRunStore records every sweep as a SweepRun.
func WithRunStore(runs generic.RunStore) PenaltyOption {
	return func(e *PenaltyEngine) { e.runs = runs }
}

// WithConcurrency bounds how many invoices a sweep processes in parallel.
func WithConcurrency(n int) PenaltyOption {
	return func(e *PenaltyEngine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func NewPenaltyEngine(ledger *Ledger, opts ...PenaltyOption) *PenaltyEngine {
	e := &PenaltyEngine{
		ledger:      ledger,
		emitter:     ledger.emitter,
		log:         ledger.log.Named("penalties"),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Skip reasons reported by a sweep.
const (
	SkipAlreadyApplied = "already_applied"
	SkipWithinGrace    = "within_grace"
	SkipSettled        = "settled"
	SkipNoRule         = "no_active_rule"
	SkipNotPosted      = "not_posted"
	SkipZeroAmount     = "zero_amount"
)

// SweepReport summarizes one sweep.
type SweepReport struct {
	RunID     string                   `json:"run_id"`
	AsOf      generic.Date             `json:"as_of"`
	Examined  int                      `json:"examined"`
	Applied   []generic.AppliedPenalty `json:"applied"`
	Skipped   map[string]int           `json:"skipped"`
	Failures  map[string]string        `json:"failures"`
	StartedAt time.Time                `json:"started_at"`
	Duration  time.Duration            `json:"duration"`
}

// Sweep charges every overdue posted invoice for asOf. A failure on one
// invoice is logged and recorded in the report; the other invoices are
// still processed. Only context cancellation aborts the sweep.
func (e *PenaltyEngine) Sweep(ctx context.Context, asOf generic.Date) (*SweepReport, error) {
	started := e.ledger.now().UTC()
	report := &SweepReport{
		RunID:     uuid.NewString(),
		AsOf:      asOf,
		Skipped:   make(map[string]int),
		Failures:  make(map[string]string),
		StartedAt: started,
	}
	e.saveRun(ctx, report, "running", nil)

	invoices, err := e.ledger.store.ListInvoices(ctx, generic.InvoiceFilter{Status: generic.InvoicePosted})
	if err != nil {
		e.saveRun(ctx, report, "failed", err)
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	report.Examined = len(invoices)

	// Rules are resolved once per institution for the whole sweep.
	rules := make(map[string]*generic.PenaltyRule)
	for _, inv := range invoices {
		if _, ok := rules[inv.InstitutionID]; ok {
			continue
		}
		list, err := e.ledger.store.ListRules(ctx, inv.InstitutionID)
		if err != nil {
			e.saveRun(ctx, report, "failed", err)
			return nil, fmt.Errorf("failed to load penalty rules: %w", err)
		}
		rules[inv.InstitutionID] = ActiveRule(list)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, inv := range invoices {
		rule := rules[inv.InstitutionID]
		if rule == nil {
			mu.Lock()
			report.Skipped[SkipNoRule]++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			applied, skip, err := e.apply(gctx, inv.ID, *rule, asOf, generic.AppliedBySystem, "", true)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failures[inv.ID] = err.Error()
				e.log.Warn("penalty sweep failed for invoice",
					zap.String("invoice_id", inv.ID),
					zap.String("institution_id", inv.InstitutionID),
					zap.Error(err))
			case skip != "":
				report.Skipped[skip]++
			default:
				report.Applied = append(report.Applied, *applied)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		e.saveRun(ctx, report, "failed", err)
		return report, err
	}
	report.Duration = e.ledger.now().UTC().Sub(started)
	e.saveRun(ctx, report, "completed", nil)

	for _, ap := range report.Applied {
		e.notifyApplied(ctx, ap)
	}

	e.log.Info("penalty sweep completed",
		zap.String("run_id", report.RunID),
		zap.String("as_of", asOf.String()),
		zap.Int("examined", report.Examined),
		zap.Int("applied", len(report.Applied)),
		zap.Int("failed", len(report.Failures)))
	return report, nil
}

// ApplyPenalty charges one invoice by hand. Unlike the sweep it ignores
// the rule's grace days, and a second charge for the same day fails with
// ErrDuplicatePenalty instead of being skipped.
func (e *PenaltyEngine) ApplyPenalty(ctx context.Context, invoiceID, ruleID string, date generic.Date, actorID string) (*generic.AppliedPenalty, error) {
	rule, err := e.ledger.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if date.IsZero() {
		date = e.ledger.today()
	}

	applied, skip, err := e.apply(ctx, invoiceID, *rule, date, generic.AppliedByAdmin, actorID, false)
	if err != nil {
		return nil, err
	}
	switch skip {
	case "":
	case SkipAlreadyApplied:
		return nil, generic.ErrDuplicatePenalty
	default:
		return nil, fmt.Errorf("%w: penalty not applicable (%s)", generic.ErrInvalidInput, skip)
	}

	e.notifyApplied(ctx, *applied)
	return applied, nil
}

// apply charges one invoice for one day in one transaction.
func (e *PenaltyEngine) apply(
	ctx context.Context,
	invoiceID string,
	rule generic.PenaltyRule,
	date generic.Date,
	by generic.AppliedBy,
	actorID string,
	enforceGrace bool,
) (*generic.AppliedPenalty, string, error) {
	inv, err := e.ledger.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, "", err
	}
	if rule.InstitutionID != inv.InstitutionID {
		return nil, "", fmt.Errorf("%w: rule %s belongs to another institution", generic.ErrInvalidInput, rule.ID)
	}

	var (
		applied *generic.AppliedPenalty
		skip    string
	)
	err = e.ledger.WithStudent(ctx, inv.InstitutionID, inv.StudentID, func(tx generic.Tx) error {
		cur, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if cur.Status != generic.InvoicePosted {
			skip = SkipNotPosted
			return nil
		}

		existing, err := tx.ListPenalties(ctx, generic.PenaltyFilter{InvoiceID: cur.ID, AppliedDate: &date})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			skip = SkipAlreadyApplied
			return nil
		}

		days := generic.DaysBetween(cur.DueDate, date)
		if enforceGrace && days <= rule.GraceDays {
			skip = SkipWithinGrace
			return nil
		}
		if days < 0 {
			days = 0
		}

		outstanding, err := generic.Outstanding(ctx, tx, *cur)
		if err != nil {
			return err
		}
		if !outstanding.IsPositive() {
			skip = SkipSettled
			return nil
		}

		if err := e.ledger.guard.Check(ctx, tx, cur.InstitutionID, date); err != nil {
			return err
		}

		amount := PenaltyAmount(rule, outstanding)
		if !amount.IsPositive() {
			skip = SkipZeroAmount
			return nil
		}

		ap := generic.AppliedPenalty{
			ID:            uuid.NewString(),
			InstitutionID: cur.InstitutionID,
			InvoiceID:     cur.ID,
			StudentID:     cur.StudentID,
			PenaltyRuleID: rule.ID,
			Amount:        amount,
			DaysOverdue:   days,
			AppliedDate:   date,
			AppliedBy:     by,
			ActorID:       actorID,
			CreatedAt:     e.ledger.now().UTC(),
		}
		if err := tx.SavePenalty(ctx, ap); err != nil {
			if errors.Is(err, generic.ErrDuplicatePenalty) {
				skip = SkipAlreadyApplied
				return nil
			}
			return err
		}
		applied = &ap
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return applied, skip, nil
}

func (e *PenaltyEngine) notifyApplied(ctx context.Context, ap generic.AppliedPenalty) {
	e.emitter.Audit(ctx, generic.AuditRecord{
		Action:        "penalty.applied",
		EntityType:    "applied_penalty",
		EntityID:      ap.ID,
		InstitutionID: ap.InstitutionID,
		ActorID:       ap.ActorID,
		Metadata: map[string]any{
			"invoice_id":   ap.InvoiceID,
			"amount":       ap.Amount.StringFixed(generic.MoneyPlaces),
			"applied_date": ap.AppliedDate.String(),
			"applied_by":   string(ap.AppliedBy),
		},
	})
	e.emitter.Notify(ctx, generic.Event{
		Type:          generic.EventPenaltyApplied,
		InstitutionID: ap.InstitutionID,
		Payload: map[string]any{
			"penalty_id":   ap.ID,
			"invoice_id":   ap.InvoiceID,
			"student_id":   ap.StudentID,
			"amount":       ap.Amount.StringFixed(generic.MoneyPlaces),
			"days_overdue": ap.DaysOverdue,
			"applied_date": ap.AppliedDate.String(),
		},
	})
}

func (e *PenaltyEngine) saveRun(ctx context.Context, r *SweepReport, status string, runErr error) {
	if e.runs == nil {
		return
	}
	run := generic.SweepRun{
		ID:        r.RunID,
		AsOf:      r.AsOf,
		Status:    status,
		Examined:  r.Examined,
		Applied:   len(r.Applied),
		Failed:    len(r.Failures),
		StartedAt: r.StartedAt,
	}
	for _, n := range r.Skipped {
		run.Skipped += n
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if status != "running" {
		at := e.ledger.now().UTC()
		run.CompletedAt = &at
	}
	if err := e.runs.SaveSweepRun(ctx, run); err != nil {
		e.log.Warn("failed to save sweep run", zap.String("run_id", r.RunID), zap.Error(err))
	}
}
