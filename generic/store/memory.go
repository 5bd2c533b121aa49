// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/fees-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps. Transactions are serialized by txMu and
// run against a private copy of the state that is swapped in on commit, so
// readers never see a half-written transaction and are never blocked by
// one.
type Memory struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state

	logMu sync.Mutex
	audit []generic.AuditRecord
	runs  []generic.SweepRun
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

var (
	_ generic.Store     = (*Memory)(nil)
	_ generic.RunStore  = (*Memory)(nil)
	_ generic.AuditSink = (*Memory)(nil)
)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a copy + swap on success.
func (m *Memory) WithTx(ctx context.Context, fn func(tx generic.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	work := m.st.clone()
	m.mu.RUnlock()

	if err := fn(work); err != nil {
		// Rollback: drop the working copy
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.st = work
	m.mu.Unlock()
	return nil
}

func (m *Memory) read() *state {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st
}

// Committed states are never mutated after the swap, so reads can run
// against the snapshot without holding the lock.

func (m *Memory) GetPeriod(ctx context.Context, id string) (*generic.FinancialPeriod, error) {
	return m.read().GetPeriod(ctx, id)
}

func (m *Memory) ListPeriods(ctx context.Context, institutionID string) ([]generic.FinancialPeriod, error) {
	return m.read().ListPeriods(ctx, institutionID)
}

func (m *Memory) GetInvoice(ctx context.Context, id string) (*generic.Invoice, error) {
	return m.read().GetInvoice(ctx, id)
}

func (m *Memory) ListInvoices(ctx context.Context, filter generic.InvoiceFilter) ([]generic.Invoice, error) {
	return m.read().ListInvoices(ctx, filter)
}

func (m *Memory) GetPayment(ctx context.Context, id string) (*generic.Payment, error) {
	return m.read().GetPayment(ctx, id)
}

func (m *Memory) GetPaymentByReference(ctx context.Context, reference string) (*generic.Payment, error) {
	return m.read().GetPaymentByReference(ctx, reference)
}

func (m *Memory) ListPayments(ctx context.Context, institutionID, studentID string) ([]generic.Payment, error) {
	return m.read().ListPayments(ctx, institutionID, studentID)
}

func (m *Memory) ListAllocations(ctx context.Context, filter generic.AllocationFilter) ([]generic.Allocation, error) {
	return m.read().ListAllocations(ctx, filter)
}

func (m *Memory) GetRule(ctx context.Context, id string) (*generic.PenaltyRule, error) {
	return m.read().GetRule(ctx, id)
}

func (m *Memory) ListRules(ctx context.Context, institutionID string) ([]generic.PenaltyRule, error) {
	return m.read().ListRules(ctx, institutionID)
}

func (m *Memory) GetPenalty(ctx context.Context, id string) (*generic.AppliedPenalty, error) {
	return m.read().GetPenalty(ctx, id)
}

func (m *Memory) ListPenalties(ctx context.Context, filter generic.PenaltyFilter) ([]generic.AppliedPenalty, error) {
	return m.read().ListPenalties(ctx, filter)
}

func (m *Memory) GetRequest(ctx context.Context, id string) (*generic.ApprovalRequest, error) {
	return m.read().GetRequest(ctx, id)
}

func (m *Memory) FindPendingRequest(ctx context.Context, kind generic.RequestKind, targetID string) (*generic.ApprovalRequest, error) {
	return m.read().FindPendingRequest(ctx, kind, targetID)
}

func (m *Memory) ListRequests(ctx context.Context, filter generic.RequestFilter) ([]generic.ApprovalRequest, error) {
	return m.read().ListRequests(ctx, filter)
}

func (m *Memory) GetIntent(ctx context.Context, id string) (*generic.PaymentIntent, error) {
	return m.read().GetIntent(ctx, id)
}

func (m *Memory) GetIntentByReference(ctx context.Context, providerReference string) (*generic.PaymentIntent, error) {
	return m.read().GetIntentByReference(ctx, providerReference)
}

func (m *Memory) GetResult(ctx context.Context, id string) (*generic.Result, error) {
	return m.read().GetResult(ctx, id)
}

// =============================================================================
// AUDIT + SWEEP RUNS - Append-only, outside the transactional state
// =============================================================================

func (m *Memory) Record(_ context.Context, rec generic.AuditRecord) error {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	m.audit = append(m.audit, rec)
	return nil
}

// AuditRecords returns a copy of everything recorded so far.
func (m *Memory) AuditRecords() []generic.AuditRecord {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	return append([]generic.AuditRecord(nil), m.audit...)
}

func (m *Memory) SaveSweepRun(_ context.Context, run generic.SweepRun) error {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

// ListSweepRuns returns the most recent runs first.
func (m *Memory) ListSweepRuns(_ context.Context, limit int) ([]generic.SweepRun, error) {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	out := make([]generic.SweepRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		out = append(out, m.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// STATE - One consistent version of every table; implements generic.Tx
// =============================================================================

type state struct {
	periods     map[string]generic.FinancialPeriod
	invoices    map[string]generic.Invoice
	payments    map[string]generic.Payment
	allocations map[string]generic.Allocation
	rules       map[string]generic.PenaltyRule
	penalties   map[string]generic.AppliedPenalty
	requests    map[string]generic.ApprovalRequest
	intents     map[string]generic.PaymentIntent
	results     map[string]generic.Result
}

func newState() *state {
	return &state{
		periods:     make(map[string]generic.FinancialPeriod),
		invoices:    make(map[string]generic.Invoice),
		payments:    make(map[string]generic.Payment),
		allocations: make(map[string]generic.Allocation),
		rules:       make(map[string]generic.PenaltyRule),
		penalties:   make(map[string]generic.AppliedPenalty),
		requests:    make(map[string]generic.ApprovalRequest),
		intents:     make(map[string]generic.PaymentIntent),
		results:     make(map[string]generic.Result),
	}
}

func cloneMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (s *state) clone() *state {
	return &state{
		periods:     cloneMap(s.periods),
		invoices:    cloneMap(s.invoices),
		payments:    cloneMap(s.payments),
		allocations: cloneMap(s.allocations),
		rules:       cloneMap(s.rules),
		penalties:   cloneMap(s.penalties),
		requests:    cloneMap(s.requests),
		intents:     cloneMap(s.intents),
		results:     cloneMap(s.results),
	}
}

func get[V any](m map[string]V, entity, id string) (*V, error) {
	v, ok := m[id]
	if !ok {
		return nil, generic.NewNotFound(entity, id)
	}
	return &v, nil
}

// --- periods ---

func (s *state) GetPeriod(_ context.Context, id string) (*generic.FinancialPeriod, error) {
	return get(s.periods, "financial_period", id)
}

func (s *state) ListPeriods(_ context.Context, institutionID string) ([]generic.FinancialPeriod, error) {
	var out []generic.FinancialPeriod
	for _, p := range s.periods {
		if p.InstitutionID == institutionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s *state) SavePeriod(_ context.Context, p generic.FinancialPeriod) error {
	s.periods[p.ID] = p
	return nil
}

func (s *state) DeletePeriod(_ context.Context, id string) error {
	if _, ok := s.periods[id]; !ok {
		return generic.NewNotFound("financial_period", id)
	}
	delete(s.periods, id)
	return nil
}

// --- invoices ---

func (s *state) GetInvoice(_ context.Context, id string) (*generic.Invoice, error) {
	return get(s.invoices, "invoice", id)
}

func (s *state) ListInvoices(_ context.Context, f generic.InvoiceFilter) ([]generic.Invoice, error) {
	var out []generic.Invoice
	for _, inv := range s.invoices {
		if f.InstitutionID != "" && inv.InstitutionID != f.InstitutionID {
			continue
		}
		if f.StudentID != "" && inv.StudentID != f.StudentID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) SaveInvoice(_ context.Context, inv generic.Invoice) error {
	s.invoices[inv.ID] = inv
	return nil
}

// --- payments + allocations ---

func (s *state) GetPayment(_ context.Context, id string) (*generic.Payment, error) {
	return get(s.payments, "payment", id)
}

func (s *state) GetPaymentByReference(_ context.Context, reference string) (*generic.Payment, error) {
	for _, p := range s.payments {
		if p.TransactionReference == reference {
			return &p, nil
		}
	}
	return nil, generic.NewNotFound("payment", reference)
}

func (s *state) ListPayments(_ context.Context, institutionID, studentID string) ([]generic.Payment, error) {
	var out []generic.Payment
	for _, p := range s.payments {
		if p.InstitutionID == institutionID && (studentID == "" || p.StudentID == studentID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) SavePayment(_ context.Context, p generic.Payment) error {
	if p.TransactionReference != "" {
		for _, existing := range s.payments {
			if existing.ID != p.ID && existing.TransactionReference == p.TransactionReference {
				return &generic.DuplicateReferenceError{Reference: p.TransactionReference, ExistingID: existing.ID}
			}
		}
	}
	s.payments[p.ID] = p
	return nil
}

func (s *state) ListAllocations(_ context.Context, f generic.AllocationFilter) ([]generic.Allocation, error) {
	var out []generic.Allocation
	for _, a := range s.allocations {
		if f.PaymentID != "" && a.PaymentID != f.PaymentID {
			continue
		}
		if f.InvoiceID != "" && a.InvoiceID != f.InvoiceID {
			continue
		}
		if a.Voided && !f.IncludeVoided {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) SaveAllocation(_ context.Context, a generic.Allocation) error {
	s.allocations[a.ID] = a
	return nil
}

// --- penalties ---

func (s *state) GetRule(_ context.Context, id string) (*generic.PenaltyRule, error) {
	return get(s.rules, "penalty_rule", id)
}

func (s *state) ListRules(_ context.Context, institutionID string) ([]generic.PenaltyRule, error) {
	var out []generic.PenaltyRule
	for _, r := range s.rules {
		if r.InstitutionID == institutionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) SaveRule(_ context.Context, r generic.PenaltyRule) error {
	s.rules[r.ID] = r
	return nil
}

func (s *state) GetPenalty(_ context.Context, id string) (*generic.AppliedPenalty, error) {
	return get(s.penalties, "applied_penalty", id)
}

func (s *state) ListPenalties(_ context.Context, f generic.PenaltyFilter) ([]generic.AppliedPenalty, error) {
	var out []generic.AppliedPenalty
	for _, p := range s.penalties {
		if f.InstitutionID != "" && p.InstitutionID != f.InstitutionID {
			continue
		}
		if f.StudentID != "" && p.StudentID != f.StudentID {
			continue
		}
		if f.InvoiceID != "" && p.InvoiceID != f.InvoiceID {
			continue
		}
		if f.AppliedDate != nil && !p.AppliedDate.Equal(*f.AppliedDate) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AppliedDate.Equal(out[j].AppliedDate) {
			return out[i].AppliedDate.Before(out[j].AppliedDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) SavePenalty(_ context.Context, p generic.AppliedPenalty) error {
	if !p.Waived {
		for _, existing := range s.penalties {
			if existing.ID != p.ID && !existing.Waived &&
				existing.InvoiceID == p.InvoiceID && existing.AppliedDate.Equal(p.AppliedDate) {
				return generic.ErrDuplicatePenalty
			}
		}
	}
	s.penalties[p.ID] = p
	return nil
}

// --- approval requests ---

func (s *state) GetRequest(_ context.Context, id string) (*generic.ApprovalRequest, error) {
	r, err := get(s.requests, "approval_request", id)
	if err != nil {
		return nil, err
	}
	r.Payload = copyPayload(r.Payload)
	return r, nil
}

func (s *state) FindPendingRequest(_ context.Context, kind generic.RequestKind, targetID string) (*generic.ApprovalRequest, error) {
	for _, r := range s.requests {
		if r.Kind == kind && r.TargetID == targetID && r.Status == generic.RequestPending {
			r.Payload = copyPayload(r.Payload)
			return &r, nil
		}
	}
	return nil, nil
}

func (s *state) ListRequests(_ context.Context, f generic.RequestFilter) ([]generic.ApprovalRequest, error) {
	var out []generic.ApprovalRequest
	for _, r := range s.requests {
		if f.InstitutionID != "" && r.InstitutionID != f.InstitutionID {
			continue
		}
		if f.Kind != "" && r.Kind != f.Kind {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		r.Payload = copyPayload(r.Payload)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) SaveRequest(_ context.Context, r generic.ApprovalRequest) error {
	r.Payload = copyPayload(r.Payload)
	s.requests[r.ID] = r
	return nil
}

// copyPayload keeps callers from mutating a stored request's payload
// outside a transaction.
func copyPayload(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// --- payment intents ---

func (s *state) GetIntent(_ context.Context, id string) (*generic.PaymentIntent, error) {
	return get(s.intents, "payment_intent", id)
}

func (s *state) GetIntentByReference(_ context.Context, ref string) (*generic.PaymentIntent, error) {
	for _, i := range s.intents {
		if i.ProviderReference == ref {
			return &i, nil
		}
	}
	return nil, generic.NewNotFound("payment_intent", ref)
}

func (s *state) SaveIntent(_ context.Context, i generic.PaymentIntent) error {
	if existing, ok := s.intents[i.ID]; ok && existing.Status.IsTerminal() {
		return &generic.TransitionError{Entity: "payment_intent", ID: i.ID, From: string(existing.Status), To: string(i.Status)}
	}
	if i.ProviderReference != "" {
		for _, existing := range s.intents {
			if existing.ID != i.ID && existing.ProviderReference == i.ProviderReference {
				return &generic.DuplicateReferenceError{Reference: i.ProviderReference, ExistingID: existing.ID}
			}
		}
	}
	s.intents[i.ID] = i
	return nil
}

// --- results ---

func (s *state) GetResult(_ context.Context, id string) (*generic.Result, error) {
	return get(s.results, "result", id)
}

func (s *state) SaveResult(_ context.Context, r generic.Result) error {
	s.results[r.ID] = r
	return nil
}
