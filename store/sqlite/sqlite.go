/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.Store, generic.RunStore and generic.AuditSink using
  SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.Store:     Ledger tables + WithTx
  generic.RunStore:  Penalty sweep history
  generic.AuditSink: Append-only audit_log table

STORE-LEVEL GUARDS:
  The uniqueness rules the ledger relies on are enforced by the schema,
  not only by callers:
  - payments.transaction_reference UNIQUE
  - payment_intents.provider_reference UNIQUE
  - idx_unique_active_penalty: one non-waived penalty per
    (invoice_id, applied_date), a partial unique index
  - SaveIntent refuses to overwrite a terminal intent

KEY TABLES:
  financial_periods:   Accounting periods per institution
  invoices:            Receivables
  payments:            Money received
  allocations:         Payment → invoice assignments (voided, never deleted)
  penalty_rules:       Late-payment rules per institution
  applied_penalties:   One row per (invoice, day) charged
  approval_requests:   Waiver and grade-change requests
  payment_intents:     Mobile-money reconciliation anchors
  results:             Student scores (grade-change target)
  sweep_runs:          Penalty sweep history
  audit_log:           Append-only state transition trail

CONCURRENCY:
  Writers (WithTx, SaveSweepRun, Record) are serialized on a mutex since
  SQLite allows one writer at a time. Plain reads on a file database use
  their own pooled connection and never wait for an open transaction.
  A ":memory:" database lives on a single connection, so there reads
  take the read side of the same mutex.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

ENCODING:
  Money is stored as decimal TEXT (never REAL), calendar dates as
  YYYY-MM-DD, timestamps as fixed-width RFC3339 with nanoseconds.

USAGE:
  store, err := sqlite.New("./data/fees.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := billing.NewLedger(store, guard, emitter, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/fees-engine/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	memory bool
	q      queries
}

var (
	_ generic.Store     = (*Store)(nil)
	_ generic.RunStore  = (*Store)(nil)
	_ generic.AuditSink = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	memory := dbPath == ":memory:"
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	if memory {
		dsn = dbPath + "?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, memory: memory, q: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// lock serializes writers and returns the matching unlock.
func (s *Store) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

// rlock is a no-op for file databases.
func (s *Store) rlock() func() {
	if !s.memory {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS financial_periods (
		id TEXT PRIMARY KEY,
		institution_id TEXT NOT NULL,
		name TEXT NOT NULL,
		period_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		is_locked INTEGER NOT NULL DEFAULT 0,
		locked_at TEXT,
		locked_by TEXT,
		lock_reason TEXT,
		can_unlock INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_periods_institution_range
		ON financial_periods(institution_id, start_date, end_date);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		institution_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		description TEXT,
		total_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		due_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		posted_at TEXT,
		cancelled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_student
		ON invoices(institution_id, student_id, due_date);
	CREATE INDEX IF NOT EXISTS idx_invoices_status
		ON invoices(status, due_date);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		institution_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		transaction_reference TEXT NOT NULL UNIQUE,
		paid_on TEXT NOT NULL,
		created_at TEXT NOT NULL,
		confirmed_at TEXT,
		reversed_at TEXT,
		reversed_by TEXT,
		reversal_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_payments_student
		ON payments(institution_id, student_id);

	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		amount TEXT NOT NULL,
		voided INTEGER NOT NULL DEFAULT 0,
		voided_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_payment ON allocations(payment_id);
	CREATE INDEX IF NOT EXISTS idx_allocations_invoice ON allocations(invoice_id);

	CREATE TABLE IF NOT EXISTS penalty_rules (
		id TEXT PRIMARY KEY,
		institution_id TEXT NOT NULL,
		name TEXT NOT NULL,
		rule_type TEXT NOT NULL,
		grace_days INTEGER NOT NULL DEFAULT 0,
		rate TEXT NOT NULL,
		max_amount TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS applied_penalties (
		id TEXT PRIMARY KEY,
		institution_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		student_id TEXT NOT NULL,
		penalty_rule_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		days_overdue INTEGER NOT NULL,
		applied_date TEXT NOT NULL,
		applied_by TEXT NOT NULL,
		actor_id TEXT,
		waived INTEGER NOT NULL DEFAULT 0,
		waived_at TEXT,
		waived_by TEXT,
		waiver_reason TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: applying penalties is idempotent per invoice and day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_active_penalty
		ON applied_penalties(invoice_id, applied_date)
		WHERE waived = 0;
	CREATE INDEX IF NOT EXISTS idx_penalties_student
		ON applied_penalties(institution_id, student_id);

	CREATE TABLE IF NOT EXISTS approval_requests (
		id TEXT PRIMARY KEY,
		institution_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		requester_type TEXT NOT NULL,
		reason TEXT,
		payload_json TEXT,
		status TEXT NOT NULL,
		reviewed_by TEXT,
		reviewed_at TEXT,
		review_notes TEXT,
		created_at TEXT NOT NULL
	);

	-- At most one pending request per target and kind
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_pending_request
		ON approval_requests(kind, target_id)
		WHERE status = 'pending';

	CREATE TABLE IF NOT EXISTS payment_intents (
		id TEXT PRIMARY KEY,
		institution_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		phone TEXT NOT NULL,
		provider_reference TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		result_description TEXT,
		receipt_code TEXT,
		payment_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		terminal_at TEXT
	);

	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		institution_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		score TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sweep_runs (
		id TEXT PRIMARY KEY,
		as_of TEXT NOT NULL,
		status TEXT NOT NULL,
		examined INTEGER NOT NULL DEFAULT 0,
		applied INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	-- Append-only: no UPDATE or DELETE is ever issued against this table
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		institution_id TEXT,
		actor_id TEXT,
		metadata_json TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.Store interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx generic.Tx) error) error {
	defer s.lock()()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reads outside a transaction go straight to the pool. WAL gives them the
// last committed snapshot while a writer is open; only the single-connection
// :memory: database has to queue them behind WithTx.

func (s *Store) GetPeriod(ctx context.Context, id string) (*generic.FinancialPeriod, error) {
	defer s.rlock()()
	return s.q.GetPeriod(ctx, id)
}

func (s *Store) ListPeriods(ctx context.Context, institutionID string) ([]generic.FinancialPeriod, error) {
	defer s.rlock()()
	return s.q.ListPeriods(ctx, institutionID)
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*generic.Invoice, error) {
	defer s.rlock()()
	return s.q.GetInvoice(ctx, id)
}

func (s *Store) ListInvoices(ctx context.Context, filter generic.InvoiceFilter) ([]generic.Invoice, error) {
	defer s.rlock()()
	return s.q.ListInvoices(ctx, filter)
}

func (s *Store) GetPayment(ctx context.Context, id string) (*generic.Payment, error) {
	defer s.rlock()()
	return s.q.GetPayment(ctx, id)
}

func (s *Store) GetPaymentByReference(ctx context.Context, reference string) (*generic.Payment, error) {
	defer s.rlock()()
	return s.q.GetPaymentByReference(ctx, reference)
}

func (s *Store) ListPayments(ctx context.Context, institutionID, studentID string) ([]generic.Payment, error) {
	defer s.rlock()()
	return s.q.ListPayments(ctx, institutionID, studentID)
}

func (s *Store) ListAllocations(ctx context.Context, filter generic.AllocationFilter) ([]generic.Allocation, error) {
	defer s.rlock()()
	return s.q.ListAllocations(ctx, filter)
}

func (s *Store) GetRule(ctx context.Context, id string) (*generic.PenaltyRule, error) {
	defer s.rlock()()
	return s.q.GetRule(ctx, id)
}

func (s *Store) ListRules(ctx context.Context, institutionID string) ([]generic.PenaltyRule, error) {
	defer s.rlock()()
	return s.q.ListRules(ctx, institutionID)
}

func (s *Store) GetPenalty(ctx context.Context, id string) (*generic.AppliedPenalty, error) {
	defer s.rlock()()
	return s.q.GetPenalty(ctx, id)
}

func (s *Store) ListPenalties(ctx context.Context, filter generic.PenaltyFilter) ([]generic.AppliedPenalty, error) {
	defer s.rlock()()
	return s.q.ListPenalties(ctx, filter)
}

func (s *Store) GetRequest(ctx context.Context, id string) (*generic.ApprovalRequest, error) {
	defer s.rlock()()
	return s.q.GetRequest(ctx, id)
}

func (s *Store) FindPendingRequest(ctx context.Context, kind generic.RequestKind, targetID string) (*generic.ApprovalRequest, error) {
	defer s.rlock()()
	return s.q.FindPendingRequest(ctx, kind, targetID)
}

func (s *Store) ListRequests(ctx context.Context, filter generic.RequestFilter) ([]generic.ApprovalRequest, error) {
	defer s.rlock()()
	return s.q.ListRequests(ctx, filter)
}

func (s *Store) GetIntent(ctx context.Context, id string) (*generic.PaymentIntent, error) {
	defer s.rlock()()
	return s.q.GetIntent(ctx, id)
}

func (s *Store) GetIntentByReference(ctx context.Context, providerReference string) (*generic.PaymentIntent, error) {
	defer s.rlock()()
	return s.q.GetIntentByReference(ctx, providerReference)
}

func (s *Store) GetResult(ctx context.Context, id string) (*generic.Result, error) {
	defer s.rlock()()
	return s.q.GetResult(ctx, id)
}

// =============================================================================
// QUERIES - Shared by *sql.DB and *sql.Tx; implements generic.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db querier
}

type scanner interface {
	Scan(dest ...any) error
}

// --- financial periods ---

const periodColumns = `id, institution_id, name, period_type, start_date, end_date,
	is_locked, locked_at, locked_by, lock_reason, can_unlock, created_at`

func scanPeriod(row scanner) (generic.FinancialPeriod, error) {
	var (
		p                     generic.FinancialPeriod
		start, end, createdAt string
		lockedAt              sql.NullString
		lockedBy, reason      sql.NullString
	)
	err := row.Scan(&p.ID, &p.InstitutionID, &p.Name, &p.Type, &start, &end,
		&p.IsLocked, &lockedAt, &lockedBy, &reason, &p.CanUnlock, &createdAt)
	if err != nil {
		return p, err
	}
	p.StartDate = parseDate(start)
	p.EndDate = parseDate(end)
	p.LockedAt = parseTimePtr(lockedAt)
	p.LockedBy = lockedBy.String
	p.LockReason = reason.String
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

func (q queries) GetPeriod(ctx context.Context, id string) (*generic.FinancialPeriod, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM financial_periods WHERE id = ?`, id)
	p, err := scanPeriod(row)
	if err != nil {
		return nil, notFoundOr(err, "financial_period", id)
	}
	return &p, nil
}

func (q queries) ListPeriods(ctx context.Context, institutionID string) ([]generic.FinancialPeriod, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+periodColumns+` FROM financial_periods WHERE institution_id = ? ORDER BY start_date ASC`,
		institutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var out []generic.FinancialPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q queries) SavePeriod(ctx context.Context, p generic.FinancialPeriod) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO financial_periods (`+periodColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_locked = excluded.is_locked,
			locked_at = excluded.locked_at,
			locked_by = excluded.locked_by,
			lock_reason = excluded.lock_reason,
			can_unlock = excluded.can_unlock
	`,
		p.ID, p.InstitutionID, p.Name, p.Type, formatDate(p.StartDate), formatDate(p.EndDate),
		p.IsLocked, formatTimePtr(p.LockedAt), nullString(p.LockedBy), nullString(p.LockReason),
		p.CanUnlock, formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save period: %w", err)
	}
	return nil
}

func (q queries) DeletePeriod(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM financial_periods WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete period: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NewNotFound("financial_period", id)
	}
	return nil
}

// --- invoices ---

const invoiceColumns = `id, institution_id, student_id, description, total_amount, status,
	due_date, created_at, posted_at, cancelled_at`

func scanInvoice(row scanner) (generic.Invoice, error) {
	var (
		inv                   generic.Invoice
		description           sql.NullString
		total, due, createdAt string
		postedAt, cancelledAt sql.NullString
	)
	err := row.Scan(&inv.ID, &inv.InstitutionID, &inv.StudentID, &description, &total, &inv.Status,
		&due, &createdAt, &postedAt, &cancelledAt)
	if err != nil {
		return inv, err
	}
	inv.Description = description.String
	if inv.TotalAmount, err = parseDecimal(total); err != nil {
		return inv, err
	}
	inv.DueDate = parseDate(due)
	inv.CreatedAt = parseTime(createdAt)
	inv.PostedAt = parseTimePtr(postedAt)
	inv.CancelledAt = parseTimePtr(cancelledAt)
	return inv, nil
}

func (q queries) GetInvoice(ctx context.Context, id string) (*generic.Invoice, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, notFoundOr(err, "invoice", id)
	}
	return &inv, nil
}

func (q queries) ListInvoices(ctx context.Context, f generic.InvoiceFilter) ([]generic.Invoice, error) {
	where, args := whereClause(
		cond{"institution_id", f.InstitutionID},
		cond{"student_id", f.StudentID},
		cond{"status", string(f.Status)},
	)
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices`+where+` ORDER BY due_date ASC, created_at ASC, id ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []generic.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (q queries) SaveInvoice(ctx context.Context, inv generic.Invoice) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			total_amount = excluded.total_amount,
			status = excluded.status,
			due_date = excluded.due_date,
			posted_at = excluded.posted_at,
			cancelled_at = excluded.cancelled_at
	`,
		inv.ID, inv.InstitutionID, inv.StudentID, nullString(inv.Description), inv.TotalAmount.String(),
		inv.Status, formatDate(inv.DueDate), formatTime(inv.CreatedAt),
		formatTimePtr(inv.PostedAt), formatTimePtr(inv.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

// --- payments ---

const paymentColumns = `id, institution_id, student_id, amount, method, status, transaction_reference,
	paid_on, created_at, confirmed_at, reversed_at, reversed_by, reversal_reason`

func scanPayment(row scanner) (generic.Payment, error) {
	var (
		p                          generic.Payment
		amount, paidOn, createdAt  string
		confirmedAt, reversedAt    sql.NullString
		reversedBy, reversalReason sql.NullString
	)
	err := row.Scan(&p.ID, &p.InstitutionID, &p.StudentID, &amount, &p.Method, &p.Status,
		&p.TransactionReference, &paidOn, &createdAt, &confirmedAt, &reversedAt, &reversedBy, &reversalReason)
	if err != nil {
		return p, err
	}
	if p.Amount, err = parseDecimal(amount); err != nil {
		return p, err
	}
	p.PaidOn = parseDate(paidOn)
	p.CreatedAt = parseTime(createdAt)
	p.ConfirmedAt = parseTimePtr(confirmedAt)
	p.ReversedAt = parseTimePtr(reversedAt)
	p.ReversedBy = reversedBy.String
	p.ReversalReason = reversalReason.String
	return p, nil
}

func (q queries) GetPayment(ctx context.Context, id string) (*generic.Payment, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFoundOr(err, "payment", id)
	}
	return &p, nil
}

func (q queries) GetPaymentByReference(ctx context.Context, reference string) (*generic.Payment, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_reference = ?`, reference)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFoundOr(err, "payment", reference)
	}
	return &p, nil
}

func (q queries) ListPayments(ctx context.Context, institutionID, studentID string) ([]generic.Payment, error) {
	where, args := whereClause(
		cond{"institution_id", institutionID},
		cond{"student_id", studentID},
	)
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []generic.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q queries) SavePayment(ctx context.Context, p generic.Payment) error {
	var existingID string
	err := q.db.QueryRowContext(ctx,
		`SELECT id FROM payments WHERE transaction_reference = ? AND id <> ?`,
		p.TransactionReference, p.ID).Scan(&existingID)
	if err == nil {
		return &generic.DuplicateReferenceError{Reference: p.TransactionReference, ExistingID: existingID}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check transaction reference: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			confirmed_at = excluded.confirmed_at,
			reversed_at = excluded.reversed_at,
			reversed_by = excluded.reversed_by,
			reversal_reason = excluded.reversal_reason
	`,
		p.ID, p.InstitutionID, p.StudentID, p.Amount.String(), p.Method, p.Status, p.TransactionReference,
		formatDate(p.PaidOn), formatTime(p.CreatedAt), formatTimePtr(p.ConfirmedAt),
		formatTimePtr(p.ReversedAt), nullString(p.ReversedBy), nullString(p.ReversalReason),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.DuplicateReferenceError{Reference: p.TransactionReference}
		}
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

// --- allocations ---

const allocationColumns = `id, payment_id, invoice_id, amount, voided, voided_at, created_at`

func scanAllocation(row scanner) (generic.Allocation, error) {
	var (
		a                 generic.Allocation
		amount, createdAt string
		voidedAt          sql.NullString
	)
	err := row.Scan(&a.ID, &a.PaymentID, &a.InvoiceID, &amount, &a.Voided, &voidedAt, &createdAt)
	if err != nil {
		return a, err
	}
	if a.Amount, err = parseDecimal(amount); err != nil {
		return a, err
	}
	a.VoidedAt = parseTimePtr(voidedAt)
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

func (q queries) ListAllocations(ctx context.Context, f generic.AllocationFilter) ([]generic.Allocation, error) {
	where, args := whereClause(
		cond{"payment_id", f.PaymentID},
		cond{"invoice_id", f.InvoiceID},
	)
	if !f.IncludeVoided {
		if where == "" {
			where = " WHERE voided = 0"
		} else {
			where += " AND voided = 0"
		}
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+allocationColumns+` FROM allocations`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []generic.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q queries) SaveAllocation(ctx context.Context, a generic.Allocation) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO allocations (`+allocationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			voided = excluded.voided,
			voided_at = excluded.voided_at
	`,
		a.ID, a.PaymentID, a.InvoiceID, a.Amount.String(), a.Voided, formatTimePtr(a.VoidedAt), formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save allocation: %w", err)
	}
	return nil
}

// --- penalty rules ---

const ruleColumns = `id, institution_id, name, rule_type, grace_days, rate, max_amount, active, created_at`

func scanRule(row scanner) (generic.PenaltyRule, error) {
	var (
		r               generic.PenaltyRule
		rate, createdAt string
		maxAmount       sql.NullString
	)
	err := row.Scan(&r.ID, &r.InstitutionID, &r.Name, &r.Type, &r.GraceDays, &rate, &maxAmount, &r.Active, &createdAt)
	if err != nil {
		return r, err
	}
	if r.Rate, err = parseDecimal(rate); err != nil {
		return r, err
	}
	if maxAmount.Valid {
		limit, err := parseDecimal(maxAmount.String)
		if err != nil {
			return r, err
		}
		r.MaxAmount = decimal.NewNullDecimal(limit)
	}
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

func (q queries) GetRule(ctx context.Context, id string) (*generic.PenaltyRule, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM penalty_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err != nil {
		return nil, notFoundOr(err, "penalty_rule", id)
	}
	return &r, nil
}

func (q queries) ListRules(ctx context.Context, institutionID string) ([]generic.PenaltyRule, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM penalty_rules WHERE institution_id = ? ORDER BY created_at ASC, id ASC`,
		institutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query penalty rules: %w", err)
	}
	defer rows.Close()

	var out []generic.PenaltyRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan penalty rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q queries) SaveRule(ctx context.Context, r generic.PenaltyRule) error {
	var maxAmount any
	if r.MaxAmount.Valid {
		maxAmount = r.MaxAmount.Decimal.String()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO penalty_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			rule_type = excluded.rule_type,
			grace_days = excluded.grace_days,
			rate = excluded.rate,
			max_amount = excluded.max_amount,
			active = excluded.active
	`,
		r.ID, r.InstitutionID, r.Name, r.Type, r.GraceDays, r.Rate.String(), maxAmount, r.Active, formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save penalty rule: %w", err)
	}
	return nil
}

// --- applied penalties ---

const penaltyColumns = `id, institution_id, invoice_id, student_id, penalty_rule_id, amount, days_overdue,
	applied_date, applied_by, actor_id, waived, waived_at, waived_by, waiver_reason, created_at`

func scanPenalty(row scanner) (generic.AppliedPenalty, error) {
	var (
		p                              generic.AppliedPenalty
		amount, appliedDate, createdAt string
		actorID, waivedBy, reason      sql.NullString
		waivedAt                       sql.NullString
	)
	err := row.Scan(&p.ID, &p.InstitutionID, &p.InvoiceID, &p.StudentID, &p.PenaltyRuleID, &amount,
		&p.DaysOverdue, &appliedDate, &p.AppliedBy, &actorID, &p.Waived, &waivedAt, &waivedBy, &reason, &createdAt)
	if err != nil {
		return p, err
	}
	if p.Amount, err = parseDecimal(amount); err != nil {
		return p, err
	}
	p.AppliedDate = parseDate(appliedDate)
	p.ActorID = actorID.String
	p.WaivedAt = parseTimePtr(waivedAt)
	p.WaivedBy = waivedBy.String
	p.WaiverReason = reason.String
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

func (q queries) GetPenalty(ctx context.Context, id string) (*generic.AppliedPenalty, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+penaltyColumns+` FROM applied_penalties WHERE id = ?`, id)
	p, err := scanPenalty(row)
	if err != nil {
		return nil, notFoundOr(err, "applied_penalty", id)
	}
	return &p, nil
}

func (q queries) ListPenalties(ctx context.Context, f generic.PenaltyFilter) ([]generic.AppliedPenalty, error) {
	applied := ""
	if f.AppliedDate != nil {
		applied = formatDate(*f.AppliedDate)
	}
	where, args := whereClause(
		cond{"institution_id", f.InstitutionID},
		cond{"student_id", f.StudentID},
		cond{"invoice_id", f.InvoiceID},
		cond{"applied_date", applied},
	)
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+penaltyColumns+` FROM applied_penalties`+where+` ORDER BY applied_date ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query penalties: %w", err)
	}
	defer rows.Close()

	var out []generic.AppliedPenalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan penalty: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q queries) SavePenalty(ctx context.Context, p generic.AppliedPenalty) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO applied_penalties (`+penaltyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			waived = excluded.waived,
			waived_at = excluded.waived_at,
			waived_by = excluded.waived_by,
			waiver_reason = excluded.waiver_reason
	`,
		p.ID, p.InstitutionID, p.InvoiceID, p.StudentID, p.PenaltyRuleID, p.Amount.String(), p.DaysOverdue,
		formatDate(p.AppliedDate), p.AppliedBy, nullString(p.ActorID),
		p.Waived, formatTimePtr(p.WaivedAt), nullString(p.WaivedBy), nullString(p.WaiverReason),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicatePenalty
		}
		return fmt.Errorf("failed to save penalty: %w", err)
	}
	return nil
}

// --- approval requests ---

const requestColumns = `id, institution_id, kind, target_id, requested_by, requester_type, reason,
	payload_json, status, reviewed_by, reviewed_at, review_notes, created_at`

func scanRequest(row scanner) (generic.ApprovalRequest, error) {
	var (
		r                      generic.ApprovalRequest
		reason, payload        sql.NullString
		reviewedBy, reviewedAt sql.NullString
		notes                  sql.NullString
		createdAt              string
	)
	err := row.Scan(&r.ID, &r.InstitutionID, &r.Kind, &r.TargetID, &r.RequestedBy, &r.RequesterType, &reason,
		&payload, &r.Status, &reviewedBy, &reviewedAt, &notes, &createdAt)
	if err != nil {
		return r, err
	}
	r.Reason = reason.String
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &r.Payload); err != nil {
			return r, fmt.Errorf("failed to decode request payload: %w", err)
		}
	}
	r.ReviewedBy = reviewedBy.String
	r.ReviewedAt = parseTimePtr(reviewedAt)
	r.ReviewNotes = notes.String
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

func (q queries) GetRequest(ctx context.Context, id string) (*generic.ApprovalRequest, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if err != nil {
		return nil, notFoundOr(err, "approval_request", id)
	}
	return &r, nil
}

func (q queries) FindPendingRequest(ctx context.Context, kind generic.RequestKind, targetID string) (*generic.ApprovalRequest, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE kind = ? AND target_id = ? AND status = ?`,
		kind, targetID, generic.RequestPending)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending request: %w", err)
	}
	return &r, nil
}

func (q queries) ListRequests(ctx context.Context, f generic.RequestFilter) ([]generic.ApprovalRequest, error) {
	where, args := whereClause(
		cond{"institution_id", f.InstitutionID},
		cond{"kind", string(f.Kind)},
		cond{"status", string(f.Status)},
	)
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []generic.ApprovalRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q queries) SaveRequest(ctx context.Context, r generic.ApprovalRequest) error {
	var payload any
	if len(r.Payload) > 0 {
		b, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode request payload: %w", err)
		}
		payload = string(b)
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO approval_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reviewed_by = excluded.reviewed_by,
			reviewed_at = excluded.reviewed_at,
			review_notes = excluded.review_notes
	`,
		r.ID, r.InstitutionID, r.Kind, r.TargetID, r.RequestedBy, r.RequesterType, nullString(r.Reason),
		payload, r.Status, nullString(r.ReviewedBy), formatTimePtr(r.ReviewedAt), nullString(r.ReviewNotes),
		formatTime(r.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.DuplicateRequestError{Kind: r.Kind, TargetID: r.TargetID}
		}
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

// --- payment intents ---

const intentColumns = `id, institution_id, student_id, amount, phone, provider_reference, status,
	result_description, receipt_code, payment_id, created_at, updated_at, terminal_at`

func scanIntent(row scanner) (generic.PaymentIntent, error) {
	var (
		i                             generic.PaymentIntent
		amount, createdAt, updatedAt  string
		description, receipt, payment sql.NullString
		terminalAt                    sql.NullString
	)
	err := row.Scan(&i.ID, &i.InstitutionID, &i.StudentID, &amount, &i.Phone, &i.ProviderReference, &i.Status,
		&description, &receipt, &payment, &createdAt, &updatedAt, &terminalAt)
	if err != nil {
		return i, err
	}
	if i.Amount, err = parseDecimal(amount); err != nil {
		return i, err
	}
	i.ResultDescription = description.String
	i.ReceiptCode = receipt.String
	i.PaymentID = payment.String
	i.CreatedAt = parseTime(createdAt)
	i.UpdatedAt = parseTime(updatedAt)
	i.TerminalAt = parseTimePtr(terminalAt)
	return i, nil
}

func (q queries) GetIntent(ctx context.Context, id string) (*generic.PaymentIntent, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = ?`, id)
	i, err := scanIntent(row)
	if err != nil {
		return nil, notFoundOr(err, "payment_intent", id)
	}
	return &i, nil
}

func (q queries) GetIntentByReference(ctx context.Context, ref string) (*generic.PaymentIntent, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE provider_reference = ?`, ref)
	i, err := scanIntent(row)
	if err != nil {
		return nil, notFoundOr(err, "payment_intent", ref)
	}
	return &i, nil
}

func (q queries) SaveIntent(ctx context.Context, i generic.PaymentIntent) error {
	var current generic.IntentStatus
	err := q.db.QueryRowContext(ctx, `SELECT status FROM payment_intents WHERE id = ?`, i.ID).Scan(&current)
	switch {
	case err == nil && current.IsTerminal():
		return &generic.TransitionError{Entity: "payment_intent", ID: i.ID, From: string(current), To: string(i.Status)}
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to read intent status: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO payment_intents (`+intentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result_description = excluded.result_description,
			receipt_code = excluded.receipt_code,
			payment_id = excluded.payment_id,
			updated_at = excluded.updated_at,
			terminal_at = excluded.terminal_at
	`,
		i.ID, i.InstitutionID, i.StudentID, i.Amount.String(), i.Phone, i.ProviderReference, i.Status,
		nullString(i.ResultDescription), nullString(i.ReceiptCode), nullString(i.PaymentID),
		formatTime(i.CreatedAt), formatTime(i.UpdatedAt), formatTimePtr(i.TerminalAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.DuplicateReferenceError{Reference: i.ProviderReference}
		}
		return fmt.Errorf("failed to save intent: %w", err)
	}
	return nil
}

// --- results ---

func (q queries) GetResult(ctx context.Context, id string) (*generic.Result, error) {
	var (
		r                generic.Result
		score, updatedAt string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, institution_id, student_id, subject, score, updated_at FROM results WHERE id = ?`, id,
	).Scan(&r.ID, &r.InstitutionID, &r.StudentID, &r.Subject, &score, &updatedAt)
	if err != nil {
		return nil, notFoundOr(err, "result", id)
	}
	if r.Score, err = parseDecimal(score); err != nil {
		return nil, err
	}
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func (q queries) SaveResult(ctx context.Context, r generic.Result) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO results (id, institution_id, student_id, subject, score, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			score = excluded.score,
			updated_at = excluded.updated_at
	`, r.ID, r.InstitutionID, r.StudentID, r.Subject, r.Score.String(), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// =============================================================================
// SWEEP RUNS (generic.RunStore interface)
// =============================================================================

// SaveSweepRun saves a penalty sweep run.
func (s *Store) SaveSweepRun(ctx context.Context, r generic.SweepRun) error {
	defer s.lock()()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, as_of, status, examined, applied, skipped, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			examined = excluded.examined,
			applied = excluded.applied,
			skipped = excluded.skipped,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`,
		r.ID, formatDate(r.AsOf), r.Status, r.Examined, r.Applied, r.Skipped, r.Failed,
		nullString(r.Error), formatTime(r.StartedAt), formatTimePtr(r.CompletedAt),
	)
	return err
}

// ListSweepRuns returns the most recent sweep runs first.
func (s *Store) ListSweepRuns(ctx context.Context, limit int) ([]generic.SweepRun, error) {
	defer s.rlock()()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, as_of, status, examined, applied, skipped, failed, error, started_at, completed_at
		FROM sweep_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []generic.SweepRun
	for rows.Next() {
		var (
			r               generic.SweepRun
			asOf, startedAt string
			errText         sql.NullString
			completedAt     sql.NullString
		)
		if err := rows.Scan(&r.ID, &asOf, &r.Status, &r.Examined, &r.Applied, &r.Skipped, &r.Failed,
			&errText, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.AsOf = parseDate(asOf)
		r.Error = errText.String
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseTimePtr(completedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// AUDIT LOG (generic.AuditSink interface)
// =============================================================================

// Record appends an audit record. It runs outside any ledger transaction,
// after the audited write has committed.
func (s *Store) Record(ctx context.Context, rec generic.AuditRecord) error {
	defer s.lock()()

	var metadata any
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (action, entity_type, entity_id, institution_id, actor_id, metadata_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.Action, rec.EntityType, rec.EntityID, nullString(rec.InstitutionID), nullString(rec.ActorID),
		metadata, formatTime(rec.At))
	if err != nil {
		return fmt.Errorf("failed to record audit: %w", err)
	}
	return nil
}

// AuditTrail returns the audit records of one entity, oldest first.
func (s *Store) AuditTrail(ctx context.Context, entityType, entityID string) ([]generic.AuditRecord, error) {
	defer s.rlock()()

	rows, err := s.db.QueryContext(ctx, `
		SELECT action, entity_type, entity_id, institution_id, actor_id, metadata_json, at
		FROM audit_log
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id ASC
	`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []generic.AuditRecord
	for rows.Next() {
		var (
			rec                   generic.AuditRecord
			inst, actor, metadata sql.NullString
			at                    string
		)
		if err := rows.Scan(&rec.Action, &rec.EntityType, &rec.EntityID, &inst, &actor, &metadata, &at); err != nil {
			return nil, err
		}
		rec.InstitutionID = inst.String
		rec.ActorID = actor.String
		if metadata.Valid && metadata.String != "" {
			json.Unmarshal([]byte(metadata.String), &rec.Metadata)
		}
		rec.At = parseTime(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Helper functions

type cond struct {
	column string
	value  string
}

// whereClause builds " WHERE a = ? AND b = ?" from the non-empty conditions.
func whereClause(conds ...cond) (string, []any) {
	var (
		parts []string
		args  []any
	)
	for _, c := range conds {
		if c.value == "" {
			continue
		}
		parts = append(parts, c.column+" = ?")
		args = append(args, c.value)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func notFoundOr(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return generic.NewNotFound(entity, id)
	}
	return fmt.Errorf("failed to load %s: %w", entity, err)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt decimal %q: %w", s, err)
	}
	return d, nil
}

func formatDate(d generic.Date) string {
	return d.Time.Format(generic.DateLayout)
}

func parseDate(s string) generic.Date {
	d, _ := generic.ParseDate(s)
	return d
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
