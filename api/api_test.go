package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/fees-engine/api"
	"github.com/warp/fees-engine/events"
	"github.com/warp/fees-engine/factory"
	"github.com/warp/fees-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const inst = "inst-1"

type apiHarness struct {
	t       *testing.T
	handler *api.Handler
	router  http.Handler
	rec     *events.Recorder
}

func newAPI(t *testing.T, mutate ...func(*api.Options)) *apiHarness {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rec := events.NewRecorder()
	opts := api.Options{Store: store, Notifier: rec, Audit: store}
	for _, m := range mutate {
		m(&opts)
	}
	h := api.NewHandler(opts)
	return &apiHarness{t: t, handler: h, router: api.NewRouter(h, api.RouterConfig{}), rec: rec}
}

func (a *apiHarness) raw(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "bursar-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func (a *apiHarness) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(a.t, err)
	}
	return a.raw(method, path, data, nil)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rr.Code, rr.Body.String())
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rr, status)
	assert.Equal(t, code, decode[api.ErrorResponse](t, rr).Code)
}

func (a *apiHarness) postedInvoice(student, amount, due string) api.InvoiceDTO {
	a.t.Helper()
	rr := a.do(http.MethodPost, "/api/invoices", map[string]any{
		"institution_id": inst,
		"student_id":     student,
		"description":    "Term fees",
		"amount":         amount,
		"due_date":       due,
		"post":           true,
	})
	expectStatus(a.t, rr, http.StatusCreated)
	return decode[api.InvoiceDTO](a.t, rr)
}

func (a *apiHarness) statement(student string) api.StatementDTO {
	a.t.Helper()
	rr := a.do(http.MethodGet, "/api/students/"+student+"/statement?institution_id="+inst, nil)
	expectStatus(a.t, rr, http.StatusOK)
	return decode[api.StatementDTO](a.t, rr)
}

func payment(ref, amount, paidOn string) map[string]any {
	return map[string]any{
		"institution_id":        inst,
		"student_id":            "stu-1",
		"amount":                amount,
		"method":                "bank",
		"transaction_reference": ref,
		"paid_on":               paidOn,
		"confirmed":             true,
	}
}

// =============================================================================
// LEDGER FLOW
// =============================================================================

func TestAPI_InvoicePaymentStatement(t *testing.T) {
	// GIVEN: Two posted invoices
	// WHEN: A confirmed 1200.00 payment arrives with no explicit allocation
	// THEN: The older invoice is settled first and the statement balance is 300.00

	a := newAPI(t)
	older := a.postedInvoice("stu-1", "1000", "2025-01-10")
	newer := a.postedInvoice("stu-1", "500", "2025-02-10")
	assert.Equal(t, "posted", older.Status)

	rr := a.do(http.MethodPost, "/api/payments", payment("BANK-001", "1200", "2025-01-20"))
	expectStatus(t, rr, http.StatusCreated)
	res := decode[api.PaymentResultDTO](t, rr)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, older.ID, res.Allocations[0].InvoiceID)
	assert.Equal(t, "1000.00", res.Allocations[0].Amount.StringFixed(2))
	assert.Equal(t, newer.ID, res.Allocations[1].InvoiceID)
	assert.True(t, res.Unallocated.IsZero())

	st := a.statement("stu-1")
	assert.Equal(t, "300.00", st.Balance.Balance.StringFixed(2))
	require.Len(t, st.Invoices, 2)
	require.NotNil(t, st.Invoices[1].Outstanding)
	assert.Equal(t, "300.00", *st.Invoices[1].Outstanding)

	// WHEN: The payment is reversed
	rr = a.do(http.MethodPost, "/api/payments/"+res.Payment.ID+"/reverse", map[string]string{"reason": "bounced"})
	expectStatus(t, rr, http.StatusOK)
	assert.Equal(t, "reversed", decode[api.PaymentDTO](t, rr).Status)
	assert.Equal(t, "1500.00", a.statement("stu-1").Balance.Balance.StringFixed(2))
}

func TestAPI_ErrorMapping(t *testing.T) {
	a := newAPI(t)
	inv := a.postedInvoice("stu-1", "100", "2025-01-10")
	expectStatus(t, a.do(http.MethodPost, "/api/payments", payment("DUP-1", "50", "2025-01-12")), http.StatusCreated)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"duplicate reference", http.MethodPost, "/api/payments", payment("DUP-1", "50", "2025-01-12"), http.StatusConflict, "duplicate_transaction_reference"},
		{"unknown invoice", http.MethodPost, "/api/invoices/missing/post", nil, http.StatusNotFound, "not_found"},
		{"post twice", http.MethodPost, "/api/invoices/" + inv.ID + "/post", nil, http.StatusConflict, "invalid_transition"},
		{"zero amount", http.MethodPost, "/api/invoices", map[string]any{
			"institution_id": inst, "student_id": "stu-1", "amount": "0", "due_date": "2025-01-10",
		}, http.StatusUnprocessableEntity, "invalid_amount"},
		{"over-allocation", http.MethodPost, "/api/payments", map[string]any{
			"institution_id": inst, "student_id": "stu-1", "amount": "500", "method": "cash",
			"transaction_reference": "OVR-1", "paid_on": "2025-01-12", "confirmed": true,
			"allocations": []map[string]string{{"invoice_id": inv.ID, "amount": "400"}},
		}, http.StatusUnprocessableEntity, "over_allocation"},
		{"bad method", http.MethodPost, "/api/payments", map[string]any{
			"institution_id": inst, "student_id": "stu-1", "amount": "5", "method": "cheque", "transaction_reference": "X",
		}, http.StatusBadRequest, "invalid_input"},
		{"missing query", http.MethodGet, "/api/periods", nil, http.StatusBadRequest, "invalid_input"},
		{"bad date", http.MethodGet, "/api/periods/locked?institution_id=inst-1&date=tomorrow", nil, http.StatusBadRequest, "invalid_input"},
		{"cancel without reason", http.MethodPost, "/api/invoices/" + inv.ID + "/cancel", map[string]string{}, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, a.do(tt.method, tt.path, tt.body), tt.status, tt.code)
		})
	}

	rr := a.raw(http.MethodPost, "/api/invoices", []byte(`{"amount": `), nil)
	expectError(t, rr, http.StatusBadRequest, "invalid_input")
}

// =============================================================================
// PERIODS
// =============================================================================

func TestAPI_LockedPeriodBlocksBackdatedPayment(t *testing.T) {
	a := newAPI(t)

	rr := a.do(http.MethodPost, "/api/periods", map[string]any{
		"institution_id": inst, "name": "January", "type": "month",
		"start_date": "2025-01-01", "end_date": "2025-01-31", "can_unlock": true,
	})
	expectStatus(t, rr, http.StatusCreated)
	period := decode[api.PeriodDTO](t, rr)

	rr = a.do(http.MethodPost, "/api/periods/"+period.ID+"/lock", map[string]string{"reason": "audit"})
	expectStatus(t, rr, http.StatusOK)
	assert.Equal(t, "locked", decode[api.PeriodDTO](t, rr).Status)

	rr = a.do(http.MethodGet, "/api/periods/locked?institution_id=inst-1&date=2025-01-15", nil)
	expectStatus(t, rr, http.StatusOK)
	assert.Equal(t, true, decode[map[string]any](t, rr)["locked"])

	expectError(t, a.do(http.MethodPost, "/api/payments", payment("LATE-1", "10", "2025-01-15")),
		http.StatusConflict, "period_locked")
	expectError(t, a.do(http.MethodDelete, "/api/periods/"+period.ID, nil),
		http.StatusConflict, "invalid_transition")

	expectStatus(t, a.do(http.MethodPost, "/api/periods/"+period.ID+"/unlock", map[string]string{"reason": "correction"}), http.StatusOK)
	expectStatus(t, a.do(http.MethodPost, "/api/payments", payment("LATE-1", "10", "2025-01-15")), http.StatusCreated)

	expectError(t, a.do(http.MethodPost, "/api/periods", map[string]any{
		"institution_id": inst, "name": "Overlap", "type": "custom",
		"start_date": "2025-01-20", "end_date": "2025-02-10",
	}), http.StatusConflict, "period_overlap")
}

// =============================================================================
// PENALTIES AND WAIVERS
// =============================================================================

func TestAPI_SweepIsIdempotentAndWaivable(t *testing.T) {
	// GIVEN: A flat 25.00 rule with 3 grace days and an invoice due 2025-01-01
	// WHEN: The sweep runs twice for 2025-01-10 and the penalty is waived
	// THEN: One penalty is charged, two runs are recorded, and the waiver
	//       removes it from the balance

	a := newAPI(t)
	rr := a.raw(http.MethodPost, "/api/penalty-rules", []byte(factory.FlatFeeJSON("rule-1", inst, 3, "25")), nil)
	expectStatus(t, rr, http.StatusCreated)

	rr = a.do(http.MethodGet, "/api/penalty-rules?institution_id="+inst, nil)
	expectStatus(t, rr, http.StatusOK)
	assert.Len(t, decode[[]factory.PenaltyRuleJSON](t, rr), 1)

	a.postedInvoice("stu-1", "400", "2025-01-01")

	rr = a.do(http.MethodPost, "/api/penalties/sweep", map[string]string{"as_of": "2025-01-10"})
	expectStatus(t, rr, http.StatusOK)
	first := decode[api.SweepReportDTO](t, rr)
	require.Len(t, first.Applied, 1)
	assert.Equal(t, 9, first.Applied[0].DaysOverdue)

	rr = a.do(http.MethodPost, "/api/penalties/sweep", map[string]string{"as_of": "2025-01-10"})
	expectStatus(t, rr, http.StatusOK)
	assert.Empty(t, decode[api.SweepReportDTO](t, rr).Applied)

	rr = a.do(http.MethodGet, "/api/penalties/sweeps?limit=5", nil)
	expectStatus(t, rr, http.StatusOK)
	runs := decode[[]api.SweepRunDTO](t, rr)
	require.Len(t, runs, 2)
	assert.Equal(t, 0, runs[0].Applied)
	assert.Equal(t, 1, runs[1].Applied)

	assert.Equal(t, "425.00", a.statement("stu-1").Balance.Balance.StringFixed(2))

	rr = a.do(http.MethodPost, "/api/waivers", map[string]string{
		"penalty_id": first.Applied[0].ID, "requested_by": "parent-1",
		"requester_type": "parent", "reason": "bank delay",
	})
	expectStatus(t, rr, http.StatusCreated)
	waiver := decode[api.ApprovalRequestDTO](t, rr)

	expectError(t, a.do(http.MethodPost, "/api/waivers", map[string]string{
		"penalty_id": first.Applied[0].ID, "requested_by": "parent-1",
		"requester_type": "parent", "reason": "again",
	}), http.StatusConflict, "duplicate_request")

	rr = a.do(http.MethodPost, "/api/waivers/"+waiver.ID+"/approve", map[string]string{"notes": "first offence"})
	expectStatus(t, rr, http.StatusOK)
	approved := decode[api.ApprovalRequestDTO](t, rr)
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, "bursar-1", approved.ReviewedBy)

	st := a.statement("stu-1")
	assert.Equal(t, "400.00", st.Balance.Balance.StringFixed(2))
	require.Len(t, st.Penalties, 1)
	assert.True(t, st.Penalties[0].Waived)

	rr = a.do(http.MethodGet, "/api/waivers?institution_id="+inst+"&status=approved", nil)
	expectStatus(t, rr, http.StatusOK)
	assert.Len(t, decode[[]api.ApprovalRequestDTO](t, rr), 1)
}

func TestAPI_ManualPenalty(t *testing.T) {
	a := newAPI(t)
	expectStatus(t, a.raw(http.MethodPost, "/api/penalty-rules",
		[]byte(factory.FlatFeeJSON("rule-1", inst, 30, "10")), nil), http.StatusCreated)
	inv := a.postedInvoice("stu-1", "400", "2025-01-01")

	body := map[string]string{"invoice_id": inv.ID, "rule_id": "rule-1", "date": "2025-01-05"}
	rr := a.do(http.MethodPost, "/api/penalties", body)
	expectStatus(t, rr, http.StatusCreated)
	assert.Equal(t, "admin", decode[api.PenaltyDTO](t, rr).AppliedBy)

	expectError(t, a.do(http.MethodPost, "/api/penalties", body), http.StatusConflict, "duplicate_penalty")
}

// =============================================================================
// GRADE CHANGES
// =============================================================================

func TestAPI_GradeChange(t *testing.T) {
	a := newAPI(t)

	rr := a.do(http.MethodPost, "/api/results", map[string]any{
		"institution_id": inst, "student_id": "stu-1", "subject": "Physics", "score": "41",
	})
	expectStatus(t, rr, http.StatusCreated)
	result := decode[api.ResultDTO](t, rr)

	rr = a.do(http.MethodPost, "/api/grade-changes", map[string]any{
		"result_id": result.ID, "requested_by": "teacher-1", "reason": "marking error", "new_score": "47",
	})
	expectStatus(t, rr, http.StatusCreated)
	req := decode[api.ApprovalRequestDTO](t, rr)

	expectStatus(t, a.do(http.MethodPost, "/api/grade-changes/"+req.ID+"/approve", map[string]string{}), http.StatusOK)
	expectError(t, a.do(http.MethodPost, "/api/grade-changes/"+req.ID+"/reject", map[string]string{}),
		http.StatusConflict, "invalid_transition")

	rr = a.do(http.MethodGet, "/api/results/"+result.ID, nil)
	expectStatus(t, rr, http.StatusOK)
	assert.Equal(t, "47", decode[api.ResultDTO](t, rr).Score.String())
}

// =============================================================================
// MOBILE MONEY
// =============================================================================

const secret = "callback-secret"

func (a *apiHarness) initiate(amount string) api.IntentDTO {
	a.t.Helper()
	rr := a.do(http.MethodPost, "/api/payment-intents", map[string]any{
		"institution_id": inst, "student_id": "stu-1", "amount": amount, "phone": "+254700000001",
	})
	expectStatus(a.t, rr, http.StatusAccepted)
	return decode[api.IntentDTO](a.t, rr)
}

func (a *apiHarness) callback(body map[string]string, signature string) *httptest.ResponseRecorder {
	a.t.Helper()
	data, err := json.Marshal(body)
	require.NoError(a.t, err)
	if signature == "" {
		signature = api.Sign([]byte(secret), data)
	}
	return a.raw(http.MethodPost, "/payment-callback", data, map[string]string{api.SignatureHeader: signature})
}

func TestAPI_MobileMoneyCallback(t *testing.T) {
	// GIVEN: A signed-callback deployment and an initiated intent
	// WHEN: The provider calls back, unsigned first, then signed twice
	// THEN: The unsigned call is refused, the first signed call completes the
	//       intent and the second is acknowledged as a duplicate

	a := newAPI(t, func(o *api.Options) { o.CallbackSecret = secret })
	a.postedInvoice("stu-1", "800", "2025-01-10")
	intent := a.initiate("300")
	assert.Equal(t, "pending", intent.Status)

	success := map[string]string{
		"provider_reference": intent.ProviderReference,
		"outcome":            "success",
		"receipt_code":       "QK71ABC",
	}
	expectError(t, a.callback(success, "deadbeef"), http.StatusUnauthorized, "bad_signature")

	rr := a.raw(http.MethodPost, "/payment-callback/processing",
		[]byte(`{"provider_reference":"`+intent.ProviderReference+`"}`),
		map[string]string{api.SignatureHeader: api.Sign([]byte(secret), []byte(`{"provider_reference":"`+intent.ProviderReference+`"}`))})
	expectStatus(t, rr, http.StatusOK)
	assert.Equal(t, "processing", decode[map[string]any](t, rr)["status"])

	rr = a.callback(success, "")
	expectStatus(t, rr, http.StatusOK)
	ack := decode[map[string]any](t, rr)
	assert.Equal(t, false, ack["duplicate"])
	assert.Equal(t, "completed", ack["status"])

	rr = a.callback(success, "")
	expectStatus(t, rr, http.StatusOK)
	assert.Equal(t, true, decode[map[string]any](t, rr)["duplicate"])

	rr = a.do(http.MethodGet, "/api/payment-intents/"+intent.ID, nil)
	expectStatus(t, rr, http.StatusOK)
	view := decode[map[string]any](t, rr)
	assert.Equal(t, "completed", view["status"])
	assert.Equal(t, "QK71ABC", view["receiptCode"])

	st := a.statement("stu-1")
	require.Len(t, st.Payments, 1)
	assert.Equal(t, "mobile_money", st.Payments[0].Method)
	assert.Equal(t, "500.00", st.Balance.Balance.StringFixed(2))

	expectError(t, a.callback(map[string]string{"provider_reference": "SBX-NOPE", "outcome": "success"}, ""),
		http.StatusNotFound, "not_found")
}

func TestAPI_StatusPollsAreRateLimited(t *testing.T) {
	a := newAPI(t, func(o *api.Options) {
		o.PollRate = 0.001
		o.PollBurst = 2
	})
	intent := a.initiate("100")
	path := "/api/payment-intents/" + intent.ID

	expectStatus(t, a.do(http.MethodGet, path, nil), http.StatusOK)
	expectStatus(t, a.do(http.MethodGet, path, nil), http.StatusOK)
	rr := a.do(http.MethodGet, path, nil)
	expectError(t, rr, http.StatusTooManyRequests, "rate_limited")
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	// THEN: Another intent has its own budget
	other := a.initiate("50")
	expectStatus(t, a.do(http.MethodGet, "/api/payment-intents/"+other.ID, nil), http.StatusOK)
}

func TestAPI_WaitReturnsLastStatusOnTimeout(t *testing.T) {
	a := newAPI(t)
	intent := a.initiate("100")

	rr := a.do(http.MethodGet, "/api/payment-intents/"+intent.ID+"/wait?timeout=50ms", nil)
	expectStatus(t, rr, http.StatusOK)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, true, body["timedOut"])

	expectError(t, a.do(http.MethodGet, "/api/payment-intents/"+intent.ID+"/wait?timeout=-1s", nil),
		http.StatusBadRequest, "invalid_input")
	expectError(t, a.do(http.MethodGet, "/api/payment-intents/missing/wait?timeout=50ms", nil),
		http.StatusNotFound, "not_found")
}

func TestAPI_WaitFinishesInsideWriteTimeout(t *testing.T) {
	// GIVEN: A real server with a 500ms write timeout and a 2s configured wait
	// WHEN: A client asks to wait 5s on a pending intent
	// THEN: The wait is shortened and the JSON body still arrives

	const writeTimeout = 500 * time.Millisecond
	a := newAPI(t, func(o *api.Options) {
		o.PollInterval = 20 * time.Millisecond
		o.PollTimeout = 2 * time.Second
		o.WriteTimeout = writeTimeout
	})
	intent := a.initiate("100")

	srv := httptest.NewUnstartedServer(a.router)
	srv.Config.WriteTimeout = writeTimeout
	srv.Start()
	t.Cleanup(srv.Close)

	start := time.Now()
	resp, err := srv.Client().Get(srv.URL + "/api/payment-intents/" + intent.ID + "/wait?timeout=5s")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, true, body["timedOut"])
	assert.Less(t, time.Since(start), writeTimeout)
}

func TestNewWaitConfig(t *testing.T) {
	tests := []struct {
		name                      string
		interval, wait, write     time.Duration
		wantInterval, wantMaxWait time.Duration
	}{
		{"fits", 2 * time.Second, 10 * time.Second, 15 * time.Second, 2 * time.Second, 10 * time.Second},
		{"clamped below write timeout", 2 * time.Second, 2 * time.Minute, 15 * time.Second, 2 * time.Second, 14 * time.Second},
		{"short write timeout", time.Second, 2 * time.Second, 400 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond},
		{"no write deadline", 0, 0, 0, time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := api.NewWaitConfig(tt.interval, tt.wait, tt.write)
			assert.Equal(t, tt.wantInterval, got.Interval)
			assert.Equal(t, tt.wantMaxWait, got.Max)
		})
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestAPI_HealthReportsClosedStore(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	router := api.NewRouter(api.NewHandler(api.Options{Store: store}), api.RouterConfig{})

	get := func() *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rr
	}
	expectStatus(t, get(), http.StatusOK)

	require.NoError(t, store.Close())
	rr := get()
	expectStatus(t, rr, http.StatusServiceUnavailable)
	assert.Equal(t, "unavailable", decode[map[string]string](t, rr)["status"])
}

func TestAPI_SweepSchedule(t *testing.T) {
	a := newAPI(t, func(o *api.Options) {
		o.SchedulerEnabled = true
		o.SweepInterval = time.Hour
	})

	rr := a.do(http.MethodGet, "/api/penalties/schedule", nil)
	expectStatus(t, rr, http.StatusOK)
	idle := decode[api.SweepScheduleDTO](t, rr)
	assert.True(t, idle.Enabled)
	assert.False(t, idle.Running)
	assert.Nil(t, idle.NextRun)

	// WHEN: The loop starts and runs its first sweep
	a.handler.Scheduler.Start()
	t.Cleanup(a.handler.Scheduler.Stop)
	require.Eventually(t, func() bool {
		return !a.handler.Scheduler.NextRunTime().IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	rr = a.do(http.MethodGet, "/api/penalties/schedule", nil)
	expectStatus(t, rr, http.StatusOK)
	running := decode[api.SweepScheduleDTO](t, rr)
	assert.True(t, running.Running)
	assert.Equal(t, "1h0m0s", running.Interval)
	require.NotNil(t, running.NextRun)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *running.NextRun, time.Minute)
}

func TestAPI_RejectedRequestsAreLogged(t *testing.T) {
	// GIVEN: A handler logging at debug level
	// WHEN: A request fails validation and another conflicts with state
	// THEN: Each is logged with its error code, neither at error level

	core, logs := observer.New(zapcore.DebugLevel)
	a := newAPI(t, func(o *api.Options) { o.Log = zap.New(core) })
	inv := a.postedInvoice("stu-1", "100", "2025-01-10")

	expectError(t, a.do(http.MethodPost, "/api/invoices", map[string]any{
		"institution_id": inst, "student_id": "stu-1", "amount": "0", "due_date": "2025-01-10",
	}), http.StatusUnprocessableEntity, "invalid_amount")
	expectError(t, a.do(http.MethodPost, "/api/invoices/"+inv.ID+"/post", nil), http.StatusConflict, "invalid_transition")

	rejected := logs.FilterMessage("request rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "invalid_amount", rejected[0].ContextMap()["code"])

	conflicts := logs.FilterMessage("request conflicts with ledger state").All()
	require.Len(t, conflicts, 1)
	assert.Equal(t, "invalid_transition", conflicts[0].ContextMap()["code"])

	assert.Zero(t, logs.FilterMessage("request failed").Len())
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	a := newAPI(t)
	expectStatus(t, a.do(http.MethodGet, "/health", nil), http.StatusOK)
	a.postedInvoice("stu-1", "10", "2025-01-10")

	rr := a.do(http.MethodGet, "/metrics", nil)
	expectStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	assert.Contains(t, body, "fees_http_requests_total")
	assert.Contains(t, body, `route="/api/invoices`)
}

func TestAPI_Scenarios(t *testing.T) {
	a := newAPI(t)

	rr := a.do(http.MethodGet, "/api/scenarios", nil)
	expectStatus(t, rr, http.StatusOK)
	assert.NotEmpty(t, decode[[]api.ScenarioDTO](t, rr))

	rr = a.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "overdue-term-fees"})
	expectStatus(t, rr, http.StatusCreated)
	loaded := decode[map[string]string](t, rr)
	require.NotEmpty(t, loaded["institution_id"])

	rr = a.do(http.MethodGet, "/api/students/stu-amina/statement?institution_id="+loaded["institution_id"], nil)
	expectStatus(t, rr, http.StatusOK)
	assert.NotEmpty(t, decode[api.StatementDTO](t, rr).Penalties)

	for _, id := range []string{"partial-payments", "locked-period", "grade-appeal"} {
		expectStatus(t, a.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": id}), http.StatusCreated)
	}
	expectError(t, a.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"}),
		http.StatusBadRequest, "invalid_input")
}
