package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/fees-engine/generic"
	"github.com/warp/fees-engine/logger"
	"github.com/warp/fees-engine/mobilemoney"
)

// =============================================================================
// MOBILE MONEY ENDPOINTS
// =============================================================================
//
//   POST /api/payment-intents               Initiate a payment prompt
//   GET  /api/payment-intents/{id}          Status (rate limited per intent)
//   GET  /api/payment-intents/{id}/wait     Long-poll until terminal or timeout
//   POST /payment-callback                  Provider outcome (signed)
//   POST /payment-callback/processing       Provider intermediate ack (signed)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)) on provider calls.
const SignatureHeader = "X-Callback-Signature"

const maxCallbackBody = 64 << 10

// Sign computes the callback signature for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var errBadSignature = errors.New("invalid callback signature")

// readSigned reads the body and checks its signature when a secret is set.
func (h *Handler) readSigned(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generic.ErrInvalidInput, err)
	}
	if h.CallbackSecret == "" {
		return body, nil
	}
	got, err := hex.DecodeString(r.Header.Get(SignatureHeader))
	if err != nil {
		return nil, errBadSignature
	}
	want, _ := hex.DecodeString(Sign([]byte(h.CallbackSecret), body))
	if !hmac.Equal(got, want) {
		return nil, errBadSignature
	}
	return body, nil
}

// InitiatePayment asks the provider to prompt the payer.
// POST /api/payment-intents
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	intent, err := h.Payments.Initiate(r.Context(), mobilemoney.InitiateInput{
		InstitutionID: req.InstitutionID,
		StudentID:     req.StudentID,
		Amount:        req.Amount,
		Phone:         req.Phone,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toIntentDTO(*intent))
}

// GetPaymentStatus is the client poll target. It never blocks on an
// in-flight callback.
// GET /api/payment-intents/{id}
func (h *Handler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.PollLimiter.Allow(id) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "Polling too fast", "rate_limited", nil)
		return
	}
	view, err := h.Payments.GetStatus(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// WaitConfig bounds the server-side status wait. Max always stays below
// the server's write timeout so a finished wait can still be written.
type WaitConfig struct {
	Interval time.Duration
	Max      time.Duration
}

// writeHeadroom is kept between the longest wait and the write deadline.
const writeHeadroom = time.Second

// NewWaitConfig clamps the configured wait below writeTimeout. A zero
// writeTimeout means the server sets no write deadline.
func NewWaitConfig(interval, maxWait, writeTimeout time.Duration) WaitConfig {
	if interval <= 0 {
		interval = time.Second
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	if writeTimeout > 0 {
		headroom := writeHeadroom
		if writeTimeout < 4*headroom {
			headroom = writeTimeout / 4
		}
		if limit := writeTimeout - headroom; maxWait > limit {
			maxWait = limit
		}
	}
	if interval > maxWait {
		interval = maxWait
	}
	return WaitConfig{Interval: interval, Max: maxWait}
}

// timeout resolves the ?timeout query against the configured maximum.
// Longer requests are shortened, not rejected.
func (c WaitConfig) timeout(raw string) (time.Duration, error) {
	if raw == "" {
		return c.Max, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: timeout must be a positive duration", generic.ErrInvalidInput)
	}
	return min(d, c.Max), nil
}

// WaitPaymentStatus polls server-side until the intent is terminal or the
// timeout passes, then returns the last status seen. Timing out is not an
// error: the intent is untouched and a later call can still observe the
// outcome.
// GET /api/payment-intents/{id}/wait?timeout=10s
func (h *Handler) WaitPaymentStatus(w http.ResponseWriter, r *http.Request) {
	timeout, err := h.Wait.timeout(r.URL.Query().Get("timeout"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	view, err := mobilemoney.Poll(ctx, h.Payments, chi.URLParam(r, "id"), h.Wait.Interval)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.writeDomainError(w, r, err)
		return
	}
	if view.Status == "" {
		h.writeDomainError(w, r, generic.NewNotFound("payment_intent", chi.URLParam(r, "id")))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            view.Status,
		"receiptCode":       view.ReceiptCode,
		"resultDescription": view.ResultDescription,
		"timedOut":          !view.Status.IsTerminal(),
	})
}

// PaymentCallback receives the provider's outcome. Duplicate deliveries
// are acknowledged with 200 so the provider stops retrying.
// POST /payment-callback
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	body, err := h.readSigned(r)
	if err != nil {
		h.writeCallbackError(w, r, err)
		return
	}
	var cb mobilemoney.Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("%w: %v", generic.ErrInvalidInput, err))
		return
	}
	if err := validate.Struct(cb); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("%w: %v", generic.ErrInvalidInput, err))
		return
	}

	res, err := h.Payments.HandleCallback(r.Context(), cb)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.Metrics.observeCallback(string(cb.Outcome), res.Duplicate)
	if res.Intent.Status == generic.IntentFailed && cb.Outcome == mobilemoney.OutcomeSuccess {
		logger.FromContext(r.Context()).Error("provider success could not be posted",
			zap.String("provider_reference", cb.ProviderReference),
			zap.String("cause", res.Intent.ResultDescription))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"acknowledged": true,
		"duplicate":    res.Duplicate,
		"status":       res.Intent.Status,
	})
}

// PaymentProcessing records the provider's intermediate acknowledgement.
// POST /payment-callback/processing
func (h *Handler) PaymentProcessing(w http.ResponseWriter, r *http.Request) {
	body, err := h.readSigned(r)
	if err != nil {
		h.writeCallbackError(w, r, err)
		return
	}
	var req ProcessingAckRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("%w: %v", generic.ErrInvalidInput, err))
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("%w: %v", generic.ErrInvalidInput, err))
		return
	}
	intent, err := h.Payments.MarkProcessing(r.Context(), req.ProviderReference)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "status": intent.Status})
}

func (h *Handler) writeCallbackError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadSignature) {
		logger.FromContext(r.Context()).Warn("callback rejected", zap.String("remote", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "Unauthorized", "bad_signature", nil)
		return
	}
	h.writeDomainError(w, r, err)
}
