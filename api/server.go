/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request logging with a request-scoped logger
  3. Recovery:   Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counters and latency
  5. CORS:       Cross-origin requests for the bursar frontend

ROUTE GROUPS:
  /api/periods/*           Financial periods and locking
  /api/invoices/*          Invoice lifecycle
  /api/payments/*          Payments and allocations
  /api/students/*          Statements
  /api/penalty-rules/*     Penalty rule configuration
  /api/penalties/*         Manual penalties and sweeps
  /api/waivers/*           Penalty waiver workflow
  /api/results/*           Recorded scores
  /api/grade-changes/*     Grade-change workflow
  /api/payment-intents/*   Mobile-money initiation and status
  /api/scenarios/*         Demo data loaders
  /payment-callback        Provider callbacks (outside /api, signed)
  /metrics, /health        Operations

SEE ALSO:
  - handlers.go: Handler implementations
  - callback.go: Mobile-money endpoints
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/fees-engine/logger"
)

// RouterConfig carries the HTTP-level settings.
type RouterConfig struct {
	CORSAllowOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}
	if h.Metrics == nil {
		h.Metrics = NewMetrics()
	}
	origins := cfg.CORSAllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(log))
	r.Use(logger.Recovery(log))
	r.Use(h.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", actorHeader},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Post("/", h.CreatePeriod)
			r.Get("/locked", h.IsLocked)
			r.Post("/{id}/lock", h.LockPeriod)
			r.Post("/{id}/unlock", h.UnlockPeriod)
			r.Delete("/{id}", h.DeletePeriod)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", h.CreateInvoice)
			r.Post("/{id}/post", h.PostInvoice)
			r.Post("/{id}/cancel", h.CancelInvoice)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.RecordPayment)
			r.Post("/{id}/confirm", h.ConfirmPayment)
			r.Post("/{id}/allocations", h.AllocatePayment)
			r.Post("/{id}/reverse", h.ReversePayment)
		})

		r.Get("/students/{id}/statement", h.GetStatement)

		r.Route("/penalty-rules", func(r chi.Router) {
			r.Get("/", h.ListPenaltyRules)
			r.Post("/", h.CreatePenaltyRule)
		})

		r.Route("/penalties", func(r chi.Router) {
			r.Post("/", h.ApplyPenalty)
			r.Post("/sweep", h.RunSweep)
			r.Get("/sweeps", h.ListSweepRuns)
			r.Get("/schedule", h.SweepSchedule)
		})

		r.Route("/waivers", func(r chi.Router) {
			r.Get("/", h.ListWaivers)
			r.Post("/", h.RequestWaiver)
			r.Post("/{id}/approve", h.ApproveWaiver)
			r.Post("/{id}/reject", h.RejectWaiver)
		})

		r.Route("/results", func(r chi.Router) {
			r.Post("/", h.RecordResult)
			r.Get("/{id}", h.GetResult)
		})

		r.Route("/grade-changes", func(r chi.Router) {
			r.Get("/", h.ListGradeChanges)
			r.Post("/", h.RequestGradeChange)
			r.Post("/{id}/approve", h.ApproveGradeChange)
			r.Post("/{id}/reject", h.RejectGradeChange)
		})

		r.Route("/payment-intents", func(r chi.Router) {
			r.Post("/", h.InitiatePayment)
			r.Get("/{id}", h.GetPaymentStatus)
			r.Get("/{id}/wait", h.WaitPaymentStatus)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	// Provider callbacks
	r.Post("/payment-callback", h.PaymentCallback)
	r.Post("/payment-callback/processing", h.PaymentProcessing)

	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	r.Get("/health", h.Health)

	return r
}

// pinger is implemented by stores backed by a database connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store answers.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			logger.FromContext(r.Context()).Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
