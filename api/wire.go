package api

import (
	"time"

	"go.uber.org/zap"

	"github.com/warp/fees-engine/academics"
	"github.com/warp/fees-engine/billing"
	"github.com/warp/fees-engine/factory"
	"github.com/warp/fees-engine/generic"
	"github.com/warp/fees-engine/mobilemoney"
)

// Options are the collaborators the HTTP layer is built from.
type Options struct {
	Store    generic.Store
	Runs     generic.RunStore
	Notifier generic.Notifier
	Audit    generic.AuditSink
	Provider mobilemoney.Provider
	Log      *zap.Logger

	CallbackSecret   string
	PollRate         float64
	PollBurst        int
	// PollInterval and PollTimeout drive /wait; WriteTimeout is the
	// server's, so the wait can be kept inside it.
	PollInterval     time.Duration
	PollTimeout      time.Duration
	WriteTimeout     time.Duration
	SweepInterval    time.Duration
	SweepConcurrency int
	SchedulerEnabled bool
}

// NewHandler builds every domain service over one store and emitter.
func NewHandler(opts Options) *Handler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Provider == nil {
		opts.Provider = mobilemoney.NewSandbox()
	}
	if opts.Runs == nil {
		if runs, ok := opts.Store.(generic.RunStore); ok {
			opts.Runs = runs
		}
	}
	if opts.PollRate <= 0 {
		opts.PollRate = 2
	}
	if opts.PollBurst <= 0 {
		opts.PollBurst = 4
	}

	emitter := generic.NewEmitter(opts.Notifier, opts.Audit, log)
	guard := generic.NewPeriodGuard(opts.Store, emitter)
	ledger := billing.NewLedger(opts.Store, guard, emitter, log)

	penaltyOpts := []billing.PenaltyOption{}
	if opts.Runs != nil {
		penaltyOpts = append(penaltyOpts, billing.WithRunStore(opts.Runs))
	}
	if opts.SweepConcurrency > 0 {
		penaltyOpts = append(penaltyOpts, billing.WithConcurrency(opts.SweepConcurrency))
	}
	penalties := billing.NewPenaltyEngine(ledger, penaltyOpts...)

	metrics := NewMetrics()
	scheduler := NewPenaltyScheduler(penalties, metrics, log)
	scheduler.Enabled = opts.SchedulerEnabled
	if opts.SweepInterval > 0 {
		scheduler.Interval = opts.SweepInterval
	}

	return &Handler{
		Store:          opts.Store,
		Runs:           opts.Runs,
		Guard:          guard,
		Ledger:         ledger,
		Penalties:      penalties,
		Waivers:        billing.NewWaiverService(opts.Store, emitter),
		Grades:         academics.NewGradeChangeService(opts.Store, emitter),
		Payments:       mobilemoney.NewEngine(ledger, opts.Provider, emitter, log),
		Rules:          factory.NewPenaltyFactory(),
		Scheduler:      scheduler,
		Metrics:        metrics,
		Log:            log,
		CallbackSecret: opts.CallbackSecret,
		PollLimiter:    NewPollLimiter(opts.PollRate, opts.PollBurst),
		Wait:           NewWaitConfig(opts.PollInterval, opts.PollTimeout, opts.WriteTimeout),
	}
}
