/*
scheduler.go - Automated penalty sweep scheduler

PURPOSE:
  Periodically runs the penalty sweep so overdue invoices accrue their
  daily late-payment charge without anyone pressing a button.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Runs once immediately on start, then on every tick
  - The sweep is idempotent per (invoice, date), so a restart or an extra
    manual run on the same day charges nothing twice
  - Scheduled and manual runs never overlap: RunNow waits for an
    in-flight sweep
  - Every run is recorded by the engine's RunStore

CONFIGURATION:
  - Interval: How often to sweep (default: 24 hours)
  - Enabled:  Whether scheduler is active (default: true)

USAGE:
  scheduler := NewPenaltyScheduler(engine, metrics, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSweep endpoint (manual sweep)
  - billing/penalty.go: PenaltyEngine.Sweep
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/fees-engine/billing"
	"github.com/warp/fees-engine/generic"
)

// PenaltyScheduler runs the penalty sweep on an interval.
type PenaltyScheduler struct {
	Engine   *billing.PenaltyEngine
	Interval time.Duration
	Enabled  bool

	metrics *Metrics
	log     *zap.Logger
	now     func() time.Time

	runMu  sync.Mutex
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tickMu   sync.Mutex
	lastTick time.Time
}

func NewPenaltyScheduler(engine *billing.PenaltyEngine, metrics *Metrics, log *zap.Logger) *PenaltyScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PenaltyScheduler{
		Engine:   engine,
		Interval: 24 * time.Hour,
		Enabled:  true,
		metrics:  metrics,
		log:      log.Named("scheduler"),
		now:      time.Now,
	}
}

// Start begins the scheduler. Calling Start on a running scheduler is a
// no-op.
func (s *PenaltyScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("disabled, not starting")
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)

	s.log.Info("started", zap.Duration("interval", s.Interval))
}

// Stop cancels any in-flight sweep and waits for the loop to exit.
func (s *PenaltyScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.tickMu.Lock()
	s.lastTick = time.Time{}
	s.tickMu.Unlock()
	s.log.Info("stopped")
}

func (s *PenaltyScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.sweepToday(ctx)
	for {
		select {
		case <-ticker.C:
			s.sweepToday(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *PenaltyScheduler) sweepToday(ctx context.Context) {
	now := s.now()
	s.tickMu.Lock()
	s.lastTick = now
	s.tickMu.Unlock()

	if _, err := s.RunNow(ctx, generic.DateOf(now)); err != nil && ctx.Err() == nil {
		s.log.Error("sweep failed", zap.Error(err))
	}
	s.log.Debug("next sweep scheduled", zap.Time("next_run", s.NextRunTime()))
}

// RunNow sweeps for asOf immediately, waiting for any sweep in progress.
func (s *PenaltyScheduler) RunNow(ctx context.Context, asOf generic.Date) (*billing.SweepReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report, err := s.Engine.Sweep(ctx, asOf)
	s.metrics.observeSweep(report)
	if err != nil {
		return report, err
	}
	s.log.Info("sweep completed",
		zap.String("as_of", asOf.String()),
		zap.Int("examined", report.Examined),
		zap.Int("applied", len(report.Applied)),
		zap.Int("failed", len(report.Failures)))
	return report, nil
}

// NextRunTime returns when the loop sweeps next, or the zero time when
// the loop is not running.
func (s *PenaltyScheduler) NextRunTime() time.Time {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if s.lastTick.IsZero() {
		return time.Time{}
	}
	return s.lastTick.Add(s.Interval)
}
