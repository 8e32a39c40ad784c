// Package scheduler runs the integrity checks of the server in the
// background: a scan every interval, optionally followed by a repair.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"evalgo.org/nimbus/internal/integrity"
	"evalgo.org/nimbus/internal/logging"
)

// Checker is the part of the integrity service the scheduler drives.
type Checker interface {
	Scan(ctx context.Context) (*integrity.ScanReport, error)
	CreateRepairPlan(report *integrity.ScanReport, strategy integrity.ResolutionStrategy) (*integrity.RepairPlan, error)
	ExecutePlan(ctx context.Context, plan *integrity.RepairPlan, dryRun bool) (*integrity.RepairResult, error)
}

// Scheduler runs integrity scans periodically.
type Scheduler struct {
	checker    Checker
	interval   time.Duration
	autoRepair bool
	strategy   integrity.ResolutionStrategy
	onScan     func(*integrity.ScanReport)
	log        logrus.FieldLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	last    *integrity.ScanReport
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithAutoRepair executes the repair plan of every scan with strategy.
func WithAutoRepair(strategy integrity.ResolutionStrategy) Option {
	return func(s *Scheduler) {
		s.autoRepair = true
		s.strategy = strategy
	}
}

// WithScanHook calls fn with every finished scan report.
func WithScanHook(fn func(*integrity.ScanReport)) Option {
	return func(s *Scheduler) { s.onScan = fn }
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.log = logger.WithField("component", "scheduler") }
}

// New creates a scheduler scanning every interval.
func New(checker Checker, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		checker:  checker,
		interval: interval,
		strategy: integrity.StrategyLatestWins,
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the scheduler loop. The first scan runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Warn("scheduler already running")
		return
	}
	if s.interval <= 0 {
		s.log.Debug("integrity scans disabled")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	s.log.WithField("interval", s.interval.String()).Info("scheduler started")

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.RunOnce(ctx)
		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-ctx.Done():
				s.log.Info("scheduler stopped")
				return
			}
		}
	}()
}

// Stop halts the scheduler and waits for a running scan to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// LastReport returns the report of the last successful scan, or nil.
func (s *Scheduler) LastReport() *integrity.ScanReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunOnce scans, and repairs when auto repair is enabled. Failures are
// logged; the next tick tries again.
func (s *Scheduler) RunOnce(ctx context.Context) *integrity.ScanReport {
	report, err := s.checker.Scan(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.WithError(err).Error("integrity scan failed")
		}
		return nil
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	if s.onScan != nil {
		s.onScan(report)
	}

	if !s.autoRepair || report.Summary.TotalIssues == 0 {
		return report
	}

	plan, err := s.checker.CreateRepairPlan(report, s.strategy)
	if err != nil {
		s.log.WithError(err).Error("failed to create repair plan")
		return report
	}
	if len(plan.Operations) == 0 {
		return report
	}

	result, err := s.checker.ExecutePlan(ctx, plan, false)
	if err != nil {
		s.log.WithError(err).Error("repair failed")
		return report
	}

	s.log.WithFields(logrus.Fields{
		"plan":      plan.ID,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}).Info("integrity repair executed")

	return report
}
