package scheduler

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/toposync/internal/logger"
	"github.com/MrSnakeDoc/toposync/internal/metrics"
	"github.com/MrSnakeDoc/toposync/internal/reconcile"
)

// DefaultInterval applies when the configured interval is unset or invalid.
const DefaultInterval = 24 * time.Hour

// IntervalFromHours converts a fractional hour count, falling back to
// DefaultInterval for anything not strictly positive.
func IntervalFromHours(hours float64) time.Duration {
	if hours <= 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return DefaultInterval
	}
	d := time.Duration(hours * float64(time.Hour))
	if d <= 0 {
		return DefaultInterval
	}
	return d
}

// Sweeper runs one reconciliation sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (*reconcile.Report, error)
}

// SweepScheduler runs a sweep at startup, then on every tick and manual
// trigger. At most one sweep runs at a time; a tick that lands while a
// sweep is still running is dropped.
type SweepScheduler struct {
	sweeper       Sweeper
	logger        logger.Logger
	clock         clock.Clock
	metrics       *metrics.Metrics
	interval      time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}

	running  atomic.Bool
	skipped  atomic.Int64
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu   sync.RWMutex
	last *reconcile.Report
}

// NewSweepScheduler creates a new sweep scheduler. clk and m may be nil.
func NewSweepScheduler(
	sweeper Sweeper,
	log logger.Logger,
	clk clock.Clock,
	m *metrics.Metrics,
	interval time.Duration,
	manualTrigger chan struct{},
) *SweepScheduler {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if manualTrigger == nil {
		manualTrigger = make(chan struct{}, 1)
	}
	return &SweepScheduler{
		sweeper:       sweeper,
		logger:        log,
		clock:         clk,
		metrics:       m,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start launches the first sweep immediately and the periodic loop.
func (s *SweepScheduler) Start(ctx context.Context) {
	s.logger.Info("sweep scheduler started", logger.Duration("interval", s.interval))

	ticker := s.clock.Ticker(s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		s.tryRun(ctx, "startup")
		for {
			select {
			case <-ticker.C:
				s.tryRun(ctx, "interval")
			case <-s.manualTrigger:
				s.tryRun(ctx, "manual")
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Trigger asks for a sweep without blocking. It reports false when a
// trigger is already pending.
func (s *SweepScheduler) Trigger() bool {
	select {
	case s.manualTrigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stop ends the loop and waits for an in-flight sweep to finish its writes.
func (s *SweepScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("sweep scheduler stopped")
}

// Running reports whether a sweep is in progress.
func (s *SweepScheduler) Running() bool { return s.running.Load() }

// Skipped returns how many ticks or triggers were dropped.
func (s *SweepScheduler) Skipped() int64 { return s.skipped.Load() }

// Interval returns the tick period.
func (s *SweepScheduler) Interval() time.Duration { return s.interval }

// Last returns the report of the last completed sweep, if any.
func (s *SweepScheduler) Last() *reconcile.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *SweepScheduler) tryRun(ctx context.Context, reason string) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.metrics.SweepSkipped()
		s.logger.Warn("previous sweep still running, skipping", logger.String("reason", reason))
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		s.logger.Info("sweep triggered", logger.String("reason", reason))
		// Shutdown must not interrupt writes that are already under way.
		report, err := s.sweeper.Sweep(context.WithoutCancel(ctx))
		if err != nil {
			s.logger.Error("sweep completed with errors", logger.String("reason", reason), logger.Error(err))
		}
		if report != nil {
			s.mu.Lock()
			s.last = report
			s.mu.Unlock()
		}
	}()
	return true
}
