package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// SchedulerStats counts what the scheduler did with its ticks.
type SchedulerStats struct {
	Ticks    int64
	Started  int64
	Skipped  int64
	Disabled int64
}

// Scheduler requests a db_only sync every AutoSyncInterval. Ticks that
// arrive while an operation is running are dropped, not queued.
type Scheduler struct {
	m      *Manager
	clock  clockwork.Clock
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ticks, started, skipped, disabled atomic.Int64
}

// NewScheduler returns a scheduler driving m, using m's clock and logger.
func NewScheduler(m *Manager) *Scheduler {
	return &Scheduler{
		m:      m,
		clock:  m.Clock(),
		logger: m.Logger().With("component", "scheduler"),
	}
}

// Start launches the tick loop. Calling Start on a running scheduler does
// nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	interval := s.m.Config().AutoSyncInterval
	ticker := s.clock.NewTicker(interval)
	s.logger.Info("scheduler started", "interval", interval)

	go s.loop(ctx, ticker, interval, s.done)
}

// Stop stops the loop and waits for it to exit. It does not wait for an
// operation the scheduler started; use Manager.WaitIdle for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

// Stats returns tick counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Ticks:    s.ticks.Load(),
		Started:  s.started.Load(),
		Skipped:  s.skipped.Load(),
		Disabled: s.disabled.Load(),
	}
}

func (s *Scheduler) loop(ctx context.Context, ticker clockwork.Ticker, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if next := s.m.Config().AutoSyncInterval; next > 0 && next != interval {
				s.logger.Info("auto sync interval changed", "old", interval, "new", next)
				interval = next
				ticker.Reset(interval)
			}
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	s.ticks.Add(1)

	if !s.m.Config().AutoSyncEnabled {
		s.disabled.Add(1)
		s.logger.Debug("auto sync disabled, ignoring tick")
		return
	}
	if s.m.IsSyncing() {
		s.skipped.Add(1)
		s.logger.Info("sync in progress, skipping auto sync")
		return
	}

	h, err := s.m.StartSync(KindDBOnly, TriggerAuto)
	if errors.Is(err, ErrAlreadyRunning) {
		s.skipped.Add(1)
		s.logger.Info("sync in progress, skipping auto sync")
		return
	}
	if err != nil {
		s.logger.Error("failed to start auto sync", "error", err)
		return
	}

	s.started.Add(1)
	s.logger.Debug("auto sync started", "id", h.ID())
}
