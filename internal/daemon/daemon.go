// Package daemon runs the sync lifecycle of a long-lived process.
//
// The daemon:
//  1. Runs a startup sync (pull, restore newest backup) if enabled
//  2. Starts the scheduler for periodic database-only syncs
//  3. Waits for the context to end
//  4. Stops the scheduler, waits for an in-flight sync, then runs the
//     shutdown sync (backup, push) if enabled
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mschirtzinger/dbsync/internal/config"
	"github.com/mschirtzinger/dbsync/internal/logging"
	"github.com/mschirtzinger/dbsync/internal/orchestrator"
)

// Config holds configuration for the daemon.
type Config struct {
	// DrainTimeout bounds the wait for an in-flight sync at shutdown.
	DrainTimeout time.Duration

	// Logger for daemon activity
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DrainTimeout: 30 * time.Minute,
	}
}

// Daemon drives a Manager through startup, periodic and shutdown syncs.
type Daemon struct {
	m      *orchestrator.Manager
	sched  *orchestrator.Scheduler
	config *Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stopErr  error
}

// New creates a daemon for m with the default configuration.
func New(m *orchestrator.Manager) (*Daemon, error) {
	return NewWithConfig(m, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(m *orchestrator.Manager, config *Config) (*Daemon, error) {
	if m == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		m:      m,
		sched:  orchestrator.NewScheduler(m),
		config: config,
		logger: logging.OrDiscard(config.Logger).With("component", "daemon"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Scheduler returns the daemon's scheduler.
func (d *Daemon) Scheduler() *orchestrator.Scheduler {
	return d.sched
}

// Reload applies a new sync configuration. The scheduler picks up
// interval and enable changes at its next tick.
func (d *Daemon) Reload(cfg config.Sync) {
	d.m.Reconfigure(cfg)
}

// Start runs the startup sync and the scheduler, then blocks until ctx is
// cancelled or Stop is called. On cancellation it performs the shutdown
// sequence and returns its result.
//
// A failed startup sync is logged and does not prevent the daemon from
// running.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("starting daemon")

	if d.m.Config().SyncOnStartup {
		op, err := d.runSync(ctx, orchestrator.KindStartup)
		if err != nil {
			d.logger.Error("startup sync failed", "error", err, "category", orchestrator.Classify(err))
		} else {
			d.logger.Info("startup sync finished", "message", op.Message)
		}
	}

	d.sched.Start(d.ctx)

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return d.stopErr
	}
}

// Stop stops the scheduler, waits for any running sync and runs the
// shutdown sync if enabled. Only the first call does any work.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping daemon")
		d.sched.Stop()

		drain, cancel := context.WithTimeout(context.Background(), d.config.DrainTimeout)
		defer cancel()
		if err := d.m.WaitIdle(drain); err != nil {
			d.logger.Warn("in-flight sync did not finish, cancelling it", "error", err)
			d.m.CancelCurrent()
			if err := d.m.WaitIdle(context.Background()); err != nil {
				d.stopErr = err
			}
		}

		if d.stopErr == nil && d.m.Config().SyncOnExit {
			if _, err := d.runSync(context.Background(), orchestrator.KindShutdown); err != nil {
				d.logger.Error("shutdown sync failed", "error", err, "category", orchestrator.Classify(err))
				d.stopErr = fmt.Errorf("shutdown sync failed: %w", err)
			}
		}

		d.cancel()
		d.logger.Info("daemon stopped")
	})
	return d.stopErr
}

// runSync starts a lifecycle operation and waits for it. If the manager
// is busy, it waits for the running operation and tries once more.
func (d *Daemon) runSync(ctx context.Context, kind orchestrator.Kind) (orchestrator.Operation, error) {
	h, err := d.m.StartSync(kind, orchestrator.TriggerLifecycle)
	if err != nil {
		if werr := d.m.WaitIdle(ctx); werr != nil {
			return orchestrator.Operation{}, werr
		}
		if h, err = d.m.StartSync(kind, orchestrator.TriggerLifecycle); err != nil {
			return orchestrator.Operation{}, err
		}
	}
	return h.Wait(ctx)
}
