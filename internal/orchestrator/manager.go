package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mschirtzinger/dbsync/internal/backup"
	"github.com/mschirtzinger/dbsync/internal/config"
	"github.com/mschirtzinger/dbsync/internal/history"
	"github.com/mschirtzinger/dbsync/internal/logging"
	"github.com/mschirtzinger/dbsync/internal/vcs"
)

// BackupStore is the part of backup.Store the manager drives.
type BackupStore interface {
	Dir() string
	Create(ctx context.Context) (backup.Record, error)
	Latest() (*backup.Record, error)
	Restore(ctx context.Context, rec backup.Record) error
	Prune(retention time.Duration) ([]backup.Record, error)
	RemoveTemp() (int, error)
}

// Recorder persists finished operations. *history.Journal implements it.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Locker is a non-blocking cross-process lock. *flock.Flock implements it.
type Locker interface {
	TryLock() (bool, error)
	Unlock() error
}

// ProgressFunc receives progress on the worker goroutine.
type ProgressFunc func(percent int, message string)

// CompletionFunc receives the result of each operation on the worker
// goroutine.
type CompletionFunc func(success bool, message string)

// Deps are the collaborators a Manager cannot run without.
type Deps struct {
	Repo    vcs.RepositoryClient
	Backups BackupStore
	Config  config.Sync
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the clock used for timestamps and the scheduler.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRecorder records every finished operation.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLocker makes StartSync also take a cross-process lock.
func WithLocker(l Locker) Option {
	return func(m *Manager) { m.locker = l }
}

// WithProgressFunc sets the progress callback.
func WithProgressFunc(f ProgressFunc) Option {
	return func(m *Manager) { m.onProgress = f }
}

// WithCompletionFunc sets the completion callback.
func WithCompletionFunc(f CompletionFunc) Option {
	return func(m *Manager) { m.onComplete = f }
}

// Manager runs at most one sync operation at a time.
type Manager struct {
	repo       vcs.RepositoryClient
	backups    BackupStore
	logger     *slog.Logger
	clock      clockwork.Clock
	recorder   Recorder
	locker     Locker
	onProgress ProgressFunc
	onComplete CompletionFunc

	// mu guards the fields below. It is never held across a tool call.
	mu      sync.Mutex
	cfg     config.Sync
	syncing bool
	current *Operation
	last    *Operation
	cancel  context.CancelFunc
	idle    chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// New returns a Manager. The repository client and backup store are
// required.
func New(deps Deps, opts ...Option) (*Manager, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("repository client cannot be nil")
	}
	if deps.Backups == nil {
		return nil, fmt.Errorf("backup store cannot be nil")
	}
	if deps.Config.AutoSyncInterval <= 0 {
		return nil, fmt.Errorf("auto sync interval must be positive")
	}

	m := &Manager{
		repo:    deps.Repo,
		backups: deps.Backups,
		cfg:     deps.Config,
		clock:   clockwork.NewRealClock(),
		subs:    make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrDiscard(m.logger)
	return m, nil
}

var (
	instanceOnce sync.Once
	instance     *Manager
	instanceErr  error
)

// Instance returns the process-wide Manager, calling build exactly once.
// Concurrent first callers all wait for the same build. If build failed,
// every caller gets its error and no manager.
func Instance(build func() (*Manager, error)) (*Manager, error) {
	instanceOnce.Do(func() {
		instance, instanceErr = build()
		if instanceErr != nil {
			instance = nil
		}
	})
	return instance, instanceErr
}

// StartSync starts an operation of the given kind in the background and
// returns immediately. It returns ErrAlreadyRunning if an operation is
// already in progress, in this process or (with a Locker) in another.
func (m *Manager) StartSync(kind Kind, trigger Trigger) (*Handle, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown sync kind %q", kind)
	}

	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	if m.locker != nil {
		ok, err := m.locker.TryLock()
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
		}
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: lock held by another process", ErrAlreadyRunning)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	op := &Operation{
		ID:        uuid.NewString(),
		Kind:      kind,
		Trigger:   trigger,
		Status:    StatusPending,
		StartedAt: m.clock.Now(),
	}
	h := newHandle(op.ID, cancel)

	m.syncing = true
	m.current = op
	m.cancel = cancel
	m.idle = make(chan struct{})
	cfg := m.cfg
	m.mu.Unlock()

	w := &worker{m: m, op: op, ctx: ctx, cfg: cfg, handle: h}
	go w.run()

	return h, nil
}

// CurrentStatus returns a copy of the running operation, or of the last
// finished one. ok is false before the first operation.
func (m *Manager) CurrentStatus() (op Operation, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return m.current.clone(), true
	}
	if m.last != nil {
		return m.last.clone(), true
	}
	return Operation{}, false
}

// CancelCurrent asks the running operation to stop before its next step.
// It does nothing when idle.
func (m *Manager) CancelCurrent() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// IsSyncing reports whether an operation is running.
func (m *Manager) IsSyncing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncing
}

// Config returns the current sync configuration.
func (m *Manager) Config() config.Sync {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Reconfigure replaces the sync configuration. A running operation keeps
// the settings it started with.
func (m *Manager) Reconfigure(cfg config.Sync) {
	m.mu.Lock()
	old := m.cfg
	m.cfg = cfg
	m.mu.Unlock()

	if old != cfg {
		m.logger.Info("sync configuration updated",
			"auto_sync", cfg.AutoSyncEnabled,
			"interval", cfg.AutoSyncInterval,
			"retention", cfg.BackupRetention)
	}
}

// WaitIdle blocks until no operation is running or ctx is done.
func (m *Manager) WaitIdle(ctx context.Context) error {
	m.mu.Lock()
	if !m.syncing {
		m.mu.Unlock()
		return nil
	}
	idle := m.idle
	m.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// Clock returns the manager's clock.
func (m *Manager) Clock() clockwork.Clock {
	return m.clock
}

// update applies f to the live operation under the lock and returns a copy.
func (m *Manager) update(op *Operation, f func(*Operation)) Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(op)
	return op.clone()
}

// finish runs the completion sequence for w's operation.
func (m *Manager) finish(w *worker, status Status, err error, failed Step) {
	op := w.op

	// Kinds that back up without a prune step still honor retention.
	if status == StatusSucceeded && op.Kind.hasStep(StepBackup) && !op.Kind.hasStep(StepPrune) && w.produced {
		if _, perr := m.backups.Prune(w.cfg.BackupRetention); perr != nil {
			m.logger.Warn("failed to prune backups", "id", op.ID, "error", perr)
		}
	}

	final := m.update(op, func(op *Operation) {
		op.Status = status
		op.Err = err
		op.FailedStep = failed
		op.FinishedAt = m.clock.Now()
		if status == StatusSucceeded {
			op.Progress = 100
		}
		op.Message = op.summary()
	})

	if m.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if rerr := m.recorder.Record(ctx, op.entry()); rerr != nil {
			m.logger.Warn("failed to record operation", "id", op.ID, "error", rerr)
		}
		cancel()
	}

	// The flock is released under the same lock that clears the busy flag,
	// so a StartSync racing with completion cannot take the lock first and
	// have it released underneath it.
	m.mu.Lock()
	m.syncing = false
	m.last = op
	m.current = nil
	m.cancel = nil
	close(m.idle)
	if m.locker != nil {
		if uerr := m.locker.Unlock(); uerr != nil {
			m.logger.Warn("failed to release sync lock", "error", uerr)
		}
	}
	m.mu.Unlock()

	logArgs := []any{"id", final.ID, "kind", final.Kind, "trigger", final.Trigger,
		"status", final.Status, "duration", final.Duration(final.FinishedAt)}
	switch status {
	case StatusSucceeded:
		m.logger.Info("sync finished", logArgs...)
	case StatusCancelled:
		m.logger.Warn("sync cancelled", logArgs...)
	default:
		m.logger.Error("sync failed", append(logArgs, "step", failed, "category", Classify(err), "error", err)...)
	}

	if m.onComplete != nil {
		m.onComplete(status == StatusSucceeded, final.Message)
	}

	w.handle.finish(final, m.emit(Event{Type: EventFinished, Operation: final, Time: final.FinishedAt}))
}
