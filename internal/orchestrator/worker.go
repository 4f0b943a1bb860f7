package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mschirtzinger/dbsync/internal/backup"
	"github.com/mschirtzinger/dbsync/internal/config"
	"github.com/mschirtzinger/dbsync/internal/vcs"
)

// worker runs one operation on its own goroutine.
type worker struct {
	m      *Manager
	op     *Operation
	ctx    context.Context // cancellation token, checked between steps
	cfg    config.Sync
	handle *Handle

	// produced is set when the backup step wrote a new file.
	produced bool
}

func (w *worker) run() {
	steps := w.op.Kind.Steps()

	started := w.m.update(w.op, func(op *Operation) {
		op.Status = StatusRunning
		op.Message = "Starting " + string(op.Kind) + " sync"
	})
	w.m.logger.Info("sync started", "id", started.ID, "kind", started.Kind, "trigger", started.Trigger)
	w.publish(Event{Type: EventStarted, Operation: started, Time: w.m.clock.Now()})

	for i, step := range steps {
		if w.ctx.Err() != nil {
			w.m.finish(w, StatusCancelled, fmt.Errorf("%w before %s", ErrCancelled, step), "")
			return
		}

		w.progress(i*100/len(steps), step.describe())
		if err := w.runStep(step); err != nil {
			if errors.Is(err, ErrCancelled) {
				w.m.finish(w, StatusCancelled, err, "")
				return
			}
			w.m.finish(w, StatusFailed, err, step)
			return
		}
	}

	w.progress(100, "Done")
	w.m.finish(w, StatusSucceeded, nil, "")
}

// runStep runs step, retrying retryable failures up to MaxRetries times.
// The tool call runs on a context that ignores cancellation but is bounded
// by StepTimeout; cancellation is honored only between attempts.
func (w *worker) runStep(step Step) error {
	for attempt := 0; ; attempt++ {
		ctx := context.WithoutCancel(w.ctx)
		cancel := context.CancelFunc(func() {})
		if w.cfg.StepTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, w.cfg.StepTimeout)
		}
		start := w.m.clock.Now()
		err := w.exec(ctx, step)
		cancel()

		if err == nil {
			w.m.logger.Debug("step completed", "id", w.op.ID, "step", step, "duration", w.m.clock.Since(start))
			return nil
		}
		if !vcs.IsRetryable(err) || attempt >= w.cfg.MaxRetries || w.ctx.Err() != nil {
			return err
		}

		delay := retryBackoff(attempt)
		w.m.logger.Warn("step failed, retrying", "id", w.op.ID, "step", step,
			"attempt", attempt+1, "max_retries", w.cfg.MaxRetries, "delay", delay, "error", err)
		select {
		case <-w.m.clock.After(delay):
		case <-w.ctx.Done():
			return fmt.Errorf("%w while waiting to retry %s: %w", ErrCancelled, step, err)
		}
	}
}

// retryBackoff doubles from 2s per attempt, capped at one minute.
func retryBackoff(attempt int) time.Duration {
	const maxBackoff = time.Minute
	if attempt >= 5 {
		return maxBackoff
	}
	return min((2*time.Second)<<attempt, maxBackoff)
}

func (w *worker) exec(ctx context.Context, step Step) error {
	switch step {
	case StepPull:
		return w.m.repo.Pull(ctx)
	case StepRestore:
		return w.restore(ctx)
	case StepBackup:
		return w.backup(ctx)
	case StepPush:
		return w.push(ctx)
	case StepPrune:
		return w.prune()
	}
	return fmt.Errorf("unknown step %q", step)
}

func (w *worker) restore(ctx context.Context) error {
	latest, err := w.m.backups.Latest()
	if err != nil {
		return err
	}
	if latest == nil {
		w.skip("no backup to restore")
		return nil
	}

	w.progress(-1, "Restoring "+latest.Name())
	if err := w.m.backups.Restore(ctx, *latest); err != nil {
		return err
	}
	w.m.update(w.op, func(op *Operation) { op.Backup = latest.Path })
	return nil
}

func (w *worker) backup(ctx context.Context) error {
	rec, err := w.m.backups.Create(ctx)
	if errors.Is(err, backup.ErrNothingToBackUp) {
		w.skip("database unchanged, no new backup")
		return nil
	}
	if err != nil {
		return err
	}

	w.produced = true
	w.m.update(w.op, func(op *Operation) { op.Backup = rec.Path })
	return nil
}

// push commits the backup directory. Leftovers of an interrupted dump are
// removed first so a partial file is never committed.
func (w *worker) push(ctx context.Context) error {
	if _, err := w.m.backups.RemoveTemp(); err != nil {
		return fmt.Errorf("failed to clean backup dir before push: %w", err)
	}
	return w.m.repo.CommitAndPush(ctx, w.commitMessage(), w.m.backups.Dir())
}

func (w *worker) prune() error {
	deleted, err := w.m.backups.Prune(w.cfg.BackupRetention)
	if len(deleted) > 0 {
		w.m.logger.Info("old backups removed", "id", w.op.ID, "count", len(deleted))
	}
	return err
}

func (w *worker) commitMessage() string {
	w.m.mu.Lock()
	path := w.op.Backup
	w.m.mu.Unlock()

	if path != "" {
		return "dbsync: add " + filepath.Base(path)
	}
	return fmt.Sprintf("dbsync: %s sync at %s", w.op.Kind, w.m.clock.Now().UTC().Format(time.RFC3339))
}

func (w *worker) skip(note string) {
	w.m.update(w.op, func(op *Operation) { op.Skipped = append(op.Skipped, note) })
	w.m.logger.Info("step skipped", "id", w.op.ID, "reason", note)
}

// progress records and publishes a progress update. A negative percent
// keeps the previous value.
func (w *worker) progress(percent int, message string) {
	snap := w.m.update(w.op, func(op *Operation) {
		if percent >= 0 {
			op.Progress = percent
		}
		op.Message = message
	})

	if w.m.onProgress != nil {
		w.m.onProgress(snap.Progress, message)
	}
	w.publish(Event{Type: EventProgress, Operation: snap, Time: w.m.clock.Now()})
}

func (w *worker) publish(ev Event) {
	w.handle.send(w.m.emit(ev))
}
