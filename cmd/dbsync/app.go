package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gofrs/flock"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/dbsync/internal/backup"
	"github.com/mschirtzinger/dbsync/internal/config"
	"github.com/mschirtzinger/dbsync/internal/dbsnap"
	"github.com/mschirtzinger/dbsync/internal/history"
	"github.com/mschirtzinger/dbsync/internal/logging"
	"github.com/mschirtzinger/dbsync/internal/orchestrator"
	"github.com/mschirtzinger/dbsync/internal/vcs"
	_ "github.com/mschirtzinger/dbsync/internal/vcs/git"
	_ "github.com/mschirtzinger/dbsync/internal/vcs/jj"
)

// app holds what most commands need: configuration, logger, backup store,
// history journal and the cross-process lock.
type app struct {
	viper   *viper.Viper
	cfg     *config.Config
	logger  *slog.Logger
	store   *backup.Store
	journal *history.Journal
	lock    *flock.Flock

	closers []io.Closer
}

func loadConfig() (*viper.Viper, *config.Config, error) {
	v := config.New(configFile, repoPath)
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	return v, cfg, nil
}

// openApp loads configuration and opens the local resources. The caller
// must call Close.
func openApp(ctx context.Context) (*app, error) {
	v, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, logCloser := logging.New(cfg.Log, verbose)
	a := &app{viper: v, cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	if cfg.File == "" {
		logger.Debug("no config file found, using defaults", "repo", cfg.RepoPath)
	}

	snap, err := newSnapshotter(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.store, err = backup.NewStore(cfg.BackupDir, snap, backup.WithLogger(logger.With("component", "backup")))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.journal, err = history.Open(ctx, cfg.HistoryPath())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.journal)

	a.lock, err = orchestrator.NewFileLock(cfg.LockPath())
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func newSnapshotter(cfg *config.Config, logger *slog.Logger) (dbsnap.Snapshotter, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return dbsnap.NewSQLite(cfg.Database.Path), nil
	case "command":
		return dbsnap.NewCommand(cfg.Database.DumpCommand, cfg.Database.RestoreCommand,
			cfg.Sync.StepTimeout, logger.With("component", "dbsnap"))
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

// manager builds the process-wide sync manager.
func (a *app) manager(opts ...orchestrator.Option) (*orchestrator.Manager, error) {
	return orchestrator.Instance(func() (*orchestrator.Manager, error) {
		repo, err := vcs.Open(a.cfg.RepoPath, a.cfg.VCS.Type, vcs.Options{
			Remote:     a.cfg.VCS.Remote,
			Branch:     a.cfg.VCS.Branch,
			Timeout:    a.cfg.Sync.StepTimeout,
			MinVersion: a.cfg.VCS.MinVersion,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open repository %s: %w", a.cfg.RepoPath, err)
		}
		a.logger.Debug("repository opened", "vcs", repo.Name(), "path", a.cfg.RepoPath)

		base := []orchestrator.Option{
			orchestrator.WithLogger(a.logger.With("component", "orchestrator")),
			orchestrator.WithRecorder(a.journal),
			orchestrator.WithLocker(a.lock),
		}
		return orchestrator.New(orchestrator.Deps{
			Repo:    repo,
			Backups: a.store,
			Config:  a.cfg.Sync,
		}, append(base, opts...)...)
	})
}

// withLock runs f while holding the sync lock, so that backup maintenance
// never overlaps a running sync in another process.
func (a *app) withLock(f func() error) error {
	ok, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !ok {
		return orchestrator.ErrAlreadyRunning
	}
	defer func() { _ = a.lock.Unlock() }()
	return f()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
