// Package config loads dbsync settings from a TOML file, environment
// variables and built-in defaults.
//
// Settings are read through viper. The on-disk layout mirrors Settings; the
// rest of the program works with the resolved Config, where hours and days
// have become durations and relative paths are anchored to the repository.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// DefaultFileName is the config file looked up in the repository root.
const DefaultFileName = ".dbsync.toml"

// EnvPrefix prefixes environment overrides, e.g. DBSYNC_AUTO_SYNC_ENABLED.
const EnvPrefix = "DBSYNC"

// Sync holds the settings that drive the orchestration engine.
type Sync struct {
	// SyncOnStartup runs a startup sync when the daemon starts.
	SyncOnStartup bool

	// SyncOnExit runs a shutdown sync when the daemon stops.
	SyncOnExit bool

	// AutoSyncEnabled turns the periodic database-only sync on.
	AutoSyncEnabled bool

	// AutoSyncInterval is the period between scheduler ticks.
	AutoSyncInterval time.Duration

	// BackupRetention is the age after which backups are pruned.
	// Zero or negative disables pruning.
	BackupRetention time.Duration

	// StepTimeout bounds every external tool invocation.
	StepTimeout time.Duration

	// MaxRetries is how many times a step failing with a retryable
	// error is attempted again.
	MaxRetries int
}

// DefaultSync returns the engine defaults.
func DefaultSync() Sync {
	return Sync{
		SyncOnStartup:    true,
		SyncOnExit:       true,
		AutoSyncEnabled:  true,
		AutoSyncInterval: 3 * time.Hour,
		BackupRetention:  30 * 24 * time.Hour,
		StepTimeout:      10 * time.Minute,
	}
}

// VCS selects and configures the repository client.
type VCS struct {
	Type       string
	Remote     string
	Branch     string
	MinVersion string
}

// Database selects and configures the snapshotter.
type Database struct {
	Driver         string
	Path           string
	DumpCommand    []string
	RestoreCommand []string
}

// Log configures the file log sink.
type Log struct {
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Dashboard configures the event feed server.
type Dashboard struct {
	Port int
}

// Config is the fully resolved configuration.
type Config struct {
	Sync      Sync
	RepoPath  string
	BackupDir string
	StateDir  string
	VCS       VCS
	Database  Database
	Log       Log
	Dashboard Dashboard

	// File is the config file that was read, empty when none existed.
	File string
}

// LockPath is the cross-process sync lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.StateDir, "sync.lock")
}

// HistoryPath is the operation journal database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.StateDir, "history.db")
}

// New returns a viper instance with defaults and environment overrides
// registered. configFile may be empty, in which case DefaultFileName inside
// repoPath is used.
func New(configFile, repoPath string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if repoPath != "" {
		v.Set("repo_path", repoPath)
	}
	if configFile == "" {
		configFile = filepath.Join(v.GetString("repo_path"), DefaultFileName)
	}
	v.SetConfigFile(configFile)
	v.SetConfigType("toml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func setDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("sync_on_startup", d.SyncOnStartup)
	v.SetDefault("sync_on_exit", d.SyncOnExit)
	v.SetDefault("auto_sync_enabled", d.AutoSyncEnabled)
	v.SetDefault("auto_sync_interval_hours", d.AutoSyncIntervalHours)
	v.SetDefault("backup_retention_days", d.BackupRetentionDays)
	v.SetDefault("step_timeout_minutes", d.StepTimeoutMinutes)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("repo_path", d.RepoPath)
	v.SetDefault("backup_dir", d.BackupDir)
	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("vcs.type", d.VCS.Type)
	v.SetDefault("vcs.remote", d.VCS.Remote)
	v.SetDefault("vcs.branch", d.VCS.Branch)
	v.SetDefault("vcs.min_version", d.VCS.MinVersion)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.dump_command", d.Database.DumpCommand)
	v.SetDefault("database.restore_command", d.Database.RestoreCommand)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
}

// Load reads the config file, if present, and resolves the result.
func Load(v *viper.Viper) (*Config, error) {
	file := v.ConfigFileUsed()
	if _, err := os.Stat(file); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", file, err)
	} else {
		file = ""
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.File = file
	return cfg, nil
}

// Settings returns the current raw settings held by v.
func Settings(v *viper.Viper) (*File, error) {
	var s File
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &s, nil
}

func decode(v *viper.Viper) (*Config, error) {
	s, err := Settings(v)
	if err != nil {
		return nil, err
	}
	cfg, err := s.Resolve()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve validates the settings and converts them into a Config.
func (s *File) Resolve() (*Config, error) {
	if s.AutoSyncIntervalHours <= 0 {
		return nil, fmt.Errorf("auto_sync_interval_hours must be positive, got %v", s.AutoSyncIntervalHours)
	}
	if s.StepTimeoutMinutes < 0 {
		return nil, fmt.Errorf("step_timeout_minutes cannot be negative")
	}
	if s.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries cannot be negative")
	}

	switch s.VCS.Type {
	case "auto", "git", "jj":
	default:
		return nil, fmt.Errorf("unknown vcs.type %q (want auto, git or jj)", s.VCS.Type)
	}

	switch s.Database.Driver {
	case "sqlite":
		if s.Database.Path == "" {
			return nil, fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "command":
		if len(s.Database.DumpCommand) == 0 || len(s.Database.RestoreCommand) == 0 {
			return nil, fmt.Errorf("database.dump_command and database.restore_command are required for the command driver")
		}
	default:
		return nil, fmt.Errorf("unknown database.driver %q (want sqlite or command)", s.Database.Driver)
	}

	repo, err := filepath.Abs(s.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repo_path: %w", err)
	}

	stateDir, err := homedir.Expand(s.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand state_dir: %w", err)
	}
	stateDir, err = filepath.Abs(stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state_dir: %w", err)
	}

	cfg := &Config{
		Sync: Sync{
			SyncOnStartup:    s.SyncOnStartup,
			SyncOnExit:       s.SyncOnExit,
			AutoSyncEnabled:  s.AutoSyncEnabled,
			AutoSyncInterval: time.Duration(s.AutoSyncIntervalHours * float64(time.Hour)),
			BackupRetention:  time.Duration(s.BackupRetentionDays * float64(24*time.Hour)),
			StepTimeout:      time.Duration(s.StepTimeoutMinutes) * time.Minute,
			MaxRetries:       s.MaxRetries,
		},
		RepoPath:  repo,
		BackupDir: anchor(repo, s.BackupDir),
		StateDir:  stateDir,
		VCS: VCS{
			Type:       s.VCS.Type,
			Remote:     s.VCS.Remote,
			Branch:     s.VCS.Branch,
			MinVersion: s.VCS.MinVersion,
		},
		Database: Database{
			Driver:         s.Database.Driver,
			DumpCommand:    s.Database.DumpCommand,
			RestoreCommand: s.Database.RestoreCommand,
		},
		Log: Log{
			Level:      s.Log.Level,
			MaxSizeMB:  s.Log.MaxSizeMB,
			MaxBackups: s.Log.MaxBackups,
			MaxAgeDays: s.Log.MaxAgeDays,
		},
		Dashboard: Dashboard{Port: s.Dashboard.Port},
	}
	if s.Database.Path != "" {
		cfg.Database.Path = anchor(repo, s.Database.Path)
	}
	if s.Log.File != "" {
		cfg.Log.File = anchor(stateDir, s.Log.File)
	}

	return cfg, nil
}

// anchor joins a relative path onto base.
func anchor(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
