package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// File is the on-disk shape of the config file.
type File struct {
	SyncOnStartup         bool    `mapstructure:"sync_on_startup" toml:"sync_on_startup" yaml:"sync_on_startup" json:"sync_on_startup"`
	SyncOnExit            bool    `mapstructure:"sync_on_exit" toml:"sync_on_exit" yaml:"sync_on_exit" json:"sync_on_exit"`
	AutoSyncEnabled       bool    `mapstructure:"auto_sync_enabled" toml:"auto_sync_enabled" yaml:"auto_sync_enabled" json:"auto_sync_enabled"`
	AutoSyncIntervalHours float64 `mapstructure:"auto_sync_interval_hours" toml:"auto_sync_interval_hours" yaml:"auto_sync_interval_hours" json:"auto_sync_interval_hours"`
	BackupRetentionDays   float64 `mapstructure:"backup_retention_days" toml:"backup_retention_days" yaml:"backup_retention_days" json:"backup_retention_days"`
	StepTimeoutMinutes    int     `mapstructure:"step_timeout_minutes" toml:"step_timeout_minutes" yaml:"step_timeout_minutes" json:"step_timeout_minutes"`
	MaxRetries            int     `mapstructure:"max_retries" toml:"max_retries" yaml:"max_retries" json:"max_retries"`
	RepoPath              string  `mapstructure:"repo_path" toml:"repo_path" yaml:"repo_path" json:"repo_path"`
	BackupDir             string  `mapstructure:"backup_dir" toml:"backup_dir" yaml:"backup_dir" json:"backup_dir"`
	StateDir              string  `mapstructure:"state_dir" toml:"state_dir" yaml:"state_dir" json:"state_dir"`

	VCS       VCSSection       `mapstructure:"vcs" toml:"vcs" yaml:"vcs" json:"vcs"`
	Database  DatabaseSection  `mapstructure:"database" toml:"database" yaml:"database" json:"database"`
	Log       LogSection       `mapstructure:"log" toml:"log" yaml:"log" json:"log"`
	Dashboard DashboardSection `mapstructure:"dashboard" toml:"dashboard" yaml:"dashboard" json:"dashboard"`
}

// VCSSection is the [vcs] table.
type VCSSection struct {
	Type       string `mapstructure:"type" toml:"type" yaml:"type" json:"type"`
	Remote     string `mapstructure:"remote" toml:"remote" yaml:"remote" json:"remote"`
	Branch     string `mapstructure:"branch" toml:"branch" yaml:"branch" json:"branch"`
	MinVersion string `mapstructure:"min_version" toml:"min_version" yaml:"min_version" json:"min_version"`
}

// DatabaseSection is the [database] table.
type DatabaseSection struct {
	Driver         string   `mapstructure:"driver" toml:"driver" yaml:"driver" json:"driver"`
	Path           string   `mapstructure:"path" toml:"path" yaml:"path" json:"path"`
	DumpCommand    []string `mapstructure:"dump_command" toml:"dump_command" yaml:"dump_command" json:"dump_command"`
	RestoreCommand []string `mapstructure:"restore_command" toml:"restore_command" yaml:"restore_command" json:"restore_command"`
}

// LogSection is the [log] table.
type LogSection struct {
	File       string `mapstructure:"file" toml:"file" yaml:"file" json:"file"`
	Level      string `mapstructure:"level" toml:"level" yaml:"level" json:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days" yaml:"max_age_days" json:"max_age_days"`
}

// DashboardSection is the [dashboard] table.
type DashboardSection struct {
	Port int `mapstructure:"port" toml:"port" yaml:"port" json:"port"`
}

// DefaultSettings returns the settings written by `dbsync config init`.
func DefaultSettings() *File {
	return &File{
		SyncOnStartup:         true,
		SyncOnExit:            true,
		AutoSyncEnabled:       true,
		AutoSyncIntervalHours: 3,
		BackupRetentionDays:   30,
		StepTimeoutMinutes:    10,
		MaxRetries:            0,
		RepoPath:              ".",
		BackupDir:             "backups",
		StateDir:              "~/.dbsync",
		VCS: VCSSection{
			Type:       "auto",
			Remote:     "origin",
			MinVersion: "2.20.0",
		},
		Database: DatabaseSection{
			Driver: "sqlite",
			Path:   "data/app.db",
		},
		Log: LogSection{
			File:       "dbsync.log",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Encode writes s as TOML.
func (s *File) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(s)
}

// WriteDefault writes the default settings to path. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := DefaultSettings().Encode(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Close()
}

// Watch re-reads the config file whenever it changes and hands the resolved
// result to onChange. Invalid edits are logged and ignored. Watch is a no-op
// when no config file was loaded.
func Watch(v *viper.Viper, logger *slog.Logger, onChange func(*Config)) {
	file := v.ConfigFileUsed()
	if _, err := os.Stat(file); err != nil {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		cfg.File = file
		logger.Info("config reloaded", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
}
