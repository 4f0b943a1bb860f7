package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	repo := t.TempDir()

	cfg, err := Load(New("", repo))
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, DefaultSync(), cfg.Sync)
	assert.Equal(t, filepath.Join(repo, "backups"), cfg.BackupDir)
	assert.Equal(t, filepath.Join(repo, "data", "app.db"), cfg.Database.Path)
	assert.Equal(t, "auto", cfg.VCS.Type)
	assert.True(t, filepath.IsAbs(cfg.StateDir))
	assert.Equal(t, filepath.Join(cfg.StateDir, "sync.lock"), cfg.LockPath())
}

func TestLoad_FromFile(t *testing.T) {
	repo := t.TempDir()
	content := `
sync_on_startup = false
auto_sync_interval_hours = 0.5
backup_retention_days = 7
backup_dir = "snapshots"
state_dir = "state"

[database]
driver = "command"
dump_command = ["mysqldump", "app"]
restore_command = ["mysql", "app"]
`
	path := filepath.Join(repo, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(New("", repo))
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.False(t, cfg.Sync.SyncOnStartup)
	assert.True(t, cfg.Sync.SyncOnExit)
	assert.Equal(t, 30*time.Minute, cfg.Sync.AutoSyncInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Sync.BackupRetention)
	assert.Equal(t, filepath.Join(repo, "snapshots"), cfg.BackupDir)
	assert.Equal(t, "command", cfg.Database.Driver)
	assert.Equal(t, []string{"mysqldump", "app"}, cfg.Database.DumpCommand)
	assert.Equal(t, []string{"mysql", "app"}, cfg.Database.RestoreCommand)
}

func TestLoad_FractionalRetentionDays(t *testing.T) {
	repo := t.TempDir()
	path := filepath.Join(repo, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("backup_retention_days = 0.5\n"), 0644))

	cfg, err := Load(New("", repo))
	require.NoError(t, err)

	assert.Equal(t, 12*time.Hour, cfg.Sync.BackupRetention)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DBSYNC_AUTO_SYNC_ENABLED", "false")
	t.Setenv("DBSYNC_MAX_RETRIES", "2")

	cfg, err := Load(New("", t.TempDir()))
	require.NoError(t, err)

	assert.False(t, cfg.Sync.AutoSyncEnabled)
	assert.Equal(t, 2, cfg.Sync.MaxRetries)
}

func TestResolve_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*File)
		wantErr string
	}{
		{"zero interval", func(f *File) { f.AutoSyncIntervalHours = 0 }, "auto_sync_interval_hours"},
		{"negative retries", func(f *File) { f.MaxRetries = -1 }, "max_retries"},
		{"unknown vcs", func(f *File) { f.VCS.Type = "svn" }, "vcs.type"},
		{"unknown driver", func(f *File) { f.Database.Driver = "oracle" }, "database.driver"},
		{"sqlite without path", func(f *File) { f.Database.Path = "" }, "database.path"},
		{"command without restore", func(f *File) {
			f.Database.Driver = "command"
			f.Database.DumpCommand = []string{"pg_dump"}
		}, "restore_command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := DefaultSettings()
			tt.mutate(f)
			_, err := f.Resolve()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)

	require.NoError(t, WriteDefault(path, false))

	var got File
	_, err := toml.DecodeFile(path, &got)
	require.NoError(t, err)
	assert.Equal(t, *DefaultSettings(), got)

	err = WriteDefault(path, false)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already exists"))

	require.NoError(t, WriteDefault(path, true))
}
