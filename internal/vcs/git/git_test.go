package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/dbsync/internal/vcs"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// setupTestRepo creates a temporary git repository on branch main
func setupTestRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)

	dir := t.TempDir()
	run(t, dir, "init")
	run(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	run(t, dir, "config", "user.name", "Test User")
	run(t, dir, "config", "user.email", "test@example.com")
	run(t, dir, "config", "commit.gpgsign", "false")
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func testOptions() vcs.Options {
	return vcs.Options{Timeout: 30 * time.Second}
}

func TestNew(t *testing.T) {
	repoPath := setupTestRepo(t)

	g, err := New(filepath.Join(repoPath, "."), testOptions())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if g.Name() != vcs.TypeGit {
		t.Errorf("Name() = %v, want %v", g.Name(), vcs.TypeGit)
	}

	want, _ := filepath.EvalSymlinks(repoPath)
	if g.RepoRoot() != want {
		t.Errorf("RepoRoot() = %v, want %v", g.RepoRoot(), want)
	}
}

func TestNew_NotARepo(t *testing.T) {
	requireGit(t)

	dir := t.TempDir()
	if _, err := vcs.Detect(dir); err == nil {
		t.Skip("temp dir is inside a repository")
	}

	_, err := New(dir, testOptions())
	if !errors.Is(err, vcs.ErrNotInVCS) {
		t.Errorf("New() error = %v, want ErrNotInVCS", err)
	}
}

func TestNew_VersionTooOld(t *testing.T) {
	repoPath := setupTestRepo(t)

	opts := testOptions()
	opts.MinVersion = "999.0.0"
	_, err := New(repoPath, opts)
	if !errors.Is(err, vcs.ErrToolUnavailable) {
		t.Errorf("New() error = %v, want ErrToolUnavailable", err)
	}
}

func TestCommitAndPush_LocalOnly(t *testing.T) {
	repoPath := setupTestRepo(t)
	ctx := context.Background()

	g, err := New(repoPath, testOptions())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	backups := filepath.Join(repoPath, "backups")
	writeFile(t, filepath.Join(backups, "backup_2024-01-01_00-00-00.sql"), "CREATE TABLE t(x);\n")
	writeFile(t, filepath.Join(repoPath, "unrelated.txt"), "leave me alone")

	if err := g.CommitAndPush(ctx, "dbsync: backup", backups); err != nil {
		t.Fatalf("CommitAndPush() failed: %v", err)
	}

	if got := run(t, repoPath, "log", "-1", "--format=%s"); got != "dbsync: backup" {
		t.Errorf("last commit subject = %q, want %q", got, "dbsync: backup")
	}

	changed, err := g.HasChanges(ctx, "unrelated.txt")
	if err != nil {
		t.Fatalf("HasChanges() failed: %v", err)
	}
	if !changed {
		t.Error("unrelated.txt should not have been committed")
	}

	// Nothing new: no second commit.
	if err := g.CommitAndPush(ctx, "dbsync: again", backups); err != nil {
		t.Fatalf("CommitAndPush() failed: %v", err)
	}
	if got := run(t, repoPath, "rev-list", "--count", "HEAD"); got != "1" {
		t.Errorf("commit count = %s, want 1", got)
	}
}

func TestPushAndPull_ThroughBareRemote(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	remote := t.TempDir()
	run(t, remote, "init", "--bare")

	first := setupTestRepo(t)
	run(t, first, "remote", "add", "origin", remote)

	g1, err := New(first, testOptions())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	// Pull against an empty remote is a no-op.
	if err := g1.Pull(ctx); err != nil {
		t.Fatalf("Pull() on empty remote failed: %v", err)
	}

	writeFile(t, filepath.Join(first, "backups", "backup_2024-01-01_00-00-00.sql"), "v1\n")
	if err := g1.CommitAndPush(ctx, "first backup", filepath.Join(first, "backups")); err != nil {
		t.Fatalf("CommitAndPush() failed: %v", err)
	}

	second := setupTestRepo(t)
	run(t, second, "remote", "add", "origin", remote)
	g2, err := New(second, testOptions())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := g2.Pull(ctx); err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(second, "backups", "backup_2024-01-01_00-00-00.sql"))
	if err != nil {
		t.Fatalf("pulled backup missing: %v", err)
	}
	if string(data) != "v1\n" {
		t.Errorf("pulled backup = %q, want %q", data, "v1\n")
	}
}

func TestPull_UnreachableRemote(t *testing.T) {
	repoPath := setupTestRepo(t)
	run(t, repoPath, "remote", "add", "origin", filepath.Join(t.TempDir(), "missing.git"))

	g, err := New(repoPath, testOptions())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = g.Pull(context.Background())
	if !errors.Is(err, vcs.ErrNetworkFailure) {
		t.Errorf("Pull() error = %v, want ErrNetworkFailure", err)
	}
}

func TestRegistered(t *testing.T) {
	repoPath := setupTestRepo(t)

	client, err := vcs.Open(repoPath, "git", testOptions())
	if err != nil {
		t.Fatalf("vcs.Open() failed: %v", err)
	}
	if client.Name() != vcs.TypeGit {
		t.Errorf("Name() = %v, want git", client.Name())
	}
}
