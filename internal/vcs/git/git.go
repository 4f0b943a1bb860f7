// Package git provides a git implementation of vcs.RepositoryClient.
//
// It wraps the git CLI. Every command runs in the repository root, is bounded
// by the configured timeout, and has its failures classified into the vcs
// sentinel errors so the sync engine can tell a dead network from a missing
// binary.
//
// Usage:
//
//	import _ "github.com/mschirtzinger/dbsync/internal/vcs/git" // registers via init()
package git

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/mschirtzinger/dbsync/internal/vcs"
)

func init() {
	vcs.Register(vcs.TypeGit, func(path string, opts vcs.Options) (vcs.RepositoryClient, error) {
		return New(path, opts)
	})
}

// Git implements vcs.RepositoryClient for git repositories.
type Git struct {
	// repoRoot is the repository root directory path
	repoRoot string

	// vcsDir is the .git directory path
	vcsDir string

	opts vcs.Options
}

// New creates a Git client for the repository containing path.
//
// It fails with vcs.ErrToolUnavailable when git is not installed or older
// than opts.MinVersion, and with vcs.ErrNotInVCS when path is not inside a
// repository.
func New(path string, opts vcs.Options) (*Git, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("%w: git not found in PATH", vcs.ErrToolUnavailable)
	}

	g := &Git{opts: opts}

	version, err := g.Version()
	if err != nil {
		return nil, err
	}
	if err := vcs.CheckMinVersion("git", version, opts.MinVersion); err != nil {
		return nil, err
	}

	if err := g.detect(path); err != nil {
		return nil, err
	}

	return g, nil
}

// Name returns the VCS type (git)
func (g *Git) Name() vcs.Type {
	return vcs.TypeGit
}

// Version returns the raw `git --version` output
func (g *Git) Version() (string, error) {
	output, err := vcs.ExecContext(context.Background(), g.opts.Timeout, "", "git", "--version")
	if err != nil {
		return "", fmt.Errorf("failed to get git version: %w", err)
	}
	return vcs.TrimOutput(output), nil
}

// RepoRoot returns the repository root directory path
func (g *Git) RepoRoot() string {
	return g.repoRoot
}

// exec runs git in the repository root.
func (g *Git) exec(ctx context.Context, args ...string) ([]byte, error) {
	return vcs.ExecContext(ctx, g.opts.Timeout, g.repoRoot, "git", args...)
}
