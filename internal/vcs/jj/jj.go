// Package jj implements vcs.RepositoryClient for Jujutsu (jj).
//
// jj tracks working-copy changes automatically, so "commit" here means
// sealing the current change with a description, moving the sync bookmark
// onto it and pushing that bookmark through jj's git backend.
package jj

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mschirtzinger/dbsync/internal/vcs"
)

func init() {
	vcs.Register(vcs.TypeJJ, func(path string, opts vcs.Options) (vcs.RepositoryClient, error) {
		return New(path, opts)
	})
}

// defaultBookmark is pushed when no branch is configured.
const defaultBookmark = "main"

// JJ implements vcs.RepositoryClient for Jujutsu.
type JJ struct {
	// repoRoot is the repository root directory
	repoRoot string

	// isColocated indicates if this is a colocated repo (.jj + .git)
	isColocated bool

	opts vcs.Options
}

// New creates a JJ client for the repository containing path.
//
// The repository must already be initialized with jj (have a .jj directory).
func New(path string, opts vcs.Options) (*JJ, error) {
	if _, err := exec.LookPath("jj"); err != nil {
		return nil, fmt.Errorf("%w: jj not found in PATH", vcs.ErrToolUnavailable)
	}

	root := FindRepoRoot(path)
	if root == "" {
		return nil, vcs.ErrNotInVCS
	}

	j := &JJ{
		repoRoot:    root,
		isColocated: IsColocated(root),
		opts:        opts,
	}

	if opts.MinVersion != "" {
		version, err := j.Version()
		if err != nil {
			return nil, err
		}
		if err := vcs.CheckMinVersion("jj", version, opts.MinVersion); err != nil {
			return nil, err
		}
	}

	return j, nil
}

// Name returns the VCS type.
func (j *JJ) Name() vcs.Type {
	return vcs.TypeJJ
}

// Version returns the raw `jj --version` output.
func (j *JJ) Version() (string, error) {
	output, err := vcs.ExecContext(context.Background(), j.opts.Timeout, "", "jj", "--version")
	if err != nil {
		return "", fmt.Errorf("failed to get jj version: %w", err)
	}
	return vcs.TrimOutput(output), nil
}

// RepoRoot returns the repository root directory path.
func (j *JJ) RepoRoot() string {
	return j.repoRoot
}

// Exec runs jj in the repository root.
func (j *JJ) Exec(ctx context.Context, args ...string) ([]byte, error) {
	return vcs.ExecContext(ctx, j.opts.Timeout, j.repoRoot, "jj", args...)
}

func (j *JJ) bookmark() string {
	if j.opts.Branch != "" {
		return j.opts.Branch
	}
	return defaultBookmark
}

// FindRepoRoot finds the jj repository root by walking up the directory tree.
// Returns empty string if not in a jj repository.
func FindRepoRoot(path string) string {
	current, err := filepath.Abs(path)
	if err != nil {
		return ""
	}

	for {
		if info, err := os.Stat(filepath.Join(current, ".jj")); err == nil && info.IsDir() {
			return current
		}

		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

// IsColocated returns true if the repository has both .jj and .git.
func IsColocated(repoRoot string) bool {
	_, err := os.Stat(filepath.Join(repoRoot, ".git"))
	return err == nil
}

// relPaths makes absolute paths relative to the repository root so they
// can be passed as jj filesets.
func (j *JJ) relPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if filepath.IsAbs(p) {
			if rel, err := vcs.RelativePath(j.repoRoot, p); err == nil && !strings.HasPrefix(rel, "..") {
				p = rel
			}
		}
		out = append(out, p)
	}
	return out
}
