package git

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mschirtzinger/dbsync/internal/vcs"
)

// detect populates git repository information
func (g *Git) detect(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	output, err := vcs.ExecContext(context.Background(), g.opts.Timeout, absPath,
		"git", "rev-parse", "--git-dir", "--show-toplevel")
	if err != nil {
		return vcs.ErrNotInVCS
	}

	lines := vcs.ParseLines(output)
	if len(lines) < 2 {
		return fmt.Errorf("unexpected git rev-parse output: got %d lines, expected 2", len(lines))
	}

	gitDir := lines[0]
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(absPath, gitDir)
	}

	g.vcsDir = gitDir
	g.repoRoot = normalizeRepoRoot(lines[1])
	return nil
}

// normalizeRepoRoot resolves symlinks so paths compare equal to what git
// prints.
func normalizeRepoRoot(path string) string {
	path = filepath.FromSlash(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return path
}

// HasRemote returns true if the configured remote exists
func (g *Git) HasRemote(ctx context.Context) bool {
	output, err := g.exec(ctx, "remote")
	if err != nil {
		return false
	}

	remote := g.opts.RemoteOrDefault()
	for _, name := range vcs.ParseLines(output) {
		if name == remote {
			return true
		}
	}
	return false
}

// currentBranch returns the configured branch or the checked-out one.
func (g *Git) currentBranch(ctx context.Context) (string, error) {
	if g.opts.Branch != "" {
		return g.opts.Branch, nil
	}

	output, err := g.exec(ctx, "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		return "", vcs.ErrDetached
	}
	branch := strings.TrimSpace(string(output))
	if branch == "" {
		return "", vcs.ErrDetached
	}
	return branch, nil
}
