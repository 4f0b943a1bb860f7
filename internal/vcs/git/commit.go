package git

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mschirtzinger/dbsync/internal/vcs"
)

// HasChanges returns true if there are uncommitted changes
// If paths are specified, only checks those paths
func (g *Git) HasChanges(ctx context.Context, paths ...string) (bool, error) {
	args := []string{"status", "--porcelain"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}

	output, err := g.exec(ctx, args...)
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}

	return len(strings.TrimSpace(string(output))) > 0, nil
}

// Add stages paths, including deletions. No paths stages everything.
func (g *Git) Add(ctx context.Context, paths ...string) error {
	args := []string{"add", "-A"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}

	if _, err := g.exec(ctx, args...); err != nil {
		return fmt.Errorf("git add failed: %w", err)
	}
	return nil
}

// Commit records the staged changes under paths.
func (g *Git) Commit(ctx context.Context, message string, paths ...string) error {
	if message == "" {
		return fmt.Errorf("commit message is required")
	}

	args := []string{"commit", "--no-verify", "-m", message}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}

	if _, err := g.exec(ctx, args...); err != nil {
		return fmt.Errorf("git commit failed: %w", err)
	}
	return nil
}

// CommitAndPush implements vcs.RepositoryClient.
//
// A commit is only created when paths changed; the push runs regardless so
// that commits left behind by an earlier failed push still reach the remote.
func (g *Git) CommitAndPush(ctx context.Context, message string, paths ...string) error {
	paths = g.relPaths(paths)

	changed, err := g.HasChanges(ctx, paths...)
	if err != nil {
		return err
	}

	if changed {
		if err := g.Add(ctx, paths...); err != nil {
			return err
		}
		if err := g.Commit(ctx, message, paths...); err != nil {
			return err
		}
	}

	return g.Push(ctx)
}

// relPaths makes absolute paths relative to the repository root.
func (g *Git) relPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if filepath.IsAbs(p) {
			if resolved, err := filepath.EvalSymlinks(p); err == nil {
				p = resolved
			}
			if rel, err := vcs.RelativePath(g.repoRoot, p); err == nil {
				p = rel
			}
		}
		out = append(out, p)
	}
	return out
}
