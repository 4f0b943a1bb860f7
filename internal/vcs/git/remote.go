package git

import (
	"context"
	"fmt"
	"strings"
)

// Pull fast-forwards the current branch from the remote.
//
// Local-only repositories and remotes that do not have the branch yet are
// treated as already up to date.
func (g *Git) Pull(ctx context.Context) error {
	if !g.HasRemote(ctx) {
		return nil // Skip if no remotes configured (local-only mode)
	}

	branch, err := g.currentBranch(ctx)
	if err != nil {
		return err
	}

	_, err = g.exec(ctx, "pull", "--ff-only", g.opts.RemoteOrDefault(), branch)
	if err != nil {
		if strings.Contains(err.Error(), "couldn't find remote ref") {
			return nil
		}
		return fmt.Errorf("git pull failed: %w", err)
	}

	return nil
}

// Push pushes the current branch to the remote.
func (g *Git) Push(ctx context.Context) error {
	if !g.HasRemote(ctx) {
		return nil // Skip if no remotes configured (local-only mode)
	}

	if !g.hasCommits(ctx) {
		return nil
	}

	branch, err := g.currentBranch(ctx)
	if err != nil {
		return err
	}

	if _, err := g.exec(ctx, "push", g.opts.RemoteOrDefault(), branch); err != nil {
		return fmt.Errorf("git push failed: %w", err)
	}

	return nil
}

// hasCommits reports whether HEAD points at a commit.
func (g *Git) hasCommits(ctx context.Context) bool {
	_, err := g.exec(ctx, "rev-parse", "--verify", "-q", "HEAD")
	return err == nil
}
