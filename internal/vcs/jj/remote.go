package jj

import (
	"context"
	"fmt"
	"strings"

	"github.com/mschirtzinger/dbsync/internal/vcs"
)

// HasRemote returns true if the configured git remote exists.
func (j *JJ) HasRemote(ctx context.Context) bool {
	output, err := j.Exec(ctx, "git", "remote", "list")
	if err != nil {
		return false
	}
	return hasRemote(string(output), j.opts.RemoteOrDefault())
}

// hasRemote scans `jj git remote list` output ("origin https://...").
func hasRemote(output, name string) bool {
	for _, line := range vcs.ParseLines([]byte(output)) {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == name {
			return true
		}
	}
	return false
}

// Pull fetches the remote and rebases the working copy onto the remote
// bookmark. jj has no pull; this is the fetch-and-rebase equivalent.
func (j *JJ) Pull(ctx context.Context) error {
	if !j.HasRemote(ctx) {
		return nil
	}

	remote := j.opts.RemoteOrDefault()
	if _, err := j.Exec(ctx, "git", "fetch", "--remote", remote); err != nil {
		return fmt.Errorf("jj git fetch failed: %w", err)
	}

	target := fmt.Sprintf("%s@%s", j.bookmark(), remote)
	if _, err := j.Exec(ctx, "log", "--no-graph", "-r", target, "-T", "commit_id"); err != nil {
		// remote bookmark does not exist yet
		return nil
	}

	if _, err := j.Exec(ctx, "rebase", "-b", "@", "-d", target); err != nil {
		return fmt.Errorf("jj rebase failed: %w", err)
	}
	return nil
}

// HasChanges returns true if the working-copy change touches paths.
func (j *JJ) HasChanges(ctx context.Context, paths ...string) (bool, error) {
	args := append([]string{"diff", "--summary", "-r", "@"}, paths...)
	output, err := j.Exec(ctx, args...)
	if err != nil {
		return false, fmt.Errorf("jj diff failed: %w", err)
	}
	return len(vcs.ParseLines(output)) > 0, nil
}

// CommitAndPush implements vcs.RepositoryClient.
func (j *JJ) CommitAndPush(ctx context.Context, message string, paths ...string) error {
	if message == "" {
		return fmt.Errorf("commit message is required")
	}
	paths = j.relPaths(paths)

	changed, err := j.HasChanges(ctx, paths...)
	if err != nil {
		return err
	}

	if changed {
		args := append([]string{"commit", "-m", message}, paths...)
		if _, err := j.Exec(ctx, args...); err != nil {
			return fmt.Errorf("jj commit failed: %w", err)
		}
		if _, err := j.Exec(ctx, "bookmark", "set", j.bookmark(), "-r", "@-", "--allow-backwards"); err != nil {
			return fmt.Errorf("jj bookmark set failed: %w", err)
		}
	}

	if !j.HasRemote(ctx) {
		return nil
	}

	if _, err := j.Exec(ctx, "git", "push", "--remote", j.opts.RemoteOrDefault(), "-b", j.bookmark()); err != nil {
		if strings.Contains(err.Error(), "Nothing changed") {
			return nil
		}
		return fmt.Errorf("jj git push failed: %w", err)
	}
	return nil
}
