// Package vcs defines the repository client used by the sync engine and the
// helpers shared by its git and jj implementations.
//
// A repository client performs exactly two network-facing operations: bring
// the local working copy up to date with the remote, and record the backup
// directory in a new commit that is then pushed. Everything else (detection,
// version checks, output classification) exists to support those two calls.
package vcs

import (
	"context"
	"time"
)

// Type represents the VCS backend type
type Type string

const (
	// TypeGit indicates a git repository
	TypeGit Type = "git"

	// TypeJJ indicates a jj repository (colocated or not)
	TypeJJ Type = "jj"
)

// String returns the string representation of the VCS type
func (t Type) String() string {
	return string(t)
}

// RepositoryClient pulls and pushes the repository that holds the backups.
//
// Implementations wrap a CLI tool. They never retry on their own; retry
// policy belongs to the caller.
type RepositoryClient interface {
	// Name returns the backend type.
	Name() Type

	// Pull brings the working copy up to date with the remote. Repositories
	// without a remote succeed without doing anything.
	Pull(ctx context.Context) error

	// CommitAndPush stages paths (everything when empty), commits them with
	// message if anything changed, and pushes to the remote if one exists.
	CommitAndPush(ctx context.Context, message string, paths ...string) error
}

// Options configures a repository client.
type Options struct {
	// Remote is the remote name (default "origin").
	Remote string

	// Branch is the branch or bookmark to pull and push. Empty means the
	// current branch for git and "main" for jj.
	Branch string

	// Timeout bounds each CLI invocation. Zero means no bound.
	Timeout time.Duration

	// MinVersion is the lowest accepted tool version, e.g. "2.20.0".
	MinVersion string
}

// RemoteOrDefault returns the configured remote or "origin".
func (o Options) RemoteOrDefault() string {
	if o.Remote == "" {
		return "origin"
	}
	return o.Remote
}
