package vcs

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Common errors returned by repository operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, vcs.ErrNetworkFailure) {
//	    // remote unreachable, try again at the next sync
//	}
var (
	// ErrNotInVCS is returned when the path is not inside a repository.
	ErrNotInVCS = errors.New("not in a VCS repository")

	// ErrToolUnavailable is returned when the git or jj binary is missing,
	// too old, or cannot authenticate against the remote.
	ErrToolUnavailable = errors.New("VCS tool unavailable")

	// ErrNetworkFailure is returned when the remote cannot be reached.
	ErrNetworkFailure = errors.New("network failure")

	// ErrConflicts is returned when a pull cannot complete due to
	// conflicting local changes.
	ErrConflicts = errors.New("unresolved conflicts")

	// ErrDetached is returned when HEAD is detached and no branch was
	// configured.
	ErrDetached = errors.New("not on a branch or bookmark")

	// ErrPushRejected is returned when a push is rejected by the remote,
	// typically due to non-fast-forward updates.
	ErrPushRejected = errors.New("push rejected by remote")

	// ErrMergeRequired is returned when a fast-forward pull is impossible
	// because histories diverged.
	ErrMergeRequired = errors.New("merge required")

	// ErrTimeout is returned when a command exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")
)

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNetworkFailure) ||
		errors.Is(err, ErrPushRejected)
}

// IsFatal returns true if retrying cannot help without user action.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrNotInVCS) ||
		errors.Is(err, ErrToolUnavailable) ||
		errors.Is(err, ErrConflicts)
}

var (
	authMarkers = []string{
		"Authentication failed",
		"Permission denied",
		"could not read Username",
		"terminal prompts disabled",
		"invalid credentials",
	}
	networkMarkers = []string{
		"Could not resolve host",
		"unable to access",
		"Connection refused",
		"Connection timed out",
		"Connection reset",
		"Network is unreachable",
		"Could not read from remote repository",
		"failed to connect",
	}
	rejectMarkers   = []string{"[rejected]", "rejected", "non-fast-forward", "fetch first"}
	conflictMarkers = []string{"CONFLICT", "would be overwritten", "conflict"}
	divergedMarkers = []string{"Not possible to fast-forward", "divergent branches"}
)

// Classify maps a failed command's error and output onto the sentinel
// errors above. It returns nil when err is nil and err itself when nothing
// matches.
func Classify(err error, output string) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, exec.ErrNotFound):
		return ErrToolUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case containsAny(output, authMarkers):
		// auth failures often also print "Could not read from remote"
		return ErrToolUnavailable
	case containsAny(output, networkMarkers):
		return ErrNetworkFailure
	case containsAny(output, divergedMarkers):
		return ErrMergeRequired
	case containsAny(output, rejectMarkers):
		return ErrPushRejected
	case containsAny(output, conflictMarkers):
		return ErrConflicts
	}
	return err
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
