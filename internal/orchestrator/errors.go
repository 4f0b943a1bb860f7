package orchestrator

import (
	"context"
	"errors"

	"github.com/mschirtzinger/dbsync/internal/backup"
	"github.com/mschirtzinger/dbsync/internal/dbsnap"
	"github.com/mschirtzinger/dbsync/internal/vcs"
)

var (
	// ErrAlreadyRunning is returned by StartSync while another operation
	// holds the busy flag or the cross-process lock.
	ErrAlreadyRunning = errors.New("a sync operation is already running")

	// ErrCancelled is the error of an operation stopped by CancelCurrent.
	ErrCancelled = errors.New("sync operation cancelled")
)

// Category is a coarse error class used in summaries and history.
type Category string

const (
	CategoryNone            Category = ""
	CategoryAlreadyRunning  Category = "already_running"
	CategoryCancelled       Category = "cancelled"
	CategoryNothingToBackUp Category = "nothing_to_back_up"
	CategoryDiskFull        Category = "disk_full"
	CategoryToolUnavailable Category = "tool_unavailable"
	CategoryTimeout         Category = "timeout"
	CategoryDumpFailed      Category = "dump_failed"
	CategoryRestoreFailed   Category = "restore_failed"
	CategoryNetwork         Category = "network"
	CategoryPushRejected    Category = "push_rejected"
	CategoryConflicts       Category = "conflicts"
	CategoryUnknown         Category = "unknown"
)

// Classify maps err onto a Category. More specific causes win: a dump that
// failed because the tool is missing is tool_unavailable, not dump_failed.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrAlreadyRunning):
		return CategoryAlreadyRunning
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return CategoryCancelled
	case errors.Is(err, backup.ErrNothingToBackUp):
		return CategoryNothingToBackUp
	case errors.Is(err, backup.ErrDiskFull):
		return CategoryDiskFull
	case errors.Is(err, vcs.ErrToolUnavailable), errors.Is(err, dbsnap.ErrToolUnavailable):
		return CategoryToolUnavailable
	case errors.Is(err, vcs.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, backup.ErrDumpFailed):
		return CategoryDumpFailed
	case errors.Is(err, backup.ErrRestoreFailed):
		return CategoryRestoreFailed
	case errors.Is(err, vcs.ErrNetworkFailure):
		return CategoryNetwork
	case errors.Is(err, vcs.ErrPushRejected):
		return CategoryPushRejected
	case errors.Is(err, vcs.ErrConflicts), errors.Is(err, vcs.ErrMergeRequired), errors.Is(err, vcs.ErrDetached):
		return CategoryConflicts
	}
	return CategoryUnknown
}
