// Package orchestrator sequences repository and database snapshot steps
// into sync operations and runs them in the background, one at a time.
//
// A Manager owns the busy flag and the current operation. Each accepted
// StartSync spawns a worker goroutine that walks the kind's step plan,
// reporting progress, and a completion handler that prunes old backups,
// records the result and clears the busy flag. A Scheduler requests
// periodic database-only syncs and drops ticks that arrive while busy.
package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/mschirtzinger/dbsync/internal/history"
)

// Kind names a sync plan.
type Kind string

const (
	// KindStartup pulls the repository and restores the newest backup.
	KindStartup Kind = "startup"
	// KindShutdown backs up the database and pushes it.
	KindShutdown Kind = "shutdown"
	// KindGitPull only pulls.
	KindGitPull Kind = "git_pull"
	// KindGitPush only commits and pushes.
	KindGitPush Kind = "git_push"
	// KindDBOnly backs up and prunes without touching the remote.
	KindDBOnly Kind = "db_only"
)

// Kinds returns every kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindStartup, KindShutdown, KindGitPull, KindGitPush, KindDBOnly}
}

// ParseKind parses a kind name. "pull_only" and "push_only" are accepted
// as aliases.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "-", "_")
	switch name {
	case "pull_only":
		return KindGitPull, nil
	case "push_only":
		return KindGitPush, nil
	}
	k := Kind(name)
	if !k.Valid() {
		return "", fmt.Errorf("unknown sync kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindStartup, KindShutdown, KindGitPull, KindGitPush, KindDBOnly:
		return true
	}
	return false
}

// Step is one unit of work inside an operation.
type Step string

const (
	StepPull    Step = "pull"
	StepRestore Step = "restore"
	StepBackup  Step = "backup"
	StepPush    Step = "push"
	StepPrune   Step = "prune"
)

// Steps returns the plan for k.
func (k Kind) Steps() []Step {
	switch k {
	case KindStartup:
		return []Step{StepPull, StepRestore}
	case KindShutdown:
		return []Step{StepBackup, StepPush}
	case KindGitPull:
		return []Step{StepPull}
	case KindGitPush:
		return []Step{StepPush}
	case KindDBOnly:
		return []Step{StepBackup, StepPrune}
	}
	return nil
}

func (k Kind) hasStep(s Step) bool {
	for _, step := range k.Steps() {
		if step == s {
			return true
		}
	}
	return false
}

func (s Step) describe() string {
	switch s {
	case StepPull:
		return "Pulling repository"
	case StepRestore:
		return "Restoring latest backup"
	case StepBackup:
		return "Backing up database"
	case StepPush:
		return "Pushing to remote"
	case StepPrune:
		return "Pruning old backups"
	}
	return string(s)
}

// Trigger records who asked for an operation.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerAuto      Trigger = "auto"
	TriggerLifecycle Trigger = "lifecycle"
)

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Operation is one sync run. The Manager hands out copies; only the
// worker that owns an operation mutates it, and never after it reached a
// terminal status.
type Operation struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Trigger    Trigger   `json:"trigger"`
	Status     Status    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message"`
	Err        error     `json:"-"`
	FailedStep Step      `json:"failed_step,omitempty"`
	Skipped    []string  `json:"skipped,omitempty"`
	Backup     string    `json:"backup,omitempty"`
}

// Succeeded reports whether the operation finished without error.
func (o Operation) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// Duration returns the run time so far, or the total once finished.
func (o Operation) Duration(now time.Time) time.Duration {
	if !o.FinishedAt.IsZero() {
		return o.FinishedAt.Sub(o.StartedAt)
	}
	return now.Sub(o.StartedAt)
}

func (o *Operation) clone() Operation {
	c := *o
	if o.Skipped != nil {
		c.Skipped = append([]string(nil), o.Skipped...)
	}
	return c
}

// summary builds the one-line result message for a terminal operation.
func (o *Operation) summary() string {
	switch o.Status {
	case StatusSucceeded:
		msg := fmt.Sprintf("%s sync completed", o.Kind)
		if len(o.Skipped) > 0 {
			msg += " (" + strings.Join(o.Skipped, "; ") + ")"
		}
		return msg
	case StatusFailed:
		return fmt.Sprintf("%s sync failed during %s: %v", o.Kind, o.FailedStep, o.Err)
	case StatusCancelled:
		return fmt.Sprintf("%s sync cancelled", o.Kind)
	}
	return o.Message
}

func (o *Operation) entry() history.Entry {
	e := history.Entry{
		ID:         o.ID,
		Kind:       string(o.Kind),
		Trigger:    string(o.Trigger),
		Status:     string(o.Status),
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
		Message:    o.Message,
		FailedStep: string(o.FailedStep),
		Skipped:    o.Skipped,
		Backup:     o.Backup,
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}
