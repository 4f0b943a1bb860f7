package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/dbsync/internal/orchestrator"
	"github.com/mschirtzinger/dbsync/internal/ui"
	"github.com/mschirtzinger/dbsync/internal/vcs"
)

var syncCmd = &cobra.Command{
	Use:     "sync <kind>",
	GroupID: "sync",
	Short:   "Run one sync operation in the foreground",
	Long: `Run a single sync operation and wait for it to finish.

Kinds:
  startup    pull the repository, then restore the newest backup
  shutdown   back up the database, then commit and push
  git_pull   pull only (alias: pull_only)
  git_push   commit and push only (alias: push_only)
  db_only    back up and prune, no network

Ctrl+C cancels the operation before its next step; a step that is
already running is allowed to finish.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: kindNames(),
	Run: func(cmd *cobra.Command, args []string) {
		kind, err := orchestrator.ParseKind(args[0])
		if err != nil {
			fatalf("%v", err)
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		m, err := a.manager()
		if err != nil {
			fatalf("%v", err)
		}

		h, err := m.StartSync(kind, orchestrator.TriggerManual)
		if err != nil {
			fatalf("cannot start %s sync: %v", kind, err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			select {
			case <-ctx.Done():
				fmt.Fprintln(os.Stderr, ui.RenderWarn("Cancelling after the current step..."))
				h.Cancel()
			case <-h.Done():
			}
		}()

		fmt.Printf("%s %s sync started\n", ui.RenderAccent("→"), kind)
		for ev := range h.Events() {
			if ev.Type == orchestrator.EventProgress {
				fmt.Printf("  %s %3d%% %s\n", ui.ProgressBar(ev.Operation.Progress, 20), ev.Operation.Progress, ev.Operation.Message)
			}
		}

		op, err := h.Wait(context.Background())
		printResult(op, m.Clock().Now())
		if err != nil {
			a.Close()
			os.Exit(1)
		}
	},
}

func printResult(op orchestrator.Operation, now time.Time) {
	duration := op.Duration(now).Round(time.Millisecond)
	switch op.Status {
	case orchestrator.StatusSucceeded:
		fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), op.Message, ui.RenderMuted("("+duration.String()+")"))
	case orchestrator.StatusCancelled:
		fmt.Printf("%s %s\n", ui.RenderWarn("!"), op.Message)
	default:
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("✗"), op.Message)
		if cat := orchestrator.Classify(op.Err); cat != orchestrator.CategoryUnknown {
			fmt.Fprintf(os.Stderr, "  category: %s\n", cat)
		}
		if vcs.IsFatal(op.Err) {
			fmt.Fprintln(os.Stderr, ui.RenderWarn("  the repository needs manual attention before the next sync"))
		}
	}
	if op.Backup != "" {
		fmt.Printf("  backup: %s\n", op.Backup)
	}
}

func kindNames() []string {
	names := make([]string, 0, len(orchestrator.Kinds()))
	for _, k := range orchestrator.Kinds() {
		names = append(names, string(k))
	}
	return names
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
