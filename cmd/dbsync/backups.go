package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/dbsync/internal/backup"
	"github.com/mschirtzinger/dbsync/internal/ui"
)

var backupsCmd = &cobra.Command{
	Use:     "backups",
	GroupID: "data",
	Short:   "List, prune and restore database backups",
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		sinceFlag, _ := cmd.Flags().GetString("since")

		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		since, err := parseSince(sinceFlag, time.Now())
		if err != nil {
			fatalf("%v", err)
		}

		records, err := a.store.List()
		if err != nil {
			fatalf("%v", err)
		}

		shown := 0
		for _, r := range records {
			if r.CreatedAt.Before(since) {
				continue
			}
			fmt.Printf("%s  %10s  %s\n", r.CreatedAt.Local().Format(time.DateTime), humanBytes(r.Size), r.Name())
			shown++
		}
		if shown == 0 {
			fmt.Println(ui.RenderMuted("No backups in " + a.store.Dir()))
		}
	},
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete backups older than the retention period",
	Long: `Delete backups older than the retention period.

The newest backup is always kept, however old it is.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		retention := a.cfg.Sync.BackupRetention
		if cmd.Flags().Changed("retention") {
			retention, _ = cmd.Flags().GetDuration("retention")
		}
		if retention <= 0 {
			fmt.Println(ui.RenderMuted("Retention is disabled, nothing to prune"))
			return
		}

		var deleted []backup.Record
		err = a.withLock(func() error {
			var perr error
			deleted, perr = a.store.Prune(retention)
			return perr
		})
		for _, r := range deleted {
			fmt.Printf("%s %s\n", ui.RenderMuted("deleted"), r.Name())
		}
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(ui.RenderPass(fmt.Sprintf("✓ Pruned %d backup(s)", len(deleted))))
	},
}

var backupsRestoreCmd = &cobra.Command{
	Use:   "restore [file]",
	Short: "Restore the database from a backup (default: the newest)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		var rec *backup.Record
		if len(args) == 1 {
			rec, err = a.store.Find(args[0])
		} else {
			rec, err = a.store.Latest()
		}
		if err != nil {
			fatalf("%v", err)
		}
		if rec == nil {
			fatalf("no backups in %s", a.store.Dir())
		}

		if !yes {
			ok, err := confirmRestore(rec)
			if err != nil {
				fatalf("%v", err)
			}
			if !ok {
				fmt.Println("Restore cancelled")
				return
			}
		}

		err = a.withLock(func() error { return a.store.Restore(cmd.Context(), *rec) })
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(ui.RenderPass("✓ Restored " + rec.Name()))
	},
}

func confirmRestore(rec *backup.Record) (bool, error) {
	if !ui.IsTerminal(os.Stdin) {
		return false, errors.New("refusing to restore without confirmation; pass --yes")
	}

	var ok bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Replace the database with %s?", rec.Name())).
		Description(fmt.Sprintf("Taken %s. Current contents will be overwritten.", rec.CreatedAt.Local().Format(time.DateTime))).
		Affirmative("Restore").
		Negative("Cancel").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

func init() {
	backupsListCmd.Flags().String("since", "", `only show backups newer than this ("72h", "2025-03-01", "last week")`)
	backupsPruneCmd.Flags().Duration("retention", 0, "override the configured retention (e.g. 720h)")
	backupsRestoreCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")

	backupsCmd.AddCommand(backupsListCmd, backupsPruneCmd, backupsRestoreCmd)
	rootCmd.AddCommand(backupsCmd)
}
