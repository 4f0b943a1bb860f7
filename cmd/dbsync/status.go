package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/dbsync/internal/backup"
	"github.com/mschirtzinger/dbsync/internal/history"
	"github.com/mschirtzinger/dbsync/internal/ui"
)

// statusReport is what `dbsync status` prints.
type statusReport struct {
	Repo         string          `json:"repo" yaml:"repo"`
	BackupDir    string          `json:"backup_dir" yaml:"backup_dir"`
	Backups      int             `json:"backups" yaml:"backups"`
	TotalBytes   int64           `json:"total_bytes" yaml:"total_bytes"`
	LatestBackup *backup.Record  `json:"latest_backup,omitempty" yaml:"latest_backup,omitempty"`
	LastSuccess  *history.Entry  `json:"last_success,omitempty" yaml:"last_success,omitempty"`
	Recent       []history.Entry `json:"recent" yaml:"recent"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show recent sync operations and backup summary",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		report := statusReport{Repo: a.cfg.RepoPath, BackupDir: a.store.Dir()}

		records, err := a.store.List()
		if err != nil {
			fatalf("%v", err)
		}
		report.Backups = len(records)
		for _, r := range records {
			report.TotalBytes += r.Size
		}
		if len(records) > 0 {
			report.LatestBackup = &records[0]
		}

		ctx := cmd.Context()
		if report.Recent, err = a.journal.List(ctx, limit); err != nil {
			fatalf("%v", err)
		}
		if report.LastSuccess, err = a.journal.LastSucceeded(ctx); err != nil {
			fatalf("%v", err)
		}

		if err := writeReport(os.Stdout, format, report); err != nil {
			fatalf("%v", err)
		}
	},
}

func writeReport(w io.Writer, format string, report statusReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(report)
	case "text", "":
		printStatusText(w, report)
		return nil
	}
	return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
}

func printStatusText(w io.Writer, r statusReport) {
	fmt.Fprintln(w, ui.RenderHeader("Repository"))
	fmt.Fprintf(w, "  path:    %s\n", r.Repo)
	fmt.Fprintf(w, "  backups: %d in %s (%s)\n", r.Backups, r.BackupDir, humanBytes(r.TotalBytes))
	if r.LatestBackup != nil {
		fmt.Fprintf(w, "  latest:  %s (%s ago)\n", r.LatestBackup.Name(), time.Since(r.LatestBackup.CreatedAt).Round(time.Minute))
	}
	if r.LastSuccess != nil {
		fmt.Fprintf(w, "  last successful sync: %s %s\n", r.LastSuccess.Kind, r.LastSuccess.FinishedAt.Local().Format(time.DateTime))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, ui.RenderHeader("Recent operations"))
	if len(r.Recent) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("  none recorded"))
		return
	}
	for _, e := range r.Recent {
		fmt.Fprintf(w, "  %s  %-9s %-9s %-10s %s\n",
			e.StartedAt.Local().Format(time.DateTime), e.Kind, e.Trigger,
			ui.RenderStatus(e.Status), ui.RenderMuted(e.Duration().Round(time.Millisecond).String()))
		if e.Error != "" {
			fmt.Fprintf(w, "      %s\n", ui.RenderFail(e.Error))
		}
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	statusCmd.Flags().StringP("format", "f", "text", "output format: text, json or yaml")
	statusCmd.Flags().IntP("limit", "n", 10, "number of operations to show (0 for all)")
	rootCmd.AddCommand(statusCmd)
}
