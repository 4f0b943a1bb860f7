package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/dbsync/internal/config"
	"github.com/mschirtzinger/dbsync/internal/daemon"
	"github.com/mschirtzinger/dbsync/internal/dashboard"
	"github.com/mschirtzinger/dbsync/internal/ui"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "sync",
	Short:   "Run the sync daemon until interrupted",
	Long: `Run the full sync lifecycle:

  1. startup sync (if sync_on_startup)
  2. periodic db_only syncs every auto_sync_interval_hours (if auto_sync_enabled)
  3. on SIGINT/SIGTERM: stop the scheduler, wait for a running sync,
     then run the shutdown sync (if sync_on_exit)

Edits to the config file are picked up while running. With
--dashboard-port, a WebSocket feed of sync events is served on
ws://127.0.0.1:<port>/ws.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		m, err := a.manager()
		if err != nil {
			fatalf("%v", err)
		}

		d, err := daemon.NewWithConfig(m, &daemon.Config{
			DrainTimeout: daemon.DefaultConfig().DrainTimeout,
			Logger:       a.logger,
		})
		if err != nil {
			fatalf("%v", err)
		}

		port := a.cfg.Dashboard.Port
		if cmd.Flags().Changed("dashboard-port") {
			port, _ = cmd.Flags().GetInt("dashboard-port")
		}
		if port > 0 {
			server, err := dashboard.NewServer(m, &dashboard.Config{Port: port, Logger: a.logger})
			if err != nil {
				fatalf("%v", err)
			}
			if err := server.Start(); err != nil {
				fatalf("failed to start dashboard: %v", err)
			}
			defer server.Stop()
			fmt.Printf("Dashboard: ws://%s/ws\n", server.GetAddr())
		}

		config.Watch(a.viper, a.logger, func(c *config.Config) {
			d.Reload(c.Sync)
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := m.Config()
		fmt.Printf("%s dbsync running on %s (auto sync: %v, every %s). Press Ctrl+C to stop.\n",
			ui.RenderAccent("●"), a.cfg.RepoPath, cfg.AutoSyncEnabled, cfg.AutoSyncInterval)

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
			a.Close()
			os.Exit(1)
		}
		fmt.Println(ui.RenderPass("✓") + " dbsync stopped")
	},
}

func init() {
	runCmd.Flags().Int("dashboard-port", 0, "serve the event feed on this port (overrides dashboard.port)")
	rootCmd.AddCommand(runCmd)
}
