package main

import (
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/dbsync/internal/ui"
)

var (
	configFile string
	repoPath   string
	verbose    bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "dbsync",
	Short: "Synchronize a database with snapshots kept in a git or jj repository",
	Long: `dbsync keeps an application's database and a version-controlled repository
of SQL backups in step.

At startup it pulls the repository and restores the newest backup. At
shutdown it backs the database up and pushes. While running it takes a
periodic local backup and prunes old ones.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init(noColor)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Backup Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default <repo>/.dbsync.toml)")
	rootCmd.PersistentFlags().StringVarP(&repoPath, "repo", "r", "", "repository path (default from config, else .)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}
