package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/dbsync/internal/config"
	"github.com/mschirtzinger/dbsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Create or inspect the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		path := config.New(configFile, repoPath).ConfigFileUsed()
		if err := config.WriteDefault(path, force); err != nil {
			fatalf("%v", err)
		}
		fmt.Println(ui.RenderPass("✓ Wrote " + path))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")

		v, cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		settings, err := config.Settings(v)
		if err != nil {
			fatalf("%v", err)
		}

		if cfg.File != "" {
			fmt.Fprintln(os.Stderr, ui.RenderMuted("# from "+cfg.File))
		} else {
			fmt.Fprintln(os.Stderr, ui.RenderMuted("# defaults (no config file)"))
		}

		switch format {
		case "toml":
			err = settings.Encode(os.Stdout)
		case "yaml":
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			err = enc.Encode(settings)
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		default:
			err = fmt.Errorf("unknown format %q (want toml or yaml)", format)
		}
		if err != nil {
			fatalf("%v", err)
		}
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configShowCmd.Flags().StringP("format", "f", "toml", "output format: toml or yaml")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
