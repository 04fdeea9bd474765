package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pgweekly/pgwsearch/internal/config"
	"github.com/pgweekly/pgwsearch/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Show, create and restore pgwsearch configuration.

Precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/pgwsearch/config.yaml)
  3. Project config (.pgwsearch.yaml)
  4. Environment variables (PGWS_*)
  5. Command flags`,
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigRestoreCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		defaults   bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.NewConfig()
			if !defaults {
				var err error
				if cfg, err = loadConfig(); err != nil {
					return err
				}
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Show built-in defaults only")
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		project bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Long: `Write the default configuration to the user config file, or with
--project to .pgwsearch.yaml in the working directory. An existing user
config is backed up before --force overwrites it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force, project)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&project, "project", false, "Write .pgwsearch.yaml in the working directory")
	return cmd
}

func runConfigInit(cmd *cobra.Command, force, project bool) error {
	out := output.New(cmd.OutOrStdout())

	path := config.GetUserConfigPath()
	if project {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		path = filepath.Join(wd, config.ProjectConfigFile)
	}

	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warningf("Configuration already exists: %s", path)
			out.Status("", "Use --force to overwrite it")
			return nil
		}
		if !project {
			backup, err := config.BackupUserConfig()
			if err != nil {
				return err
			}
			out.Statusf("", "Backed up existing config to %s", backup)
		}
	}

	if err := config.NewConfig().WriteYAML(path); err != nil {
		return err
	}
	out.Successf("Wrote %s", path)
	return nil
}

func newConfigRestoreCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore the user config from a backup",
		Long: `Restore the user configuration from a backup made by 'config init --force'.
Without an argument the newest backup is restored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			backups, err := config.ListUserConfigBackups()
			if err != nil {
				return err
			}
			if list {
				for _, b := range backups {
					out.Status("", b)
				}
				return nil
			}

			var backup string
			switch {
			case len(args) == 1:
				backup = args[0]
			case len(backups) > 0:
				backup = backups[0]
			default:
				out.Warning("No configuration backups found")
				return nil
			}
			if err := config.RestoreUserConfig(backup); err != nil {
				return err
			}
			out.Successf("Restored %s from %s", config.GetUserConfigPath(), backup)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List backups, newest first")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
