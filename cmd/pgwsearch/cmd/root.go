// Package cmd implements the pgwsearch command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgweekly/pgwsearch/internal/config"
	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
	"github.com/pgweekly/pgwsearch/internal/logging"
	"github.com/pgweekly/pgwsearch/internal/profiling"
	"github.com/pgweekly/pgwsearch/pkg/version"
)

// Persistent flags.
var (
	debugMode      bool
	logFile        string
	loggingCleanup func()

	profileOpts profiling.Options
	profile     *profiling.Session
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pgwsearch",
		Short: "Search the Postgres Weekly newsletter archive",
		Long: `pgwsearch indexes a catalog of Postgres Weekly issues and answers queries
with a configurable pipeline: one or more searchers (lexical BM25, vector
similarity), a fusion method (chain or reciprocal rank fusion) and an
optional reranker.

Configuration is read from ~/.config/pgwsearch/config.yaml, then
.pgwsearch.yaml in the working directory, then PGWS_* environment
variables. Command flags override all of them.`,
		Version:            version.Version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  startRun,
		PersistentPostRunE: stopRun,
	}
	cmd.SetVersionTemplate("pgwsearch version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Log at debug level and mirror logs to stderr")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file (default ~/.pgwsearch/logs/pgwsearch.log)")
	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write a CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write a heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write an execution trace to file")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprint(root.ErrOrStderr(), pgerrors.FormatForCLI(err))
		_ = stopRun(root, nil)
		return 1
	}
	return 0
}

func startRun(cmd *cobra.Command, args []string) error {
	if err := startLogging(cmd, args); err != nil {
		return err
	}
	if profile == nil && profileOpts.Enabled() {
		s, err := profiling.Start(profileOpts)
		if err != nil {
			return err
		}
		profile = s
	}
	return nil
}

// stopRun flushes profiles before the logger closes.
func stopRun(cmd *cobra.Command, args []string) error {
	var err error
	if profile != nil {
		err = profile.Stop()
		profile = nil
	}
	_ = stopLogging(cmd, args)
	return err
}

// startLogging installs the JSON file logger at the configured level.
// serve never mirrors to stderr since its client may read it.
func startLogging(cmd *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		return nil
	}
	// A broken config is reported by the command itself; log with defaults.
	level, path := "", logFile
	if c, err := loadConfig(); err == nil {
		level = c.Logging.Level
		if path == "" {
			path = c.Logging.File
		}
	}

	cfg := logging.ServeConfig(level, path)
	if debugMode {
		cfg.Level = "debug"
		cfg.WriteToStderr = cmd.Name() != "serve"
	}
	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return pgerrors.New(pgerrors.ErrCodeFilePermission, "cannot open log file "+cfg.FilePath, err).
			WithSuggestion("Pass --log-file with a writable path")
	}
	loggingCleanup = cleanup
	slog.Debug("command_started", slog.String("command", cmd.CommandPath()), slog.String("version", version.Version))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// loadConfig loads configuration for the working directory.
func loadConfig() (*config.Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	return config.Load(dir)
}
