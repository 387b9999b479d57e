package main

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"harvester/pkg/config"
	"harvester/pkg/logger"
	"harvester/pkg/ui"
)

const (
	exitOK          = 0
	exitFatal       = 1
	exitInterrupted = 130
)

var (
	// Version information
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	quiet      bool
	verbose    bool
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fatal(err error) error {
	return &exitError{code: exitFatal, err: err}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Incremental multi-topic post harvester",
	Long: `harvester collects posts for a catalogue of search topics using a pool of
authenticated accounts.

Every topic keeps its own checkpoint, so an interrupted run resumes each
topic where its last committed page left off. Posts are stored once no
matter how many topics or runs see them.

Features:
  - Account rotation with per-account cooldowns and proxies
  - Crash-safe, per-page checkpoints in SQLite or Postgres
  - Run budgets by item count and wall-clock time
  - Run history with per-topic outcomes`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet || logLevel == "error" {
			ui.SetQuietMode(true)
		}
		if verbose && logLevel == "" {
			logLevel = "debug"
		}
	},
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		ui.PrintError(err.Error())
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFatal
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./harvester.yaml or ~/.config/harvester/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and one line per finished topic")

	rootCmd.SetVersionTemplate(`harvester {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig reads configuration for a command and initializes logging.
// Only the run command needs a topic catalogue.
func loadConfig(flags map[string]interface{}, requireTopics bool) (*config.Config, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}

	load := config.LoadWithoutTopics
	if requireTopics {
		load = config.Load
	}
	cfg, err := load(configFile, flags)
	if err != nil {
		return nil, fatal(err)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fatal(fmt.Errorf("failed to initialize logger: %w", err))
	}
	return cfg, nil
}
