package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"harvester/internal/pipeline"
	"harvester/pkg/checkpoint"
	"harvester/pkg/logger"
	"harvester/pkg/storage"
	"harvester/pkg/ui"
)

var runsLimit int

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest run and every topic checkpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, m *storage.Manager) error {
			runs, err := m.Backend().ListRuns(ctx, 1)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				ui.PrintInfo("Latest run", "none yet")
			} else {
				run := runs[0]
				ui.PrintInfo("Latest run", run.ID)
				ui.PrintInfo("Status", string(run.Status))
				ui.PrintInfo("Started", run.StartedAt.Local().Format(time.DateTime))
				ui.PrintInfo("Topics", fmt.Sprintf("%d ok / %d deferred / %d errored / %d skipped",
					run.TopicsSucceeded, run.TopicsDeferred, run.TopicsErrored, run.TopicsSkipped))
				ui.PrintInfo("Posts", ui.RunSummary(run))
			}

			total, err := m.Backend().CountPosts(ctx)
			if err != nil {
				return err
			}
			ui.PrintInfo("Posts stored", fmt.Sprint(total))

			cps, err := m.Checkpoints().List(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(ui.Output, ui.CheckpointTable(cps, time.Now()))
			return nil
		})
	},
}

// checkpointsCmd groups checkpoint maintenance
var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and reset per-topic checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every topic checkpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, m *storage.Manager) error {
			cps, err := m.Checkpoints().List(ctx)
			if err != nil {
				return err
			}
			if len(cps) == 0 {
				ui.PrintWarning("No checkpoints yet")
				return nil
			}
			fmt.Fprintln(ui.Output, ui.CheckpointTable(cps, time.Now()))
			return nil
		})
	},
}

var checkpointsResetCmd = &cobra.Command{
	Use:   "reset <topic>...",
	Short: "Forget the resume point of topics",
	Long: `Reset clears the cursor of each topic so its next scan starts from the
newest results. Stored posts are kept and still deduplicate.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, m *storage.Manager) error {
			for _, topic := range args {
				if _, err := m.Checkpoints().Reset(ctx, topic); err != nil {
					return fmt.Errorf("failed to reset %s: %w", topic, err)
				}
				ui.PrintSuccess("Reset " + topic)
			}
			return nil
		})
	},
}

var checkpointsExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write all checkpoints to a JSON snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, m *storage.Manager) error {
			cps, err := m.Checkpoints().List(ctx)
			if err != nil {
				return err
			}
			if err := checkpoint.WriteSnapshot(args[0], cps); err != nil {
				return err
			}
			ui.PrintSuccess(fmt.Sprintf("Exported %d checkpoints to %s", len(cps), args[0]))
			return nil
		})
	},
}

// runsCmd groups run history
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run log",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, m *storage.Manager) error {
			runs, err := m.Backend().ListRuns(ctx, runsLimit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				ui.PrintWarning("No runs yet")
				return nil
			}
			fmt.Fprintln(ui.Output, ui.RunTable(runs))
			return nil
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and its per-topic errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, m *storage.Manager) error {
			run, err := m.Backend().GetRun(ctx, args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(ui.Output, ui.RunDetail(run))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsResetCmd)
	checkpointsCmd.AddCommand(checkpointsExportCmd)

	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")
}

// withStore opens the configured backend for a maintenance command
func withStore(ctx context.Context, fn func(ctx context.Context, m *storage.Manager) error) error {
	cfg, err := loadConfig(nil, false)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver == "memory" {
		ui.PrintWarning("Storage driver is memory; there is no saved state to show")
	}

	log := logger.GetLogger()
	backend, err := pipeline.OpenStorage(ctx, cfg.Storage, log)
	if err != nil {
		return fatal(err)
	}
	defer backend.Close()

	return fn(ctx, storage.NewManager(backend, log))
}

