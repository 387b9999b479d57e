package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"harvester/internal/pipeline"
	"harvester/pkg/auth"
	"harvester/pkg/config"
	"harvester/pkg/logger"
	"harvester/pkg/transport"
	"harvester/pkg/ui"
)

var (
	// Run command flags
	maxItems    int
	maxDuration time.Duration
	concurrency int
	topicFilter []string
	dryRun      bool
	notify      bool
	showLogo    bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest new posts for every configured topic",
	Long: `Run one harvest over the topic catalogue.

Each topic resumes from its checkpoint and is scanned page by page until its
per-run limit is reached, the results are exhausted or the run budget runs
out. Topics that finished successfully within their cooldown are skipped.

The first interrupt stops new page requests and lets in-flight pages commit;
a second interrupt cancels immediately. Either way checkpoints stay
consistent and the next run resumes.`,
	Example: `  # Harvest every configured topic
  harvester run

  # Cap the run at 500 stored posts or 10 minutes, whichever comes first
  harvester run --max-items 500 --max-duration 10m

  # Only scan two topics with two workers
  harvester run --topic inflation --topic groceries --concurrency 2

  # Try the configuration without touching the database
  harvester run --dry-run`,
	Args: cobra.NoArgs,
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVar(&maxItems, "max-items", 0, "stop requesting pages after this many posts (0 = unbounded)")
	runCmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "stop requesting pages after this long (0 = unbounded)")
	runCmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum topics scanned at once")
	runCmd.Flags().StringSliceVarP(&topicFilter, "topic", "t", nil, "only scan these topics (repeatable)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "use an in-memory store; nothing is persisted")
	runCmd.Flags().BoolVar(&notify, "notify", false, "send a desktop notification when the run ends")
	runCmd.Flags().BoolVar(&showLogo, "logo", true, "print the banner")
}

func runHarvest(cmd *cobra.Command, args []string) error {
	flags := map[string]interface{}{
		"max-items":    maxItems,
		"max-duration": maxDuration,
		"concurrency":  concurrency,
		"topics":       topicFilter,
	}
	if dryRun {
		flags["storage-driver"] = "memory"
	}

	cfg, err := loadConfig(flags, true)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	if showLogo {
		ui.PrintLogo()
	}

	notifier := ui.NewNotifierWithSender(nil)
	if notify {
		notifier = ui.NewNotifier()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	backend, err := pipeline.OpenStorage(ctx, cfg.Storage, log)
	if err != nil {
		notifier.RunFailed(err)
		return fatal(err)
	}
	defer backend.Close()

	source, err := openAccounts(&cfg.Accounts)
	if err != nil {
		notifier.RunFailed(err)
		return fatal(err)
	}

	fetcher := transport.NewClient(&cfg.Transport, log)
	p := pipeline.New(cfg, backend, fetcher, source, log)

	progress := ui.NewProgressDisplay(len(cfg.Topics), logLevel == "debug")
	p.OnOutcome = progress.TopicDone

	done := make(chan struct{})
	defer close(done)
	go handleSignals(done, func() {
		ui.PrintWarning("\nInterrupt received, finishing in-flight pages (interrupt again to abort)")
		p.Stop()
	}, cancel)

	printRunPlan(cfg)

	result, err := p.Run(ctx)
	progress.Complete()
	if err != nil {
		notifier.RunFailed(err)
		// Aborted by a second signal before the run record existed
		if ctx.Err() != nil {
			return &exitError{code: exitInterrupted, err: err}
		}
		return fatal(err)
	}

	if !ui.IsQuietMode() {
		fmt.Fprintln(ui.Output)
		fmt.Fprintln(ui.Output, ui.OutcomeTable(result.Outcomes))
		fmt.Fprintln(ui.Output, ui.AccountTable(result.Pool.Accounts, time.Now()))
	}
	notifier.RunFinished(result.Run)

	log.InfoWithFields("Run finished", map[string]interface{}{
		"run_id":       result.Run.ID,
		"posts_stored": result.Run.PostsStored,
		"deferred":     result.Run.TopicsDeferred,
		"errored":      result.Run.TopicsErrored,
	})
	return nil
}

// handleSignals calls stop on the first SIGINT/SIGTERM and abort on the second
func handleSignals(done <-chan struct{}, stop func(), abort func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case <-sigs:
		stop()
	case <-done:
		return
	}

	select {
	case <-sigs:
		abort()
	case <-done:
	}
}

// openAccounts builds the credential manager, prompting for the file-store
// passphrase when none is available and stdin is a terminal
func openAccounts(cfg *config.AccountsConfig) (*auth.Manager, error) {
	passphrase, err := passphraseFor(cfg)
	if err != nil {
		return nil, err
	}
	manager, err := auth.NewManager(cfg, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	return manager, nil
}

func printRunPlan(cfg *config.Config) {
	if ui.IsQuietMode() {
		return
	}
	ui.PrintInfo("Topics", fmt.Sprint(len(cfg.Topics)))
	ui.PrintInfo("Storage", cfg.Storage.Driver)
	if cfg.Run.MaxItems > 0 {
		ui.PrintInfo("Max items", fmt.Sprint(cfg.Run.MaxItems))
	}
	if cfg.Run.MaxDuration > 0 {
		ui.PrintInfo("Max duration", cfg.Run.MaxDuration.String())
	}
	ui.PrintHighlight("[HARVEST STARTED]")
}
