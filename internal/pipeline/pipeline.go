package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"harvester/internal/pool"
	"harvester/internal/scheduler"
	"harvester/internal/tracker"
	"harvester/internal/worker"
	"harvester/pkg/config"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/storage"
	"harvester/pkg/transport"
)

var (
	// ErrNoAccounts aborts a run that has no usable scraping identity
	ErrNoAccounts = errors.New("no usable accounts")
	// ErrStorageUnavailable aborts a run whose store cannot be reached
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// AccountSource supplies scraping identities and records rejected sessions
type AccountSource interface {
	Accounts(ctx context.Context) ([]*models.Account, error)
	MarkExpired(ctx context.Context, id string) error
}

// Result is what a completed run produced
type Result struct {
	Run      *models.Run
	Outcomes []models.TopicOutcome
	Pool     pool.Stats
}

// Pipeline runs harvests
type Pipeline struct {
	cfg     *config.Config
	backend storage.Backend
	fetcher transport.Fetcher
	source  AccountSource
	logger  logger.Logger

	// OnOutcome, when set, receives every topic outcome as it is recorded.
	// It may be called concurrently.
	OnOutcome func(models.TopicOutcome)

	budget  atomic.Pointer[worker.Budget]
	stopped atomic.Bool
}

// New creates a pipeline
func New(cfg *config.Config, backend storage.Backend, fetcher transport.Fetcher, source AccountSource, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pipeline{
		cfg:     cfg,
		backend: backend,
		fetcher: fetcher,
		source:  source,
		logger:  log,
	}
}

// Stop asks a running pipeline to issue no new page requests. Pages in
// flight still complete and commit.
func (p *Pipeline) Stop() {
	p.stopped.Store(true)
	if b := p.budget.Load(); b != nil {
		b.Stop()
	}
}

// Run executes one harvest. It returns an error only for fatal startup
// conditions or when the run record cannot be written; per-topic failures
// are reported in the result.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	accounts, err := p.preflight(ctx)
	if err != nil {
		return nil, err
	}

	manager := storage.NewManager(p.backend, p.logger)
	accountPool := pool.New(accounts, pool.Config{
		BaseCooldown:           p.cfg.Pool.BaseCooldown,
		MaxCooldown:            p.cfg.Pool.MaxCooldown,
		MaxConsecutiveFailures: p.cfg.Pool.MaxConsecutiveFailures,
	}, p.source, p.logger)

	tr := tracker.New(p.backend, p.logger)
	run, err := tr.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	log := p.logger.WithField("run_id", run.ID)

	budget := worker.NewBudget(p.cfg.Run.MaxItems, p.cfg.Run.MaxDuration)
	p.budget.Store(budget)
	if p.stopped.Load() {
		budget.Stop()
	}

	topics := p.cfg.ResolvedTopics()
	plan, err := scheduler.New(manager.Checkpoints(), log).Plan(ctx, topics)
	if err != nil {
		// Interrupted while planning: close the run with what we have
		plan = &scheduler.Plan{}
		for _, t := range topics {
			plan.Outcomes = append(plan.Outcomes, models.TopicOutcome{
				TopicID: t.ID,
				Status:  models.OutcomeDeferred,
				Reason:  models.ReasonInterrupted,
				Err:     err,
			})
		}
	}
	for _, o := range plan.Outcomes {
		tr.Record(o)
		p.notify(o)
	}

	wp := worker.NewWorkerPool(worker.NewConfig(p.cfg.Scrape, p.cfg.Pool), run.ID, p.fetcher, accountPool, manager, budget, log)
	wp.OnOutcome = p.OnOutcome
	for _, o := range wp.Run(ctx, plan.Jobs) {
		tr.Record(o)
	}

	final, err := tr.Finalize(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}

	return &Result{
		Run:      final,
		Outcomes: inTopicOrder(tr.Outcomes(), topics),
		Pool:     accountPool.Stats(),
	}, nil
}

func (p *Pipeline) notify(o models.TopicOutcome) {
	if p.OnOutcome != nil {
		p.OnOutcome(o)
	}
}

// preflight checks the store and the account source concurrently
func (p *Pipeline) preflight(ctx context.Context) ([]*models.Account, error) {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var accounts []*models.Account

	g.Go(func() error {
		if err := p.backend.Ping(gctx); err != nil {
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return nil
	})

	g.Go(func() error {
		accts, err := p.source.Accounts(gctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoAccounts, err)
		}
		valid := 0
		for _, a := range accts {
			if a.Status == "" || a.Status == models.AccountValid {
				valid++
			}
		}
		if valid == 0 {
			return fmt.Errorf("%w: %d accounts, none valid", ErrNoAccounts, len(accts))
		}
		mu.Lock()
		accounts = accts
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		p.logger.WithError(err).Error("Startup checks failed")
		return nil, err
	}

	p.logger.InfoWithFields("Startup checks passed", map[string]interface{}{
		"accounts": len(accounts),
		"topics":   len(p.cfg.Topics),
	})
	return accounts, nil
}

// inTopicOrder sorts outcomes into catalogue order
func inTopicOrder(outcomes []models.TopicOutcome, topics []models.Topic) []models.TopicOutcome {
	pos := make(map[string]int, len(topics))
	for i, t := range topics {
		pos[t.ID] = i
	}
	sort.SliceStable(outcomes, func(i, j int) bool {
		return pos[outcomes[i].TopicID] < pos[outcomes[j].TopicID]
	})
	return outcomes
}
