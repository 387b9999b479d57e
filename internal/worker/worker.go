package worker

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"harvester/internal/pool"
	"harvester/internal/scheduler"
	"harvester/pkg/config"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/ratelimit"
	"harvester/pkg/retry"
	"harvester/pkg/storage"
	"harvester/pkg/transport"
)

// Accounts is the account pool as the workers see it
type Accounts interface {
	Wait(ctx context.Context, topic string, maxWait time.Duration, exclude ...string) (*pool.Lease, error)
	Release(ctx context.Context, lease *pool.Lease, outcome pool.Outcome)
	Eligible() int
}

// Committer durably stores a page and advances the topic checkpoint
type Committer interface {
	StoreAndAdvance(ctx context.Context, topicID string, posts []models.RawPost, newCursor string, c storage.Commit) (*storage.PageStats, error)
}

// Config holds scan tuning
type Config struct {
	MaxConcurrency     int
	PageSize           int
	EmptyPageThreshold int
	MaxPageAttempts    int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	AccountWait        time.Duration
	RequestsPerMinute  int
	StartJitter        time.Duration
	// DefaultLimit applies to jobs that carry no limit of their own
	DefaultLimit       int
	// TopicTimeout stops a scan from requesting further pages once it has
	// run this long. Zero means no cap.
	TopicTimeout       time.Duration
}

// NewConfig builds worker settings from the scrape and pool config sections
func NewConfig(scrape config.ScrapeConfig, accounts config.PoolConfig) Config {
	return Config{
		MaxConcurrency:     scrape.MaxConcurrency,
		PageSize:           scrape.PageSize,
		EmptyPageThreshold: scrape.EmptyPageThreshold,
		MaxPageAttempts:    scrape.MaxPageAttempts,
		RetryBaseDelay:     scrape.RetryBaseDelay,
		RetryMaxDelay:      scrape.RetryMaxDelay,
		AccountWait:        accounts.AccountWait,
		RequestsPerMinute:  scrape.RequestsPerMinute,
		StartJitter:        scrape.StartJitter,
		DefaultLimit:       scrape.DefaultLimit,
		TopicTimeout:       scrape.TopicTimeout,
	}
}

type indexedJob struct {
	index int
	job   scheduler.Job
}

type indexedOutcome struct {
	index   int
	outcome models.TopicOutcome
}

// WorkerPool fans topic scans out across leased accounts
type WorkerPool struct {
	cfg      Config
	runID    string
	fetcher  transport.Fetcher
	accounts Accounts
	store    Committer
	budget   *Budget
	limiters *ratelimit.Registry
	logger   logger.Logger

	// OnOutcome, when set, is called from worker goroutines as each topic finishes
	OnOutcome func(models.TopicOutcome)

	jobQueue    chan indexedJob
	resultQueue chan indexedOutcome
	wg          sync.WaitGroup
}

// NewWorkerPool creates a worker pool for one run
func NewWorkerPool(
	cfg Config,
	runID string,
	fetcher transport.Fetcher,
	accounts Accounts,
	store Committer,
	budget *Budget,
	log logger.Logger,
) *WorkerPool {
	if log == nil {
		log = logger.GetLogger()
	}
	if budget == nil {
		budget = NewBudget(0, 0)
	}
	if cfg.PageSize <= 0 || cfg.PageSize > transport.MaxPageSize {
		cfg.PageSize = transport.MaxPageSize
	}
	if cfg.EmptyPageThreshold <= 0 {
		cfg.EmptyPageThreshold = 2
	}
	if cfg.MaxPageAttempts <= 0 {
		cfg.MaxPageAttempts = 1
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = cfg.PageSize
	}
	rpm := cfg.RequestsPerMinute

	return &WorkerPool{
		cfg:      cfg,
		runID:    runID,
		fetcher:  fetcher,
		accounts: accounts,
		store:    store,
		budget:   budget,
		limiters: ratelimit.NewRegistry(func() ratelimit.Limiter { return ratelimit.PerMinute(rpm) }),
		logger:   log.WithFields(map[string]interface{}{"component": "worker", "run_id": runID}),
	}
}

// Run scans every job and returns one outcome per job in job order. Per-topic
// failures become outcomes; only ctx cancellation cuts scans short.
func (wp *WorkerPool) Run(ctx context.Context, jobs []scheduler.Job) []models.TopicOutcome {
	outcomes := make([]models.TopicOutcome, len(jobs))
	if len(jobs) == 0 {
		return outcomes
	}

	numWorkers := min(wp.cfg.MaxConcurrency, wp.accounts.Eligible(), len(jobs))
	if numWorkers <= 0 {
		wp.logger.Warn("No eligible accounts, deferring all topics")
		for i, job := range jobs {
			outcomes[i] = models.TopicOutcome{
				TopicID: job.Topic.ID,
				Status:  models.OutcomeDeferred,
				Reason:  models.ReasonNoAccount,
			}
			if wp.OnOutcome != nil {
				wp.OnOutcome(outcomes[i])
			}
		}
		return outcomes
	}

	wp.jobQueue = make(chan indexedJob, len(jobs))
	wp.resultQueue = make(chan indexedOutcome, len(jobs))

	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": numWorkers,
		"jobs":        len(jobs),
	})

	for i := 0; i < numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}

	for i, job := range jobs {
		wp.jobQueue <- indexedJob{index: i, job: job}
	}
	close(wp.jobQueue)

	wp.wg.Wait()
	close(wp.resultQueue)

	for r := range wp.resultQueue {
		outcomes[r.index] = r.outcome
	}

	wp.logger.Info("Worker pool stopped")
	return outcomes
}

// worker is the main worker routine
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	wp.logger.DebugWithFields("Worker started", map[string]interface{}{
		"worker_id": id,
	})

	// Stagger the first request of each worker
	if wp.cfg.StartJitter > 0 {
		_ = retry.Wait(ctx, rand.N(wp.cfg.StartJitter))
	}

	for j := range wp.jobQueue {
		outcome := wp.processJob(ctx, j.job, id)
		if wp.OnOutcome != nil {
			wp.OnOutcome(outcome)
		}
		wp.resultQueue <- indexedOutcome{index: j.index, outcome: outcome}
	}

	wp.logger.DebugWithFields("Worker stopping - job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}
