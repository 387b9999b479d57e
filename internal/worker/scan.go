package worker

import (
	"context"
	"time"

	"harvester/internal/pool"
	"harvester/internal/scheduler"
	errs "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/retry"
	"harvester/pkg/storage"
	"harvester/pkg/transport"
)

// scan is the state of one topic scan
type scan struct {
	job     scheduler.Job
	lease   *pool.Lease
	cursor  string
	version int64
	left    int
	empty   int
	outcome models.TopicOutcome
	log     logger.Logger
}

// processJob scans one topic page by page until it reaches an exit
// condition, committing each page before requesting the next
func (wp *WorkerPool) processJob(ctx context.Context, job scheduler.Job, workerID int) models.TopicOutcome {
	start := time.Now()
	limit := job.Limit
	if limit <= 0 {
		limit = wp.cfg.DefaultLimit
	}
	s := &scan{
		job:     job,
		cursor:  job.Cursor,
		version: job.Version,
		left:    limit,
		empty:   job.ConsecutiveEmpty,
		outcome: models.TopicOutcome{TopicID: job.Topic.ID},
		log: wp.logger.WithFields(map[string]interface{}{
			"worker_id": workerID,
			"topic":     job.Topic.ID,
		}),
	}

	wp.scanTopic(ctx, s)

	s.outcome.Duration = time.Since(start)
	s.log.InfoWithFields("Topic scan finished", map[string]interface{}{
		"status":   s.outcome.Status,
		"reason":   s.outcome.Reason,
		"pages":    s.outcome.Pages,
		"seen":     s.outcome.Seen,
		"stored":   s.outcome.Stored,
		"duration": s.outcome.Duration,
	})
	return s.outcome
}

// scanTopic runs the page loop. ctx bounds requests and commits; paceCtx
// additionally carries the topic timeout and bounds only the waits between
// requests, so a page already in flight still commits when the cap passes.
func (wp *WorkerPool) scanTopic(ctx context.Context, s *scan) {
	if wp.budget.Spent() {
		s.finish(models.OutcomeDeferred, models.ReasonBudget, nil)
		return
	}

	paceCtx := ctx
	if wp.cfg.TopicTimeout > 0 {
		var cancel context.CancelFunc
		paceCtx, cancel = context.WithTimeout(ctx, wp.cfg.TopicTimeout)
		defer cancel()
	}

	if !wp.lease(ctx, s) {
		return
	}

	authRetried := false
	for {
		if wp.budget.Spent() {
			wp.release(ctx, s, pool.Success)
			s.finish(models.OutcomeDeferred, models.ReasonBudget, nil)
			return
		}
		if paceCtx.Err() != nil && ctx.Err() == nil {
			wp.release(ctx, s, pool.Success)
			s.finish(models.OutcomeDeferred, models.ReasonTimeout, nil)
			return
		}

		if err := wp.limiters.For(s.lease.Account.ID).Wait(paceCtx); err != nil {
			wp.release(ctx, s, pool.Success)
			s.finish(models.OutcomeDeferred, stopReason(ctx), err)
			return
		}

		page, err := wp.fetch(ctx, paceCtx, s)
		if err != nil {
			kind := errs.KindOf(err)
			switch {
			case ctx.Err() != nil:
				wp.release(ctx, s, pool.Success)
				s.finish(models.OutcomeDeferred, models.ReasonInterrupted, err)
			case kind == errs.ErrorTypeRateLimit:
				wp.release(ctx, s, pool.RateLimited)
				s.finish(models.OutcomeDeferred, string(kind), err)
			case kind == errs.ErrorTypeAuth:
				wp.release(ctx, s, pool.AuthFailure)
				if !authRetried {
					authRetried = true
					s.log.WarnWithFields("Session rejected, retrying page with another account", map[string]interface{}{
						"account": s.outcome.Accounts[len(s.outcome.Accounts)-1],
					})
					if wp.lease(ctx, s, s.outcome.Accounts...) {
						continue
					}
					if ctx.Err() == nil {
						s.finish(models.OutcomeDeferred, string(kind), err)
					}
					return
				}
				s.finish(models.OutcomeDeferred, string(kind), err)
			case kind == errs.ErrorTypeInvalid:
				wp.release(ctx, s, pool.Success)
				s.finish(models.OutcomeErrored, string(kind), err)
			case paceCtx.Err() != nil:
				// The cap passed while backing off between attempts
				wp.release(ctx, s, pool.Transient)
				s.finish(models.OutcomeDeferred, models.ReasonTimeout, err)
			default:
				// Retries are spent; the topic resumes next run
				wp.release(ctx, s, pool.Transient)
				s.finish(models.OutcomeDeferred, string(errs.ErrorTypeTransient), err)
			}
			return
		}

		// Pages commit whole; the cursor already points past every post
		posts := page.Posts
		wp.budget.Add(len(posts))

		exit := s.exitReason(posts, page, wp.cfg.EmptyPageThreshold)

		stats, err := wp.store.StoreAndAdvance(ctx, s.job.Topic.ID, posts, page.NextCursor, storage.Commit{
			RunID:           wp.runID,
			ExpectedVersion: s.version,
			Complete:        exit != "",
		})
		if err != nil {
			wp.release(ctx, s, pool.Success)
			reason := string(errs.KindOf(err))
			if ctx.Err() != nil {
				reason = models.ReasonInterrupted
			}
			s.finish(models.OutcomeErrored, reason, err)
			return
		}

		s.outcome.Pages++
		s.outcome.Seen += stats.Seen
		s.outcome.Stored += stats.Stored
		s.version = stats.Checkpoint.Version
		s.cursor = stats.Checkpoint.Cursor
		s.left = max(s.left-len(posts), 0)
		if len(posts) == 0 {
			s.empty++
		} else {
			s.empty = 0
		}
		logger.LogPageCommit(s.log, s.job.Topic.ID, s.lease.Account.ID, s.outcome.Pages, stats.Seen, stats.Stored, s.cursor)

		if exit != "" {
			wp.release(ctx, s, pool.Success)
			s.finish(models.OutcomeSucceeded, exit, nil)
			return
		}
	}
}

// exitReason decides, before a page is committed, whether it ends the scan
func (s *scan) exitReason(posts []models.RawPost, page *transport.Page, threshold int) string {
	switch {
	case s.left-len(posts) <= 0:
		return models.ReasonLimitReached
	case !page.HasMore:
		return models.ReasonEndOfResults
	case len(posts) == 0 && s.empty+1 >= threshold:
		return models.ReasonExhausted
	default:
		return ""
	}
}

// fetch requests the next page, retrying transient failures with backoff.
// Backoff sleeps end with paceCtx; each request runs under ctx.
func (wp *WorkerPool) fetch(ctx, paceCtx context.Context, s *scan) (*transport.Page, error) {
	size := max(min(wp.cfg.PageSize, s.left), 1)
	if remaining := wp.budget.Remaining(); remaining > 0 {
		size = min(size, remaining)
	}

	account := s.lease.Account
	return retry.DoWithResult(func() (*transport.Page, error) {
		return wp.fetcher.FetchPage(ctx, &account, s.job.Topic.Query, s.cursor, size)
	}, &retry.Config{
		MaxAttempts: wp.cfg.MaxPageAttempts,
		Backoff:     retry.NewExponentialBackoff(wp.cfg.RetryBaseDelay, wp.cfg.RetryMaxDelay),
		RetryIf:     retry.DefaultRetryIf,
		Context:     paceCtx,
		Logger:      s.log.WithField("account", account.ID),
	})
}

// stopReason names why a wait ended early: the run was cancelled, or only
// the topic timeout passed
func stopReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return models.ReasonInterrupted
	}
	return models.ReasonTimeout
}

// lease waits for an account not in exclude. On failure the scan is
// finished as deferred and false is returned.
func (wp *WorkerPool) lease(ctx context.Context, s *scan, exclude ...string) bool {
	lease, err := wp.accounts.Wait(ctx, s.job.Topic.ID, wp.cfg.AccountWait, exclude...)
	if err != nil {
		reason := models.ReasonNoAccount
		if ctx.Err() != nil {
			reason = models.ReasonInterrupted
		}
		s.finish(models.OutcomeDeferred, reason, err)
		return false
	}
	s.lease = lease
	s.outcome.Accounts = append(s.outcome.Accounts, lease.Account.ID)
	return true
}

func (wp *WorkerPool) release(ctx context.Context, s *scan, outcome pool.Outcome) {
	wp.accounts.Release(context.WithoutCancel(ctx), s.lease, outcome)
	s.lease = nil
}

func (s *scan) finish(status models.OutcomeStatus, reason string, err error) {
	s.outcome.Status = status
	s.outcome.Reason = reason
	s.outcome.Err = err
}
