package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/storage"
)

var (
	// ErrRunFinalized is returned when finalizing a run twice
	ErrRunFinalized = storage.ErrRunFinalized
	// ErrNotStarted is returned when recording against a run never started
	ErrNotStarted = errors.New("run not started")
)

// RunStore persists run records
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	FinalizeRun(ctx context.Context, run *models.Run) error
}

// Tracker collects topic outcomes for one run and writes the final record
type Tracker struct {
	store  RunStore
	logger logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	run       *models.Run
	outcomes  []models.TopicOutcome
	finalized bool
}

// New creates a tracker writing to store
func New(store RunStore, log logger.Logger) *Tracker {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Tracker{
		store:  store,
		logger: log.WithField("component", "tracker"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start creates the run row with status running
func (t *Tracker) Start(ctx context.Context) (*models.Run, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	run := &models.Run{
		ID:        id.String(),
		StartedAt: t.now(),
		Status:    models.RunRunning,
	}
	if err := t.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	t.mu.Lock()
	t.run = run
	t.mu.Unlock()

	t.logger.InfoWithFields("Run started", map[string]interface{}{"run_id": run.ID})
	out := *run
	return &out, nil
}

// RunID returns the current run id, empty before Start
func (t *Tracker) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run == nil {
		return ""
	}
	return t.run.ID
}

// Record adds a topic outcome. Safe for concurrent use.
func (t *Tracker) Record(o models.TopicOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes = append(t.outcomes, o)
}

// Outcomes returns the recorded outcomes in arrival order
func (t *Tracker) Outcomes() []models.TopicOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.TopicOutcome, len(t.outcomes))
	copy(out, t.outcomes)
	return out
}

// Finalize aggregates the outcomes and writes the completed run. It can
// succeed only once.
func (t *Tracker) Finalize(ctx context.Context) (*models.Run, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.run == nil {
		return nil, ErrNotStarted
	}
	if t.finalized {
		return nil, ErrRunFinalized
	}

	run := Summarize(*t.run, t.outcomes)
	finished := t.now()
	run.FinishedAt = &finished
	run.Status = models.RunCompleted

	if err := t.store.FinalizeRun(ctx, &run); err != nil {
		if errors.Is(err, ErrRunFinalized) {
			t.finalized = true
		}
		return nil, fmt.Errorf("finalize run %s: %w", run.ID, err)
	}
	t.finalized = true
	t.run = &run

	t.logger.InfoWithFields("Run finalized", map[string]interface{}{
		"run_id":       run.ID,
		"attempted":    run.TopicsAttempted,
		"succeeded":    run.TopicsSucceeded,
		"deferred":     run.TopicsDeferred,
		"errored":      run.TopicsErrored,
		"skipped":      run.TopicsSkipped,
		"posts_seen":   run.PostsSeen,
		"posts_stored": run.PostsStored,
		"duration":     finished.Sub(run.StartedAt),
	})

	out := run
	return &out, nil
}

// Summarize folds topic outcomes into run totals. Every topic that was not
// scanned cleanly is listed in Errors with its reason.
func Summarize(run models.Run, outcomes []models.TopicOutcome) models.Run {
	run.TopicsAttempted = 0
	run.TopicsSucceeded, run.TopicsDeferred, run.TopicsErrored, run.TopicsSkipped = 0, 0, 0, 0
	run.PostsSeen, run.PostsStored = 0, 0
	run.Errors = nil

	for _, o := range outcomes {
		run.PostsSeen += int64(o.Seen)
		run.PostsStored += int64(o.Stored)

		switch o.Status {
		case models.OutcomeSkipped:
			run.TopicsSkipped++
			continue
		case models.OutcomeSucceeded:
			run.TopicsSucceeded++
		case models.OutcomeDeferred:
			run.TopicsDeferred++
		case models.OutcomeErrored:
			run.TopicsErrored++
		}
		run.TopicsAttempted++

		if o.Status != models.OutcomeSucceeded {
			if run.Errors == nil {
				run.Errors = make(map[string]string)
			}
			run.Errors[o.TopicID] = o.Reason
		}
	}
	return run
}
