package scheduler

import (
	"context"
	"time"

	errs "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

// Loader reads a topic's checkpoint. A missing checkpoint is nil, nil.
type Loader interface {
	Load(ctx context.Context, topicID string) (*models.Checkpoint, error)
}

// Job is one topic scan
type Job struct {
	Topic models.Topic
	// Cursor to resume from. Empty when Fresh.
	Cursor string
	Fresh  bool
	Limit  int
	// Version is the checkpoint version the scan builds on
	Version int64
	// ConsecutiveEmpty carries the checkpoint's run of empty pages so the
	// exhaustion count continues across runs
	ConsecutiveEmpty int
}

// Plan is the scheduler's output: jobs in catalogue order plus outcomes for
// topics that will not be scanned.
type Plan struct {
	Jobs     []Job
	Outcomes []models.TopicOutcome
}

// Scheduler plans a run
type Scheduler struct {
	loader Loader
	logger logger.Logger
	now    func() time.Time
}

// New creates a scheduler reading checkpoints from loader
func New(loader Loader, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scheduler{
		loader: loader,
		logger: log.WithField("component", "scheduler"),
		now:    time.Now,
	}
}

// Plan loads each topic's checkpoint in order and decides whether to scan
// it. A failed load only affects its own topic. The returned error is
// non-nil only when ctx ends.
func (s *Scheduler) Plan(ctx context.Context, topics []models.Topic) (*Plan, error) {
	plan := &Plan{}
	now := s.now()

	for _, topic := range topics {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cp, err := s.loader.Load(ctx, topic.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.WithError(err).WarnWithFields("Checkpoint load failed, topic not scheduled", map[string]interface{}{
				"topic": topic.ID,
			})
			plan.Outcomes = append(plan.Outcomes, models.TopicOutcome{
				TopicID: topic.ID,
				Status:  models.OutcomeErrored,
				Reason:  string(errs.ErrorTypeStorage),
				Err:     err,
			})
			continue
		}

		if cp != nil && !cp.LastSuccessAt.IsZero() && now.Sub(cp.LastSuccessAt) < topic.Cooldown {
			s.logger.DebugWithFields("Topic cooling down", map[string]interface{}{
				"topic":        topic.ID,
				"last_success": cp.LastSuccessAt,
				"next_due":     cp.LastSuccessAt.Add(topic.Cooldown),
			})
			plan.Outcomes = append(plan.Outcomes, models.TopicOutcome{
				TopicID: topic.ID,
				Status:  models.OutcomeSkipped,
				Reason:  models.ReasonCooldown,
			})
			continue
		}

		job := Job{Topic: topic, Fresh: cp.Fresh(), Limit: topic.Limit}
		if cp != nil {
			job.Cursor = cp.Cursor
			job.Version = cp.Version
			job.ConsecutiveEmpty = cp.ConsecutiveEmpty
		}
		plan.Jobs = append(plan.Jobs, job)
	}

	s.logger.InfoWithFields("Run planned", map[string]interface{}{
		"topics":    len(topics),
		"scheduled": len(plan.Jobs),
		"held_back": len(plan.Outcomes),
	})
	return plan, nil
}
