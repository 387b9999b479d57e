package storage

import (
	"context"
	"errors"

	"harvester/pkg/checkpoint"
	"harvester/pkg/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrRunFinalized is returned when finalizing a run a second time
	ErrRunFinalized = errors.New("run already finalized")
)

// Backend is the durable store behind the pipeline: posts unique by id,
// checkpoints unique by topic, and an append-only run log.
type Backend interface {
	checkpoint.Backend

	Ping(ctx context.Context) error
	Close() error

	CreateRun(ctx context.Context, run *models.Run) error
	FinalizeRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)

	GetPost(ctx context.Context, id string) (*models.Post, error)
	CountPosts(ctx context.Context) (int64, error)
}
