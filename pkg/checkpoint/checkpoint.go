package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"harvester/pkg/logger"
	"harvester/pkg/models"
)

var (
	// ErrStaleCheckpoint is returned when a commit was prepared against a
	// checkpoint version that is no longer current. Nothing is written.
	ErrStaleCheckpoint = errors.New("checkpoint changed since scan started")
)

// Page is one page of a topic scan ready to be committed
type Page struct {
	// Posts to upsert. Already normalized: non-empty, unique ids.
	Posts []models.Post
	// Cursor to resume from after this page. Empty keeps the current cursor.
	Cursor string
	// ExpectedVersion is the checkpoint version the scan is building on.
	// Zero means the topic had no checkpoint.
	ExpectedVersion int64
	// Complete marks the last page of a scan that finished normally.
	// Only complete scans move LastSuccessAt.
	Complete bool
	// At is the commit time
	At time.Time
}

// Result is what a commit produced
type Result struct {
	Seen       int
	Stored     int
	Checkpoint *models.Checkpoint
}

// Backend is the persistence a Store needs. CommitPage must upsert the posts
// and write the advanced checkpoint in one transaction.
type Backend interface {
	LoadCheckpoint(ctx context.Context, topicID string) (*models.Checkpoint, error)
	ListCheckpoints(ctx context.Context) ([]*models.Checkpoint, error)
	CommitPage(ctx context.Context, topicID string, page Page) (*Result, error)
	ResetCheckpoint(ctx context.Context, topicID string, at time.Time) (*models.Checkpoint, error)
}

// Store owns per-topic resume state
type Store struct {
	backend Backend
	logger  logger.Logger
}

// NewStore creates a checkpoint store over a backend
func NewStore(backend Backend, log logger.Logger) *Store {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{
		backend: backend,
		logger:  log.WithField("component", "checkpoint"),
	}
}

// Load returns the topic's checkpoint, or nil when none exists
func (s *Store) Load(ctx context.Context, topicID string) (*models.Checkpoint, error) {
	cp, err := s.backend.LoadCheckpoint(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %q: %w", topicID, err)
	}
	if cp != nil {
		s.logger.DebugWithFields("Checkpoint loaded", map[string]interface{}{
			"topic":   topicID,
			"cursor":  cp.Cursor,
			"version": cp.Version,
		})
	}
	return cp, nil
}

// Commit durably stores a page and advances the checkpoint, or does neither
func (s *Store) Commit(ctx context.Context, topicID string, page Page) (*Result, error) {
	if page.At.IsZero() {
		page.At = time.Now().UTC()
	}

	res, err := s.backend.CommitPage(ctx, topicID, page)
	if err != nil {
		return nil, fmt.Errorf("commit page for %q: %w", topicID, err)
	}

	s.logger.DebugWithFields("Checkpoint advanced", map[string]interface{}{
		"topic":    topicID,
		"cursor":   res.Checkpoint.Cursor,
		"version":  res.Checkpoint.Version,
		"seen":     res.Seen,
		"stored":   res.Stored,
		"complete": page.Complete,
	})
	return res, nil
}

// Reset clears the topic's cursor and watermark so the next scan starts
// fresh. The version still moves forward.
func (s *Store) Reset(ctx context.Context, topicID string) (*models.Checkpoint, error) {
	cp, err := s.backend.ResetCheckpoint(ctx, topicID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("reset checkpoint %q: %w", topicID, err)
	}
	s.logger.InfoWithFields("Checkpoint reset", map[string]interface{}{
		"topic":   topicID,
		"version": cp.Version,
	})
	return cp, nil
}

// List returns every stored checkpoint ordered by topic id
func (s *Store) List(ctx context.Context) ([]*models.Checkpoint, error) {
	cps, err := s.backend.ListCheckpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return cps, nil
}

// Advance computes the checkpoint that results from committing page on top
// of prev. Backends call it inside their transaction so every engine applies
// the same rules. prev may be nil.
func Advance(prev *models.Checkpoint, topicID string, page Page, stored int) (*models.Checkpoint, error) {
	var current int64
	if prev != nil {
		current = prev.Version
	}
	if current != page.ExpectedVersion {
		return nil, fmt.Errorf("%w: topic %q at version %d, scan expected %d",
			ErrStaleCheckpoint, topicID, current, page.ExpectedVersion)
	}

	next := &models.Checkpoint{TopicID: topicID}
	if prev != nil {
		*next = *prev
	}

	if page.Cursor != "" {
		next.Cursor = page.Cursor
	}
	for _, p := range page.Posts {
		if p.CreatedAt.After(next.NewestPostAt) {
			next.NewestPostAt = p.CreatedAt
			next.NewestPostID = p.ID
		}
	}
	if len(page.Posts) == 0 {
		next.ConsecutiveEmpty++
	} else {
		next.ConsecutiveEmpty = 0
	}
	if page.Complete {
		next.LastSuccessAt = page.At
	}
	next.PagesCommitted++
	next.PostsStored += int64(stored)
	next.Version = current + 1
	next.UpdatedAt = page.At

	return next, nil
}

// Cleared returns the checkpoint written by a reset of prev
func Cleared(prev *models.Checkpoint, topicID string, at time.Time) *models.Checkpoint {
	var version int64
	if prev != nil {
		version = prev.Version
	}
	return &models.Checkpoint{
		TopicID:   topicID,
		Version:   version + 1,
		ResetAt:   at,
		UpdatedAt: at,
	}
}
