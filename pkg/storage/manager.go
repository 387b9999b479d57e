package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"harvester/pkg/checkpoint"
	errs "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

// Commit carries the per-page context a scan passes along with its posts
type Commit struct {
	RunID string
	// ExpectedVersion is the checkpoint version the scan started from plus
	// the pages it has committed since.
	ExpectedVersion int64
	// Complete marks the final page of a scan that ended normally
	Complete bool
}

// PageStats reports what one page commit did
type PageStats struct {
	Seen       int
	Stored     int
	Checkpoint *models.Checkpoint
}

// Manager is the dedup storage layer. It turns transport pages into stored
// posts and an advanced checkpoint, atomically.
type Manager struct {
	backend     Backend
	checkpoints *checkpoint.Store
	logger      logger.Logger
	now         func() time.Time
}

// NewManager creates a storage manager over a backend
func NewManager(backend Backend, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		backend:     backend,
		checkpoints: checkpoint.NewStore(backend, log),
		logger:      log.WithField("component", "storage"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Backend returns the underlying backend
func (m *Manager) Backend() Backend {
	return m.backend
}

// Checkpoints returns the checkpoint store sharing this manager's backend
func (m *Manager) Checkpoints() *checkpoint.Store {
	return m.checkpoints
}

// StoreAndAdvance persists a page of posts keyed by id with insert-or-ignore
// semantics, then advances the topic checkpoint to newCursor. Both happen in
// one transaction. Posts that already exist count as seen but not stored.
func (m *Manager) StoreAndAdvance(ctx context.Context, topicID string, posts []models.RawPost, newCursor string, c Commit) (*PageStats, error) {
	now := m.now()
	page := checkpoint.Page{
		Posts:           normalize(posts, topicID, c.RunID, now),
		Cursor:          newCursor,
		ExpectedVersion: c.ExpectedVersion,
		Complete:        c.Complete,
		At:              now,
	}

	res, err := m.checkpoints.Commit(ctx, topicID, page)
	if err != nil {
		if errors.Is(err, checkpoint.ErrStaleCheckpoint) {
			return nil, errs.Wrap(errs.ErrorTypeInvalid, err, "store page")
		}
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, errs.Wrap(errs.ErrorTypeStorage, err, "store page")
	}

	if dropped := len(posts) - len(page.Posts); dropped > 0 {
		m.logger.DebugWithFields("Dropped duplicate or id-less posts from page", map[string]interface{}{
			"topic":   topicID,
			"dropped": dropped,
		})
	}

	return &PageStats{Seen: res.Seen, Stored: res.Stored, Checkpoint: res.Checkpoint}, nil
}

// normalize drops posts without an id and collapses repeated ids within a
// page, keeping the first occurrence.
func normalize(raw []models.RawPost, topicID, runID string, scrapedAt time.Time) []models.Post {
	out := make([]models.Post, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		id := strings.TrimSpace(r.ID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		r.ID = id
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, models.Post{
			RawPost:   r,
			TopicID:   topicID,
			RunID:     runID,
			ScrapedAt: scrapedAt,
		})
	}
	return out
}
