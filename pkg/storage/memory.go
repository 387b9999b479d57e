package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"harvester/pkg/checkpoint"
	"harvester/pkg/models"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps everything in maps behind one mutex. Used for dry
// runs and tests; a whole CommitPage happens under the lock, which gives
// the same all-or-nothing behaviour as a transaction.
type MemoryBackend struct {
	mu          sync.Mutex
	posts       map[string]models.Post
	checkpoints map[string]models.Checkpoint
	runs        map[string]models.Run

	// FailCommit, when set, is returned by CommitPage before anything is written
	FailCommit func(topicID string, page checkpoint.Page) error
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		posts:       make(map[string]models.Post),
		checkpoints: make(map[string]models.Checkpoint),
		runs:        make(map[string]models.Run),
	}
}

func (m *MemoryBackend) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryBackend) Close() error { return nil }

// CommitPage upserts posts and advances the checkpoint
func (m *MemoryBackend) CommitPage(ctx context.Context, topicID string, page checkpoint.Page) (*checkpoint.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCommit != nil {
		if err := m.FailCommit(topicID, page); err != nil {
			return nil, err
		}
	}

	var prev *models.Checkpoint
	if cp, ok := m.checkpoints[topicID]; ok {
		prev = &cp
	}

	var fresh []models.Post
	for _, p := range page.Posts {
		if _, exists := m.posts[p.ID]; !exists {
			fresh = append(fresh, p)
		}
	}

	next, err := checkpoint.Advance(prev, topicID, page, len(fresh))
	if err != nil {
		return nil, err
	}

	for _, p := range fresh {
		m.posts[p.ID] = p
	}
	m.checkpoints[topicID] = *next

	out := *next
	return &checkpoint.Result{Seen: len(page.Posts), Stored: len(fresh), Checkpoint: &out}, nil
}

func (m *MemoryBackend) LoadCheckpoint(ctx context.Context, topicID string) (*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.checkpoints[topicID]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (m *MemoryBackend) ListCheckpoints(ctx context.Context) ([]*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Checkpoint, 0, len(m.checkpoints))
	for _, cp := range m.checkpoints {
		cp := cp
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID < out[j].TopicID })
	return out, nil
}

func (m *MemoryBackend) ResetCheckpoint(ctx context.Context, topicID string, at time.Time) (*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev *models.Checkpoint
	if cp, ok := m.checkpoints[topicID]; ok {
		prev = &cp
	}
	next := checkpoint.Cleared(prev, topicID, at)
	m.checkpoints[topicID] = *next

	out := *next
	return &out, nil
}

func (m *MemoryBackend) CreateRun(ctx context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[run.ID] = copyRun(run)
	return nil
}

func (m *MemoryBackend) FinalizeRun(ctx context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.FinishedAt != nil {
		return ErrRunFinalized
	}
	m.runs[run.ID] = copyRun(run)
	return nil
}

func (m *MemoryBackend) GetRun(ctx context.Context, id string) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyRun(&run)
	return &out, nil
}

func (m *MemoryBackend) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Run, 0, len(m.runs))
	for _, run := range m.runs {
		r := copyRun(&run)
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryBackend) GetPost(ctx context.Context, id string) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryBackend) CountPosts(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.posts)), nil
}

func copyRun(run *models.Run) models.Run {
	out := *run
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		out.FinishedAt = &t
	}
	if run.Errors != nil {
		out.Errors = make(map[string]string, len(run.Errors))
		for k, v := range run.Errors {
			out.Errors[k] = v
		}
	}
	return out
}
