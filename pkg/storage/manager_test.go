package storage_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/checkpoint"
	errs "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/storage"
)

func rawPosts(ids ...string) []models.RawPost {
	out := make([]models.RawPost, 0, len(ids))
	for i, id := range ids {
		out = append(out, models.RawPost{
			ID:        id,
			Text:      "post " + id,
			CreatedAt: time.Date(2024, 1, 1, 0, i, 0, 0, time.FixedZone("EST", -5*3600)),
		})
	}
	return out
}

func TestStoreAndAdvance(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	m := storage.NewManager(backend, logger.NewNopLogger())

	stats, err := m.StoreAndAdvance(ctx, "inflation", rawPosts("1", "2", "3"), "c1", storage.Commit{RunID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Seen)
	assert.Equal(t, 3, stats.Stored)
	assert.Equal(t, "c1", stats.Checkpoint.Cursor)
	assert.Equal(t, int64(1), stats.Checkpoint.Version)

	p, err := backend.GetPost(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "inflation", p.TopicID)
	assert.Equal(t, "r1", p.RunID)
	assert.Equal(t, time.UTC, p.CreatedAt.Location())
	assert.False(t, p.ScrapedAt.IsZero())
}

func TestStoreAndAdvanceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	m := storage.NewManager(backend, logger.NewNopLogger())

	_, err := m.StoreAndAdvance(ctx, "inflation", rawPosts("1", "2"), "c1", storage.Commit{RunID: "r1"})
	require.NoError(t, err)

	// replaying the same page after a crash
	stats, err := m.StoreAndAdvance(ctx, "inflation", rawPosts("1", "2"), "c1", storage.Commit{RunID: "r2", ExpectedVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Seen)
	assert.Equal(t, 0, stats.Stored)

	n, err := backend.CountPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	p, err := backend.GetPost(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "r1", p.RunID, "existing rows are never overwritten")
}

func TestStoreAndAdvanceDropsBadIDs(t *testing.T) {
	ctx := context.Background()
	m := storage.NewManager(storage.NewMemoryBackend(), logger.NewNopLogger())

	posts := rawPosts("1", "", "1", " 2 ")
	stats, err := m.StoreAndAdvance(ctx, "rent", posts, "c", storage.Commit{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Seen)
	assert.Equal(t, 2, stats.Stored)

	_, err = m.Backend().GetPost(ctx, "2")
	assert.NoError(t, err)
}

func TestStoreAndAdvanceEmptyPageKeepsCursor(t *testing.T) {
	ctx := context.Background()
	m := storage.NewManager(storage.NewMemoryBackend(), logger.NewNopLogger())

	_, err := m.StoreAndAdvance(ctx, "rent", rawPosts("1"), "c1", storage.Commit{})
	require.NoError(t, err)

	stats, err := m.StoreAndAdvance(ctx, "rent", nil, "", storage.Commit{ExpectedVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, "c1", stats.Checkpoint.Cursor)
	assert.Equal(t, 1, stats.Checkpoint.ConsecutiveEmpty)
}

func TestStoreAndAdvanceStaleVersion(t *testing.T) {
	ctx := context.Background()
	m := storage.NewManager(storage.NewMemoryBackend(), logger.NewNopLogger())

	_, err := m.StoreAndAdvance(ctx, "rent", rawPosts("1"), "c1", storage.Commit{})
	require.NoError(t, err)

	_, err = m.StoreAndAdvance(ctx, "rent", rawPosts("2"), "c2", storage.Commit{ExpectedVersion: 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, checkpoint.ErrStaleCheckpoint))
	assert.Equal(t, errs.ErrorTypeInvalid, errs.KindOf(err))
}

func TestStoreAndAdvanceFailedCommitWritesNothing(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	m := storage.NewManager(backend, logger.NewNopLogger())

	_, err := m.StoreAndAdvance(ctx, "rent", rawPosts("1"), "c1", storage.Commit{})
	require.NoError(t, err)

	backend.FailCommit = func(topicID string, page checkpoint.Page) error {
		return fmt.Errorf("disk full")
	}
	_, err = m.StoreAndAdvance(ctx, "rent", rawPosts("2"), "c2", storage.Commit{ExpectedVersion: 1})
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeStorage, errs.KindOf(err))
	assert.True(t, errs.IsRetryable(errs.KindOf(err)))

	cp, err := m.Checkpoints().Load(ctx, "rent")
	require.NoError(t, err)
	assert.Equal(t, "c1", cp.Cursor)
	assert.Equal(t, int64(1), cp.Version)

	_, err = backend.GetPost(ctx, "2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreAndAdvanceCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := storage.NewManager(storage.NewMemoryBackend(), logger.NewNopLogger())
	_, err := m.StoreAndAdvance(ctx, "rent", rawPosts("1"), "c1", storage.Commit{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
