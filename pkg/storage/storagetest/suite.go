// Package storagetest holds the behaviour every storage.Backend must share.
// Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/checkpoint"
	"harvester/pkg/models"
	"harvester/pkg/storage"
)

// Factory returns an empty backend. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.Backend

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Post builds a stored post for tests
func Post(id, topic string, offset time.Duration) models.Post {
	return models.Post{
		RawPost: models.RawPost{
			ID:        id,
			Author:    "author_" + id,
			Text:      "text " + id,
			CreatedAt: base.Add(offset),
			Likes:     3,
			Hashtags:  []string{"prices"},
			Raw:       []byte(fmt.Sprintf(`{"id":%q}`, id)),
		},
		TopicID:   topic,
		RunID:     "run-1",
		ScrapedAt: base.Add(time.Hour),
	}
}

// Run executes the conformance suite
func Run(t *testing.T, newBackend Factory) {
	t.Run("CommitStoresAndAdvances", func(t *testing.T) { testCommit(t, newBackend(t)) })
	t.Run("InsertOrIgnore", func(t *testing.T) { testInsertOrIgnore(t, newBackend(t)) })
	t.Run("StaleVersionWritesNothing", func(t *testing.T) { testStale(t, newBackend(t)) })
	t.Run("EmptyPages", func(t *testing.T) { testEmptyPages(t, newBackend(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newBackend(t)) })
	t.Run("Runs", func(t *testing.T) { testRuns(t, newBackend(t)) })
}

func testCommit(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Ping(ctx))

	cp, err := b.LoadCheckpoint(ctx, "inflation")
	require.NoError(t, err)
	assert.Nil(t, cp)

	res, err := b.CommitPage(ctx, "inflation", checkpoint.Page{
		Posts:  []models.Post{Post("1", "inflation", 0), Post("2", "inflation", time.Minute)},
		Cursor: "c1",
		At:     base,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Seen)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, int64(1), res.Checkpoint.Version)

	cp, err = b.LoadCheckpoint(ctx, "inflation")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "c1", cp.Cursor)
	assert.Equal(t, "2", cp.NewestPostID)
	assert.True(t, cp.NewestPostAt.Equal(base.Add(time.Minute)))
	assert.True(t, cp.LastSuccessAt.IsZero(), "incomplete scan must not count as success")
	assert.Equal(t, int64(2), cp.PostsStored)
	assert.Equal(t, int64(1), cp.PagesCommitted)

	res, err = b.CommitPage(ctx, "inflation", checkpoint.Page{
		Posts:           []models.Post{Post("3", "inflation", -time.Hour)},
		Cursor:          "c2",
		ExpectedVersion: 1,
		Complete:        true,
		At:              base.Add(time.Hour),
	})
	require.NoError(t, err)
	cp = res.Checkpoint
	assert.Equal(t, "c2", cp.Cursor)
	assert.Equal(t, "2", cp.NewestPostID, "older post must not move the watermark back")
	assert.True(t, cp.LastSuccessAt.Equal(base.Add(time.Hour)))

	got, err := b.GetPost(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "inflation", got.TopicID)
	assert.Equal(t, []string{"prices"}, got.Hashtags)
	assert.JSONEq(t, `{"id":"1"}`, string(got.Raw))
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = b.GetPost(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	cps, err := b.ListCheckpoints(ctx)
	require.NoError(t, err)
	assert.Len(t, cps, 1)
}

func testInsertOrIgnore(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	_, err := b.CommitPage(ctx, "inflation", checkpoint.Page{
		Posts: []models.Post{Post("1", "inflation", 0)}, Cursor: "a", At: base,
	})
	require.NoError(t, err)

	// same post rediscovered under another topic
	res, err := b.CommitPage(ctx, "groceries", checkpoint.Page{
		Posts: []models.Post{Post("1", "groceries", 0), Post("9", "groceries", 0)}, Cursor: "b", At: base,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Seen)
	assert.Equal(t, 1, res.Stored)

	n, err := b.CountPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	p, err := b.GetPost(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "inflation", p.TopicID, "first-seen topic wins")
}

func testStale(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	_, err := b.CommitPage(ctx, "rent", checkpoint.Page{
		Posts: []models.Post{Post("1", "rent", 0)}, Cursor: "a", At: base,
	})
	require.NoError(t, err)

	_, err = b.CommitPage(ctx, "rent", checkpoint.Page{
		Posts: []models.Post{Post("2", "rent", 0)}, Cursor: "b", ExpectedVersion: 0, At: base,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, checkpoint.ErrStaleCheckpoint))

	n, err := b.CountPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "rejected commit must not store posts")

	cp, err := b.LoadCheckpoint(ctx, "rent")
	require.NoError(t, err)
	assert.Equal(t, "a", cp.Cursor)
}

func testEmptyPages(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	var version int64
	for i := 0; i < 2; i++ {
		res, err := b.CommitPage(ctx, "wages", checkpoint.Page{ExpectedVersion: version, At: base})
		require.NoError(t, err)
		version = res.Checkpoint.Version
	}
	cp, err := b.LoadCheckpoint(ctx, "wages")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.ConsecutiveEmpty)
	assert.Equal(t, "", cp.Cursor)

	res, err := b.CommitPage(ctx, "wages", checkpoint.Page{
		Posts: []models.Post{Post("5", "wages", 0)}, Cursor: "w1", ExpectedVersion: version, At: base,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Checkpoint.ConsecutiveEmpty)
}

func testReset(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	_, err := b.CommitPage(ctx, "rent", checkpoint.Page{
		Posts: []models.Post{Post("1", "rent", 0)}, Cursor: "a", Complete: true, At: base,
	})
	require.NoError(t, err)

	cp, err := b.ResetCheckpoint(ctx, "rent", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), cp.Version)
	assert.Equal(t, "", cp.Cursor)
	assert.True(t, cp.LastSuccessAt.IsZero())
	assert.True(t, cp.NewestPostAt.IsZero())

	loaded, err := b.LoadCheckpoint(ctx, "rent")
	require.NoError(t, err)
	assert.True(t, loaded.Fresh())
	assert.True(t, loaded.ResetAt.Equal(base.Add(time.Hour)))

	// reset of an unknown topic creates a fresh row
	cp, err = b.ResetCheckpoint(ctx, "new", base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.Version)
}

func testRuns(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	first := &models.Run{ID: "r1", StartedAt: base, Status: models.RunRunning}
	second := &models.Run{ID: "r2", StartedAt: base.Add(time.Hour), Status: models.RunRunning}
	require.NoError(t, b.CreateRun(ctx, first))
	require.NoError(t, b.CreateRun(ctx, second))

	finished := base.Add(2 * time.Hour)
	second.FinishedAt = &finished
	second.Status = models.RunCompleted
	second.TopicsAttempted = 2
	second.TopicsSucceeded = 1
	second.TopicsDeferred = 1
	second.PostsSeen = 40
	second.PostsStored = 30
	second.Errors = map[string]string{"groceries": "rate_limited"}
	require.NoError(t, b.FinalizeRun(ctx, second))

	err := b.FinalizeRun(ctx, second)
	assert.True(t, errors.Is(err, storage.ErrRunFinalized))

	err = b.FinalizeRun(ctx, &models.Run{ID: "nope", FinishedAt: &finished})
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	got, err := b.GetRun(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(finished))
	assert.Equal(t, int64(30), got.PostsStored)
	assert.Equal(t, map[string]string{"groceries": "rate_limited"}, got.Errors)

	runs, err := b.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Nil(t, runs[1].FinishedAt)

	runs, err = b.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = b.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
