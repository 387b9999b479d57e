package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/storage"
)

func TestTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	tr := New(backend, logger.NewTestLogger())

	assert.Empty(t, tr.RunID())
	_, err := tr.Finalize(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)

	run, err := tr.Start(ctx)
	require.NoError(t, err)
	id, err := uuid.Parse(run.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.Equal(t, run.ID, tr.RunID())

	stored, err := backend.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, stored.Status)
	assert.Nil(t, stored.FinishedAt)

	var wg sync.WaitGroup
	outcomes := []models.TopicOutcome{
		{TopicID: "inflation", Status: models.OutcomeSucceeded, Reason: models.ReasonLimitReached, Seen: 50, Stored: 50},
		{TopicID: "groceries", Status: models.OutcomeDeferred, Reason: "rate_limited", Seen: 20, Stored: 12},
		{TopicID: "wages", Status: models.OutcomeErrored, Reason: "storage"},
		{TopicID: "housing", Status: models.OutcomeSkipped, Reason: models.ReasonCooldown},
	}
	for _, o := range outcomes {
		wg.Add(1)
		go func(o models.TopicOutcome) {
			defer wg.Done()
			tr.Record(o)
		}(o)
	}
	wg.Wait()
	assert.Len(t, tr.Outcomes(), 4)

	final, err := tr.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, final.Status)
	require.NotNil(t, final.FinishedAt)
	assert.Equal(t, 3, final.TopicsAttempted)
	assert.Equal(t, 1, final.TopicsSucceeded)
	assert.Equal(t, 1, final.TopicsDeferred)
	assert.Equal(t, 1, final.TopicsErrored)
	assert.Equal(t, 1, final.TopicsSkipped)
	assert.Equal(t, int64(70), final.PostsSeen)
	assert.Equal(t, int64(62), final.PostsStored)
	assert.Equal(t, map[string]string{"groceries": "rate_limited", "wages": "storage"}, final.Errors)

	stored, err = backend.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, final.PostsStored, stored.PostsStored)

	_, err = tr.Finalize(ctx)
	assert.ErrorIs(t, err, ErrRunFinalized)
}

type failingStore struct {
	createErr   error
	finalizeErr error
	finalized   int
}

func (f *failingStore) CreateRun(ctx context.Context, run *models.Run) error {
	return f.createErr
}

func (f *failingStore) FinalizeRun(ctx context.Context, run *models.Run) error {
	f.finalized++
	return f.finalizeErr
}

func TestTrackerStoreErrors(t *testing.T) {
	ctx := context.Background()

	store := &failingStore{createErr: errors.New("connection refused")}
	_, err := New(store, logger.NewNopLogger()).Start(ctx)
	assert.Error(t, err)

	store = &failingStore{finalizeErr: errors.New("connection reset")}
	tr := New(store, logger.NewNopLogger())
	_, err = tr.Start(ctx)
	require.NoError(t, err)

	_, err = tr.Finalize(ctx)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrRunFinalized)

	store.finalizeErr = nil
	_, err = tr.Finalize(ctx)
	assert.NoError(t, err, "a failed finalize can be retried")
	assert.Equal(t, 2, store.finalized)
}

func TestSummarizeAllSucceeded(t *testing.T) {
	run := Summarize(models.Run{ID: "r"}, []models.TopicOutcome{
		{TopicID: "a", Status: models.OutcomeSucceeded, Seen: 3, Stored: 1},
		{TopicID: "b", Status: models.OutcomeSucceeded, Seen: 2, Stored: 2},
	})
	assert.Equal(t, 2, run.TopicsAttempted)
	assert.Nil(t, run.Errors)
	assert.Equal(t, int64(3), run.PostsStored)
}
