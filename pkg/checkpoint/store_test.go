package checkpoint_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/checkpoint"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/storage"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	store := checkpoint.NewStore(storage.NewMemoryBackend(), log)

	cp, err := store.Load(ctx, "inflation")
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.True(t, cp.Fresh())

	res, err := store.Commit(ctx, "inflation", checkpoint.Page{
		Posts:  []models.Post{{RawPost: models.RawPost{ID: "1"}, TopicID: "inflation"}},
		Cursor: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stored)
	assert.False(t, res.Checkpoint.UpdatedAt.IsZero(), "commit time defaults to now")
	assert.True(t, log.HasMessage("Checkpoint advanced"))

	_, err = store.Commit(ctx, "inflation", checkpoint.Page{Cursor: "c2"})
	assert.ErrorIs(t, err, checkpoint.ErrStaleCheckpoint)

	cp, err = store.Reset(ctx, "inflation")
	require.NoError(t, err)
	assert.True(t, cp.Fresh())
	assert.Equal(t, int64(2), cp.Version)
	assert.True(t, log.HasMessage("Checkpoint reset"))

	cps, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, "inflation", cps[0].TopicID)
}
