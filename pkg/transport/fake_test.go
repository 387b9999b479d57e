package transport

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/models"
)

func TestFakeFeedPaging(t *testing.T) {
	feed := NewFakeFeed()
	for i := 0; i < 5; i++ {
		feed.Add("rent", models.RawPost{ID: fmt.Sprint(i)})
	}
	ctx := context.Background()
	account := &models.Account{ID: "a"}

	page, err := feed.FetchPage(ctx, account, "rent", "", 2)
	require.NoError(t, err)
	assert.Len(t, page.Posts, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, FakeCursor(2), page.NextCursor)

	page, err = feed.FetchPage(ctx, account, "rent", FakeCursor(4), 2)
	require.NoError(t, err)
	assert.Len(t, page.Posts, 1)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)

	feed.Truncate["rent"] = 3
	page, err = feed.FetchPage(ctx, account, "rent", FakeCursor(2), 5)
	require.NoError(t, err)
	assert.Len(t, page.Posts, 1)
	assert.False(t, page.HasMore)

	_, err = feed.FetchPage(ctx, account, "rent", "garbage", 2)
	assert.Error(t, err)
	assert.Len(t, feed.Calls(), 4)
}

func TestFakeFeedFailures(t *testing.T) {
	feed := NewFakeFeed()
	feed.MoreAfterEnd = true
	feed.Fail = func(call Call, n int) error {
		if n == 1 {
			return fmt.Errorf("first call fails")
		}
		return nil
	}

	_, err := feed.FetchPage(context.Background(), &models.Account{ID: "a"}, "q", "", 2)
	assert.Error(t, err)

	page, err := feed.FetchPage(context.Background(), &models.Account{ID: "a"}, "q", "", 2)
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
	assert.True(t, page.HasMore)
}
