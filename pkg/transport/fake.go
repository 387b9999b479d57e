package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"harvester/pkg/models"
)

// Call records one FakeFeed request
type Call struct {
	Account string
	Query   string
	Cursor  string
	Limit   int
}

// FakeFeed is an in-memory Fetcher for tests and dry runs. Each query serves
// a fixed ordered list of posts; cursors are offsets into that list.
type FakeFeed struct {
	mu    sync.Mutex
	posts map[string][]models.RawPost
	calls []Call

	// Fail, when set, can return an error for a request before it is served.
	// n is the 1-based count of requests seen for the query so far.
	Fail func(call Call, n int) error
	// Truncate, when set, reports that the query has no more results after
	// this many posts even if more are stored.
	Truncate map[string]int
	// MoreAfterEnd makes the last page still report HasMore, the way a feed
	// that keeps returning empty pages behaves.
	MoreAfterEnd bool
}

// NewFakeFeed creates an empty feed
func NewFakeFeed() *FakeFeed {
	return &FakeFeed{
		posts:    make(map[string][]models.RawPost),
		Truncate: make(map[string]int),
	}
}

// Add appends posts to a query's results
func (f *FakeFeed) Add(query string, posts ...models.RawPost) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts[query] = append(f.posts[query], posts...)
}

// Calls returns the requests served so far
func (f *FakeFeed) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// FetchPage serves the page starting at cursor
func (f *FakeFeed) FetchPage(ctx context.Context, account *models.Account, query, cursor string, limit int) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	call := Call{Account: account.ID, Query: query, Cursor: cursor, Limit: limit}
	f.calls = append(f.calls, call)
	n := 0
	for _, c := range f.calls {
		if c.Query == query {
			n++
		}
	}
	fail := f.Fail
	f.mu.Unlock()

	if fail != nil {
		if err := fail(call, n); err != nil {
			return nil, err
		}
	}

	offset, err := parseOffset(cursor)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	all := f.posts[query]
	end := len(all)
	if t, ok := f.Truncate[query]; ok && t < end {
		end = t
	}
	if offset > end {
		offset = end
	}
	if limit <= 0 {
		limit = MaxPageSize
	}
	stop := offset + limit
	if stop > end {
		stop = end
	}

	page := &Page{
		Posts:   append([]models.RawPost(nil), all[offset:stop]...),
		HasMore: stop < end || f.MoreAfterEnd,
	}
	if page.HasMore {
		page.NextCursor = FakeCursor(stop)
	}
	return page, nil
}

// FakeCursor is the cursor FakeFeed issues for an offset
func FakeCursor(offset int) string {
	return "offset:" + strconv.Itoa(offset)
}

func parseOffset(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(cursor, "offset:"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad cursor %q", cursor)
	}
	return n, nil
}
