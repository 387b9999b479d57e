package transport

import (
	"context"

	"harvester/pkg/models"
)

// Page is one page of search results
type Page struct {
	Posts      []models.RawPost
	NextCursor string
	HasMore    bool
}

// Fetcher retrieves search result pages. Errors are classified with
// pkg/errors as rate_limited, auth_failure, transient or invalid.
type Fetcher interface {
	FetchPage(ctx context.Context, account *models.Account, query, cursor string, limit int) (*Page, error)
}
