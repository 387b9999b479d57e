// Package retry provides bounded retries with exponential backoff for
// transient failures such as network blips and storage hiccups.
//
// Only errors classified as transient (or unclassified) are retried.
// Rate-limit and auth errors are returned immediately so the caller can
// hand the account back to the pool.
//
//	page, err := retry.DoWithResult(func() (*transport.Page, error) {
//		return fetcher.FetchPage(ctx, account, query, cursor, limit)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		Backoff:     retry.NewExponentialBackoff(scrape.RetryBaseDelay, scrape.RetryMaxDelay),
//		Context:     ctx,
//	})
package retry
