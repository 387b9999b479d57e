// Package ratelimit paces outbound requests.
//
// Steady wraps golang.org/x/time/rate with a burst of one, so requests are
// spaced evenly instead of bunched at the start of a window. Registry keeps
// one limiter per scraping account:
//
//	limits := ratelimit.NewRegistry(func() ratelimit.Limiter {
//		return ratelimit.PerMinute(cfg.Scrape.RequestsPerMinute)
//	})
//
//	if err := limits.For(account.ID).Wait(ctx); err != nil {
//		return err
//	}
package ratelimit
