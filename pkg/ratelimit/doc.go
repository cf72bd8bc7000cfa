// Package ratelimit provides the request pacing primitive used by the crawler.
//
// A Governor enforces a requests-per-minute ceiling (built on
// golang.org/x/time/rate) with a randomized jitter per interval, and turns
// explicit rate-limit signals into an exponentially growing penalty that is
// cleared by the next successful request.
//
// Usage:
//
//	gov := ratelimit.New(ratelimit.Config{
//	    RequestsPerMinute: 8,
//	    JitterRatio:       0.2,
//	    PenaltyBase:       30 * time.Second,
//	    PenaltyMax:        5 * time.Minute,
//	})
//
//	if err := gov.Acquire(ctx); err != nil {
//	    return err
//	}
//	page, err := fetcher.FetchPage(ctx, req)
//	switch {
//	case errors.Is(err, errs.ErrRateLimited):
//	    gov.Penalize()
//	case err == nil:
//	    gov.Clear()
//	}
//
// Governors are ordinary values: construct one per crawl, or share one
// between crawls that must respect a common ceiling.
package ratelimit
