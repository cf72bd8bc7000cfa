// Package instagram is the page fetcher for Instagram's web API.
//
// Endpoints are described in configuration rather than hardcoded: each
// descriptor names a kind (graphql or rest), an HTTP method, a URL, a
// doc_id or query_hash, and a variables template with placeholders such
// as {target_id}, {cursor} and {parent_comment_id}.
//
// A Client issues exactly one request per call and never retries; retry
// policy belongs to the caller. Failures come back typed:
//
//	page, err := client.FetchPage(ctx, instagram.PageRequest{Target: target})
//	switch {
//	case errors.Is(err, errs.ErrRateLimited):
//	    // slow down, then retry the same page
//	case errors.Is(err, errs.ErrSchema):
//	    // the response shape is not recognised
//	}
//
// Every exchange, successful or not, is offered to an optional
// ResponseArchiver so unexpected payloads can be inspected later.
package instagram
