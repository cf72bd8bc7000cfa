// Package crawler collects the complete comment tree of one post.
//
// A crawl moves through a small state machine:
//
//	INIT -> FETCH_TOP_LEVEL -> FETCH_REPLIES -> FINALIZE -> DONE
//
// and may enter ABORTED from any phase. Each pagination context (the
// top-level comment stream and one reply stream per comment) keeps its own
// cursor in a checkpoint that is saved after every merged page, so an
// interrupted crawl resumes where it stopped and produces the same record
// as an uninterrupted one.
//
// Usage:
//
//	client, err := instagram.NewClient(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store, err := checkpoint.NewFileStore(dir, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c := crawler.New(client, ratelimit.New(ratelimit.Config{RequestsPerMinute: 30}), store)
//	res, err := c.Run(ctx, crawler.RunConfig{
//	    Target:       "https://www.instagram.com/p/ABC123/",
//	    Resume:       true,
//	    FetchReplies: true,
//	})
//
// Rate limiting:
//
// Every request, including target resolution, passes the shared pacer. A
// rate-limit response penalizes the pacer exactly once and the retry is
// delayed by the pacer alone; transport failures use the configured backoff.
package crawler
