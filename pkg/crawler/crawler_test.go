package crawler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcomments/pkg/checkpoint"
	errs "igcomments/pkg/errors"
	"igcomments/pkg/instagram"
	"igcomments/pkg/logger"
	"igcomments/pkg/models"
	"igcomments/pkg/retry"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakePacer struct {
	mu        sync.Mutex
	acquires  int
	penalties int
	clears    int
	// onAcquire may fail the n-th acquire (1-based)
	onAcquire func(n int) error
}

func (p *fakePacer) Acquire(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	if p.onAcquire != nil {
		return p.onAcquire(p.acquires)
	}
	return nil
}

func (p *fakePacer) Penalize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.penalties++
}

func (p *fakePacer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
}

// fakeClient serves a synthetic data set. Cursors are offsets.
type fakeClient struct {
	mu       sync.Mutex
	target   models.Target
	top      []instagram.Item
	replies  map[string][]models.Comment
	requests []instagram.PageRequest
	checkErr error
	lookups  int
	// resolve may replace target resolution for the n-th lookup (1-based)
	resolve func(n int) (models.Target, error)
	// fail may inject an error for the n-th request (1-based)
	fail func(n int, req instagram.PageRequest) error
	// after runs once the n-th request succeeded
	after func(n int)
}

func (f *fakeClient) CheckEndpoints(replies bool) error {
	return f.checkErr
}

func (f *fakeClient) ResolveTarget(ctx context.Context, ref string) (models.Target, error) {
	f.mu.Lock()
	f.lookups++
	n := f.lookups
	f.mu.Unlock()

	if f.resolve != nil {
		return f.resolve(n)
	}
	return f.target, nil
}

func (f *fakeClient) FetchPage(ctx context.Context, req instagram.PageRequest) (*instagram.Page, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(n, req); err != nil {
			return nil, err
		}
	}
	if f.after != nil {
		defer f.after(n)
	}

	offset := 0
	if req.Cursor != "" {
		offset, _ = strconv.Atoi(req.Cursor)
	}

	var items []instagram.Item
	if req.IsReply() {
		for _, c := range f.replies[req.ParentID] {
			items = append(items, instagram.Item{Comment: c})
		}
	} else {
		items = f.top
	}

	end := min(offset+req.PageSize, len(items))
	page := &instagram.Page{Items: items[offset:end]}
	if end < len(items) {
		page.HasMore = true
		page.NextCursor = strconv.Itoa(end)
	}
	if !req.IsReply() {
		total := len(f.top)
		page.ExpectedCount = &total
	}
	return page, nil
}

func (f *fakeClient) replyRequests() int {
	return len(f.replyPageRequests())
}

func (f *fakeClient) replyPageRequests() []instagram.PageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []instagram.PageRequest
	for _, r := range f.requests {
		if r.IsReply() {
			out = append(out, r)
		}
	}
	return out
}

// scenarioClient has two top-level comments; c1 has three replies
func scenarioClient() *fakeClient {
	return &fakeClient{
		target: models.Target{ID: "42", DisplayID: "ABC123", OwnerID: "owner", Caption: "sunset"},
		top: []instagram.Item{
			{Comment: models.Comment{
				ID: "c1", Text: "first", CreatedAt: "2024-01-01T10:00:00Z", LikeCount: 3,
				Author: models.Author{ID: "u1", DisplayName: "alice", Verified: true}, ReplyCount: 3,
			}},
			{Comment: models.Comment{
				ID: "c2", Text: "second", CreatedAt: "2024-01-01T11:00:00Z",
				Author: models.Author{ID: "u2", DisplayName: "bob"},
			}},
		},
		replies: map[string][]models.Comment{
			"c1": {
				{ID: "r1", Text: "reply one", CreatedAt: "2024-01-01T10:05:00Z",
					Author: models.Author{ID: "owner", DisplayName: "poster"}, IsAuthor: true},
				{ID: "r2", Text: "reply two", CreatedAt: "2024-01-01T10:06:00Z",
					Author: models.Author{ID: "u2", DisplayName: "bob"}},
				{ID: "r3", Text: "reply <three> & more", CreatedAt: "2024-01-01T10:07:00Z", LikeCount: 1,
					Author: models.Author{ID: "u3", DisplayName: "carol", FullName: "Carol C"}},
			},
		},
	}
}

func newStore(t *testing.T) *checkpoint.FileStore {
	t.Helper()
	store, err := checkpoint.NewFileStore(t.TempDir(), logger.NewNopLogger())
	require.NoError(t, err)
	return store
}

func newCrawler(client Client, pacer *fakePacer, store checkpoint.Store, opts ...Option) *Crawler {
	base := []Option{
		WithRetry(2, &retry.ConstantBackoff{}),
		WithPageSizes(1, 2),
		WithLogger(logger.NewNopLogger()),
		WithClock(func() time.Time { return fixedNow }),
	}
	return New(client, pacer, store, append(base, opts...)...)
}

func mustRun(t *testing.T, c *Crawler, cfg RunConfig) *Result {
	t.Helper()
	res, err := c.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	return res
}

var fullRun = RunConfig{Target: "ABC123", Resume: true, FetchReplies: true}

func encode(t *testing.T, r *models.Record) []byte {
	t.Helper()
	data, err := r.Encode()
	require.NoError(t, err)
	return data
}

func TestScenarioTwoCommentsThreeReplies(t *testing.T) {
	client := scenarioClient()
	store := newStore(t)
	res := mustRun(t, newCrawler(client, &fakePacer{}, store), fullRun)

	record := res.Record
	require.Len(t, record.Comments, 2)
	assert.Len(t, record.Comments[0].Replies, 3)
	assert.Empty(t, record.Comments[1].Replies)
	assert.Equal(t, 5, record.TotalItemCount)
	assert.Equal(t, 4, record.PageCount)
	require.NotNil(t, record.ExpectedItemCount)
	assert.Equal(t, 2, *record.ExpectedItemCount)
	assert.Equal(t, PhaseDone, res.Phase)

	state, err := store.Load("42")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, checkpoint.StatusDone, state.Status)

	top, ok := state.Lookup(checkpoint.TopLevelKey)
	require.True(t, ok)
	assert.True(t, top.Exhausted)
	assert.Equal(t, 2, top.Pages)

	replies, ok := state.Lookup(checkpoint.ReplyKey("c1"))
	require.True(t, ok)
	assert.True(t, replies.Exhausted)
	assert.Equal(t, StopNoMorePages, replies.StopReason)

	_, ok = state.Lookup(checkpoint.ReplyKey("c2"))
	assert.False(t, ok, "comments without replies are not fetched")
	assert.Equal(t, 2, client.replyRequests())
}

func TestRecordIsIdempotent(t *testing.T) {
	first := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, newStore(t)), fullRun)
	second := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, newStore(t)), fullRun)

	data := encode(t, first.Record)
	assert.Equal(t, data, encode(t, second.Record))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "scenario_record", data)
}

func TestResumeOfCompletedCrawlIsNoop(t *testing.T) {
	store := newStore(t)
	first := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, store), fullRun)

	client := scenarioClient()
	later := func() time.Time { return fixedNow.Add(time.Hour) }
	again := mustRun(t, newCrawler(client, &fakePacer{}, store, WithClock(later)), fullRun)

	assert.Empty(t, client.requests)
	assert.Equal(t, PhaseDone, again.Phase)
	assert.Equal(t, encode(t, first.Record), encode(t, again.Record))
}

func TestRateLimitPenalizesOnceAndRetries(t *testing.T) {
	baseline := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, newStore(t)), fullRun)

	client := scenarioClient()
	client.fail = func(n int, req instagram.PageRequest) error {
		if n == 2 {
			return errs.NewRateLimitedError(429, "slow down")
		}
		return nil
	}
	pacer := &fakePacer{}
	obs := &recordingObserver{}
	res := mustRun(t, newCrawler(client, pacer, newStore(t), WithObserver(obs)), fullRun)

	assert.Equal(t, 1, pacer.penalties)
	assert.Equal(t, 1, obs.penalties)
	assert.Equal(t, 1, obs.retries)
	assert.Len(t, client.requests, 5)
	assert.Equal(t, client.requests[1], client.requests[2], "the same page is retried")

	assert.Equal(t, baseline.State.Comments, res.State.Comments)
	assert.Equal(t, baseline.State.Contexts, res.State.Contexts)
	assert.Equal(t, baseline.State.PageCount, res.State.PageCount)
	assert.Equal(t, encode(t, baseline.Record), encode(t, res.Record))
}

func TestRetriesExhaustedAbortsResumably(t *testing.T) {
	client := scenarioClient()
	client.fail = func(n int, req instagram.PageRequest) error {
		if req.IsReply() {
			return errs.NewTransportError(502, "bad gateway", nil)
		}
		return nil
	}
	store := newStore(t)

	res, err := newCrawler(client, &fakePacer{}, store).Run(context.Background(), fullRun)
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrMaxAttempts)
	assert.ErrorIs(t, err, errs.ErrTransport)
	assert.Equal(t, PhaseAborted, res.Phase)
	assert.Equal(t, StopRetriesExhausted, res.StopReason)
	assert.Equal(t, 2, res.Items)
	assert.Equal(t, 3, client.replyRequests(), "one attempt plus two retries")

	state, err := store.Load("42")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, checkpoint.StatusAborted, state.Status)
	assert.Len(t, state.Comments, 2)

	resumed := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, store), fullRun)
	assert.Equal(t, 5, resumed.Record.TotalItemCount)
	assert.Equal(t, checkpoint.StatusDone, resumed.Status)
}

func TestResumeEquivalence(t *testing.T) {
	baseline := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, newStore(t)), fullRun)
	want := encode(t, baseline.Record)

	for k := 1; k <= 3; k++ {
		t.Run(fmt.Sprintf("interrupted after page %d", k), func(t *testing.T) {
			store := newStore(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			client := scenarioClient()
			client.after = func(n int) {
				if n == k {
					cancel()
				}
			}
			res, err := newCrawler(client, &fakePacer{}, store).Run(ctx, fullRun)
			require.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, StopInterrupted, res.StopReason)
			assert.Equal(t, k, res.Pages, "the page in flight is fully merged")

			state, err := store.Load("42")
			require.NoError(t, err)
			require.NotNil(t, state)
			assert.Equal(t, checkpoint.StatusAborted, state.Status)

			resumed := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, store), fullRun)
			assert.Equal(t, want, encode(t, resumed.Record))
		})
	}
}

func TestNoResumeStartsFresh(t *testing.T) {
	store := newStore(t)
	mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, store), fullRun)

	client := scenarioClient()
	cfg := fullRun
	cfg.Resume = false
	res := mustRun(t, newCrawler(client, &fakePacer{}, store), cfg)
	assert.Len(t, client.requests, 4)
	assert.Equal(t, 5, res.Items)
}

func TestCapEnforcement(t *testing.T) {
	for c := 1; c <= 7; c++ {
		t.Run(fmt.Sprintf("cap %d", c), func(t *testing.T) {
			cfg := fullRun
			cfg.MaxItems = c
			res := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, newStore(t)), cfg)

			assert.Equal(t, min(c, 5), res.Record.TotalItemCount)
			assert.LessOrEqual(t, res.State.TotalItems, c)
			if c < 5 {
				assert.Equal(t, StopMaxReached, res.StopReason)
			}
		})
	}
}

func TestCapRaisedReopensCompletedCrawl(t *testing.T) {
	store := newStore(t)
	cfg := fullRun
	cfg.MaxItems = 3
	first := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, store), cfg)
	assert.Equal(t, checkpoint.StatusDone, first.Status)
	assert.Equal(t, StopMaxReached, first.StopReason)

	same := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, store), cfg)
	assert.Equal(t, 3, same.Items, "same cap is a no-op")

	cfg.MaxItems = 0
	res := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, store), cfg)
	assert.Equal(t, 5, res.Record.TotalItemCount)
	assert.Equal(t, StopNoMorePages, res.StopReason)
	assert.Len(t, res.Record.Comments[0].Replies, 3)
}

func TestRepliesDisabledIssuesNoReplyRequests(t *testing.T) {
	client := scenarioClient()
	client.top[0].InlineReplies = []models.Comment{{ID: "r1", ParentID: "c1"}}
	cfg := fullRun
	cfg.FetchReplies = false

	res := mustRun(t, newCrawler(client, &fakePacer{}, newStore(t)), cfg)
	assert.Zero(t, client.replyRequests())
	assert.Equal(t, 2, res.Record.TotalItemCount)
	assert.Empty(t, res.Record.Comments[0].Replies)
}

func TestInlineRepliesSkipReplyFetch(t *testing.T) {
	client := scenarioClient()
	client.top[0].ReplyCount = 1
	client.top[0].InlineReplies = []models.Comment{{ID: "r9", ParentID: "c1", Text: "inline"}}

	res := mustRun(t, newCrawler(client, &fakePacer{}, newStore(t)), fullRun)
	assert.Zero(t, client.replyRequests())
	require.Len(t, res.Record.Comments[0].Replies, 1)
	assert.Equal(t, "r9", res.Record.Comments[0].Replies[0].ID)

	client = scenarioClient()
	client.top[0].InlineReplies = []models.Comment{{ID: "r1", ParentID: "c1"}}
	client.top[0].InlineHasMore = true
	res = mustRun(t, newCrawler(client, &fakePacer{}, newStore(t)), fullRun)
	assert.Equal(t, 2, client.replyRequests())
	assert.Len(t, res.Record.Comments[0].Replies, 3, "inline and fetched replies are deduplicated")
}

// inlineThreadClient delivers r1 inline under c1 with more replies behind cursor "1"
func inlineThreadClient() *fakeClient {
	client := scenarioClient()
	client.top[0].InlineReplies = []models.Comment{client.replies["c1"][0]}
	client.top[0].InlineHasMore = true
	client.top[0].InlineCursor = "1"
	return client
}

func TestInlineCursorSeedsReplyContext(t *testing.T) {
	client := inlineThreadClient()
	res := mustRun(t, newCrawler(client, &fakePacer{}, newStore(t)), fullRun)

	replies := client.replyPageRequests()
	require.Len(t, replies, 1)
	assert.Equal(t, "c1", replies[0].ParentID)
	assert.Equal(t, "1", replies[0].Cursor, "reply paging continues after the inline page")

	assert.Equal(t, 3, res.Pages)
	require.Len(t, res.Record.Comments[0].Replies, 3)
	assert.Equal(t, "r1", res.Record.Comments[0].Replies[0].ID)
}

func TestResumeContinuesInlineSeededReplies(t *testing.T) {
	baseline := mustRun(t, newCrawler(inlineThreadClient(), &fakePacer{}, newStore(t)), fullRun)

	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := inlineThreadClient()
	client.after = func(n int) {
		if n == 1 {
			cancel()
		}
	}
	_, err := newCrawler(client, &fakePacer{}, store).Run(ctx, fullRun)
	require.ErrorIs(t, err, context.Canceled)

	state, err := store.Load("42")
	require.NoError(t, err)
	require.NotNil(t, state)
	cs, ok := state.Lookup(checkpoint.ReplyKey("c1"))
	require.True(t, ok, "the inline thread opened a reply context")
	assert.False(t, cs.Exhausted)
	assert.Equal(t, "1", cs.Cursor)

	resumedClient := inlineThreadClient()
	resumed := mustRun(t, newCrawler(resumedClient, &fakePacer{}, store), fullRun)
	replies := resumedClient.replyPageRequests()
	require.Len(t, replies, 1)
	assert.Equal(t, "1", replies[0].Cursor)
	assert.Equal(t, encode(t, baseline.Record), encode(t, resumed.Record))
}

func TestTargetLookupRateLimitPenalizesAndRetries(t *testing.T) {
	client := scenarioClient()
	resolved := client.target
	client.resolve = func(n int) (models.Target, error) {
		if n == 1 {
			return models.Target{ID: "42", DisplayID: "ABC123"}, errs.NewRateLimitedError(429, "slow down")
		}
		return resolved, nil
	}
	pacer := &fakePacer{}
	obs := &recordingObserver{}

	res := mustRun(t, newCrawler(client, pacer, newStore(t), WithObserver(obs)), fullRun)
	assert.Equal(t, 2, client.lookups)
	assert.Equal(t, 1, pacer.penalties)
	assert.Equal(t, 1, obs.penalties)
	assert.Equal(t, 1, obs.retries)
	assert.Equal(t, resolved, res.Record.Target)
}

func TestTargetLookupFallback(t *testing.T) {
	decoded := models.Target{ID: "42", DisplayID: "ABC123"}
	failing := func(n int) (models.Target, error) {
		return decoded, errs.NewTransportError(502, "bad gateway", nil)
	}

	t.Run("fresh crawl uses the decoded id", func(t *testing.T) {
		client := scenarioClient()
		client.resolve = failing

		res := mustRun(t, newCrawler(client, &fakePacer{}, newStore(t)), fullRun)
		assert.Equal(t, 3, client.lookups, "one attempt plus two retries")
		assert.Equal(t, decoded, res.Record.Target)
		assert.Equal(t, 5, res.Items)
	})

	t.Run("resume keeps the stored target", func(t *testing.T) {
		baseline := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, newStore(t)), fullRun)

		store := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		client := scenarioClient()
		client.after = func(n int) {
			if n == 1 {
				cancel()
			}
		}
		_, err := newCrawler(client, &fakePacer{}, store).Run(ctx, fullRun)
		require.ErrorIs(t, err, context.Canceled)

		resumedClient := scenarioClient()
		resumedClient.resolve = failing
		resumed := mustRun(t, newCrawler(resumedClient, &fakePacer{}, store), fullRun)
		assert.Equal(t, scenarioClient().target, resumed.Record.Target)
		assert.Equal(t, encode(t, baseline.Record), encode(t, resumed.Record))
	})

	t.Run("no decoded id aborts", func(t *testing.T) {
		client := scenarioClient()
		client.resolve = func(n int) (models.Target, error) {
			return models.Target{}, errs.NewTransportError(502, "bad gateway", nil)
		}
		store := newStore(t)

		res, err := newCrawler(client, &fakePacer{}, store).Run(context.Background(), fullRun)
		assert.ErrorIs(t, err, retry.ErrMaxAttempts)
		assert.Equal(t, StopRetriesExhausted, res.StopReason)
		assert.Nil(t, res.State)
		assert.Empty(t, client.requests)
		assert.NoFileExists(t, store.Path("42"))
	})
}

func TestCancelBeforeMergeKeepsLastCompletePage(t *testing.T) {
	baseline := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, newStore(t)), fullRun)
	want := encode(t, baseline.Record)

	tests := []struct {
		name     string
		requests int
		setup    func(cancel context.CancelFunc, client *fakeClient, pacer *fakePacer)
	}{
		{
			name:     "while waiting for the pacer",
			requests: 1,
			setup: func(cancel context.CancelFunc, client *fakeClient, pacer *fakePacer) {
				// acquire 1 resolves the target, 2 fetches the first page
				pacer.onAcquire = func(n int) error {
					if n == 3 {
						cancel()
						return context.Canceled
					}
					return nil
				}
			},
		},
		{
			name:     "while the request is in flight",
			requests: 2,
			setup: func(cancel context.CancelFunc, client *fakeClient, pacer *fakePacer) {
				client.fail = func(n int, req instagram.PageRequest) error {
					if n == 2 {
						cancel()
						return errs.NewTransportError(0, "request failed", context.Canceled)
					}
					return nil
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			client := scenarioClient()
			pacer := &fakePacer{}
			tt.setup(cancel, client, pacer)

			res, err := newCrawler(client, pacer, store).Run(ctx, fullRun)
			require.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, StopInterrupted, res.StopReason)
			assert.Len(t, client.requests, tt.requests)

			state, err := store.Load("42")
			require.NoError(t, err)
			require.NotNil(t, state)
			assert.Equal(t, checkpoint.StatusAborted, state.Status)
			assert.Equal(t, 1, state.PageCount)
			require.Len(t, state.Comments, 1)
			assert.Equal(t, "c1", state.Comments[0].ID)
			assert.Equal(t, "1", state.Contexts[checkpoint.TopLevelKey].Cursor)

			resumed := mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, store), fullRun)
			assert.Equal(t, want, encode(t, resumed.Record))
		})
	}
}

func TestSchemaErrorStopsOnlyThatContext(t *testing.T) {
	client := scenarioClient()
	client.top = append(client.top, instagram.Item{Comment: models.Comment{ID: "c3", ReplyCount: 1}})
	client.replies["c3"] = []models.Comment{{ID: "r4"}}
	client.fail = func(n int, req instagram.PageRequest) error {
		if req.ParentID == "c1" {
			return errs.NewSchemaError("unexpected shape", nil)
		}
		return nil
	}
	store := newStore(t)

	res, err := newCrawler(client, &fakePacer{}, store).Run(context.Background(), fullRun)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusPartial, res.Status)
	assert.Equal(t, StopSchemaError, res.StopReason)
	assert.Equal(t, []string{checkpoint.ReplyKey("c1")}, res.Failed)
	assert.Equal(t, 4, res.Items, "later contexts still run")

	cs, ok := res.State.Lookup(checkpoint.ReplyKey("c1"))
	require.True(t, ok)
	assert.False(t, cs.Exhausted)
	assert.Empty(t, cs.Cursor)
	assert.NotEmpty(t, cs.LastError)

	client.fail = nil
	resumed := mustRun(t, newCrawler(client, &fakePacer{}, store), fullRun)
	assert.Equal(t, checkpoint.StatusDone, resumed.Status)
	assert.Equal(t, 7, resumed.Items)
	assert.Empty(t, resumed.Failed)
}

func TestConfigurationErrorAbortsBeforeAnyState(t *testing.T) {
	client := scenarioClient()
	client.checkErr = errs.NewConfigurationError("placeholder {parent_comment_id} has no value")
	store := newStore(t)

	res, err := newCrawler(client, &fakePacer{}, store).Run(context.Background(), fullRun)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.Equal(t, PhaseAborted, res.Phase)
	assert.Equal(t, StopConfiguration, res.StopReason)
	assert.Nil(t, res.State)
	assert.Empty(t, client.requests)
	assert.NoFileExists(t, store.Path("42"))

	_, err = newCrawler(scenarioClient(), &fakePacer{}, store).Run(context.Background(), RunConfig{MaxItems: -1})
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

// overlapClient delivers the same ids on several pages
type overlapClient struct {
	fakeClient
	pages map[string]*instagram.Page
}

func (o *overlapClient) FetchPage(ctx context.Context, req instagram.PageRequest) (*instagram.Page, error) {
	o.mu.Lock()
	o.requests = append(o.requests, req)
	o.mu.Unlock()
	return o.pages[req.Cursor], nil
}

func items(ids ...string) []instagram.Item {
	out := make([]instagram.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, instagram.Item{Comment: models.Comment{ID: id}})
	}
	return out
}

func TestDuplicateDeliveryIsDeduplicated(t *testing.T) {
	client := &overlapClient{
		fakeClient: fakeClient{target: models.Target{ID: "42", DisplayID: "ABC123"}},
		pages: map[string]*instagram.Page{
			"":   {Items: items("a", "b"), HasMore: true, NextCursor: "p2"},
			"p2": {Items: items("b", "c"), HasMore: true, NextCursor: "p3"},
			"p3": {Items: items("c", "a", "d")},
		},
	}

	res := mustRun(t, newCrawler(client, &fakePacer{}, newStore(t)), fullRun)
	assert.Equal(t, 4, res.Record.TotalItemCount)
	assert.Equal(t, 3, res.Pages)

	ids := make([]string, 0, 4)
	for _, c := range res.Record.Comments {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
}

func TestStalledCursorEndsContext(t *testing.T) {
	client := &overlapClient{
		fakeClient: fakeClient{target: models.Target{ID: "42", DisplayID: "ABC123"}},
		pages: map[string]*instagram.Page{
			"":     {Items: items("a"), HasMore: true, NextCursor: "same"},
			"same": {Items: items("b"), HasMore: true, NextCursor: "same"},
		},
	}

	res := mustRun(t, newCrawler(client, &fakePacer{}, newStore(t)), fullRun)
	assert.Equal(t, 2, res.Items)
	assert.Equal(t, StopCursorStalled, res.StopReason)
	assert.Len(t, client.requests, 2)
}

func TestMissingCursorEndsContext(t *testing.T) {
	client := &overlapClient{
		fakeClient: fakeClient{target: models.Target{ID: "42", DisplayID: "ABC123"}},
		pages: map[string]*instagram.Page{
			"": {Items: items("a"), HasMore: true},
		},
	}

	res := mustRun(t, newCrawler(client, &fakePacer{}, newStore(t)), fullRun)
	assert.Equal(t, StopMissingCursor, res.StopReason)
}

type recordingObserver struct {
	mu        sync.Mutex
	pages     int
	retries   int
	penalties int
	phases    []string
	status    string
}

func (o *recordingObserver) ObservePage(kind string, items, total int, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages++
}

func (o *recordingObserver) ObserveRetry(errorType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func (o *recordingObserver) ObservePenalty() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.penalties++
}

func (o *recordingObserver) ObservePhase(phase string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, phase)
}

func (o *recordingObserver) ObserveFinish(status, stopReason string, items int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = status
}

func TestObserverSeesPhases(t *testing.T) {
	obs := &recordingObserver{}
	mustRun(t, newCrawler(scenarioClient(), &fakePacer{}, newStore(t), WithObserver(obs)), fullRun)

	assert.Equal(t, []string{
		string(PhaseInit),
		string(PhaseFetchTopLevel),
		string(PhaseFetchReplies),
		string(PhaseFinalize),
		string(PhaseDone),
	}, obs.phases)
	assert.Equal(t, 4, obs.pages)
	assert.Equal(t, checkpoint.StatusDone, obs.status)
}

func TestMultiObserverFansOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	obs := MultiObserver(a, nil, b)

	obs.ObservePage("comments", 2, 2, time.Second)
	obs.ObservePenalty()
	obs.ObserveRetry("rate_limit")
	obs.ObservePhase(string(PhaseInit))
	obs.ObserveFinish("done", StopNoMorePages, 2)

	for _, o := range []*recordingObserver{a, b} {
		assert.Equal(t, 1, o.pages)
		assert.Equal(t, 1, o.penalties)
		assert.Equal(t, 1, o.retries)
		assert.Equal(t, []string{string(PhaseInit)}, o.phases)
		assert.Equal(t, "done", o.status)
	}

	assert.IsType(t, nopObserver{}, MultiObserver(nil))
}
