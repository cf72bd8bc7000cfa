package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"igcomments/pkg/checkpoint"
	errs "igcomments/pkg/errors"
	"igcomments/pkg/instagram"
	"igcomments/pkg/logger"
	"igcomments/pkg/models"
	"igcomments/pkg/ratelimit"
	"igcomments/pkg/retry"
)

// Phase is a state of the crawl state machine
type Phase string

const (
	PhaseInit          Phase = "INIT"
	PhaseFetchTopLevel Phase = "FETCH_TOP_LEVEL"
	PhaseFetchReplies  Phase = "FETCH_REPLIES"
	PhaseFinalize      Phase = "FINALIZE"
	PhaseDone          Phase = "DONE"
	PhaseAborted       Phase = "ABORTED"
)

// Stop reasons recorded per context and for the crawl
const (
	StopNoMorePages      = "no_more_pages"
	StopMissingCursor    = "missing_cursor"
	StopCursorStalled    = "cursor_stalled"
	StopMaxReached       = "max_reached"
	StopInterrupted      = "interrupted"
	StopSchemaError      = "schema_error"
	StopRetriesExhausted = "retries_exhausted"
	StopFailed           = "failed"
	StopConfiguration    = "configuration_error"
)

// RunConfig is the immutable input of one crawl
type RunConfig struct {
	// Target is a post URL or shortcode
	Target string
	// MaxItems caps comments plus replies; 0 means unlimited
	MaxItems     int
	Resume       bool
	FetchReplies bool
}

// Result describes how a crawl ended
type Result struct {
	Record     *models.Record
	State      *checkpoint.State
	Phase      Phase
	Status     string
	StopReason string
	TopLevel   int
	Items      int
	Pages      int
	// Failed lists contexts that stopped on a schema error
	Failed []string
}

// Crawler drives the fetch, merge and checkpoint loop
type Crawler struct {
	client   Client
	pacer    ratelimit.Pacer
	store    checkpoint.Store
	logger   logger.Logger
	observer Observer
	now      func() time.Time

	retries       int
	backoff       retry.BackoffStrategy
	commentsFirst int
	repliesFirst  int
}

// Option configures a Crawler
type Option func(*Crawler)

// WithRetry sets how many times a failed page is retried and the backoff
// used for transport failures. Rate-limit failures are delayed by the pacer.
func WithRetry(retries int, backoff retry.BackoffStrategy) Option {
	return func(c *Crawler) {
		c.retries = retries
		c.backoff = backoff
	}
}

// WithPageSizes sets the page size of comment and reply requests
func WithPageSizes(comments, replies int) Option {
	return func(c *Crawler) {
		c.commentsFirst = comments
		c.repliesFirst = replies
	}
}

// WithObserver sets the event observer
func WithObserver(o Observer) Option {
	return func(c *Crawler) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(c *Crawler) { c.logger = l }
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(c *Crawler) { c.now = now }
}

// New creates a Crawler. The pacer is shared by every context of a crawl.
func New(client Client, pacer ratelimit.Pacer, store checkpoint.Store, opts ...Option) *Crawler {
	c := &Crawler{
		client:        client,
		pacer:         pacer,
		store:         store,
		logger:        logger.GetLogger(),
		observer:      nopObserver{},
		now:           time.Now,
		retries:       3,
		backoff:       retry.DefaultExponentialBackoff(),
		commentsFirst: 20,
		repliesFirst:  20,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run holds the mutable state of one crawl
type run struct {
	*Crawler
	cfg    RunConfig
	phase  Phase
	target models.Target
	state  *checkpoint.State
	acc    *Accumulator
	log    logger.Logger
}

// Run executes one crawl. The returned Result is never nil; the error is
// set when the crawl aborted.
func (c *Crawler) Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	r := &run{Crawler: c, cfg: cfg, phase: PhaseInit, log: c.logger}
	c.observer.ObservePhase(string(PhaseInit))

	done, err := r.init(ctx)
	if err != nil {
		return r.abort(err)
	}
	if done {
		r.log.InfoWithFields("Crawl already complete, rebuilding record", map[string]interface{}{
			"target_id": r.state.TargetID,
			"items":     r.acc.TotalCount(),
		})
		r.setPhase(PhaseDone)
		return r.result(), nil
	}

	r.setPhase(PhaseFetchTopLevel)
	stop, err := r.paginate(ctx, checkpoint.TopLevelKey, "")
	if err != nil && !errors.Is(err, errs.ErrCapReached) {
		return r.abort(err)
	}
	capHit := errors.Is(err, errs.ErrCapReached)

	if r.cfg.FetchReplies && !capHit {
		r.setPhase(PhaseFetchReplies)
		capHit, err = r.fetchReplies(ctx)
		if err != nil {
			return r.abort(err)
		}
	}

	if capHit {
		stop = StopMaxReached
	}
	return r.finalize(stop)
}

func (r *run) setPhase(p Phase) {
	logger.LogPhase(r.log, string(r.phase), string(p))
	r.phase = p
	r.observer.ObservePhase(string(p))
}

// init validates configuration, resolves the target and loads or creates
// state. It reports true when a completed crawl was loaded.
func (r *run) init(ctx context.Context) (bool, error) {
	if r.cfg.MaxItems < 0 {
		return false, errs.NewConfigurationError("max items must not be negative, got %d", r.cfg.MaxItems)
	}
	if err := r.client.CheckEndpoints(r.cfg.FetchReplies); err != nil {
		return false, err
	}

	target, err := retry.DoWithResult(ctx, func(ctx context.Context) (models.Target, error) {
		if err := r.pacer.Acquire(ctx); err != nil {
			return models.Target{}, err
		}
		t, err := r.client.ResolveTarget(ctx, r.cfg.Target)
		r.signal("target", err)
		return t, err
	}, r.retryConfig("target"))
	degraded := false
	if err != nil {
		if !errors.Is(err, retry.ErrMaxAttempts) || target.ID == "" {
			return false, err
		}
		degraded = true
		r.log.WithError(err).WarnWithFields("Post lookup failed, falling back to decoded media id", map[string]interface{}{
			"media_id": target.ID,
		})
	}
	r.target = target

	if r.cfg.Resume {
		state, err := r.store.Load(target.ID)
		if err != nil {
			return false, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if state != nil {
			acc, rerr := Restore(state.Comments)
			if rerr != nil {
				r.log.WithError(errs.NewStateCorruptionError("checkpoint comments do not form a tree", rerr)).
					Warn("Ignoring unusable checkpoint")
			} else {
				r.state, r.acc = state, acc
			}
		}
	}

	if r.state == nil {
		r.state = checkpoint.New(target)
		r.acc = NewAccumulator()
		r.log = r.logger.WithFields(map[string]interface{}{"run_id": r.state.RunID, "target": target.DisplayID})
		r.log.InfoWithFields("Starting fresh crawl", map[string]interface{}{
			"target_id":     target.ID,
			"max_items":     r.cfg.MaxItems,
			"fetch_replies": r.cfg.FetchReplies,
		})
		return false, nil
	}

	r.log = r.logger.WithFields(map[string]interface{}{"run_id": r.state.RunID, "target": target.DisplayID})
	if degraded {
		// keep the target resolved by an earlier run
		r.target = r.state.Target
	}
	if r.state.Status == checkpoint.StatusDone {
		if !r.reopensCap() {
			return true, nil
		}
		r.log.InfoWithFields("Cap raised, continuing completed crawl", map[string]interface{}{
			"previous_items": r.acc.TotalCount(),
			"max_items":      r.cfg.MaxItems,
		})
	}

	r.state.Target = r.target
	r.state.Status = checkpoint.StatusInProgress
	r.state.StopReason = ""
	r.state.FinishedAt = ""
	r.log.InfoWithFields("Resuming crawl from checkpoint", map[string]interface{}{
		"items": r.acc.TotalCount(),
		"pages": r.state.PageCount,
	})
	return false, nil
}

// reopensCap reports whether a completed crawl that stopped on the cap
// may continue under the current cap
func (r *run) reopensCap() bool {
	if r.state.StopReason != StopMaxReached {
		return false
	}
	return r.cfg.MaxItems == 0 || r.cfg.MaxItems > r.acc.TotalCount()
}

func (r *run) capReached() bool {
	return r.cfg.MaxItems > 0 && r.acc.TotalCount() >= r.cfg.MaxItems
}

// fetchReplies walks top-level comments in accumulation order
func (r *run) fetchReplies(ctx context.Context) (bool, error) {
	for _, c := range r.acc.TopLevel() {
		key := checkpoint.ReplyKey(c.ID)
		cs, known := r.state.Lookup(key)
		if known && cs.Exhausted {
			continue
		}
		if !known && c.ReplyCount <= r.acc.ReplyCount(c.ID) {
			continue
		}

		_, err := r.paginate(ctx, key, c.ID)
		if errors.Is(err, errs.ErrCapReached) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

// paginate runs the page loop of one context. A schema error ends the
// context without failing the crawl; ErrCapReached and fatal errors are
// returned.
func (r *run) paginate(ctx context.Context, key, parentID string) (string, error) {
	cs := r.state.Context(key)
	pageSize := r.commentsFirst
	kind := "comments"
	if parentID != "" {
		pageSize = r.repliesFirst
		kind = "replies"
	}

	for !cs.Exhausted {
		if r.capReached() {
			return StopMaxReached, errs.ErrCapReached
		}
		if err := ctx.Err(); err != nil {
			return StopInterrupted, err
		}

		req := instagram.PageRequest{
			Target:   r.target,
			ParentID: parentID,
			Cursor:   cs.Cursor,
			PageSize: pageSize,
		}
		start := r.now()
		page, err := r.fetch(ctx, key, req)
		if err != nil {
			if errors.Is(err, errs.ErrSchema) {
				cs.LastError = err.Error()
				cs.StopReason = StopSchemaError
				r.log.WithError(err).WarnWithFields("Context stopped on unreadable page", map[string]interface{}{
					"context": key,
					"cursor":  cs.Cursor,
				})
				if serr := r.save(); serr != nil {
					return StopFailed, serr
				}
				return StopSchemaError, nil
			}
			return r.stopReasonFor(err), err
		}

		complete := r.merge(key, parentID, page)
		cs.Pages++
		cs.LastError = ""
		r.state.PageCount++
		if parentID == "" && page.ExpectedCount != nil {
			expected := *page.ExpectedCount
			r.state.ExpectedItemCount = &expected
		}
		if complete {
			advance(cs, page)
		}
		if err := r.save(); err != nil {
			return StopFailed, err
		}

		r.observer.ObservePage(kind, len(page.Items), r.acc.TotalCount(), r.now().Sub(start))
		logger.LogCrawlProgress(r.log, r.target.DisplayID, r.acc.TotalCount(), r.cfg.MaxItems, r.state.PageCount)

		if !complete {
			return StopMaxReached, errs.ErrCapReached
		}
	}
	return cs.StopReason, nil
}

// advance moves the cursor forward or marks the context exhausted
func advance(cs *checkpoint.ContextState, page *instagram.Page) {
	switch {
	case !page.HasMore:
		cs.Exhausted, cs.StopReason = true, StopNoMorePages
	case page.NextCursor == "":
		cs.Exhausted, cs.StopReason = true, StopMissingCursor
	case page.NextCursor == cs.Cursor:
		cs.Exhausted, cs.StopReason = true, StopCursorStalled
	default:
		cs.Cursor = page.NextCursor
		cs.StopReason = ""
	}
}

// merge adds page items one at a time and stops exactly at the cap. It
// reports whether every item of the page was considered.
func (r *run) merge(key, parentID string, page *instagram.Page) bool {
	for _, item := range page.Items {
		if r.capReached() {
			return false
		}
		if parentID != "" {
			if _, err := r.acc.AddReply(parentID, item.Comment); err != nil {
				r.log.WarnWithFields("Dropping reply with unknown parent", map[string]interface{}{
					"context":  key,
					"reply_id": item.ID,
				})
			}
			continue
		}

		r.acc.AddTopLevel(item.Comment)
		if !r.cfg.FetchReplies {
			continue
		}
		for _, reply := range item.InlineReplies {
			if r.capReached() {
				return false
			}
			if _, err := r.acc.AddReply(item.ID, reply); err != nil {
				r.log.WarnWithFields("Dropping reply with unknown parent", map[string]interface{}{
					"context":  key,
					"reply_id": reply.ID,
				})
			}
		}
		if item.InlineHasMore {
			replyKey := checkpoint.ReplyKey(item.ID)
			if _, known := r.state.Lookup(replyKey); !known {
				// continue after the replies delivered inline
				r.state.Context(replyKey).Cursor = item.InlineCursor
			}
		}
	}
	return true
}

// fetch issues one page request with pacing and bounded retries
func (r *run) fetch(ctx context.Context, key string, req instagram.PageRequest) (*instagram.Page, error) {
	return retry.DoWithResult(ctx, func(ctx context.Context) (*instagram.Page, error) {
		if err := r.pacer.Acquire(ctx); err != nil {
			return nil, err
		}
		page, err := r.client.FetchPage(ctx, req)
		r.signal(key, err)
		if err == nil {
			r.pacer.Clear()
		}
		return page, err
	}, r.retryConfig(key))
}

// signal forwards a rate-limit failure to the pacer, once per failure
func (r *run) signal(key string, err error) {
	if err == nil || !errors.Is(err, errs.ErrRateLimited) {
		return
	}
	r.pacer.Penalize()
	r.observer.ObservePenalty()
	if g, ok := r.pacer.(*ratelimit.Governor); ok {
		logger.LogRateLimit(r.log, key, g.Penalty(), g.Stats().Strikes)
	}
}

func (r *run) retryConfig(key string) *retry.Config {
	// Rate-limit waits come from the pacer's penalty, not from backoff
	byType := &retry.ErrorTypeBackoff{
		TransportBackoff: r.backoff,
		RateLimitBackoff: &retry.ConstantBackoff{},
		DefaultBackoff:   r.backoff,
	}
	return &retry.Config{
		MaxAttempts: r.retries + 1,
		Backoff:     r.backoff,
		BackoffFor:  byType.ForError,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			r.observer.ObserveRetry(string(errs.TypeOf(err)))
			r.log.WarnWithFields("Retrying page", map[string]interface{}{
				"context": key,
				"attempt": attempt,
				"delay":   delay,
				"error":   err.Error(),
			})
		},
		Logger: r.log,
	}
}

func (r *run) stopReasonFor(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StopInterrupted
	case errors.Is(err, retry.ErrMaxAttempts):
		return StopRetriesExhausted
	case errors.Is(err, errs.ErrConfiguration):
		return StopConfiguration
	default:
		return StopFailed
	}
}

func (r *run) save() error {
	r.state.Comments = r.acc.Snapshot()
	r.state.TotalItems = len(r.state.Comments)
	if err := r.store.Save(r.state); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (r *run) failedContexts() []string {
	var failed []string
	for key, cs := range r.state.Contexts {
		if !cs.Exhausted && cs.LastError != "" {
			failed = append(failed, key)
		}
	}
	sort.Strings(failed)
	return failed
}

func (r *run) finalize(stop string) (*Result, error) {
	r.setPhase(PhaseFinalize)

	status := checkpoint.StatusDone
	if failed := r.failedContexts(); len(failed) > 0 {
		status = checkpoint.StatusPartial
		if stop != StopMaxReached {
			stop = StopSchemaError
		}
	}
	r.state.Status = status
	r.state.StopReason = stop
	r.state.FinishedAt = models.FormatTime(r.now())
	if err := r.save(); err != nil {
		return r.abort(err)
	}

	r.setPhase(PhaseDone)
	r.log.InfoWithFields("Crawl finished", map[string]interface{}{
		"status":      status,
		"stop_reason": stop,
		"items":       r.acc.TotalCount(),
		"pages":       r.state.PageCount,
	})
	r.observer.ObserveFinish(status, stop, r.acc.TotalCount())
	return r.result(), nil
}

// abort marks the crawl aborted. State is saved only once a crawl state
// exists, so configuration errors leave nothing behind.
func (r *run) abort(cause error) (*Result, error) {
	stop := r.stopReasonFor(cause)
	r.setPhase(PhaseAborted)

	if r.state != nil {
		r.state.Status = checkpoint.StatusAborted
		r.state.StopReason = stop
		if err := r.save(); err != nil {
			r.log.WithError(err).Error("Failed to save checkpoint after abort")
		}
	}

	fields := map[string]interface{}{"stop_reason": stop}
	if r.acc != nil {
		fields["items"] = r.acc.TotalCount()
	}
	r.log.WithError(cause).ErrorWithFields("Crawl aborted", fields)
	r.observer.ObserveFinish(checkpoint.StatusAborted, stop, r.itemCount())

	res := &Result{Phase: PhaseAborted, Status: checkpoint.StatusAborted, StopReason: stop, State: r.state}
	if r.acc != nil {
		res.TopLevel = r.acc.TopLevelCount()
		res.Items = r.acc.TotalCount()
	}
	if r.state != nil {
		res.Pages = r.state.PageCount
	}
	return res, cause
}

func (r *run) itemCount() int {
	if r.acc == nil {
		return 0
	}
	return r.acc.TotalCount()
}

func (r *run) result() *Result {
	return &Result{
		Record:     r.record(),
		State:      r.state,
		Phase:      r.phase,
		Status:     r.state.Status,
		StopReason: r.state.StopReason,
		TopLevel:   r.acc.TopLevelCount(),
		Items:      r.acc.TotalCount(),
		Pages:      r.state.PageCount,
		Failed:     r.failedContexts(),
	}
}

// record builds the output record. Equal states yield equal records.
func (r *run) record() *models.Record {
	return &models.Record{
		Target:            r.state.Target,
		Comments:          r.acc.Tree(),
		TotalItemCount:    r.acc.TotalCount(),
		ExpectedItemCount: r.state.ExpectedItemCount,
		FetchedAt:         r.state.FinishedAt,
		PageCount:         r.state.PageCount,
		StopReason:        r.state.StopReason,
	}
}
