package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"igcomments/pkg/logger"
	"igcomments/pkg/retry"
)

// Pacer is the pacing contract the crawler depends on
type Pacer interface {
	// Acquire blocks until the next request may be issued
	Acquire(ctx context.Context) error
	// Penalize records a rate-limit signal from the remote API
	Penalize()
	// Clear resets the penalty after a successful request
	Clear()
}

// Config holds governor settings
type Config struct {
	// RequestsPerMinute is the ceiling; 0 disables pacing
	RequestsPerMinute int
	// JitterRatio spreads each interval over [1-ratio, 1+ratio]
	JitterRatio float64
	// PenaltyBase is the first penalty after a rate-limit signal
	PenaltyBase time.Duration
	// PenaltyMax caps the exponential penalty
	PenaltyMax time.Duration
}

// Stats is a snapshot of governor activity
type Stats struct {
	Acquisitions int
	Penalties    int
	Strikes      int
	Waited       time.Duration
}

// Governor paces requests to a per-minute ceiling with jitter and converts
// rate-limit signals into an exponential penalty. Acquisitions are
// serialized, so one Governor may be shared by several crawl contexts.
type Governor struct {
	acquireMu sync.Mutex
	limiter   *rate.Limiter
	interval  time.Duration
	jitter    float64

	mu          sync.Mutex
	penaltyBase time.Duration
	penaltyMax  time.Duration
	strikes     int
	stats       Stats

	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
	log    logger.Logger
}

// Option configures a Governor
type Option func(*Governor)

// WithSleep replaces the blocking wait, mainly for tests
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Governor) { g.sleep = sleep }
}

// WithRand replaces the jitter source; it must return values in [0, 1)
func WithRand(random func() float64) Option {
	return func(g *Governor) { g.random = random }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(g *Governor) { g.log = l }
}

// New creates a Governor from cfg
func New(cfg Config, opts ...Option) *Governor {
	limit := rate.Inf
	var interval time.Duration
	if cfg.RequestsPerMinute > 0 {
		interval = time.Minute / time.Duration(cfg.RequestsPerMinute)
		limit = rate.Every(interval)
	}

	jitter := cfg.JitterRatio
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}

	penaltyMax := cfg.PenaltyMax
	if penaltyMax < cfg.PenaltyBase {
		penaltyMax = cfg.PenaltyBase
	}

	g := &Governor{
		limiter:     rate.NewLimiter(limit, 1),
		interval:    interval,
		jitter:      jitter,
		penaltyBase: cfg.PenaltyBase,
		penaltyMax:  penaltyMax,
		sleep:       retry.Wait,
		random:      rand.Float64,
		log:         logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire blocks until it is permissible to issue the next request.
func (g *Governor) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.acquireMu.Lock()
	defer g.acquireMu.Unlock()

	r := g.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate limiter cannot grant a reservation")
	}
	delay := g.jittered(r.Delay())

	penalty := g.Penalty()
	delay += penalty

	if err := g.sleep(ctx, delay); err != nil {
		r.Cancel()
		return err
	}

	g.mu.Lock()
	g.stats.Acquisitions++
	g.stats.Waited += delay
	g.mu.Unlock()

	if penalty > 0 {
		g.log.DebugWithFields("Acquired after penalty", map[string]interface{}{
			"penalty": penalty,
			"delay":   delay,
		})
	}
	return nil
}

// jittered shifts the limiter delay by interval × u, u ∈ [-jitter, +jitter]
func (g *Governor) jittered(base time.Duration) time.Duration {
	if g.jitter == 0 || g.interval == 0 {
		return base
	}
	u := (g.random()*2 - 1) * g.jitter
	d := base + time.Duration(float64(g.interval)*u)
	if d < 0 {
		return 0
	}
	return d
}

// Penalize records a rate-limit signal; each consecutive signal doubles the penalty
func (g *Governor) Penalize() {
	g.mu.Lock()
	g.strikes++
	g.stats.Penalties++
	strikes := g.strikes
	g.mu.Unlock()

	g.log.WarnWithFields("Rate limit signal received", map[string]interface{}{
		"strikes": strikes,
		"penalty": g.Penalty(),
	})
}

// Clear removes any penalty after a successful request
func (g *Governor) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.strikes = 0
}

// Penalty returns the delay currently added to each acquisition
func (g *Governor) Penalty() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.strikes == 0 || g.penaltyBase <= 0 {
		return 0
	}
	p := g.penaltyBase
	for i := 1; i < g.strikes; i++ {
		p *= 2
		if p >= g.penaltyMax {
			return g.penaltyMax
		}
	}
	return p
}

// Stats returns a snapshot of governor activity
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.Strikes = g.strikes
	return s
}
