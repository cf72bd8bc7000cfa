// Package app assembles the crawler from configuration: HTTP client, raw
// response archive, rate governor, checkpoint store, metrics and the
// record writer.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"igcomments/pkg/checkpoint"
	"igcomments/pkg/config"
	"igcomments/pkg/crawler"
	"igcomments/pkg/instagram"
	"igcomments/pkg/logger"
	"igcomments/pkg/metrics"
	"igcomments/pkg/ratelimit"
	"igcomments/pkg/retry"
	"igcomments/pkg/storage"
)

// App owns every component of one crawl invocation
type App struct {
	cfg    *config.Config
	logger logger.Logger

	client  *instagram.Client
	archive *storage.Archive
	pacer   *ratelimit.Governor
	store   checkpoint.ListableStore
	closer  io.Closer
	records *storage.Manager

	collector *metrics.Collector
	server    *metrics.Server

	httpClient *http.Client
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures an App
type Option func(*App)

// WithHTTPClient replaces the HTTP client used for API calls
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// WithClock replaces the time source used for record timestamps
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithSleep replaces the governor's blocking wait, mainly for tests
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(a *App) { a.sleep = sleep }
}

// Outcome is what a finished crawl produced
type Outcome struct {
	*crawler.Result
	// RecordPath is empty when the crawl aborted
	RecordPath string
}

// New wires the components described by cfg. Directories are created under
// the configured data directory.
func New(cfg *config.Config, l logger.Logger, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logger: logger.OrDefault(l), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	rawDir, err := cfg.SubDir("raw")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare raw response directory: %w", err)
	}
	a.archive, err = storage.NewArchive(rawDir, cfg.RawResponses.Mode, cfg.RawResponses.Keep, cfg.RawResponses.MaxMB, a.logger)
	if err != nil {
		return nil, err
	}

	clientOpts := []instagram.Option{instagram.WithArchive(a.archive), instagram.WithLogger(a.logger)}
	if a.httpClient != nil {
		clientOpts = append(clientOpts, instagram.WithHTTPClient(a.httpClient))
	}
	a.client, err = instagram.NewClient(cfg, clientOpts...)
	if err != nil {
		return nil, err
	}

	govOpts := []ratelimit.Option{ratelimit.WithLogger(a.logger)}
	if a.sleep != nil {
		govOpts = append(govOpts, ratelimit.WithSleep(a.sleep))
	}
	a.pacer = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		JitterRatio:       cfg.RateLimit.JitterRatio,
		PenaltyBase:       cfg.RateLimit.PenaltyBase,
		PenaltyMax:        cfg.RateLimit.PenaltyMax,
	}, govOpts...)

	checkpointDir, err := cfg.SubDir("checkpoints")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare checkpoint directory: %w", err)
	}
	a.store, a.closer, err = checkpoint.Open(strings.ToLower(cfg.Checkpoint.Backend), checkpointDir, a.logger)
	if err != nil {
		return nil, err
	}

	recordDir, err := cfg.SubDir("records")
	if err != nil {
		a.closer.Close()
		return nil, fmt.Errorf("failed to prepare record directory: %w", err)
	}
	a.records, err = storage.NewManager(recordDir)
	if err != nil {
		a.closer.Close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.collector = metrics.NewCollector()
		a.server = metrics.NewServer(cfg.Metrics.Address, a.collector, a.logger)
	}
	return a, nil
}

// Store returns the checkpoint store
func (a *App) Store() checkpoint.ListableStore {
	return a.store
}

// Records returns the record writer
func (a *App) Records() *storage.Manager {
	return a.records
}

// Governor returns the shared rate governor
func (a *App) Governor() *ratelimit.Governor {
	return a.pacer
}

// Crawl runs one crawl and saves its record. Observers receive crawl events
// next to the metrics collector.
func (a *App) Crawl(ctx context.Context, run crawler.RunConfig, observers ...crawler.Observer) (*Outcome, error) {
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				a.logger.WithError(err).Warn("Metrics server shutdown failed")
			}
		}()
	}

	all := append([]crawler.Observer{}, observers...)
	if a.collector != nil {
		all = append(all, a.collector)
	}

	c := crawler.New(a.client, a.pacer, a.store,
		crawler.WithRetry(a.cfg.Retry.Attempts, &retry.ExponentialBackoff{
			BaseDelay:    a.cfg.Retry.Delay,
			MaxDelay:     a.cfg.Retry.MaxDelay,
			Multiplier:   a.cfg.Retry.Multiplier,
			JitterFactor: 0.1,
		}),
		crawler.WithPageSizes(a.cfg.Crawl.CommentsFirst, a.cfg.Crawl.RepliesFirst),
		crawler.WithObserver(crawler.MultiObserver(all...)),
		crawler.WithLogger(a.logger),
		crawler.WithClock(a.now),
	)

	res, err := c.Run(ctx, run)
	out := &Outcome{Result: res}
	if err != nil {
		return out, err
	}

	path, serr := a.records.SaveRecord(res.Record)
	if serr != nil {
		return out, fmt.Errorf("failed to save record: %w", serr)
	}
	out.RecordPath = path
	a.logger.InfoWithFields("Record saved", map[string]interface{}{
		"path":   path,
		"items":  res.Items,
		"status": res.Status,
	})
	return out, nil
}

// Close releases the checkpoint store
func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// IsInterrupted reports whether err comes from cancellation
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
