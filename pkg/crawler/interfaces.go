package crawler

import (
	"context"
	"time"

	"igcomments/pkg/instagram"
	"igcomments/pkg/models"
)

// Fetcher retrieves one page of a pagination context
type Fetcher interface {
	FetchPage(ctx context.Context, req instagram.PageRequest) (*instagram.Page, error)
}

// TargetResolver turns a user supplied reference into a Target
type TargetResolver interface {
	ResolveTarget(ctx context.Context, ref string) (models.Target, error)
}

// EndpointChecker validates endpoint templates before any request
type EndpointChecker interface {
	CheckEndpoints(replies bool) error
}

// Client is everything the crawler needs from the remote API
type Client interface {
	Fetcher
	TargetResolver
	EndpointChecker
}

// Observer receives crawl events, typically for metrics
type Observer interface {
	// ObservePage reports one merged page: items delivered and the running total
	ObservePage(contextKind string, items, total int, duration time.Duration)
	ObserveRetry(errorType string)
	ObservePenalty()
	ObservePhase(phase string)
	ObserveFinish(status, stopReason string, items int)
}

type nopObserver struct{}

func (nopObserver) ObservePage(string, int, int, time.Duration) {}
func (nopObserver) ObserveRetry(string)                         {}
func (nopObserver) ObservePenalty()                             {}
func (nopObserver) ObservePhase(string)                         {}
func (nopObserver) ObserveFinish(string, string, int)           {}

// MultiObserver fans events out to several observers; nil entries are skipped
func MultiObserver(observers ...Observer) Observer {
	var live multiObserver
	for _, o := range observers {
		if o != nil {
			live = append(live, o)
		}
	}
	if len(live) == 0 {
		return nopObserver{}
	}
	return live
}

type multiObserver []Observer

func (m multiObserver) ObservePage(kind string, items, total int, d time.Duration) {
	for _, o := range m {
		o.ObservePage(kind, items, total, d)
	}
}

func (m multiObserver) ObserveRetry(errorType string) {
	for _, o := range m {
		o.ObserveRetry(errorType)
	}
}

func (m multiObserver) ObservePenalty() {
	for _, o := range m {
		o.ObservePenalty()
	}
}

func (m multiObserver) ObservePhase(phase string) {
	for _, o := range m {
		o.ObservePhase(phase)
	}
}

func (m multiObserver) ObserveFinish(status, stopReason string, items int) {
	for _, o := range m {
		o.ObserveFinish(status, stopReason, items)
	}
}
