package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Progress renders a single updating status line for a running crawl. It
// satisfies the crawler's observer contract.
type Progress struct {
	mu        sync.Mutex
	target    string
	limit     int
	total     int
	pages     int
	retries   int
	penalties int
	phase     string
	startTime time.Time
	now       func() time.Time
	verbose   bool
}

// NewProgress creates a progress display for target; limit 0 means no cap
func NewProgress(target string, limit int, verbose bool) *Progress {
	return &Progress{
		target:    target,
		limit:     limit,
		startTime: time.Now(),
		now:       time.Now,
		verbose:   verbose,
	}
}

// ObservePage updates the counters after a merged page
func (p *Progress) ObservePage(contextKind string, items, total int, _ time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pages++
	p.total = total
	if p.verbose {
		p.printf("\n%s %s page: %d items\n", Magenta("→"), contextKind, items)
	}
	p.printProgress()
}

// ObserveRetry counts a retried request
func (p *Progress) ObserveRetry(errorType string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.retries++
	if p.verbose {
		p.printf("\n%s retrying after %s error\n", Yellow("⚠"), errorType)
	}
}

// ObservePenalty warns about a rate-limit signal
func (p *Progress) ObservePenalty() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.penalties++
	p.printf("\n%s Rate limited, slowing down\n", Yellow("⚠"))
}

// ObservePhase records the current phase
func (p *Progress) ObservePhase(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
}

// ObserveFinish prints the closing summary
func (p *Progress) ObserveFinish(status, stopReason string, items int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := p.now().Sub(p.startTime)
	mark := Green("✓")
	if status != "done" {
		mark = Yellow("!")
	}
	p.printf("\n%s %s: %d items from %s (%s)\n", mark, status, items, p.target, stopReason)
	p.printf("  %s %d pages in %s", Dim("•"), p.pages, formatDuration(elapsed))
	if p.retries > 0 || p.penalties > 0 {
		p.printf(", %d retries, %d rate limits", p.retries, p.penalties)
	}
	p.printf("\n")
}

// Line returns the current status line without printing it
func (p *Progress) Line() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.line()
}

func (p *Progress) line() string {
	var count string
	if p.limit > 0 {
		progress := float64(p.total) / float64(p.limit)
		if progress > 1 {
			progress = 1
		}
		barWidth := 20
		filled := int(progress * float64(barWidth))
		bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)
		count = fmt.Sprintf("[%s] %d/%d", bar, p.total, p.limit)
	} else {
		count = fmt.Sprintf("%d items", p.total)
	}

	line := fmt.Sprintf("%s %s • %d pages", Cyan(p.target), count, p.pages)
	if p.phase != "" {
		line += " • " + strings.ToLower(p.phase)
	}
	if p.penalties > 0 {
		line += " • " + Red(fmt.Sprintf("%d rate limits", p.penalties))
	}
	return line
}

// printProgress prints the status line over the previous one
func (p *Progress) printProgress() {
	p.printf("\r%s\r%s", strings.Repeat(" ", 100), p.line())
}

func (p *Progress) printf(format string, args ...interface{}) {
	if IsQuiet() {
		return
	}
	fmt.Fprintf(Output(), format, args...)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
