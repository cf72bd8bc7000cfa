package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs one HTTP exchange with the remote API
func LogRequest(l Logger, method, url string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	switch {
	case statusCode >= 500:
		l.ErrorWithFields("HTTP request server error", fields)
	case statusCode >= 400:
		l.WarnWithFields("HTTP request client error", fields)
	default:
		l.DebugWithFields("HTTP request completed", fields)
	}
}

// LogRateLimit logs a throttling signal and the penalty it caused
func LogRateLimit(l Logger, contextKey string, penalty time.Duration, consecutive int) {
	l.WithFields(map[string]interface{}{
		"context":     contextKey,
		"penalty":     penalty,
		"consecutive": consecutive,
		"action":      "rate_limited",
	}).Warn("Rate limit reached, backing off")
}

// LogCrawlProgress logs item counts against the cap
func LogCrawlProgress(l Logger, target string, total, limit, pages int) {
	fields := map[string]interface{}{
		"target": target,
		"items":  total,
		"pages":  pages,
	}
	if limit > 0 {
		fields["limit"] = limit
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(total)/float64(limit)*100)
	}
	l.InfoWithFields("Crawl progress", fields)
}

// LogPhase logs a state machine transition
func LogPhase(l Logger, from, to string) {
	l.DebugWithFields("Crawl phase changed", map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}

func (n *nopLogger) GetZerolog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
