// Package logger provides a structured logging interface for the comment crawler.
//
// It wraps zerolog with a small interface so components can take a Logger
// explicitly and tests can swap in NewTestLogger or NewNopLogger.
//
//	l, err := logger.New(&cfg.Logging)
//	l.WithField("target", shortcode).InfoWithFields("Page merged", map[string]interface{}{
//	    "items": 20,
//	    "page":  3,
//	})
//
// The CLI also installs a process-wide logger via Initialize; library code
// should prefer an injected Logger and fall back with OrDefault.
package logger
