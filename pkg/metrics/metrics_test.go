package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcomments/pkg/logger"
)

func TestCollectorRecordsEvents(t *testing.T) {
	c := NewCollector()

	c.ObservePage("comments", 20, 20, 500*time.Millisecond)
	c.ObservePage("comments", 5, 25, time.Second)
	c.ObservePage("replies", 2, 27, time.Second)
	c.ObserveRetry("rate_limit")
	c.ObservePenalty()
	c.ObservePhase("FETCH_TOP_LEVEL")
	c.ObservePhase("FETCH_REPLIES")
	assert.Equal(t, float64(27), testutil.ToFloat64(c.captured))
	c.ObserveFinish("done", "no_more_pages", 27)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.pages.WithLabelValues("comments")))
	assert.Equal(t, float64(25), testutil.ToFloat64(c.items.WithLabelValues("comments")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.retries.WithLabelValues("rate_limit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.penalties))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.phase.WithLabelValues("FETCH_TOP_LEVEL")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.phase.WithLabelValues("FETCH_REPLIES")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.crawls.WithLabelValues("done", "no_more_pages")))
	assert.Equal(t, float64(27), testutil.ToFloat64(c.captured))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObservePage("comments", 1, 1, time.Second)
		c.ObserveRetry("transport")
		c.ObservePenalty()
		c.ObservePhase("INIT")
		c.ObserveFinish("aborted", "interrupted", 0)
	})
	assert.Nil(t, c.Registry())
}

func TestServerRoutes(t *testing.T) {
	c := NewCollector()
	c.ObservePenalty()
	srv := NewServer("127.0.0.1:0", c, logger.NewNopLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "igcomments_rate_limit_penalties_total 1")
}

func TestServerStartAndShutdown(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewCollector(), logger.NewNopLogger())
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "ok"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}
