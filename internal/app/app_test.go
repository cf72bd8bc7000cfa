package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcomments/pkg/checkpoint"
	"igcomments/pkg/config"
	"igcomments/pkg/crawler"
	"igcomments/pkg/logger"
	"igcomments/pkg/models"
)

const commentsResponse = `{
  "data": {
    "shortcode_media": {
      "edge_media_to_parent_comment": {
        "count": 2,
        "page_info": {"has_next_page": false, "end_cursor": null},
        "edges": [
          {"node": {
            "id": "c1", "text": "first", "created_at": 1714564800,
            "owner": {"id": "u1", "username": "alice"},
            "edge_liked_by": {"count": 3},
            "edge_threaded_comments": {
              "count": 1,
              "page_info": {"has_next_page": false, "end_cursor": null},
              "edges": [{"node": {"id": "r1", "text": "reply", "created_at": 1714564900, "owner": {"id": "u2", "username": "bob"}}}]
            }
          }},
          {"node": {"id": "c2", "text": "second", "created_at": 1714565000, "owner": {"id": "u3", "username": "carol"}}}
        ]
      }
    }
  }
}`

func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Instagram.Auth.Cookies = map[string]string{"sessionid": "sess", "csrftoken": "csrf", "ds_user_id": "1"}
	cfg.Endpoints.Comments.URL = url
	cfg.Endpoints.Comments.DocID = "111"
	cfg.Endpoints.CommentReplies.URL = url
	cfg.Endpoints.CommentReplies.DocID = "222"
	cfg.Endpoints.PostByShortcode.URL = ""
	cfg.Output.DataDirectory = t.TempDir()
	cfg.RateLimit.RequestsPerMinute = 0
	cfg.Retry.Attempts = 1
	cfg.Retry.Delay = 0
	cfg.RawResponses.Mode = "all"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, logger.NewNopLogger(), WithClock(func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestCrawlSavesRecord(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(commentsResponse))
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	a := newTestApp(t, cfg)

	out, err := a.Crawl(context.Background(), crawler.RunConfig{Target: "ABC123", Resume: true, FetchReplies: true})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusDone, out.Status)
	assert.Equal(t, crawler.StopNoMorePages, out.StopReason)
	assert.Equal(t, 3, out.Items)
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests))

	require.NotEmpty(t, out.RecordPath)
	assert.Equal(t, filepath.Join(cfg.Output.DataDirectory, "records"), filepath.Dir(out.RecordPath))
	data, err := os.ReadFile(out.RecordPath)
	require.NoError(t, err)
	var record models.Record
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "ABC123", record.Target.DisplayID)
	assert.Equal(t, "2024-05-01T12:00:00Z", record.FetchedAt)
	require.Len(t, record.Comments, 2)
	require.Len(t, record.Comments[0].Replies, 1)
	assert.Equal(t, "r1", record.Comments[0].Replies[0].ID)

	raw, err := os.ReadDir(filepath.Join(cfg.Output.DataDirectory, "raw"))
	require.NoError(t, err)
	assert.Len(t, raw, 1)

	infos, err := a.Store().List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, checkpoint.StatusDone, infos[0].Status)

	// A completed crawl is not fetched again
	again, err := a.Crawl(context.Background(), crawler.RunConfig{Target: "ABC123", Resume: true, FetchReplies: true})
	require.NoError(t, err)
	assert.Equal(t, 3, again.Items)
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests))
}

func TestCrawlAbortKeepsCheckpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Checkpoint.Backend = "sqlite"
	a := newTestApp(t, cfg)

	out, err := a.Crawl(context.Background(), crawler.RunConfig{Target: "ABC123", Resume: true})
	require.Error(t, err)
	assert.Empty(t, out.RecordPath)
	assert.Equal(t, checkpoint.StatusAborted, out.Status)
	assert.Equal(t, crawler.StopRetriesExhausted, out.StopReason)

	infos, err := a.Store().List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, checkpoint.StatusAborted, infos[0].Status)
	assert.FileExists(t, filepath.Join(cfg.Output.DataDirectory, "checkpoints", "checkpoints.db"))
}

func TestCrawlWithMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(commentsResponse))
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Address = "127.0.0.1:0"
	a := newTestApp(t, cfg)
	require.NotNil(t, a.collector)

	out, err := a.Crawl(context.Background(), crawler.RunConfig{Target: "ABC123", FetchReplies: true})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Items)
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1")
	cfg.Checkpoint.Backend = "postgres"
	_, err := New(cfg, logger.NewNopLogger())
	assert.Error(t, err)

	cfg = testConfig(t, "http://127.0.0.1")
	cfg.Endpoints.Comments.DocID = ""
	_, err = New(cfg, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestIsInterrupted(t *testing.T) {
	assert.True(t, IsInterrupted(context.Canceled))
	assert.False(t, IsInterrupted(os.ErrNotExist))
}
