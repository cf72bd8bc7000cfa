package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcomments/pkg/checkpoint"
)

func TestMatchCheckpoints(t *testing.T) {
	infos := []checkpoint.Info{
		{TargetID: "111", DisplayID: "ABC"},
		{TargetID: "222", DisplayID: "DEF"},
	}
	assert.Len(t, matchCheckpoints(infos, ""), 2)
	require.Len(t, matchCheckpoints(infos, "ABC"), 1)
	byID := matchCheckpoints(infos, "222")
	require.Len(t, byID, 1)
	assert.Equal(t, "DEF", byID[0].DisplayID)
	assert.Empty(t, matchCheckpoints(infos, "XYZ"))
}

func TestCrawlFlagsOnlyChanged(t *testing.T) {
	t.Cleanup(func() {
		noReplies, accountName, metricsAddr, logLevel, verbose = false, "", "", "", false
	})

	flags := crawlFlags(crawlCmd)
	assert.Empty(t, flags)

	require.NoError(t, crawlCmd.Flags().Set("max-comments", "0"))
	noReplies = true
	accountName = "work"
	metricsAddr = "127.0.0.1:9464"
	verbose = true

	flags = crawlFlags(crawlCmd)
	assert.Equal(t, 0, flags["max-comments"])
	assert.Equal(t, false, flags["fetch-replies"])
	assert.Equal(t, "work", flags["account"])
	assert.Equal(t, "127.0.0.1:9464", flags["metrics-addr"])
	assert.Equal(t, "debug", flags["log-level"])
}

func TestEffectiveLogLevel(t *testing.T) {
	t.Cleanup(func() { logLevel, verbose, quiet = "", false, false })

	assert.Equal(t, "", effectiveLogLevel())
	quiet = true
	assert.Equal(t, "error", effectiveLogLevel())
	verbose = true
	assert.Equal(t, "debug", effectiveLogLevel())
	logLevel = "warn"
	assert.Equal(t, "warn", effectiveLogLevel())
}
