package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchive(t *testing.T, mode string, keep, maxMB int) *Archive {
	t.Helper()
	a, err := NewArchive(filepath.Join(t.TempDir(), "raw"), mode, keep, maxMB, nil)
	require.NoError(t, err)
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return a
}

func archivedNames(t *testing.T, a *Archive) []string {
	t.Helper()
	files, err := a.files()
	require.NoError(t, err)
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, filepath.Base(f.path))
	}
	return names
}

func TestArchiveModes(t *testing.T) {
	ok := RawResponse{Label: "comments", Status: 200, Body: []byte(`{"data":{}}`)}
	failed := RawResponse{Label: "comments", Status: 429, Body: []byte(`{}`), Failed: true, Error: "rate limited"}

	all := newTestArchive(t, ModeAll, 0, 0)
	require.NoError(t, all.Archive(ok))
	require.NoError(t, all.Archive(failed))
	assert.Len(t, archivedNames(t, all), 2)

	errorsOnly := newTestArchive(t, ModeErrors, 0, 0)
	require.NoError(t, errorsOnly.Archive(ok))
	require.NoError(t, errorsOnly.Archive(failed))
	assert.Len(t, archivedNames(t, errorsOnly), 1)

	none, err := NewArchive(filepath.Join(t.TempDir(), "raw"), ModeNone, 0, 0, nil)
	require.NoError(t, err)
	require.NoError(t, none.Archive(failed))
	_, err = os.Stat(none.Dir())
	assert.True(t, os.IsNotExist(err), "mode none never touches the disk")

	_, err = NewArchive(t.TempDir(), "some", 0, 0, nil)
	assert.Error(t, err)
}

func TestArchiveFileContent(t *testing.T) {
	a := newTestArchive(t, ModeAll, 0, 0)
	require.NoError(t, a.Archive(RawResponse{
		Label:     "replies_c1",
		Method:    "POST",
		URL:       "https://www.instagram.com/api/graphql",
		Variables: map[string]interface{}{"comment_id": "c1"},
		Status:    200,
		Body:      []byte(`{"data": {"ok": true}}`),
	}))
	require.NoError(t, a.Archive(RawResponse{Label: "comments", Status: 502, Body: []byte("<html>bad gateway</html>"), Failed: true}))

	names := archivedNames(t, a)
	require.Len(t, names, 2)
	assert.Equal(t, "20240101_000001.000000_replies_c1.json", names[0])
	assert.True(t, strings.HasSuffix(names[1], "_comments.json"))

	var first map[string]interface{}
	data, err := os.ReadFile(filepath.Join(a.Dir(), names[0]))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &first))
	assert.Equal(t, "https://www.instagram.com/api/graphql", first["url"])
	assert.Equal(t, float64(200), first["status"])
	assert.Equal(t, map[string]interface{}{"comment_id": "c1"}, first["params"])
	assert.Equal(t, map[string]interface{}{"data": map[string]interface{}{"ok": true}}, first["payload"])

	var second map[string]interface{}
	data, err = os.ReadFile(filepath.Join(a.Dir(), names[1]))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &second))
	assert.Equal(t, "<html>bad gateway</html>", second["body_text"])
	assert.Nil(t, second["payload"])
}

func TestArchiveRotatesByCount(t *testing.T) {
	a := newTestArchive(t, ModeAll, 3, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Archive(RawResponse{Label: "comments", Status: 200}))
	}

	names := archivedNames(t, a)
	require.Len(t, names, 3)
	assert.True(t, strings.HasPrefix(names[0], "20240101_000003"), "oldest files are removed first")
}

func TestArchiveRotatesBySize(t *testing.T) {
	a := newTestArchive(t, ModeAll, 0, 1)
	big := []byte(`"` + strings.Repeat("x", 400*1024) + `"`)
	for i := 0; i < 4; i++ {
		require.NoError(t, a.Archive(RawResponse{Label: "comments", Status: 200, Body: big}))
	}

	files, err := a.files()
	require.NoError(t, err)
	var total int64
	for _, f := range files {
		total += f.size
	}
	assert.LessOrEqual(t, total, int64(1024*1024))
	assert.Len(t, files, 2)
}

func TestArchiveSameTimestamp(t *testing.T) {
	a := newTestArchive(t, ModeAll, 0, 0)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	require.NoError(t, a.Archive(RawResponse{Label: "comments"}))
	require.NoError(t, a.Archive(RawResponse{Label: "comments"}))
	assert.Equal(t, []string{
		"20240101_000000.000000_comments.json",
		"20240101_000000.000000_comments_1.json",
	}, archivedNames(t, a))
}
