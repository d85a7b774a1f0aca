package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signclips/internal/retry"
	"signclips/internal/runner"
)

func TestParseEntriesPlaylistSkipsNilAndCaps(t *testing.T) {
	raw := []byte(`{"_type":"playlist","entries":[
		{"id":"a1","title":"First","url":"https://www.youtube.com/watch?v=a1","duration":61},
		null,
		{"id":"b2","title":"Second","url":"b2"},
		{"id":"c3","title":"Third"}]}`)

	entries, err := parseEntries(raw, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a1", entries[0].ID)
	assert.InDelta(t, 61, entries[0].Duration, 1e-9)
	assert.Equal(t, "https://www.youtube.com/watch?v=b2", entries[1].URL)
}

func TestParseEntriesSingleVideo(t *testing.T) {
	raw := []byte(`{"id":"xyz","title":"Only","webpage_url":"https://youtu.be/xyz"}`)
	entries, err := parseEntries(raw, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://youtu.be/xyz", entries[0].URL)
}

func TestEnumeratePassesPlaylistEnd(t *testing.T) {
	var args []string
	c := NewClient("", runner.Func(func(_ context.Context, _ string, a ...string) (runner.Result, error) {
		args = a
		return runner.Result{Stdout: []byte(`{"id":"v","title":"t"}`)}, nil
	}), retry.Config{})

	_, err := c.Enumerate(context.Background(), "https://example.org/list", 3)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(args, " "), "--playlist-end 3")
}

func TestDownloadRetriesAndLocatesWebm(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	c := NewClient("yt-dlp", runner.Func(func(_ context.Context, _ string, args ...string) (runner.Result, error) {
		calls++
		if calls == 1 {
			return runner.Result{}, errors.New("network down")
		}
		var out string
		for i, a := range args {
			if a == "-o" {
				out = args[i+1]
			}
		}
		path := strings.Replace(out, "%(ext)s", "webm", 1)
		return runner.Result{}, os.WriteFile(path, []byte("video"), 0o600)
	}), retry.Config{Attempts: 2, BaseDelay: time.Millisecond})

	path, err := c.Download(context.Background(), Entry{ID: "abc", URL: "https://example.org/abc"}, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abc_temp.webm"), path)
	assert.Equal(t, 2, calls)
}

func TestDownloadNoFileCleansUp(t *testing.T) {
	dir := t.TempDir()
	c := NewClient("yt-dlp", runner.Func(func(context.Context, string, ...string) (runner.Result, error) {
		return runner.Result{}, os.WriteFile(filepath.Join(dir, "abc_temp.part"), []byte("x"), 0o600)
	}), retry.Config{Attempts: 1})

	_, err := c.Download(context.Background(), Entry{ID: "abc", URL: "u"}, dir)
	assert.ErrorIs(t, err, ErrNotDownloaded)
	left, _ := filepath.Glob(filepath.Join(dir, "*"))
	assert.Empty(t, left)
}
