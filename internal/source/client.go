// Package source enumerates and downloads candidate videos through yt-dlp.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"signclips/internal/retry"
	"signclips/internal/runner"
)

const (
	defaultBinary = "yt-dlp"
	formatSpec    = "best[ext=mp4]/best"
	watchURL      = "https://www.youtube.com/watch?v="
)

// ErrNotDownloaded is returned when yt-dlp exited cleanly but left no file behind.
var ErrNotDownloaded = errors.New("download produced no file")

var downloadExts = []string{".mp4", ".webm", ".mkv"}

// Entry is one addressable video.
type Entry struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
}

// Client wraps the yt-dlp binary.
type Client struct {
	binary string
	run    runner.Runner
	retry  retry.Config
}

// NewClient returns a yt-dlp client. Downloads are retried per entry with cfg.
func NewClient(binary string, r runner.Runner, cfg retry.Config) *Client {
	if strings.TrimSpace(binary) == "" {
		binary = defaultBinary
	}
	if r == nil {
		r = runner.Exec{}
	}
	return &Client{binary: binary, run: r, retry: cfg}
}

type ytInfo struct {
	Type       string    `json:"_type"`
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	WebpageURL string    `json:"webpage_url"`
	Duration   float64   `json:"duration"`
	Entries    []*ytInfo `json:"entries"`
}

func (i *ytInfo) entry(index int) Entry {
	e := Entry{ID: i.ID, Title: i.Title, Duration: i.Duration}
	if e.ID == "" {
		e.ID = "video_" + strconv.Itoa(index)
	}
	if e.Title == "" {
		e.Title = "untitled"
	}
	switch {
	case i.WebpageURL != "":
		e.URL = i.WebpageURL
	case strings.HasPrefix(i.URL, "http"):
		e.URL = i.URL
	default:
		e.URL = watchURL + e.ID
	}
	return e
}

// Enumerate lists at most limit entries behind url, which may be a single
// video or a playlist.
func (c *Client) Enumerate(ctx context.Context, url string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 1
	}
	res, err := c.run.Run(ctx, c.binary,
		"--flat-playlist",
		"--dump-single-json",
		"--no-warnings",
		"--playlist-end", strconv.Itoa(limit),
		url,
	)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp enumerate: %w", err)
	}
	return parseEntries(res.Stdout, limit)
}

func parseEntries(raw []byte, limit int) ([]Entry, error) {
	var info ytInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("yt-dlp enumerate: parse: %w", err)
	}
	if info.Type != "playlist" && info.Entries == nil {
		return []Entry{info.entry(0)}, nil
	}
	entries := make([]Entry, 0, min(limit, len(info.Entries)))
	for idx, item := range info.Entries {
		if len(entries) == limit {
			break
		}
		if item == nil {
			continue
		}
		entries = append(entries, item.entry(idx))
	}
	return entries, nil
}

// Download fetches one entry into dir as "<id>_temp.<ext>" and returns the path.
func (c *Client) Download(ctx context.Context, e Entry, dir string) (string, error) {
	stem := filepath.Join(dir, safeID(e.ID)+"_temp")
	var path string
	err := retry.Do(ctx, c.withLogging(e), func(ctx context.Context) error {
		if _, err := c.run.Run(ctx, c.binary,
			"-f", formatSpec,
			"--no-playlist",
			"--no-warnings",
			"--quiet",
			"-o", stem+".%(ext)s",
			e.URL,
		); err != nil {
			return fmt.Errorf("yt-dlp download %s: %w", e.ID, err)
		}
		found, err := locate(stem)
		if err != nil {
			return fmt.Errorf("yt-dlp download %s: %w", e.ID, err)
		}
		path = found
		return nil
	})
	if err != nil {
		RemoveTemp(stem)
		return "", err
	}
	return path, nil
}

func (c *Client) withLogging(e Entry) retry.Config {
	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error) {
		log.Warn().Err(err).Str("video", e.ID).Int("attempt", attempt).Msg("download failed, retrying")
	}
	return cfg
}

func locate(stem string) (string, error) {
	for _, ext := range downloadExts {
		if _, err := os.Stat(stem + ext); err == nil {
			return stem + ext, nil
		}
	}
	return "", ErrNotDownloaded
}

// RemoveTemp deletes every partial or complete download sharing stem.
func RemoveTemp(stem string) {
	matches, _ := filepath.Glob(stem + ".*")
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

func safeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
