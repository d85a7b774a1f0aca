// Package transcribe turns a cropped video into ordered, non-overlapping
// spoken segments by driving the WhisperX command line.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	fileutil "signclips/internal/file"
	"signclips/internal/runner"
)

// ErrNoTranscript is returned when WhisperX finished without writing its JSON output.
var ErrNoTranscript = errors.New("whisperx produced no transcript")

// Segment is one spoken utterance.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the adapter output persisted under transcripts/<slug>.json.
type Transcript struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language,omitempty"`
	Aligned  bool      `json:"aligned"`
}

// Config selects the model and runtime for WhisperX.
type Config struct {
	Binary      string
	Model       string
	Language    string
	Device      string
	ComputeType string
	BatchSize   int
}

// WhisperX runs one subprocess per video; the model lives and dies with it.
type WhisperX struct {
	cfg Config
	run runner.Runner
}

// NewWhisperX fills unset fields with the defaults used for Vietnamese sign videos.
func NewWhisperX(cfg Config, r runner.Runner) *WhisperX {
	if cfg.Binary == "" {
		cfg.Binary = "whisperx"
	}
	if cfg.Model == "" {
		cfg.Model = "large-v3"
	}
	if cfg.Language == "" {
		cfg.Language = "vi"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if r == nil {
		r = runner.Exec{}
	}
	return &WhisperX{cfg: cfg, run: r}
}

// Transcribe runs an aligned pass and, if that fails, an unaligned one.
// Scratch output goes to outDir and is removed afterwards.
func (w *WhisperX) Transcribe(ctx context.Context, src, outDir string) (Transcript, error) {
	if err := fileutil.EnsureDir(outDir); err != nil {
		return Transcript{}, fmt.Errorf("transcribe: %w", err)
	}
	defer os.RemoveAll(outDir)

	t, err := w.pass(ctx, src, outDir, true)
	if err == nil {
		return t, nil
	}
	if ctx.Err() != nil {
		return Transcript{}, ctx.Err()
	}
	log.Warn().Err(err).Str("video", filepath.Base(src)).Msg("aligned transcription failed, retrying without alignment")

	t, err = w.pass(ctx, src, outDir, false)
	if err != nil {
		return Transcript{}, err
	}
	return t, nil
}

func (w *WhisperX) pass(ctx context.Context, src, outDir string, align bool) (Transcript, error) {
	args := w.args(src, outDir, align)
	if _, err := w.run.Run(ctx, w.cfg.Binary, args...); err != nil {
		return Transcript{}, fmt.Errorf("whisperx (align=%t): %w", align, err)
	}
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	raw, err := os.ReadFile(filepath.Join(outDir, base+".json")) //nolint:gosec // path built from task dir
	if err != nil {
		if os.IsNotExist(err) {
			return Transcript{}, ErrNoTranscript
		}
		return Transcript{}, fmt.Errorf("read whisperx output: %w", err)
	}
	var out Transcript
	if err := json.Unmarshal(raw, &out); err != nil {
		return Transcript{}, fmt.Errorf("parse whisperx output: %w", err)
	}
	out.Segments = Normalize(out.Segments)
	out.Aligned = align
	if out.Language == "" {
		out.Language = w.cfg.Language
	}
	return out, nil
}

func (w *WhisperX) args(src, outDir string, align bool) []string {
	args := []string{
		src,
		"--model", w.cfg.Model,
		"--language", w.cfg.Language,
		"--batch_size", strconv.Itoa(w.cfg.BatchSize),
		"--output_format", "json",
		"--output_dir", outDir,
	}
	if w.cfg.Device != "" {
		args = append(args, "--device", w.cfg.Device)
	}
	if w.cfg.ComputeType != "" {
		args = append(args, "--compute_type", w.cfg.ComputeType)
	}
	if !align {
		args = append(args, "--no_align")
	}
	return args
}

// Normalize orders segments by start, trims text, drops empty utterances and
// clips overlaps so each segment starts no earlier than the previous one ends.
// A clipped segment keeps its end; its start becomes the previous end, and
// that clipped start is what later stages record as start_raw.
func Normalize(in []Segment) []Segment {
	sorted := make([]Segment, 0, len(in))
	for _, s := range in {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" || s.End <= s.Start {
			continue
		}
		sorted = append(sorted, s)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := sorted[:0]
	for _, s := range sorted {
		if n := len(out); n > 0 && s.Start < out[n-1].End {
			s.Start = out[n-1].End
			if s.End <= s.Start {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// WriteJSON persists a transcript atomically.
func WriteJSON(path string, t Transcript) error {
	if t.Segments == nil {
		t.Segments = []Segment{}
	}
	return fileutil.WriteJSONAtomic(path, t) //nolint:wrapcheck
}
