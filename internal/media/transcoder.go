// Package media wraps the ffmpeg and ffprobe binaries used for probing,
// frame sampling, region cropping and clip cutting.
package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"signclips/internal/domain"
	"signclips/internal/runner"
)

const (
	defaultFFmpeg  = "ffmpeg"
	defaultFFprobe = "ffprobe"

	x264Preset = "fast"
	x264CRF    = "23"
)

// ErrNoFrame is returned when ffmpeg produced no image, typically because the
// requested timestamp lies past the end of the video.
var ErrNoFrame = errors.New("no frame at timestamp")

// FrameOptions shapes a sampled frame before it is encoded to JPEG.
type FrameOptions struct {
	// Width and Height rescale the frame first when both are positive.
	Width  int
	Height int
	// Crop is applied after scaling.
	Crop *domain.Rect
}

func (o FrameOptions) filter() string {
	parts := make([]string, 0, 2)
	if o.Width > 0 && o.Height > 0 {
		parts = append(parts, fmt.Sprintf("scale=%d:%d", o.Width, o.Height))
	}
	if o.Crop != nil && o.Crop.Valid() {
		parts = append(parts, o.Crop.CropFilter())
	}
	return strings.Join(parts, ",")
}

// Transcoder runs ffmpeg/ffprobe through a runner.Runner.
type Transcoder struct {
	ffmpeg  string
	ffprobe string
	run     runner.Runner
}

// NewTranscoder returns a transcoder; empty binary names fall back to PATH lookups.
func NewTranscoder(ffmpegBin, ffprobeBin string, r runner.Runner) *Transcoder {
	if strings.TrimSpace(ffmpegBin) == "" {
		ffmpegBin = defaultFFmpeg
	}
	if strings.TrimSpace(ffprobeBin) == "" {
		ffprobeBin = defaultFFprobe
	}
	if r == nil {
		r = runner.Exec{}
	}
	return &Transcoder{ffmpeg: ffmpegBin, ffprobe: ffprobeBin, run: r}
}

// Duration returns the container duration in seconds.
func (t *Transcoder) Duration(ctx context.Context, path string) (float64, error) {
	res, err := t.run.Run(ctx, t.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w", err)
	}
	value := strings.TrimSpace(string(res.Stdout))
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: parse %q: %w", value, err)
	}
	return seconds, nil
}

// FrameJPEG grabs the frame at the given second and returns it JPEG-encoded.
func (t *Transcoder) FrameJPEG(ctx context.Context, src string, at float64, opts FrameOptions) ([]byte, error) {
	args := []string{"-v", "error", "-ss", formatSeconds(at), "-i", src, "-frames:v", "1"}
	if filter := opts.filter(); filter != "" {
		args = append(args, "-vf", filter)
	}
	args = append(args, "-f", "image2pipe", "-c:v", "mjpeg", "-q:v", "2", "pipe:1")

	res, err := t.run.Run(ctx, t.ffmpeg, args...)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg frame at %ss: %w", formatSeconds(at), err)
	}
	if len(res.Stdout) == 0 {
		return nil, fmt.Errorf("ffmpeg frame at %ss: %w", formatSeconds(at), ErrNoFrame)
	}
	return res.Stdout, nil
}

// Crop re-encodes src keeping only roi; audio is copied unchanged.
func (t *Transcoder) Crop(ctx context.Context, src string, roi domain.Rect, dst string) error {
	if !roi.Valid() {
		return fmt.Errorf("ffmpeg crop: invalid region %+v", roi)
	}
	_, err := t.run.Run(ctx, t.ffmpeg,
		"-y", "-v", "error",
		"-i", src,
		"-filter:v", roi.CropFilter(),
		"-c:v", "libx264", "-preset", x264Preset, "-crf", x264CRF,
		"-c:a", "copy",
		dst,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg crop: %w", err)
	}
	return nil
}

// Cut writes the [start, start+duration) window of src to dst.
func (t *Transcoder) Cut(ctx context.Context, src string, start, duration float64, dst string) error {
	if duration <= 0 {
		return fmt.Errorf("ffmpeg cut: non-positive duration %v", duration)
	}
	_, err := t.run.Run(ctx, t.ffmpeg,
		"-y", "-v", "error",
		"-i", src,
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-c:v", "libx264", "-preset", x264Preset, "-crf", x264CRF,
		"-c:a", "copy",
		dst,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg cut: %w", err)
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
