// Package presence decides whether a downloaded video shows a signer inside
// the fixed detection region.
package presence

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"signclips/internal/domain"
	"signclips/internal/media"
)

// Frames samples single frames from a video.
type Frames interface {
	Duration(ctx context.Context, path string) (float64, error)
	FrameJPEG(ctx context.Context, src string, at float64, opts media.FrameOptions) ([]byte, error)
}

// Detector reports whether a person is visible in a JPEG image.
type Detector interface {
	HasPerson(ctx context.Context, jpeg []byte) (bool, error)
}

// Config fixes where and how frames are sampled.
type Config struct {
	Timestamps  []float64
	FrameWidth  int
	FrameHeight int
	ROI         domain.Rect
}

// Decision is the outcome of one presence check.
type Decision struct {
	Accepted bool
	// Samples holds one entry per evaluated timestamp, in order.
	Samples []bool
	Reason  string
}

// Filter runs the presence check.
type Filter struct {
	cfg      Config
	frames   Frames
	detector Detector
}

// NewFilter returns a filter sampling the configured timestamps.
func NewFilter(cfg Config, frames Frames, detector Detector) *Filter {
	return &Filter{cfg: cfg, frames: frames, detector: detector}
}

// Accept is the decision rule: every sample must report presence.
func Accept(samples []bool) bool {
	if len(samples) == 0 {
		return false
	}
	for _, s := range samples {
		if !s {
			return false
		}
	}
	return true
}

// Check samples the configured timestamps and rejects on the first miss.
// Errors are returned only for cancellation; tool and detector failures
// count as a miss.
func (f *Filter) Check(ctx context.Context, path string) (Decision, error) {
	last := 0.0
	for _, ts := range f.cfg.Timestamps {
		last = max(last, ts)
	}
	if duration, err := f.frames.Duration(ctx, path); err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		log.Warn().Err(err).Str("video", path).Msg("probe failed, sampling anyway")
	} else if duration < last {
		return Decision{Reason: fmt.Sprintf("video is %.1fs, shorter than last sample at %.0fs", duration, last)}, nil
	}

	roi := f.cfg.ROI
	opts := media.FrameOptions{Width: f.cfg.FrameWidth, Height: f.cfg.FrameHeight, Crop: &roi}
	samples := make([]bool, 0, len(f.cfg.Timestamps))
	for _, ts := range f.cfg.Timestamps {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		present, reason := f.sample(ctx, path, ts, opts)
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		samples = append(samples, present)
		log.Debug().Str("video", path).Float64("at", ts).Bool("present", present).Msg("presence sample")
		if !present {
			return Decision{Samples: samples, Reason: reason}, nil
		}
	}
	return Decision{Accepted: Accept(samples), Samples: samples}, nil
}

func (f *Filter) sample(ctx context.Context, path string, at float64, opts media.FrameOptions) (bool, string) {
	img, err := f.frames.FrameJPEG(ctx, path, at, opts)
	if err != nil {
		return false, fmt.Sprintf("no frame at %.0fs: %v", at, err)
	}
	present, err := f.detector.HasPerson(ctx, img)
	if err != nil {
		return false, fmt.Sprintf("detector failed at %.0fs: %v", at, err)
	}
	if !present {
		return false, fmt.Sprintf("no signer at %.0fs", at)
	}
	return true, ""
}
