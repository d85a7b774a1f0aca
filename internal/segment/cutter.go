package segment

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"signclips/internal/domain"
	fileutil "signclips/internal/file"
)

// Clipper extracts [start, start+duration) of src into dst.
type Clipper interface {
	Cut(ctx context.Context, src string, start, duration float64, dst string) error
}

// Cutter writes one clip per planned segment.
type Cutter struct {
	clipper Clipper
}

// NewCutter returns a cutter backed by clipper.
func NewCutter(clipper Clipper) *Cutter {
	return &Cutter{clipper: clipper}
}

// Cut processes segments in order against src, writing into clipsDir. Each
// segment gets a status; a failed cut does not stop the batch and whatever it
// left at its destination is removed. onProgress,
// when set, is called after every segment with (done, total). The returned
// error is non-nil only when ctx is cancelled, in which case segments holds
// what was processed so far.
func (c *Cutter) Cut(ctx context.Context, src, clipsDir string, segments []domain.Segment, onProgress func(done, total int)) ([]domain.Segment, error) {
	out := make([]domain.Segment, 0, len(segments))
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		dst := filepath.Join(clipsDir, seg.ClipFile())
		if err := c.clipper.Cut(ctx, src, seg.StartCut, seg.Duration(), dst); err != nil {
			if rmErr := fileutil.RemoveQuiet(dst); rmErr != nil {
				log.Warn().Err(rmErr).Str("segment", seg.Name()).Msg("remove partial clip")
			}
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			seg.Status = domain.SegmentFailed
			seg.Error = err.Error()
			log.Warn().Err(err).Str("segment", seg.Name()).Msg("cut failed")
		} else {
			seg.Status = domain.SegmentSuccess
		}
		out = append(out, seg)
		if onProgress != nil {
			onProgress(i+1, len(segments))
		}
	}
	return out, nil
}
