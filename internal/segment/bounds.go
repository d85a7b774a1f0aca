// Package segment computes clip boundaries from transcript timestamps, cuts
// the clips and writes the metadata table.
package segment

import (
	"math"

	"signclips/internal/domain"
	"signclips/internal/transcribe"
)

// DefaultBuffer is the trailing padding added to every segment but the last.
const DefaultBuffer = 2.0

// Bounds is the cut window derived from one raw segment.
type Bounds struct {
	StartCut   float64
	EndCutBase float64
	EndCut     float64
}

// Duration is the window length.
func (b Bounds) Duration() float64 { return b.EndCut - b.StartCut }

// Empty reports whether the window cannot produce a clip.
func (b Bounds) Empty() bool { return b.StartCut < 0 || b.EndCut <= b.StartCut }

// ComputeBounds rounds both ends up and pads non-last segments with buffer.
// A positive sourceDuration caps the padded end, but never below the rounded end.
func ComputeBounds(startRaw, endRaw float64, isLast bool, buffer, sourceDuration float64) Bounds {
	b := Bounds{
		StartCut:   math.Ceil(startRaw),
		EndCutBase: math.Ceil(endRaw),
	}
	b.EndCut = b.EndCutBase
	if !isLast {
		b.EndCut += buffer
		if sourceDuration > 0 && b.EndCut > sourceDuration {
			b.EndCut = max(b.EndCutBase, sourceDuration)
		}
	}
	return b
}

// Plan turns a video's transcript into ordered segments with computed
// bounds. Windows that round to nothing are dropped; the rest keep their
// transcript position as index.
func Plan(video domain.VideoRecord, raw []transcribe.Segment, buffer, sourceDuration float64) []domain.Segment {
	out := make([]domain.Segment, 0, len(raw))
	for i, r := range raw {
		isLast := i == len(raw)-1
		b := ComputeBounds(r.Start, r.End, isLast, buffer, sourceDuration)
		if b.Empty() {
			continue
		}
		out = append(out, domain.Segment{
			Index:       i,
			VideoRef:    video.TitleSlug,
			VideoSource: video.SourceID,
			StartRaw:    r.Start,
			EndRaw:      r.End,
			StartCut:    b.StartCut,
			EndCutBase:  b.EndCutBase,
			EndCut:      b.EndCut,
			IsLast:      isLast,
			Text:        r.Text,
		})
	}
	return out
}
