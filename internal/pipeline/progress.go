package pipeline

import (
	"context"
	"math"
)

// Update is one progress report published while a task runs.
type Update struct {
	Progress int
	Message  string
}

// Progress bands. Acquisition fills [0, acquireEnd), retained videos share
// [acquireEnd, videosEnd), then clustering and packaging. 100 is reserved for
// the completed transition, which the task owner sets.
const (
	acquireStart = 5.0
	acquireEnd   = 15.0
	videosEnd    = 85.0
	clusterEnd   = 95.0
	packageEnd   = 99.0
)

// Sub-stage weights within one video's band.
const (
	weightCrop       = 0.15
	weightTranscribe = 0.55
	weightCut        = 0.30
)

// acquireProgress is the position after k of m candidates were acquired.
func acquireProgress(k, m int) float64 {
	if m <= 0 {
		return acquireStart
	}
	return acquireStart + (acquireEnd-acquireStart)*float64(k)/float64(m)
}

// videoBand returns the half-open band of video i of n.
func videoBand(i, n int) (lo, width float64) {
	width = (videosEnd - acquireEnd) / float64(n)
	return acquireEnd + float64(i)*width, width
}

// videoProgress places a video at a sub-stage. cutFraction only counts once
// transcription is done.
func videoProgress(i, n int, cropDone, transcribeDone bool, cutFraction float64) float64 {
	lo, width := videoBand(i, n)
	p := lo
	if cropDone {
		p += weightCrop * width
	}
	if transcribeDone {
		p += weightTranscribe*width + weightCut*width*clamp01(cutFraction)
	}
	return p
}

func clusterProgress(done, total int) float64 {
	if total <= 0 {
		return videosEnd
	}
	return videosEnd + (clusterEnd-videosEnd)*float64(done)/float64(total)
}

func clamp01(v float64) float64 { return math.Min(1, math.Max(0, v)) }

// reporter publishes updates without ever blocking past cancellation.
type reporter struct {
	ch   chan<- Update
	last int
}

func (r *reporter) report(ctx context.Context, progress float64, message string) {
	p := int(math.Floor(progress))
	p = min(max(p, r.last), int(packageEnd))
	r.last = p
	if r.ch == nil {
		return
	}
	select {
	case r.ch <- Update{Progress: p, Message: message}:
	case <-ctx.Done():
	}
}
