package presence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signclips/internal/domain"
	"signclips/internal/media"
)

type fakeFrames struct {
	duration float64
	grabbed  []float64
	failAt   map[float64]bool
}

func (f *fakeFrames) Duration(context.Context, string) (float64, error) { return f.duration, nil }

func (f *fakeFrames) FrameJPEG(_ context.Context, _ string, at float64, opts media.FrameOptions) ([]byte, error) {
	if opts.Crop == nil || opts.Width != 1920 || opts.Height != 1080 {
		return nil, errors.New("unexpected frame options")
	}
	f.grabbed = append(f.grabbed, at)
	if f.failAt[at] {
		return nil, media.ErrNoFrame
	}
	return []byte{byte(len(f.grabbed) - 1)}, nil
}

// sequenceDetector answers the i-th call with answers[i].
type sequenceDetector struct{ answers []bool }

func (d sequenceDetector) HasPerson(_ context.Context, img []byte) (bool, error) {
	return d.answers[int(img[0])], nil
}

func testConfig() Config {
	return Config{
		Timestamps:  []float64{2, 10, 20},
		FrameWidth:  1920,
		FrameHeight: 1080,
		ROI:         domain.Rect{X: 125, Y: 637, Width: 178, Height: 159},
	}
}

func TestAcceptRequiresEverySample(t *testing.T) {
	assert.True(t, Accept([]bool{true, true, true}))
	assert.False(t, Accept([]bool{true, false, true}))
	assert.False(t, Accept([]bool{false, false, false}))
	assert.False(t, Accept(nil))
}

func TestCheckDecisions(t *testing.T) {
	cases := []struct {
		name     string
		answers  []bool
		accepted bool
		grabbed  int
	}{
		{"all three present", []bool{true, true, true}, true, 3},
		{"middle miss", []bool{true, false, true}, false, 2},
		{"none present", []bool{false, false, false}, false, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			frames := &fakeFrames{duration: 60}
			f := NewFilter(testConfig(), frames, sequenceDetector{answers: c.answers})

			d, err := f.Check(context.Background(), "video.mp4")
			require.NoError(t, err)
			assert.Equal(t, c.accepted, d.Accepted)
			assert.Len(t, frames.grabbed, c.grabbed)
			if !c.accepted {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestCheckRejectsShortVideoWithoutSampling(t *testing.T) {
	frames := &fakeFrames{duration: 15}
	f := NewFilter(testConfig(), frames, sequenceDetector{answers: []bool{true, true, true}})

	d, err := f.Check(context.Background(), "short.mp4")
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Empty(t, frames.grabbed)
}

func TestCheckMissingFrameRejects(t *testing.T) {
	frames := &fakeFrames{duration: 30, failAt: map[float64]bool{20: true}}
	f := NewFilter(testConfig(), frames, sequenceDetector{answers: []bool{true, true, true}})

	d, err := f.Check(context.Background(), "video.mp4")
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, []bool{true, true, false}, d.Samples)
}

func TestCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewFilter(testConfig(), &fakeFrames{duration: 60}, sequenceDetector{answers: []bool{true, true, true}})

	_, err := f.Check(ctx, "video.mp4")
	assert.ErrorIs(t, err, context.Canceled)
}
