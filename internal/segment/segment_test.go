package segment

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signclips/internal/domain"
	"signclips/internal/transcribe"
)

var threeUtterances = []transcribe.Segment{
	{Start: 0.3, End: 4.1, Text: "xin chao"},
	{Start: 4.5, End: 9.9, Text: "toi ten la"},
	{Start: 10.0, End: 11.2, Text: "cam on"},
}

func TestPlanSingleVideo(t *testing.T) {
	video := domain.VideoRecord{SourceID: "abc", TitleSlug: "bai-1"}
	segs := Plan(video, threeUtterances, DefaultBuffer, 0)
	require.Len(t, segs, 3)

	want := []struct{ start, end, dur float64 }{{1, 7, 6}, {5, 12, 7}, {10, 12, 2}}
	for i, w := range want {
		assert.Equal(t, w.start, segs[i].StartCut, "start of %d", i)
		assert.Equal(t, w.end, segs[i].EndCut, "end of %d", i)
		assert.Equal(t, w.dur, segs[i].Duration(), "duration of %d", i)
	}
	assert.False(t, segs[1].IsLast)
	assert.True(t, segs[2].IsLast)
	assert.Equal(t, "bai-1-2", segs[2].Name())
}

func TestComputeBoundsProperties(t *testing.T) {
	raws := [][2]float64{{0, 0.2}, {0.01, 3.99}, {7, 7.5}, {12.5, 30}, {59.9, 60}}
	for _, r := range raws {
		for _, last := range []bool{false, true} {
			b := ComputeBounds(r[0], r[1], last, DefaultBuffer, 0)
			assert.Equal(t, math.Ceil(r[0]), b.StartCut)
			assert.GreaterOrEqual(t, b.EndCut, math.Ceil(r[1]))
			assert.GreaterOrEqual(t, b.EndCut, r[1])
			if last {
				assert.Equal(t, math.Ceil(r[1]), b.EndCut)
			} else {
				assert.Equal(t, math.Ceil(r[1])+DefaultBuffer, b.EndCut)
				assert.Positive(t, b.Duration())
			}
		}
	}
}

func TestComputeBoundsCapsBufferAtSourceEnd(t *testing.T) {
	b := ComputeBounds(3.2, 9.4, false, DefaultBuffer, 11)
	assert.Equal(t, 11.0, b.EndCut)

	b = ComputeBounds(3.2, 9.4, false, DefaultBuffer, 9.6)
	assert.Equal(t, 10.0, b.EndCut, "cap never cuts into the rounded end")
}

func TestPlanDropsEmptyLastWindow(t *testing.T) {
	segs := Plan(domain.VideoRecord{TitleSlug: "v"}, []transcribe.Segment{
		{Start: 1.0, End: 2.5, Text: "a"},
		{Start: 3.2, End: 3.8, Text: "b"},
	}, DefaultBuffer, 0)
	require.Len(t, segs, 1)
	assert.Equal(t, 0, segs[0].Index)
}

type fakeClipper struct {
	fail map[float64]bool
	// partial makes failing cuts write some output before erroring.
	partial bool
	calls   []float64
}

func (f *fakeClipper) Cut(_ context.Context, _ string, start, duration float64, dst string) error {
	f.calls = append(f.calls, start)
	if f.fail[start] {
		if f.partial {
			_ = os.WriteFile(dst, []byte("truncated"), 0o600)
		}
		return errors.New("ffmpeg exited 1")
	}
	if duration <= 0 {
		return errors.New("bad duration")
	}
	return os.WriteFile(dst, []byte("clip"), 0o600)
}

func TestCutContinuesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	clipper := &fakeClipper{fail: map[float64]bool{5: true}}
	segs := Plan(domain.VideoRecord{SourceID: "abc", TitleSlug: "v"}, threeUtterances, DefaultBuffer, 0)

	var progress [][2]int
	out, err := NewCutter(clipper).Cut(context.Background(), "region.mp4", dir, segs, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, domain.SegmentSuccess, out[0].Status)
	assert.Equal(t, domain.SegmentFailed, out[1].Status)
	assert.NotEmpty(t, out[1].Error)
	assert.Equal(t, domain.SegmentSuccess, out[2].Status)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)
	assert.FileExists(t, filepath.Join(dir, "v-2.mp4"))
	assert.NoFileExists(t, filepath.Join(dir, "v-1.mp4"))
}

func TestCutRemovesPartialClipOnFailure(t *testing.T) {
	dir := t.TempDir()
	clipper := &fakeClipper{fail: map[float64]bool{5: true}, partial: true}
	segs := Plan(domain.VideoRecord{SourceID: "abc", TitleSlug: "v"}, threeUtterances, DefaultBuffer, 0)

	out, err := NewCutter(clipper).Cut(context.Background(), "region.mp4", dir, segs, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, domain.SegmentFailed, out[1].Status)
	assert.NoFileExists(t, filepath.Join(dir, "v-1.mp4"))
	assert.FileExists(t, filepath.Join(dir, "v-0.mp4"))
	assert.FileExists(t, filepath.Join(dir, "v-2.mp4"))
}

func TestCutStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clipper := &fakeClipper{}
	segs := Plan(domain.VideoRecord{TitleSlug: "v"}, threeUtterances, DefaultBuffer, 0)

	out, err := NewCutter(clipper).Cut(ctx, "region.mp4", t.TempDir(), segs, func(done, _ int) {
		if done == 1 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, out, 1)
	assert.Len(t, clipper.calls, 1)
}

func TestMetadataColumnsAndSigner(t *testing.T) {
	segs := Plan(domain.VideoRecord{SourceID: "abc", TitleSlug: "v"}, threeUtterances, DefaultBuffer, 0)
	for i := range segs {
		segs[i].Status = domain.SegmentSuccess
	}
	segs[1].Status = domain.SegmentFailed
	AssignSigners(segs, map[string]int{"v-0": 0, "v-1": 3, "v-2": domain.UnknownSigner})

	path := filepath.Join(t.TempDir(), "metadata.csv")
	require.NoError(t, WriteMetadata(path, segs))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, "name,video_source,segment_index,start_raw,start_cut,end_raw,end_cut_base,end_cut,duration,is_last_segment,text,status,signer_id",
		strings.Join(records[0], ","))
	assert.Equal(t, []string{"v-0", "abc", "0", "0.3", "1", "4.1", "5", "7", "6", "false", "xin chao", "success", "0"}, records[1])
	assert.Equal(t, "", records[2][12], "failed segments carry no signer")
	assert.Equal(t, "-2", records[3][12])
	assert.Nil(t, segs[1].SignerID)
}
