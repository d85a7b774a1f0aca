package cluster

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signclips/internal/domain"
	"signclips/internal/faceapi"
	"signclips/internal/media"
)

func TestSampleTimes(t *testing.T) {
	assert.Equal(t, []float64{2, 4, 6, 8}, SampleTimes(10, 4))
	assert.Nil(t, SampleTimes(0, 10))
}

func TestDBSCANGroupsAndNoise(t *testing.T) {
	points := [][]float64{
		{0, 0}, {0.1, 0}, {0, 0.1},
		{5, 5}, {5.1, 5},
		{20, 20},
	}
	labels, err := DBSCAN{Eps: 0.5, MinSamples: 2}.Group(context.Background(), points)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1, -1}, labels)
}

func TestDBSCANBorderPointJoinsCluster(t *testing.T) {
	// The middle point is core; the outer ones are borders reachable only through it.
	points := [][]float64{{-1}, {0}, {1}}
	labels, err := DBSCAN{Eps: 1, MinSamples: 3}.Group(context.Background(), points)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0}, labels)
}

func TestL2Normalize(t *testing.T) {
	v := [][]float64{{3, 4}, {0, 0}}
	L2Normalize(v)
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, v[0], 1e-12)
	assert.Equal(t, []float64{0, 0}, v[1])
}

// fakeFrames encodes the clip path into every returned frame.
type fakeFrames struct{}

func (fakeFrames) Duration(context.Context, string) (float64, error) { return 4, nil }

func (fakeFrames) FrameJPEG(_ context.Context, src string, _ float64, _ media.FrameOptions) ([]byte, error) {
	return []byte(filepath.Base(src)), nil
}

// fakeEmbedder maps a clip file name to the face it shows; absent names show none.
type fakeEmbedder map[string][]float64

func (f fakeEmbedder) Embed(_ context.Context, jpeg []byte) ([]faceapi.Face, error) {
	vec, ok := f[string(jpeg)]
	if !ok {
		return nil, nil
	}
	return []faceapi.Face{
		{BBox: [4]float64{0, 0, 2, 2}, Embedding: []float64{9, 9, 9}},
		{BBox: [4]float64{0, 0, 50, 50}, Embedding: vec},
	}, nil
}

func clipsFor(names ...string) []Clip {
	out := make([]Clip, len(names))
	for i, n := range names {
		out[i] = Clip{Name: n, Path: "/clips/" + n + ".mp4"}
	}
	return out
}

func TestRunGroupsEligibleClipsOnce(t *testing.T) {
	embedder := fakeEmbedder{
		"a-0.mp4": {1, 0, 0},
		"a-1.mp4": {0.9, 0.1, 0},
		"b-0.mp4": {0, 1, 0},
		"b-1.mp4": {0, 0.95, 0.05},
		"c-0.mp4": {0, 0, 1},
	}
	clips := clipsFor("a-0", "a-1", "b-0", "b-1", "c-0", "x-0")
	dir := t.TempDir()
	c := New(fakeFrames{}, embedder, DBSCAN{Eps: 0.3, MinSamples: 2}, 3)

	var progressed int
	result, err := c.Run(context.Background(), clips, dir, func(done, total int) {
		progressed = done
		assert.Equal(t, 6, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 6, progressed)

	assert.Equal(t, 5, result.TotalClips)
	assert.Equal(t, 2, result.NSigners)
	assert.Equal(t, []string{"x-0"}, result.Unclustered)
	assert.Equal(t, []string{"c-0"}, result.SignerGroups[domain.NoiseSigner])

	var union []string
	seen := map[string]int{}
	for _, members := range result.SignerGroups {
		for _, m := range members {
			seen[m]++
			union = append(union, m)
		}
	}
	sort.Strings(union)
	assert.Equal(t, []string{"a-0", "a-1", "b-0", "b-1", "c-0"}, union)
	for name, n := range seen {
		assert.Equal(t, 1, n, name)
	}

	assign := result.Assignments()
	assert.Equal(t, assign["a-0"], assign["a-1"])
	assert.NotEqual(t, assign["a-0"], assign["b-0"])
	assert.Equal(t, domain.UnknownSigner, assign["x-0"])

	raw, err := os.ReadFile(filepath.Join(dir, ClustersFile))
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.EqualValues(t, 5, onDisk["total_clips"])
	assert.Equal(t, "dbscan", onDisk["method"])

	emb := readEmbeddings(t, filepath.Join(dir, EmbeddingsFile))
	assert.Len(t, emb.Vectors, 5)
	assert.Equal(t, []float64{1, 0, 0}, emb.Vectors[0])
	assert.Equal(t, EmbeddingMethod, emb.Method)
	leftovers, _ := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	assert.Empty(t, leftovers)
}

func readEmbeddings(t *testing.T, path string) Embeddings {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var e Embeddings
	require.NoError(t, gob.NewDecoder(f).Decode(&e))
	return e
}

func TestRunSetsAsideMismatchedDimensions(t *testing.T) {
	embedder := fakeEmbedder{
		"a-0.mp4": {1, 0, 0},
		"a-1.mp4": {0.9, 0.1, 0},
		"b-0.mp4": {0, 1},
	}
	dir := t.TempDir()
	c := New(fakeFrames{}, embedder, DBSCAN{Eps: 0.3, MinSamples: 2}, 2)

	var result domain.ClusterResult
	require.NotPanics(t, func() {
		var err error
		result, err = c.Run(context.Background(), clipsFor("a-0", "b-0", "a-1"), dir, nil)
		require.NoError(t, err)
	})
	assert.Equal(t, 2, result.TotalClips)
	assert.Equal(t, 1, result.NSigners)
	assert.Equal(t, []string{"b-0"}, result.Unclustered)
	assert.Equal(t, domain.UnknownSigner, result.Assignments()["b-0"])

	emb := readEmbeddings(t, filepath.Join(dir, EmbeddingsFile))
	assert.Equal(t, []string{"a-0", "a-1"}, emb.Names)
}

func TestWriteEmbeddingsReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", EmbeddingsFile)
	require.NoError(t, WriteEmbeddings(path, Embeddings{Names: []string{"old"}, Vectors: [][]float64{{1}}}))
	require.NoError(t, WriteEmbeddings(path, Embeddings{Names: []string{"new"}, Vectors: [][]float64{{0, 1}}, Method: EmbeddingMethod}))

	emb := readEmbeddings(t, path)
	assert.Equal(t, []string{"new"}, emb.Names)
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".tmp-*"))
	assert.Empty(t, leftovers)
}

func TestRunWithNoFacesWritesEmptyResult(t *testing.T) {
	dir := t.TempDir()
	c := New(fakeFrames{}, fakeEmbedder{}, DBSCAN{Eps: 1, MinSamples: 2}, 2)
	result, err := c.Run(context.Background(), clipsFor("a-0", "a-1"), dir, nil)
	require.NoError(t, err)
	assert.Zero(t, result.TotalClips)
	assert.Zero(t, result.NSigners)
	assert.Len(t, result.Unclustered, 2)
	assert.FileExists(t, filepath.Join(dir, ClustersFile))
}

type stubService struct {
	labels []int
	err    error
}

func (s stubService) Cluster(context.Context, faceapi.ClusterReq) (*faceapi.ClusterResp, error) {
	return &faceapi.ClusterResp{Labels: s.labels}, s.err
}

func TestRemoteGrouper(t *testing.T) {
	r := Remote{Service: stubService{labels: []int{0, -1}}, Eps: 1, MinSamples: 2}
	labels, err := r.Group(context.Background(), [][]float64{{1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, -1}, labels)

	r.Service = stubService{labels: []int{0}}
	_, err = r.Group(context.Background(), [][]float64{{1}, {2}})
	assert.ErrorIs(t, err, ErrBadLabels)

	r.Service = stubService{err: errors.New("503")}
	_, err = r.Group(context.Background(), [][]float64{{1}})
	assert.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(fakeFrames{}, fakeEmbedder{}, DBSCAN{Eps: 1, MinSamples: 2}, 2)
	_, err := c.Run(ctx, clipsFor("a-0"), t.TempDir(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
