// Package cluster groups successfully cut clips by the signer's face.
package cluster

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"

	"signclips/internal/domain"
	"signclips/internal/faceapi"
	fileutil "signclips/internal/file"
	"signclips/internal/media"
)

const (
	// EmbeddingMethod names the per-clip vector recipe recorded in clusters.json.
	EmbeddingMethod = "largest_face_mean"

	EmbeddingsFile = "embeddings.bin"
	ClustersFile   = "clusters.json"
)

// ErrBadLabels is returned when the remote service answers with the wrong label count.
var ErrBadLabels = errors.New("cluster service returned mismatched labels")

// Frames samples single frames from a clip.
type Frames interface {
	Duration(ctx context.Context, path string) (float64, error)
	FrameJPEG(ctx context.Context, src string, at float64, opts media.FrameOptions) ([]byte, error)
}

// Embedder returns the faces found in a JPEG frame with their embeddings.
type Embedder interface {
	Embed(ctx context.Context, jpeg []byte) ([]faceapi.Face, error)
}

// Grouper assigns a label per embedding; -1 marks noise.
type Grouper interface {
	Name() string
	Group(ctx context.Context, embeddings [][]float64) ([]int, error)
}

// Clip is one successfully cut segment.
type Clip struct {
	Name string
	Path string
}

// SampleTimes spreads n timestamps evenly inside (0, duration).
func SampleTimes(duration float64, n int) []float64 {
	if duration <= 0 || n <= 0 {
		return nil
	}
	step := duration / float64(n+1)
	out := make([]float64, n)
	for i := range out {
		out[i] = step * float64(i+1)
	}
	return out
}

// Clusterer runs embedding extraction and grouping over a task's clips.
type Clusterer struct {
	frames        Frames
	embedder      Embedder
	grouper       Grouper
	framesPerClip int
}

// New returns a clusterer sampling framesPerClip frames from every clip.
func New(frames Frames, embedder Embedder, grouper Grouper, framesPerClip int) *Clusterer {
	if framesPerClip <= 0 {
		framesPerClip = 10
	}
	return &Clusterer{frames: frames, embedder: embedder, grouper: grouper, framesPerClip: framesPerClip}
}

// Embedding averages the largest face's vector over the sampled frames. The
// bool is false when no sample held a face. Only cancellation is an error.
func (c *Clusterer) Embedding(ctx context.Context, path string) ([]float64, bool, error) {
	duration, err := c.frames.Duration(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		log.Warn().Err(err).Str("clip", filepath.Base(path)).Msg("probe failed, clip not embedded")
		return nil, false, nil
	}
	var sum []float64
	found := 0
	for _, at := range SampleTimes(duration, c.framesPerClip) {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		img, err := c.frames.FrameJPEG(ctx, path, at, media.FrameOptions{})
		if err != nil {
			continue
		}
		faces, err := c.embedder.Embed(ctx, img)
		if err != nil {
			log.Debug().Err(err).Str("clip", filepath.Base(path)).Float64("at", at).Msg("embed failed")
			continue
		}
		face, ok := faceapi.Largest(faces)
		if !ok || len(face.Embedding) == 0 {
			continue
		}
		switch {
		case sum == nil:
			sum = append([]float64(nil), face.Embedding...)
		case len(sum) != len(face.Embedding):
			continue
		default:
			floats.Add(sum, face.Embedding)
		}
		found++
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	if found == 0 {
		return nil, false, nil
	}
	floats.Scale(1/float64(found), sum)
	return sum, true, nil
}

// Run embeds every clip, groups the eligible ones and writes embeddings.bin
// and clusters.json into workDir. onProgress receives (done, total) after
// each clip is embedded.
func (c *Clusterer) Run(ctx context.Context, clips []Clip, workDir string, onProgress func(done, total int)) (domain.ClusterResult, error) {
	var (
		names       []string
		vectors     [][]float64
		unclustered []string
		dim         int
	)
	for i, clip := range clips {
		vec, ok, err := c.Embedding(ctx, clip.Path)
		if err != nil {
			return domain.ClusterResult{}, err
		}
		// every clustered vector shares the first eligible vector's length
		if ok && (len(vec) == 0 || (dim > 0 && len(vec) != dim)) {
			log.Warn().Str("clip", clip.Name).Int("dim", len(vec)).Int("want", dim).Msg("embedding dimension mismatch")
			ok = false
		}
		if ok {
			if dim == 0 {
				dim = len(vec)
			}
			names = append(names, clip.Name)
			vectors = append(vectors, vec)
		} else {
			unclustered = append(unclustered, clip.Name)
		}
		if onProgress != nil {
			onProgress(i+1, len(clips))
		}
	}
	if err := WriteEmbeddings(filepath.Join(workDir, EmbeddingsFile), Embeddings{Names: names, Vectors: vectors, Method: EmbeddingMethod}); err != nil {
		return domain.ClusterResult{}, err
	}

	labels := []int{}
	if len(vectors) > 0 {
		L2Normalize(vectors)
		var err error
		labels, err = c.grouper.Group(ctx, vectors)
		if err != nil {
			return domain.ClusterResult{}, fmt.Errorf("group embeddings: %w", err)
		}
		if len(labels) != len(vectors) {
			return domain.ClusterResult{}, fmt.Errorf("group embeddings: %d labels for %d clips", len(labels), len(vectors))
		}
	}
	result := domain.NewClusterResult(names, labels, unclustered, c.grouper.Name(), EmbeddingMethod)
	if err := fileutil.WriteJSONAtomic(filepath.Join(workDir, ClustersFile), result); err != nil {
		return domain.ClusterResult{}, fmt.Errorf("write clusters: %w", err)
	}
	log.Info().Int("clips", len(clips)).Int("eligible", len(names)).Int("signers", result.NSigners).Str("method", result.Method).Msg("clustering finished")
	return result, nil
}

// Embeddings is the on-disk form of embeddings.bin.
type Embeddings struct {
	Names   []string
	Vectors [][]float64
	Method  string
}

// WriteEmbeddings gob-encodes e and atomically replaces path with it.
func WriteEmbeddings(path string, e Embeddings) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return fmt.Errorf("encode embeddings: %w", err)
	}
	if err := fileutil.CopyAtomic(path, &buf); err != nil {
		return fmt.Errorf("write embeddings: %w", err)
	}
	return nil
}

// ClusterService is the remote grouping contract.
type ClusterService interface {
	Cluster(ctx context.Context, req faceapi.ClusterReq) (*faceapi.ClusterResp, error)
}

// Remote delegates grouping to the face service with DBSCAN parameters.
type Remote struct {
	Service    ClusterService
	Eps        float64
	MinSamples int
}

// Name identifies the method in clusters.json.
func (Remote) Name() string { return "dbscan_remote" }

// Group sends the normalized embeddings to the service.
func (r Remote) Group(ctx context.Context, embeddings [][]float64) ([]int, error) {
	resp, err := r.Service.Cluster(ctx, faceapi.ClusterReq{
		Embeddings: embeddings,
		Method:     "dbscan",
		Eps:        r.Eps,
		MinSamples: r.MinSamples,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	if len(resp.Labels) != len(embeddings) {
		return nil, ErrBadLabels
	}
	return resp.Labels, nil
}
