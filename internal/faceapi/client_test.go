package faceapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubService(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/detect", "/embed":
			file, _, err := r.FormFile("image")
			if err != nil {
				http.Error(w, "missing image", http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(file)
			if string(data) == "empty" {
				_, _ = w.Write([]byte(`{"faces":[]}`))
				return
			}
			_, _ = w.Write([]byte(`{"faces":[
				{"bbox":[0,0,10,10],"det_score":0.9,"embedding":[1,0]},
				{"bbox":[0,0,40,40],"det_score":0.8,"embedding":[0,1]}]}`))
		case "/cluster":
			var req ClusterReq
			_ = json.NewDecoder(r.Body).Decode(&req)
			labels := make([]int, len(req.Embeddings))
			_ = json.NewEncoder(w).Encode(ClusterResp{Labels: labels})
		default:
			http.Error(w, "nope", http.StatusTeapot)
		}
	}))
}

func TestDetectAndHasPerson(t *testing.T) {
	srv := newStubService(t)
	defer srv.Close()
	c := New(srv.URL+"/", time.Second)

	faces, err := c.Detect(t.Context(), []byte("jpeg"))
	require.NoError(t, err)
	require.Len(t, faces, 2)

	ok, err := c.HasPerson(t.Context(), []byte("empty"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmbedLargestFace(t *testing.T) {
	srv := newStubService(t)
	defer srv.Close()
	c := New(srv.URL, time.Second)

	faces, err := c.Embed(t.Context(), []byte("jpeg"))
	require.NoError(t, err)
	best, ok := Largest(faces)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 1}, best.Embedding)
}

func TestClusterLabelCount(t *testing.T) {
	srv := newStubService(t)
	defer srv.Close()
	c := New(srv.URL, time.Second)

	resp, err := c.Cluster(t.Context(), ClusterReq{Embeddings: [][]float64{{1}, {2}, {3}}, Method: "dbscan", Eps: 1, MinSamples: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Labels, 3)
}

func TestNonOKStatusIsError(t *testing.T) {
	srv := newStubService(t)
	defer srv.Close()
	c := New(srv.URL+"/missing", time.Second)

	_, err := c.Detect(t.Context(), []byte("jpeg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "418")
}
