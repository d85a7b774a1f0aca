// Package faceapi talks to the external face service that hosts the face
// detector, the face embedding model and, optionally, the clustering routine.
package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 60 * time.Second
	errBodyLimit   = 512
)

// Face is one detected face.
type Face struct {
	// BBox is x1, y1, x2, y2 in pixels.
	BBox      [4]float64 `json:"bbox"`
	Score     float64    `json:"det_score"`
	Embedding []float64  `json:"embedding,omitempty"`
}

// Area is the bounding box area, used to pick the most prominent face.
func (f Face) Area() float64 {
	w := f.BBox[2] - f.BBox[0]
	h := f.BBox[3] - f.BBox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Largest returns the face with the biggest bounding box.
func Largest(faces []Face) (Face, bool) {
	if len(faces) == 0 {
		return Face{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Area() > best.Area() {
			best = f
		}
	}
	return best, true
}

type facesResp struct {
	Faces []Face `json:"faces"`
	Model string `json:"model,omitempty"`
}

// ClusterReq is the body of POST /cluster.
type ClusterReq struct {
	Embeddings [][]float64 `json:"embeddings"`
	Method     string      `json:"method"`
	Eps        float64     `json:"eps"`
	MinSamples int         `json:"min_samples"`
}

// ClusterResp carries one label per embedding; -1 marks noise.
type ClusterResp struct {
	Labels []int `json:"labels"`
}

// Client is an HTTP client for the face service.
type Client struct {
	baseURL string
	c       *http.Client
}

// New returns a client for the service rooted at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), c: &http.Client{Timeout: timeout}}
}

// Detect returns the faces found in a JPEG image.
func (c *Client) Detect(ctx context.Context, jpeg []byte) ([]Face, error) {
	var out facesResp
	if err := c.postImage(ctx, "/detect", jpeg, &out); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	return out.Faces, nil
}

// HasPerson reports whether at least one face was detected in the image.
func (c *Client) HasPerson(ctx context.Context, jpeg []byte) (bool, error) {
	faces, err := c.Detect(ctx, jpeg)
	if err != nil {
		return false, err
	}
	return len(faces) > 0, nil
}

// Embed returns faces with their embedding vectors.
func (c *Client) Embed(ctx context.Context, jpeg []byte) ([]Face, error) {
	var out facesResp
	if err := c.postImage(ctx, "/embed", jpeg, &out); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return out.Faces, nil
}

// Cluster runs the service-side clustering routine.
func (c *Client) Cluster(ctx context.Context, req ClusterReq) (*ClusterResp, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("cluster encode: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cluster", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var out ClusterResp
	if err := c.do(httpReq, &out); err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}
	if len(out.Labels) != len(req.Embeddings) {
		return nil, fmt.Errorf("cluster: got %d labels for %d embeddings", len(out.Labels), len(req.Embeddings))
	}
	return &out, nil
}

func (c *Client) postImage(ctx context.Context, path string, jpeg []byte, out any) error {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return err
	}
	if _, err := fw.Write(jpeg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &b)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
