package domain

import (
	"fmt"
	"sort"
)

// SegmentStatus is the outcome of cutting one segment into a clip.
type SegmentStatus string

const (
	SegmentSuccess SegmentStatus = "success"
	SegmentFailed  SegmentStatus = "failed"
)

// VideoStatus tracks a retained video through crop, transcribe and cut.
type VideoStatus string

const (
	VideoPending   VideoStatus = "pending"
	VideoProcessed VideoStatus = "processed"
	VideoFailed    VideoStatus = "failed"
)

// Signer sentinels written into signer_id.
const (
	// NoiseSigner marks clips the density clustering left outside every group.
	NoiseSigner = -1
	// UnknownSigner marks clips where no face was found in any sampled frame.
	UnknownSigner = -2
)

// Rect is a fixed pixel window inside a frame.
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Valid reports whether the rectangle has a positive area and a non-negative origin.
func (r Rect) Valid() bool {
	return r.Width > 0 && r.Height > 0 && r.X >= 0 && r.Y >= 0
}

// CropFilter renders the rectangle as an ffmpeg crop filter expression.
func (r Rect) CropFilter() string {
	return fmt.Sprintf("crop=%d:%d:%d:%d", r.Width, r.Height, r.X, r.Y)
}

// VideoRecord is one source video retained after the presence check.
type VideoRecord struct {
	SourceID       string      `json:"source_id"`
	SourceURL      string      `json:"source_url,omitempty"`
	Title          string      `json:"title"`
	TitleSlug      string      `json:"title_slug"`
	RawPath        string      `json:"raw_path,omitempty"`
	RegionPath     string      `json:"region_path,omitempty"`
	TranscriptPath string      `json:"transcript_path,omitempty"`
	PresenceResult bool        `json:"presence_result"`
	Status         VideoStatus `json:"status"`
	Aligned        bool        `json:"aligned"`
	SegmentCount   int         `json:"segment_count"`
	Error          string      `json:"error,omitempty"`
}

// FileName is the name shared by the raw and region-cropped copies of the video.
func (v VideoRecord) FileName() string { return v.TitleSlug + ".mp4" }

// Skip records a candidate video that was dropped before processing.
type Skip struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title,omitempty"`
	Reason   string `json:"reason"`
}

// Segment is one spoken utterance cut into its own clip.
type Segment struct {
	Index       int           `json:"index"`
	VideoRef    string        `json:"video_ref"`
	VideoSource string        `json:"video_source"`
	StartRaw    float64       `json:"start_raw"`
	EndRaw      float64       `json:"end_raw"`
	StartCut    float64       `json:"start_cut"`
	EndCutBase  float64       `json:"end_cut_base"`
	EndCut      float64       `json:"end_cut"`
	IsLast      bool          `json:"is_last_in_video"`
	Text        string        `json:"text"`
	Status      SegmentStatus `json:"status"`
	SignerID    *int          `json:"signer_id,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Name is the stable clip identifier, "<video slug>-<index>".
func (s Segment) Name() string { return fmt.Sprintf("%s-%d", s.VideoRef, s.Index) }

// ClipFile is the clip's file name inside the clips directory.
func (s Segment) ClipFile() string { return s.Name() + ".mp4" }

// Duration is the length of the cut window in seconds.
func (s Segment) Duration() float64 { return s.EndCut - s.StartCut }

// ClusterResult summarizes one identity clustering run over a task's clips.
type ClusterResult struct {
	TotalClips      int              `json:"total_clips"`
	NSigners        int              `json:"n_signers"`
	SignerGroups    map[int][]string `json:"signer_groups"`
	Unclustered     []string         `json:"unclustered"`
	Method          string           `json:"method"`
	EmbeddingMethod string           `json:"embedding_method,omitempty"`
}

// NewClusterResult groups clip names by label. Names and labels are parallel;
// unclustered lists eligible-but-faceless clips kept out of every group.
func NewClusterResult(names []string, labels []int, unclustered []string, method, embeddingMethod string) ClusterResult {
	groups := make(map[int][]string)
	for i, name := range names {
		groups[labels[i]] = append(groups[labels[i]], name)
	}
	signers := 0
	for label, members := range groups {
		sort.Strings(members)
		if label >= 0 {
			signers++
		}
	}
	rest := append([]string(nil), unclustered...)
	sort.Strings(rest)
	if rest == nil {
		rest = []string{}
	}
	return ClusterResult{
		TotalClips:      len(names),
		NSigners:        signers,
		SignerGroups:    groups,
		Unclustered:     rest,
		Method:          method,
		EmbeddingMethod: embeddingMethod,
	}
}

// Assignments flattens the groups into clip name -> signer id.
func (r ClusterResult) Assignments() map[string]int {
	out := make(map[string]int, r.TotalClips+len(r.Unclustered))
	for label, members := range r.SignerGroups {
		for _, name := range members {
			out[name] = label
		}
	}
	for _, name := range r.Unclustered {
		out[name] = UnknownSigner
	}
	return out
}
