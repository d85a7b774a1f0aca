package segment

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"signclips/internal/domain"
	fileutil "signclips/internal/file"
)

// Columns is the metadata.csv header.
var Columns = []string{
	"name", "video_source", "segment_index",
	"start_raw", "start_cut", "end_raw", "end_cut_base", "end_cut", "duration",
	"is_last_segment", "text", "status", "signer_id",
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// Row renders one segment as a metadata record.
func Row(s domain.Segment) []string {
	signer := ""
	if s.SignerID != nil && s.Status == domain.SegmentSuccess {
		signer = strconv.Itoa(*s.SignerID)
	}
	return []string{
		s.Name(),
		s.VideoSource,
		strconv.Itoa(s.Index),
		formatFloat(s.StartRaw),
		formatFloat(s.StartCut),
		formatFloat(s.EndRaw),
		formatFloat(s.EndCutBase),
		formatFloat(s.EndCut),
		formatFloat(s.Duration()),
		strconv.FormatBool(s.IsLast),
		s.Text,
		string(s.Status),
		signer,
	}
}

// EncodeMetadata renders the header and one row per segment.
func EncodeMetadata(segments []domain.Segment) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, s := range segments {
		if err := w.Write(Row(s)); err != nil {
			return nil, fmt.Errorf("write row %s: %w", s.Name(), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush metadata: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteMetadata atomically replaces path with the metadata table.
func WriteMetadata(path string, segments []domain.Segment) error {
	data, err := EncodeMetadata(segments)
	if err != nil {
		return err
	}
	return fileutil.CopyAtomic(path, bytes.NewReader(data)) //nolint:wrapcheck
}

// AssignSigners writes signer ids into successful segments by clip name.
// Failed segments never carry one.
func AssignSigners(segments []domain.Segment, assignments map[string]int) {
	for i := range segments {
		if segments[i].Status != domain.SegmentSuccess {
			segments[i].SignerID = nil
			continue
		}
		if id, ok := assignments[segments[i].Name()]; ok {
			segments[i].SignerID = &id
		}
	}
}
