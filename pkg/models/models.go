package models

// Fingerprint is a fixed-length, normalized spectral feature vector plus a
// content digest summarizing one segment of audio. Vectors are always
// zero-mean and unit-L2-normalized before they leave the extractor; the
// matcher relies on that invariant and never re-normalizes.
type Fingerprint struct {
	Vector       []float32 `json:"vector"`
	Digest       uint64    `json:"digest"`
	SampleRate   uint32    `json:"sample_rate"`
	SegmentStart float64   `json:"segment_start"`
	SegmentEnd   float64   `json:"segment_end"`
}

// Dim returns the dimensionality of the fingerprint vector.
func (f *Fingerprint) Dim() int { return len(f.Vector) }

// Segment is a bounded span of audio belonging to a source video. Segments
// are produced by an external segmentation step and consumed read-only here.
type Segment struct {
	SourceID   string  `json:"source_id"`
	Index      int     `json:"index"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	SampleRate uint32  `json:"sample_rate"`
}

// StoredFingerprint is a fingerprint together with its identity in the
// corpus.
type StoredFingerprint struct {
	ID           string `json:"id"`
	SourceID     string `json:"source_id"`
	SegmentIndex int    `json:"segment_index"`
	Fingerprint
}

// MatchScore is the pairwise similarity between a query and one candidate.
type MatchScore struct {
	Correlation         float32 `json:"correlation"`
	EuclideanSimilarity float32 `json:"euclidean_similarity"`
	EuclideanDistance   float32 `json:"euclidean_distance"`
	Confidence          float32 `json:"confidence"`
}

// Match is one ranked search result. It references the candidate, it does
// not own it; matches are ephemeral and never persisted.
type Match struct {
	QueryDigest uint64             `json:"query_digest"`
	Candidate   *StoredFingerprint `json:"candidate"`
	MatchScore
}

// CandidateSource yields candidate fingerprints one at a time so that pools
// too large for memory can be streamed from storage. Next returns (nil, nil)
// once the source is exhausted.
type CandidateSource interface {
	Next() (*StoredFingerprint, error)
}

// SliceSource adapts an in-memory slice to a CandidateSource.
type SliceSource struct {
	items []StoredFingerprint
	pos   int
}

func NewSliceSource(items []StoredFingerprint) *SliceSource {
	return &SliceSource{items: items}
}

func (s *SliceSource) Next() (*StoredFingerprint, error) {
	if s.pos >= len(s.items) {
		return nil, nil
	}
	fp := &s.items[s.pos]
	s.pos++
	return fp, nil
}
