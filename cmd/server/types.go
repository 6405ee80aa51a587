package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/echotrace/echotrace/pkg/models"
)

// Search parameter limits
const (
	DefaultTopK = 5
	MaxTopK     = 100
)

// SearchRequest holds the query parameters of POST /api/search.
type SearchRequest struct {
	TopK          int
	MinConfidence float32
}

func parseSearchRequest(r *http.Request) (SearchRequest, error) {
	req := SearchRequest{TopK: DefaultTopK}

	if v := r.URL.Query().Get("top_k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k <= 0 {
			return req, fmt.Errorf("invalid top_k: %q", v)
		}
		if k > MaxTopK {
			return req, fmt.Errorf("top_k too large: %d (maximum: %d)", k, MaxTopK)
		}
		req.TopK = k
	}

	if v := r.URL.Query().Get("min_confidence"); v != "" {
		c, err := strconv.ParseFloat(v, 32)
		if err != nil || c < 0 || c > 1 {
			return req, fmt.Errorf("invalid min_confidence: %q", v)
		}
		req.MinConfidence = float32(c)
	}

	return req, nil
}

// MatchDTO represents a single match in API responses
type MatchDTO struct {
	SourceID            string  `json:"source_id"`
	SegmentIndex        int     `json:"segment_index"`
	SegmentStart        float64 `json:"segment_start"`
	SegmentEnd          float64 `json:"segment_end"`
	Correlation         float32 `json:"correlation"`
	EuclideanSimilarity float32 `json:"euclidean_similarity"`
	EuclideanDistance   float32 `json:"euclidean_distance"`
	Confidence          float32 `json:"confidence"`
}

func toMatchDTOs(matches []models.Match) []MatchDTO {
	out := make([]MatchDTO, len(matches))
	for i, m := range matches {
		out[i] = MatchDTO{
			SourceID:            m.Candidate.SourceID,
			SegmentIndex:        m.Candidate.SegmentIndex,
			SegmentStart:        m.Candidate.SegmentStart,
			SegmentEnd:          m.Candidate.SegmentEnd,
			Correlation:         m.Correlation,
			EuclideanSimilarity: m.EuclideanSimilarity,
			EuclideanDistance:   m.EuclideanDistance,
			Confidence:          m.Confidence,
		}
	}
	return out
}

// SearchResponse is the response for POST /api/search
type SearchResponse struct {
	Matches []MatchDTO `json:"matches"`
	Count   int        `json:"count"`
}

// FingerprintDTO represents a stored fingerprint without its vector
type FingerprintDTO struct {
	ID           string  `json:"id"`
	SegmentIndex int     `json:"segment_index"`
	SegmentStart float64 `json:"segment_start"`
	SegmentEnd   float64 `json:"segment_end"`
	Digest       string  `json:"digest"`
	SampleRate   uint32  `json:"sample_rate"`
	Dim          int     `json:"dim"`
}

func toFingerprintDTO(sf *models.StoredFingerprint) FingerprintDTO {
	return FingerprintDTO{
		ID:           sf.ID,
		SegmentIndex: sf.SegmentIndex,
		SegmentStart: sf.SegmentStart,
		SegmentEnd:   sf.SegmentEnd,
		Digest:       strconv.FormatUint(sf.Digest, 16),
		SampleRate:   sf.SampleRate,
		Dim:          sf.Dim(),
	}
}

// SourceResponse is the response for GET /api/sources/{id}
type SourceResponse struct {
	SourceID     string           `json:"source_id"`
	Fingerprints []FingerprintDTO `json:"fingerprints"`
	Count        int              `json:"count"`
}

// CreateJobRequest is the request body for POST /api/jobs
type CreateJobRequest struct {
	JobType    string          `json:"job_type"`
	TargetID   string          `json:"target_id"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Validate checks if the request is valid
func (r *CreateJobRequest) Validate() error {
	switch r.JobType {
	case models.JobTypeFingerprintVideo, models.JobTypeReindexCorpus:
	default:
		return fmt.Errorf("unknown job_type: %q", r.JobType)
	}
	if r.TargetID == "" {
		return fmt.Errorf("target_id is required")
	}
	return nil
}

// JobResponse wraps a single job
type JobResponse struct {
	Job     *models.ProcessingJob `json:"job"`
	Created bool                  `json:"created,omitempty"`
}

// ListJobsResponse is the response for GET /api/jobs
type ListJobsResponse struct {
	Jobs  []models.ProcessingJob `json:"jobs"`
	Count int                    `json:"count"`
}

// MetricsResponse provides server health and corpus metrics
type MetricsResponse struct {
	Status           string `json:"status"`
	DatabasePath     string `json:"database_path"`
	FingerprintCount int64  `json:"fingerprint_count"`
	CorpusSize       int    `json:"corpus_size"`
	SampleRate       uint32 `json:"sample_rate"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
