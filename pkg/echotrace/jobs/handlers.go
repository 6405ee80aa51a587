package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/echotrace/echotrace/pkg/echotrace/audio"
	"github.com/echotrace/echotrace/pkg/echotrace/fingerprint"
	"github.com/echotrace/echotrace/pkg/models"
)

// DefaultSegmentSeconds is the segment length used when a fingerprint job
// carries no explicit parameters.
const DefaultSegmentSeconds = 10.0

// Indexer is the slice of the fingerprinting service the job handlers
// need.
type Indexer interface {
	IndexSegment(ctx context.Context, seg models.Segment, samples []float32) (*models.StoredFingerprint, error)
	ReloadCorpus() (int, error)
}

// FingerprintParams is the optional Parameters payload of a fingerprint
// job.
type FingerprintParams struct {
	SegmentSeconds float64 `json:"segment_seconds,omitempty"`
}

// NewFingerprintHandler builds the handler for fingerprint jobs: it splits
// the target's WAV file into segments and indexes each one. The progress
// checkpoint between segments doubles as the cancellation check, so a
// cancel request takes effect at the next segment boundary.
func NewFingerprintHandler(svc Indexer, mediaDir string, log Logger) HandlerFunc {
	return func(ctx context.Context, job *models.ProcessingJob, report ProgressFunc) error {
		params := FingerprintParams{SegmentSeconds: DefaultSegmentSeconds}
		if len(job.Parameters) > 0 {
			if err := json.Unmarshal(job.Parameters, &params); err != nil {
				return fmt.Errorf("invalid job parameters: %w", err)
			}
		}
		if params.SegmentSeconds <= 0 {
			params.SegmentSeconds = DefaultSegmentSeconds
		}

		path := filepath.Join(mediaDir, job.TargetID+".wav")
		if err := report(0, "reading audio"); err != nil {
			return err
		}
		samples, sampleRate, err := audio.ReadWAV(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		chunks := audio.SplitSegments(samples, sampleRate, params.SegmentSeconds, 1.0)
		if len(chunks) == 0 {
			return fmt.Errorf("no usable segments in %s", path)
		}

		indexed := 0
		for i, chunk := range chunks {
			seg := models.Segment{
				SourceID:   job.TargetID,
				Index:      i,
				StartTime:  float64(i) * params.SegmentSeconds,
				EndTime:    float64(i)*params.SegmentSeconds + float64(len(chunk))/float64(sampleRate),
				SampleRate: sampleRate,
			}
			if _, err := svc.IndexSegment(ctx, seg, chunk); err != nil {
				if fingerprint.IsRejected(err) {
					log.Debugf("job %s: skipping segment %d: %v", job.ID, i, err)
				} else {
					return err
				}
			} else {
				indexed++
			}
			step := fmt.Sprintf("segment %d/%d", i+1, len(chunks))
			if err := report(float32(i+1)/float32(len(chunks)), step); err != nil {
				return err
			}
		}
		log.Infof("job %s: indexed %d/%d segments of %s", job.ID, indexed, len(chunks), job.TargetID)
		return nil
	}
}

// NewReindexHandler builds the handler for corpus reindex jobs.
func NewReindexHandler(svc Indexer) HandlerFunc {
	return func(ctx context.Context, job *models.ProcessingJob, report ProgressFunc) error {
		if err := report(0, "reloading corpus"); err != nil {
			return err
		}
		n, err := svc.ReloadCorpus()
		if err != nil {
			return err
		}
		return report(1, fmt.Sprintf("loaded %d fingerprints", n))
	}
}
