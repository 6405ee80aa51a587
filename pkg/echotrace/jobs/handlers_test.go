package jobs

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/echotrace/echotrace/pkg/models"
)

// fakeIndexer records indexed segments.
type fakeIndexer struct {
	mu       sync.Mutex
	segments []models.Segment
	reloads  int
	indexErr error
}

func (f *fakeIndexer) IndexSegment(ctx context.Context, seg models.Segment, samples []float32) (*models.StoredFingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	f.segments = append(f.segments, seg)
	return &models.StoredFingerprint{SourceID: seg.SourceID, SegmentIndex: seg.Index}, nil
}

func (f *fakeIndexer) ReloadCorpus() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return 42, nil
}

// writeToneWAV writes a mono 16-bit sine WAV named <target>.wav into dir.
func writeToneWAV(t *testing.T, dir, target string, sampleRate int, seconds float64) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, target+".wav"))
	if err != nil {
		t.Fatalf("Failed to create WAV file: %v", err)
	}
	defer f.Close()

	numSamples := int(seconds * float64(sampleRate))
	data := make([]int, numSamples)
	for i := range data {
		data[i] = int(math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)) * 32000)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Failed to write WAV data: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to close WAV encoder: %v", err)
	}
}

func noProgress(progress float32, step string) error { return nil }

func TestFingerprintHandlerIndexesSegments(t *testing.T) {
	mediaDir := t.TempDir()
	writeToneWAV(t, mediaDir, "video-1", 8000, 5.0)

	idx := &fakeIndexer{}
	handler := NewFingerprintHandler(idx, mediaDir, nopLogger{})

	job := &models.ProcessingJob{
		ID:         "job-1",
		JobType:    models.JobTypeFingerprintVideo,
		TargetID:   "video-1",
		Parameters: json.RawMessage(`{"segment_seconds": 2}`),
	}
	if err := handler(context.Background(), job, noProgress); err != nil {
		t.Fatalf("Handler failed: %v", err)
	}

	// 5 seconds at 2s per segment: two full segments plus a 1s remainder
	if len(idx.segments) != 3 {
		t.Fatalf("Expected 3 indexed segments, got %d", len(idx.segments))
	}
	for i, seg := range idx.segments {
		if seg.SourceID != "video-1" || seg.Index != i {
			t.Errorf("Segment %d: unexpected identity %+v", i, seg)
		}
		if seg.StartTime != float64(i)*2 {
			t.Errorf("Segment %d: expected start %g, got %g", i, float64(i)*2, seg.StartTime)
		}
	}
}

func TestFingerprintHandlerReportsProgress(t *testing.T) {
	mediaDir := t.TempDir()
	writeToneWAV(t, mediaDir, "video-1", 8000, 4.0)

	idx := &fakeIndexer{}
	handler := NewFingerprintHandler(idx, mediaDir, nopLogger{})

	var steps []string
	report := func(progress float32, step string) error {
		steps = append(steps, step)
		return nil
	}

	job := &models.ProcessingJob{
		ID:         "job-1",
		TargetID:   "video-1",
		Parameters: json.RawMessage(`{"segment_seconds": 2}`),
	}
	if err := handler(context.Background(), job, report); err != nil {
		t.Fatalf("Handler failed: %v", err)
	}

	if len(steps) != 3 { // "reading audio" plus one per segment
		t.Fatalf("Expected 3 progress reports, got %d: %v", len(steps), steps)
	}
	if steps[0] != "reading audio" {
		t.Errorf("Expected first step 'reading audio', got %q", steps[0])
	}
	if steps[2] != "segment 2/2" {
		t.Errorf("Expected last step 'segment 2/2', got %q", steps[2])
	}
}

func TestFingerprintHandlerStopsOnCancelledCheckpoint(t *testing.T) {
	mediaDir := t.TempDir()
	writeToneWAV(t, mediaDir, "video-1", 8000, 6.0)

	idx := &fakeIndexer{}
	handler := NewFingerprintHandler(idx, mediaDir, nopLogger{})

	calls := 0
	report := func(progress float32, step string) error {
		calls++
		if calls >= 2 { // cancel after the first segment
			return ErrJobCancelled
		}
		return nil
	}

	job := &models.ProcessingJob{
		ID:         "job-1",
		TargetID:   "video-1",
		Parameters: json.RawMessage(`{"segment_seconds": 2}`),
	}
	err := handler(context.Background(), job, report)
	if err != ErrJobCancelled {
		t.Fatalf("Expected ErrJobCancelled, got %v", err)
	}
	if len(idx.segments) != 1 {
		t.Errorf("Expected indexing to stop after 1 segment, got %d", len(idx.segments))
	}
}

func TestFingerprintHandlerMissingFile(t *testing.T) {
	idx := &fakeIndexer{}
	handler := NewFingerprintHandler(idx, t.TempDir(), nopLogger{})

	job := &models.ProcessingJob{ID: "job-1", TargetID: "absent"}
	if err := handler(context.Background(), job, noProgress); err == nil {
		t.Error("Expected error for missing audio file")
	}
}

func TestFingerprintHandlerBadParameters(t *testing.T) {
	idx := &fakeIndexer{}
	handler := NewFingerprintHandler(idx, t.TempDir(), nopLogger{})

	job := &models.ProcessingJob{
		ID:         "job-1",
		TargetID:   "video-1",
		Parameters: json.RawMessage(`{broken`),
	}
	if err := handler(context.Background(), job, noProgress); err == nil {
		t.Error("Expected error for malformed parameters")
	}
}

func TestReindexHandler(t *testing.T) {
	idx := &fakeIndexer{}
	handler := NewReindexHandler(idx)

	var lastStep string
	report := func(progress float32, step string) error {
		lastStep = step
		return nil
	}

	job := &models.ProcessingJob{ID: "job-1", JobType: models.JobTypeReindexCorpus}
	if err := handler(context.Background(), job, report); err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	if idx.reloads != 1 {
		t.Errorf("Expected 1 reload, got %d", idx.reloads)
	}
	if lastStep != "loaded 42 fingerprints" {
		t.Errorf("Unexpected final step %q", lastStep)
	}
}
