package match

import (
	"context"
	"math"
	"testing"

	"github.com/echotrace/echotrace/pkg/models"
)

func storedFP(sourceID string, segIdx int, segStart float64, digest uint64, vector ...float32) models.StoredFingerprint {
	return models.StoredFingerprint{
		ID:           sourceID,
		SourceID:     sourceID,
		SegmentIndex: segIdx,
		Fingerprint: models.Fingerprint{
			Vector:       vector,
			Digest:       digest,
			SegmentStart: segStart,
		},
	}
}

func TestSearchRanksIdenticalFirst(t *testing.T) {
	invSqrt2 := float32(1 / math.Sqrt2)
	query := fp(100, invSqrt2, -invSqrt2, 0, 0)

	pool := []models.StoredFingerprint{
		storedFP("orthogonal", 0, 0, 2, 0, 0, invSqrt2, -invSqrt2),
		storedFP("identical", 0, 0, 1, invSqrt2, -invSqrt2, 0, 0),
	}

	matches, err := Search(context.Background(), query, models.NewSliceSource(pool), 2, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	if matches[0].Candidate.SourceID != "identical" {
		t.Errorf("Expected identical candidate first, got %s", matches[0].Candidate.SourceID)
	}
	if matches[0].Confidence <= matches[1].Confidence {
		t.Errorf("Expected descending confidence: %g then %g", matches[0].Confidence, matches[1].Confidence)
	}
}

func TestSearchTopKBound(t *testing.T) {
	invSqrt2 := float32(1 / math.Sqrt2)
	query := fp(100, invSqrt2, -invSqrt2)

	pool := make([]models.StoredFingerprint, 50)
	for i := range pool {
		// progressively rotated vectors, all distinct from the query
		angle := float64(i+1) * 0.02
		c := float32(math.Cos(angle) / math.Sqrt2)
		s := float32(math.Sin(angle) / math.Sqrt2)
		pool[i] = storedFP("src", i, float64(i), uint64(i+1), c-s, -(c + s))
	}

	matches, err := Search(context.Background(), query, models.NewSliceSource(pool), 5, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 5 {
		t.Fatalf("Expected 5 matches, got %d", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		if matches[i-1].Confidence < matches[i].Confidence {
			t.Errorf("Ranking not descending at %d: %g < %g", i, matches[i-1].Confidence, matches[i].Confidence)
		}
	}
	// the least-rotated candidate is the closest
	if matches[0].Candidate.SegmentIndex != 0 {
		t.Errorf("Expected segment 0 first, got %d", matches[0].Candidate.SegmentIndex)
	}
}

// TestSearchDeterministicTieBreak: equal scores are broken by earlier
// segment start, so repeated runs return the same order.
func TestSearchDeterministicTieBreak(t *testing.T) {
	invSqrt2 := float32(1 / math.Sqrt2)
	query := fp(100, invSqrt2, -invSqrt2)

	pool := []models.StoredFingerprint{
		storedFP("late", 1, 30.0, 2, invSqrt2, -invSqrt2),
		storedFP("early", 0, 10.0, 1, invSqrt2, -invSqrt2),
	}

	for run := 0; run < 5; run++ {
		matches, err := Search(context.Background(), query, models.NewSliceSource(pool), 2, 0)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(matches) != 2 {
			t.Fatalf("Expected 2 matches, got %d", len(matches))
		}
		if matches[0].Candidate.SourceID != "early" {
			t.Fatalf("Run %d: expected earlier segment first, got %s", run, matches[0].Candidate.SourceID)
		}
	}
}

func TestSearchSkipsDimensionMismatch(t *testing.T) {
	invSqrt2 := float32(1 / math.Sqrt2)
	query := fp(100, invSqrt2, -invSqrt2)

	pool := []models.StoredFingerprint{
		storedFP("wrong-dim", 0, 0, 2, 0.5, -0.5, 0.5, -0.5),
		storedFP("right-dim", 0, 0, 3, invSqrt2, -invSqrt2),
	}

	matches, err := Search(context.Background(), query, models.NewSliceSource(pool), 10, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match after skipping mismatched candidate, got %d", len(matches))
	}
	if matches[0].Candidate.SourceID != "right-dim" {
		t.Errorf("Expected right-dim candidate, got %s", matches[0].Candidate.SourceID)
	}
}

func TestSearchMinConfidenceFilter(t *testing.T) {
	invSqrt2 := float32(1 / math.Sqrt2)
	query := fp(100, invSqrt2, -invSqrt2, 0, 0)

	pool := []models.StoredFingerprint{
		storedFP("identical", 0, 0, 1, invSqrt2, -invSqrt2, 0, 0),
		storedFP("orthogonal", 0, 0, 2, 0, 0, invSqrt2, -invSqrt2),
	}

	matches, err := Search(context.Background(), query, models.NewSliceSource(pool), 10, 0.9)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected only the identical match above 0.9, got %d", len(matches))
	}
}

func TestSearchEmptyPool(t *testing.T) {
	query := fp(100, 0.5, -0.5)

	matches, err := Search(context.Background(), query, models.NewSliceSource(nil), 5, 0)
	if err != nil {
		t.Fatalf("Expected no error on empty pool, got %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected no matches, got %d", len(matches))
	}
}

func TestSearchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	query := fp(100, 0.5, -0.5)
	pool := []models.StoredFingerprint{storedFP("a", 0, 0, 1, 0.5, -0.5)}

	_, err := Search(ctx, query, models.NewSliceSource(pool), 5, 0)
	if err == nil {
		t.Error("Expected error from cancelled context")
	}
}

func TestCorpusSnapshotIsolation(t *testing.T) {
	c := NewCorpus()
	if c.Len() != 0 {
		t.Fatalf("Expected empty corpus, got %d", c.Len())
	}

	first := []models.StoredFingerprint{storedFP("a", 0, 0, 1, 0.5, -0.5)}
	c.Replace(first)

	src := c.Source()

	// a reload must not affect the iteration already in progress
	c.Replace([]models.StoredFingerprint{
		storedFP("b", 0, 0, 2, 0.5, -0.5),
		storedFP("c", 0, 0, 3, 0.5, -0.5),
	})

	seen := 0
	for {
		sf, err := src.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if sf == nil {
			break
		}
		if sf.SourceID != "a" {
			t.Errorf("Expected old snapshot item, got %s", sf.SourceID)
		}
		seen++
	}
	if seen != 1 {
		t.Errorf("Expected 1 item from old snapshot, got %d", seen)
	}
	if c.Len() != 2 {
		t.Errorf("Expected new snapshot size 2, got %d", c.Len())
	}
}
