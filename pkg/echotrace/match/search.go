package match

import (
	"container/heap"
	"context"
	"errors"
	"sort"

	"github.com/echotrace/echotrace/pkg/models"
)

// cancellation is checked once per this many candidates during a scan
const cancelCheckInterval = 256

// Search scans a lazy candidate source and returns the topK matches with
// confidence >= minConfidence, best first. The source may be backed by a
// database cursor; candidates are scored one at a time and only the current
// top-k are retained.
//
// Ordering is deterministic: confidence descending, then euclidean distance
// ascending, then earlier segment start. Candidates whose dimensionality
// does not match the query are skipped; an empty pool yields an empty
// result, not an error.
func Search(ctx context.Context, query *models.Fingerprint, source models.CandidateSource, topK int, minConfidence float32) ([]models.Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	h := &matchHeap{}
	heap.Init(h)

	seen := 0
	for {
		if seen%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cand, err := source.Next()
		if err != nil {
			return nil, err
		}
		if cand == nil {
			break
		}
		seen++

		score, err := Score(query, &cand.Fingerprint)
		if err != nil {
			if errors.Is(err, ErrDimensionMismatch) {
				continue
			}
			return nil, err
		}
		if score.Confidence < minConfidence {
			continue
		}

		m := models.Match{QueryDigest: query.Digest, Candidate: cand, MatchScore: score}
		if h.Len() < topK {
			heap.Push(h, m)
		} else if better(m, (*h)[0]) {
			heap.Pop(h)
			heap.Push(h, m)
		}
	}

	out := make([]models.Match, h.Len())
	for i := range out {
		out[i] = (*h)[i]
	}
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out, nil
}

// better reports whether a ranks strictly before b.
func better(a, b models.Match) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.EuclideanDistance != b.EuclideanDistance {
		return a.EuclideanDistance < b.EuclideanDistance
	}
	return a.Candidate.SegmentStart < b.Candidate.SegmentStart
}

// matchHeap is a min-heap on the ranking order: the root is the worst
// retained match, evicted when a better candidate arrives.
type matchHeap []models.Match

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *matchHeap) Push(x any) { *h = append(*h, x.(models.Match)) }

func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
