package match

import (
	"errors"
	"math"

	"github.com/echotrace/echotrace/pkg/models"
)

// ErrDimensionMismatch: query and candidate vectors differ in length. Fatal
// for that comparison only; a search skips the candidate and keeps scanning.
var ErrDimensionMismatch = errors.New("fingerprint dimension mismatch")

// MaxReferenceDistance is the distance that maps to zero similarity. Vectors
// are unit-L2-normalized, so 2.0 is the diameter of the unit sphere and the
// largest distance two fingerprints can have.
const MaxReferenceDistance = 2.0

// Score computes the pairwise similarity between a query and one candidate.
//
// Both vectors are zero-mean and unit-norm (the extractor's invariant), so
// the absolute dot product is the normalized cross-correlation at zero lag.
// Equal digests short-circuit to full confidence without touching the
// vectors.
func Score(query, candidate *models.Fingerprint) (models.MatchScore, error) {
	if query.Dim() != candidate.Dim() {
		return models.MatchScore{}, ErrDimensionMismatch
	}
	if query.Digest == candidate.Digest {
		return models.MatchScore{
			Correlation:         1,
			EuclideanSimilarity: 1,
			EuclideanDistance:   0,
			Confidence:          1,
		}, nil
	}

	var dot, distSq float64
	for i := range query.Vector {
		q := float64(query.Vector[i])
		c := float64(candidate.Vector[i])
		dot += q * c
		d := q - c
		distSq += d * d
	}

	corr := clamp01(math.Abs(dot))
	dist := math.Sqrt(distSq)
	sim := clamp01(1 - math.Min(1, dist/MaxReferenceDistance))

	return models.MatchScore{
		Correlation:         float32(corr),
		EuclideanSimilarity: float32(sim),
		EuclideanDistance:   float32(dist),
		Confidence:          float32((corr + sim) / 2),
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
