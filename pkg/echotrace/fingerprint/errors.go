package fingerprint

import "errors"

// Extraction failure modes. These surface to the immediate caller and are
// never retried; a job handler that hits one marks the job failed with the
// message attached.
var (
	// ErrInsufficientSamples: the input is shorter than one analysis window.
	ErrInsufficientSamples = errors.New("insufficient samples for fingerprint extraction")

	// ErrSilenceDetected: RMS energy below the silence threshold. Silence is
	// reported as a distinct error rather than stored as a degenerate
	// fingerprint, so low-energy segments can never rank as confident matches.
	ErrSilenceDetected = errors.New("silence detected, no fingerprint extracted")

	// ErrNumericInstability: NaN or Inf encountered during extraction.
	ErrNumericInstability = errors.New("numeric instability during fingerprint extraction")
)

// IsRejected reports whether err is a per-segment rejection of the input
// audio rather than a system failure. Batch indexers skip rejected segments
// and keep going.
func IsRejected(err error) bool {
	return errors.Is(err, ErrInsufficientSamples) ||
		errors.Is(err, ErrSilenceDetected) ||
		errors.Is(err, ErrNumericInstability)
}
