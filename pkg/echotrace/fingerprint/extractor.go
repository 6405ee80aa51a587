package fingerprint

import (
	"math"

	"github.com/echotrace/echotrace/pkg/models"
)

// Tunables. Changing VectorDim invalidates every stored fingerprint, so the
// extractor and the corpus must always agree on it.
const (
	DefaultVectorDim     = 128
	DefaultPeaksPerFrame = 5
	DefaultNoiseFloorDB  = -60.0
	DefaultSilenceRMS    = 1e-3
)

// Config holds the extraction parameters. Zero values fall back to the
// package defaults.
type Config struct {
	WindowSize    int
	HopSize       int
	VectorDim     int
	PeaksPerFrame int
	NoiseFloorDB  float64
	SilenceRMS    float64
}

func (c Config) withDefaults() Config {
	if c.WindowSize == 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.HopSize == 0 {
		c.HopSize = DefaultHopSize
	}
	if c.VectorDim == 0 {
		c.VectorDim = DefaultVectorDim
	}
	if c.PeaksPerFrame == 0 {
		c.PeaksPerFrame = DefaultPeaksPerFrame
	}
	if c.NoiseFloorDB == 0 {
		c.NoiseFloorDB = DefaultNoiseFloorDB
	}
	if c.SilenceRMS == 0 {
		c.SilenceRMS = DefaultSilenceRMS
	}
	return c
}

// Extractor turns mono PCM sample buffers into normalized fingerprints.
// It is stateless and safe for concurrent use.
type Extractor struct {
	cfg Config
}

func NewExtractor(cfg Config) *Extractor {
	return &Extractor{cfg: cfg.withDefaults()}
}

// VectorDim returns the dimensionality of extracted vectors.
func (e *Extractor) VectorDim() int { return e.cfg.VectorDim }

// MinSamples returns the minimum input length Extract accepts.
func (e *Extractor) MinSamples() int { return e.cfg.WindowSize }

// Extract computes a fingerprint for the given samples. It is a pure
// function of its inputs and the extractor configuration.
//
// Pipeline: validate → STFT → peak picking → frequency-band reduction to a
// fixed VectorDim vector → zero-mean unit-L2 normalization → content digest
// over the quantized vector.
func (e *Extractor) Extract(samples []float32, sampleRate uint32) (*models.Fingerprint, error) {
	if len(samples) < e.cfg.WindowSize {
		return nil, ErrInsufficientSamples
	}
	if RMS(samples) < e.cfg.SilenceRMS {
		return nil, ErrSilenceDetected
	}

	f64 := make([]float64, len(samples))
	for i, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return nil, ErrNumericInstability
		}
		f64[i] = float64(s)
	}

	spec, err := STFT(f64, e.cfg.WindowSize, e.cfg.HopSize)
	if err != nil {
		return nil, ErrInsufficientSamples
	}

	peaks := ExtractPeaks(spec, e.cfg.PeaksPerFrame, e.cfg.NoiseFloorDB)
	if len(peaks) == 0 {
		// everything below the noise floor behaves like silence
		return nil, ErrSilenceDetected
	}

	nBins := len(spec[0])
	raw := reducePeaks(peaks, nBins, e.cfg.VectorDim)

	vec, err := normalize(raw)
	if err != nil {
		return nil, err
	}

	duration := float64(len(samples)) / float64(sampleRate)
	return &models.Fingerprint{
		Vector:       vec,
		Digest:       Digest(vec),
		SampleRate:   sampleRate,
		SegmentStart: 0,
		SegmentEnd:   duration,
	}, nil
}

// reducePeaks bins peaks into dim frequency buckets and accumulates their
// magnitudes, guaranteeing fixed-size output regardless of segment length.
func reducePeaks(peaks []Peak, nBins, dim int) []float64 {
	raw := make([]float64, dim)
	for _, p := range peaks {
		bucket := p.Bin * dim / nBins
		if bucket >= dim {
			bucket = dim - 1
		}
		raw[bucket] += p.Mag
	}
	return raw
}

// normalize subtracts the mean and scales to unit L2 norm. NaN/Inf anywhere
// aborts extraction; a zero-norm vector cannot happen once peaks survived
// the noise floor, but is guarded anyway.
func normalize(raw []float64) ([]float32, error) {
	var mean float64
	for _, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrNumericInstability
		}
		mean += v
	}
	mean /= float64(len(raw))

	var sumSq float64
	centered := make([]float64, len(raw))
	for i, v := range raw {
		c := v - mean
		centered[i] = c
		sumSq += c * c
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, ErrNumericInstability
	}

	vec := make([]float32, len(raw))
	for i, c := range centered {
		vec[i] = float32(c / norm)
	}
	return vec, nil
}
