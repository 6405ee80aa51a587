package fingerprint

import (
	"math"
	"sort"
)

// Peak is one spectral landmark: the strongest bins of each STFT frame.
type Peak struct {
	Frame int
	Bin   int
	Mag   float64
	MagDB float64
}

const (
	// neighborhood for the local-maximum check
	freqNeighbor = 3
	timeNeighbor = 1

	// floor to avoid log(0)
	eps = 1e-12
)

// ExtractPeaks picks, per frame, the top-K bins by magnitude that sit above
// noiseFloorDB and are local maxima in a small time-frequency neighborhood.
// Peaks are returned sorted by (frame, bin) so downstream reduction is
// deterministic.
func ExtractPeaks(spec [][]float64, topK int, noiseFloorDB float64) []Peak {
	if len(spec) == 0 || len(spec[0]) == 0 {
		return nil
	}
	nFrames := len(spec)
	nBins := len(spec[0])

	peaks := make([]Peak, 0, nFrames*topK)
	frameCands := make([]Peak, 0, 16)

	for t := 0; t < nFrames; t++ {
		frameCands = frameCands[:0]
		for b := 0; b < nBins; b++ {
			mag := spec[t][b]
			magDB := 20.0 * math.Log10(mag+eps)
			if magDB < noiseFloorDB {
				continue
			}
			if !isLocalMax(spec, t, b, mag, nFrames, nBins) {
				continue
			}
			frameCands = append(frameCands, Peak{Frame: t, Bin: b, Mag: mag, MagDB: magDB})
		}
		if len(frameCands) > topK {
			sort.Slice(frameCands, func(i, j int) bool { return frameCands[i].Mag > frameCands[j].Mag })
			frameCands = frameCands[:topK]
		}
		peaks = append(peaks, frameCands...)
	}

	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].Frame == peaks[j].Frame {
			return peaks[i].Bin < peaks[j].Bin
		}
		return peaks[i].Frame < peaks[j].Frame
	})
	return peaks
}

func isLocalMax(spec [][]float64, t, b int, mag float64, nFrames, nBins int) bool {
	for dt := -timeNeighbor; dt <= timeNeighbor; dt++ {
		tt := t + dt
		if tt < 0 || tt >= nFrames {
			continue
		}
		for df := -freqNeighbor; df <= freqNeighbor; df++ {
			bb := b + df
			if bb < 0 || bb >= nBins || (dt == 0 && df == 0) {
				continue
			}
			if spec[tt][bb] > mag {
				return false
			}
		}
	}
	return true
}
