package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ReadWAV decodes a PCM WAV file into mono float32 samples in [-1, 1] and
// returns the sample rate. Stereo input is downmixed by averaging channels.
func ReadWAV(path string) ([]float32, uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	samples, rate, err := DecodeWAV(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return samples, rate, nil
}

// DecodeWAV decodes PCM WAV data from rs, e.g. an uploaded file.
func DecodeWAV(rs io.ReadSeeker) ([]float32, uint32, error) {
	decoder := wav.NewDecoder(rs)
	if !decoder.IsValidFile() {
		return nil, 0, errors.New("invalid WAV data")
	}

	duration, err := decoder.Duration()
	if err != nil {
		return nil, 0, fmt.Errorf("reading duration: %w", err)
	}
	totalFrames := int(duration.Seconds() * float64(decoder.SampleRate))
	if totalFrames == 0 {
		return nil, 0, errors.New("no samples in WAV data")
	}

	numChans := int(decoder.NumChans)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: numChans,
			SampleRate:  int(decoder.SampleRate),
		},
		Data:           make([]int, totalFrames*numChans),
		SourceBitDepth: int(decoder.BitDepth),
	}

	n, err := decoder.PCMBuffer(buf)
	if err != nil {
		return nil, 0, fmt.Errorf("reading samples: %w", err)
	}
	data := buf.Data[:n]

	scale := float64(int(1) << (uint(decoder.BitDepth) - 1))
	switch numChans {
	case 1:
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(float64(v) / scale)
		}
		return out, decoder.SampleRate, nil
	case 2:
		frames := len(data) / 2
		out := make([]float32, frames)
		for i := 0; i < frames; i++ {
			l := float64(data[2*i]) / scale
			r := float64(data[2*i+1]) / scale
			out[i] = float32((l + r) * 0.5)
		}
		return out, decoder.SampleRate, nil
	default:
		return nil, 0, errors.New("unsupported channel count: only mono/stereo supported")
	}
}

// SplitSegments slices samples into consecutive spans of segmentSeconds.
// A short final remainder is kept only if it is at least minSeconds long.
func SplitSegments(samples []float32, sampleRate uint32, segmentSeconds, minSeconds float64) [][]float32 {
	segLen := int(segmentSeconds * float64(sampleRate))
	minLen := int(minSeconds * float64(sampleRate))
	if segLen <= 0 {
		return nil
	}

	var out [][]float32
	for start := 0; start < len(samples); start += segLen {
		end := start + segLen
		if end > len(samples) {
			end = len(samples)
		}
		if end-start < minLen {
			break
		}
		out = append(out, samples[start:end])
	}
	return out
}
