package fingerprint

import (
	"encoding/binary"
	"math"

	"github.com/OneOfOne/xxhash"
)

// quantization scale applied before hashing. Two vectors that differ by less
// than half a quantization step in every component share a digest, which is
// what makes the matcher's exact-match fast path useful.
const digestScale = 1e4

// Digest hashes the quantized vector into a 64-bit content digest.
func Digest(vector []float32) uint64 {
	buf := make([]byte, 2*len(vector))
	for i, v := range vector {
		q := math.Round(float64(v) * digestScale)
		if q > math.MaxInt16 {
			q = math.MaxInt16
		} else if q < math.MinInt16 {
			q = math.MinInt16
		}
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(q)))
	}
	return xxhash.Checksum64(buf)
}
