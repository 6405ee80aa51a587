package storage

import (
	"math"
	"testing"
)

func TestVectorCodecRoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, float32(math.Pi), -3.4e38, 1.2e-38}

	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector failed: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("Expected %d components, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("Component %d: expected %g, got %g", i, in[i], out[i])
		}
	}
}

func TestVectorCodecEmpty(t *testing.T) {
	out, err := DecodeVector(EncodeVector(nil))
	if err != nil {
		t.Fatalf("DecodeVector failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Expected empty vector, got %d components", len(out))
	}
}

func TestDecodeVectorTruncatedBlob(t *testing.T) {
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for blob length not divisible by 4")
	}
}
