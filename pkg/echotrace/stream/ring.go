package stream

// Ring is a bounded FIFO of audio samples with sliding-window semantics:
// writing past capacity evicts the oldest samples so the buffer always holds
// the most recent Cap() samples. Not safe for concurrent use; the session
// serializes access.
type Ring struct {
	buf   []float32
	start int
	size  int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]float32, capacity)}
}

func (r *Ring) Len() int { return r.size }
func (r *Ring) Cap() int { return len(r.buf) }

// Write appends samples, evicting the oldest as needed. It returns the
// number of samples evicted.
func (r *Ring) Write(samples []float32) int {
	capacity := len(r.buf)
	evicted := 0

	// a write larger than the buffer keeps only its tail
	if len(samples) >= capacity {
		evicted = r.size + len(samples) - capacity
		copy(r.buf, samples[len(samples)-capacity:])
		r.start = 0
		r.size = capacity
		return evicted
	}

	overflow := r.size + len(samples) - capacity
	if overflow > 0 {
		r.start = (r.start + overflow) % capacity
		r.size -= overflow
		evicted = overflow
	}
	end := (r.start + r.size) % capacity
	n := copy(r.buf[end:], samples)
	copy(r.buf, samples[n:])
	r.size += len(samples)
	return evicted
}

// Snapshot copies the buffered samples in order, oldest first.
func (r *Ring) Snapshot() []float32 {
	out := make([]float32, r.size)
	n := copy(out, r.buf[r.start:min(r.start+r.size, len(r.buf))])
	copy(out[n:], r.buf[:r.size-n])
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
