// Package throughput keeps the history of bricks completed per frame and
// predicts how many bricks the next budget window can take.
package throughput

// DefaultCapacity is the number of samples kept when no capacity is configured
const DefaultCapacity = 15

// Ring is a fixed-capacity history of per-frame brick counts.
// Pushing into a full ring overwrites the oldest sample.
type Ring struct {
	buf   []float64
	start int
	n     int
}

// NewRing creates a ring holding up to capacity samples
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]float64, capacity)}
}

// Push appends a sample, evicting the oldest when full
func (r *Ring) Push(v float64) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// At returns the i-th sample, 0 being the oldest
func (r *Ring) At(i int) float64 {
	if i < 0 || i >= r.n {
		panic("throughput: ring index out of range")
	}
	return r.buf[(r.start+i)%len(r.buf)]
}

// Last returns the newest sample and false when the ring is empty
func (r *Ring) Last() (float64, bool) {
	if r.n == 0 {
		return 0, false
	}
	return r.At(r.n - 1), true
}

// Len returns the number of samples held
func (r *Ring) Len() int { return r.n }

// Cap returns the capacity
func (r *Ring) Cap() int { return len(r.buf) }

// Values returns a copy of the samples, oldest first
func (r *Ring) Values() []float64 {
	out := make([]float64, r.n)
	for i := range out {
		out[i] = r.At(i)
	}
	return out
}

// Reset drops every sample
func (r *Ring) Reset() {
	r.start, r.n = 0, 0
}
