package metrics

import "math"

// Timeline is a fixed-capacity ring of samples. It is not safe for
// concurrent use.
type Timeline struct {
	buf  []float64
	head int
	size int
}

// NewTimeline allocates a timeline holding up to capacity samples.
// Negative capacities are treated as zero.
func NewTimeline(capacity int) *Timeline {
	return &Timeline{buf: make([]float64, max(capacity, 0))}
}

// Push appends v, overwriting the oldest sample when full. It is a no-op at
// capacity zero.
func (t *Timeline) Push(v float64) {
	if len(t.buf) == 0 {
		return
	}
	t.buf[t.head] = v
	t.head = (t.head + 1) % len(t.buf)
	if t.size < len(t.buf) {
		t.size++
	}
}

func (t *Timeline) Size() int     { return t.size }
func (t *Timeline) Capacity() int { return len(t.buf) }

// Values returns a copy of the samples, oldest first.
func (t *Timeline) Values() []float64 {
	out := make([]float64, 0, t.size)
	start := 0
	if t.size == len(t.buf) {
		start = t.head
	}
	for i := 0; i < t.size; i++ {
		out = append(out, t.buf[(start+i)%len(t.buf)])
	}
	return out
}

// Latest returns the most recent sample.
func (t *Timeline) Latest() (float64, bool) {
	if t.size == 0 {
		return 0, false
	}
	return t.buf[(t.head+len(t.buf)-1)%len(t.buf)], true
}

// MaxLast returns the maximum of the n most recent samples, or -Inf when the
// timeline is empty or n <= 0.
func (t *Timeline) MaxLast(n int) float64 {
	best := math.Inf(-1)
	count := min(n, t.size)
	for i := 0; i < count; i++ {
		idx := (t.head + len(t.buf) - 1 - i) % len(t.buf)
		best = max(best, t.buf[idx])
	}
	return best
}

// Max returns the maximum over all stored samples.
func (t *Timeline) Max() float64 {
	return t.MaxLast(t.size)
}
