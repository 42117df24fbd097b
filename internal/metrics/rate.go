package metrics

import "time"

// rateTracker differences a monotonically increasing byte counter.
type rateTracker struct {
	now    func() time.Time
	prev   uint64
	prevAt time.Time
	primed bool
}

// update stores value as the new baseline and returns the MiB/s rate since
// the previous call. It reports warming on the first call and whenever the
// counter went backwards.
func (r *rateTracker) update(value uint64) (mbps float64, warm bool) {
	now := r.now()
	if !r.primed || value < r.prev {
		r.prev, r.prevAt, r.primed = value, now, true
		return 0, true
	}

	elapsed := now.Sub(r.prevAt).Seconds()
	delta := value - r.prev
	r.prev, r.prevAt = value, now

	if elapsed <= 0 {
		return 0, false
	}
	return float64(delta) / bytesPerMiB / elapsed, false
}
