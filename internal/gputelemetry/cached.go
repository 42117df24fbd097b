package gputelemetry

import (
	"sync"
	"time"
)

// Sampler is anything that reads every GPU in one pass.
type Sampler interface {
	SampleAll() []Telemetry
}

// Cached serves per-index reads from one SampleAll pass that stays fresh for
// ttl. Collectors that each need GPU 0 within one tick then share a single
// walk of the backends.
type Cached struct {
	src Sampler
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	at    time.Time
	rows  []Telemetry
	valid bool
}

// NewCached wraps src. A ttl of zero or less disables caching.
func NewCached(src Sampler, ttl time.Duration) *Cached {
	return &Cached{src: src, ttl: ttl, now: time.Now}
}

// SampleAll returns the cached pass, refreshing it when stale.
func (c *Cached) SampleAll() []Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.valid || c.ttl <= 0 || now.Sub(c.at) >= c.ttl {
		c.rows = c.src.SampleAll()
		c.at = now
		c.valid = true
	}
	out := make([]Telemetry, len(c.rows))
	copy(out, c.rows)
	return out
}

// SampleOne returns the reading for index from the current pass.
func (c *Cached) SampleOne(index int) (Telemetry, bool) {
	for _, t := range c.SampleAll() {
		if t.Index == index {
			return t, true
		}
	}
	return Telemetry{}, false
}
