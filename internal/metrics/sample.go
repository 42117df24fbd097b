// Package metrics turns raw OS and GPU counters into rate-normalized samples
// and keeps short histories of them.
//
// Collectors are stateful and not safe for concurrent use. Each instance
// owns its previous snapshot; the first call after construction, and any call
// after the counters reset, returns a warming sample.
package metrics

import "time"

// LabelWarming marks the placeholder sample returned while a collector has
// no baseline yet.
const LabelWarming = "warming"

// Units used by the collectors.
const (
	UnitPercent = "%"
	UnitMBps    = "MB/s"
	UnitGiB     = "GiB"
	UnitWatts   = "W"
	UnitCelsius = "°C"
)

const (
	bytesPerMiB = 1024 * 1024
	bytesPerGiB = 1024 * 1024 * 1024
)

// Sample is one collector reading.
type Sample struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Label string  `json:"label"`
}

// Warming reports whether s is a warm-up placeholder.
func (s Sample) Warming() bool {
	return s.Label == LabelWarming
}

// Collector produces one sample per call. A false result means the source
// could not be read this time; collector state is left untouched.
type Collector interface {
	Name() string
	Sample() (Sample, bool)
}

func warming(unit string) Sample {
	return Sample{Unit: unit, Label: LabelWarming}
}

// Option configures rate collectors.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now as the time source of a rate collector.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
