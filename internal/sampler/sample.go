package sampler

import (
	"time"

	"github.com/aiz-dev/hwtelemetry/internal/gputelemetry"
	"github.com/aiz-dev/hwtelemetry/internal/procscan"
)

// Snapshot is everything gathered on one tick. Snapshots are never mutated
// after publication, so readers may share them freely.
type Snapshot struct {
	Sequence  uint64                   `json:"seq"`
	Timestamp time.Time                `json:"ts"`
	Metrics   []Metric                 `json:"metrics"`
	GPUs      []gputelemetry.Telemetry `json:"gpus"`
	Processes []procscan.ProcessInfo   `json:"processes"`
}

// Metric is one collector reading. Value is nil when the collector could not
// be read on this tick.
type Metric struct {
	Name    string   `json:"name"`
	Value   *float64 `json:"value"`
	Unit    string   `json:"unit"`
	Label   string   `json:"label"`
	Warming bool     `json:"warming"`
}

// Metric looks up a collector reading by name.
func (s Snapshot) Metric(name string) (Metric, bool) {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// GPU returns the reading for the given index.
func (s Snapshot) GPU(index int) (gputelemetry.Telemetry, bool) {
	for _, g := range s.GPUs {
		if g.Index == index {
			return g, true
		}
	}
	return gputelemetry.Telemetry{}, false
}

// Series is a copy of one collector's history, oldest first.
type Series struct {
	Name     string    `json:"name"`
	Unit     string    `json:"unit"`
	Capacity int       `json:"capacity"`
	Values   []float64 `json:"values"`
	Max      *float64  `json:"max"`
}
