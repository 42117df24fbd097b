package metrics

import (
	"github.com/aiz-dev/hwtelemetry/internal/counters"
)

const (
	labelCPUAverage = "avg"
	labelCPUMaxCore = "max core"
)

// CPUUsage reports the busy percentage of all CPUs combined.
type CPUUsage struct {
	src    counters.Source
	prev   counters.CPUTimes
	primed bool
}

// NewCPUUsage reads from src, or from the platform default when src is nil.
func NewCPUUsage(src counters.Source) *CPUUsage {
	return &CPUUsage{src: sourceOrDefault(src)}
}

func (c *CPUUsage) Name() string { return "cpu" }

func (c *CPUUsage) Sample() (Sample, bool) {
	cur, err := c.src.CPU()
	if err != nil {
		return Sample{}, false
	}
	if !c.primed || cur.Total < c.prev.Total {
		c.prev, c.primed = cur, true
		return warming(UnitPercent), true
	}
	busy := busyPercent(c.prev, cur)
	c.prev = cur
	return Sample{Value: busy, Unit: UnitPercent, Label: labelCPUAverage}, true
}

// CPUMaxCore reports the busy percentage of the busiest core.
type CPUMaxCore struct {
	src    counters.Source
	prev   []counters.CPUTimes
	primed bool
}

// NewCPUMaxCore reads from src, or from the platform default when src is nil.
func NewCPUMaxCore(src counters.Source) *CPUMaxCore {
	return &CPUMaxCore{src: sourceOrDefault(src)}
}

func (c *CPUMaxCore) Name() string { return "cpu_max_core" }

func (c *CPUMaxCore) Sample() (Sample, bool) {
	cores, err := c.src.PerCore()
	if err != nil {
		return Sample{}, false
	}
	if !c.primed || len(cores) != len(c.prev) || coresWentBackwards(c.prev, cores) {
		c.prev, c.primed = cores, true
		return warming(UnitPercent), true
	}

	var busiest float64
	for i, cur := range cores {
		if cur.Total == c.prev[i].Total {
			continue
		}
		busiest = max(busiest, busyPercent(c.prev[i], cur))
	}
	c.prev = cores
	return Sample{Value: busiest, Unit: UnitPercent, Label: labelCPUMaxCore}, true
}

func coresWentBackwards(prev, cur []counters.CPUTimes) bool {
	for i := range cur {
		if cur[i].Total < prev[i].Total {
			return true
		}
	}
	return false
}

// busyPercent is 100 * (1 - Δidle/Δtotal), or 0 when no time elapsed. Idle
// includes iowait, which the kernel may report lower than before, so Δidle
// is clamped to [0, Δtotal].
func busyPercent(prev, cur counters.CPUTimes) float64 {
	dTotal := cur.Total - prev.Total
	if dTotal == 0 {
		return 0
	}
	var dIdle uint64
	if cur.Idle > prev.Idle {
		dIdle = min(cur.Idle-prev.Idle, dTotal)
	}
	return 100 * (1 - float64(dIdle)/float64(dTotal))
}

func sourceOrDefault(src counters.Source) counters.Source {
	if src == nil {
		return counters.Default()
	}
	return src
}
