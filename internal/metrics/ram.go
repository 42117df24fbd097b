package metrics

import (
	"fmt"

	"github.com/aiz-dev/hwtelemetry/internal/counters"
)

// RAMInfo is the physical memory picture in GiB.
type RAMInfo struct {
	UsedGiB  float64 `json:"used_gib"`
	TotalGiB float64 `json:"total_gib"`
	UsedPct  float64 `json:"used_pct"`
}

// ReadRAM derives used memory as total minus available.
func ReadRAM(src counters.Source) (RAMInfo, bool) {
	mem, err := sourceOrDefault(src).Memory()
	if err != nil || mem.TotalBytes == 0 {
		return RAMInfo{}, false
	}
	total := float64(mem.TotalBytes) / bytesPerGiB
	avail := float64(mem.AvailableBytes) / bytesPerGiB
	used := max(total-avail, 0)
	return RAMInfo{UsedGiB: used, TotalGiB: total, UsedPct: 100 * used / total}, true
}

// RAMUsage reports used physical memory as a percentage.
type RAMUsage struct {
	src counters.Source
}

// NewRAMUsage reads from src, or from the platform default when src is nil.
func NewRAMUsage(src counters.Source) *RAMUsage {
	return &RAMUsage{src: sourceOrDefault(src)}
}

func (r *RAMUsage) Name() string { return "ram" }

func (r *RAMUsage) Sample() (Sample, bool) {
	info, ok := ReadRAM(r.src)
	if !ok {
		return Sample{}, false
	}
	return Sample{
		Value: info.UsedPct,
		Unit:  UnitPercent,
		Label: fmt.Sprintf("%.1f/%.1f GiB", info.UsedGiB, info.TotalGiB),
	}, true
}
