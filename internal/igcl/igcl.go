// Package igcl binds the Intel Graphics Control Library (ControlLib.dll) at
// runtime on Windows. Power and utilization are derived from counter deltas
// between consecutive reads of the same device, so the first read of a device
// reports neither.
package igcl

import (
	"errors"
	"sync"

	"github.com/aiz-dev/hwtelemetry/internal/d3dkmt"
)

// Source names this backend in unified telemetry records.
const Source = "igcl"

// ErrUnsupported is returned on platforms without IGCL.
var ErrUnsupported = errors.New("igcl: unsupported platform")

const (
	intelVendorID = 0x8086
	bytesPerGiB   = 1024 * 1024 * 1024

	// ctl_freq_throttle_reason_flag_t bits.
	throttleAveragePowerCap = 1 << 0
	throttleBurstPowerCap   = 1 << 1
	throttleCurrentLimit    = 1 << 2
	throttleThermalLimit    = 1 << 3
	throttlePSUAlert        = 1 << 4
)

// Adapter identifies the Windows display adapter to read. The LUID is
// preferred; PCI ids are the fallback match.
type Adapter struct {
	LUID     d3dkmt.LUID
	VendorID uint32
	DeviceID uint32
}

// PCIeLink is the current PCIe link of a device.
type PCIeLink struct {
	Generation uint32 `json:"generation"`
	Width      uint32 `json:"width"`
}

// Telemetry is one IGCL device reading. Nil fields were not exposed.
type Telemetry struct {
	UtilPct      *float64  `json:"util_pct"`
	TempC        *float64  `json:"temp_c"`
	PowerWatts   *float64  `json:"power_watts"`
	GPUClockMHz  *uint32   `json:"gpu_clock_mhz"`
	MemClockMHz  *uint32   `json:"mem_clock_mhz"`
	VRAMUsedGiB  *float64  `json:"vram_used_gib"`
	VRAMTotalGiB *float64  `json:"vram_total_gib"`
	Link         *PCIeLink `json:"link"`
	// Throttle is "PWR", "TMP" or "CUR" while the GPU clock is limited.
	Throttle string `json:"throttle"`
}

// empty reports a reading without any of the core fields.
func (t Telemetry) empty() bool {
	return t.UtilPct == nil && t.TempC == nil && t.PowerWatts == nil && t.GPUClockMHz == nil
}

// throttleState names the dominant limit. Power outranks thermal, which
// outranks current.
func throttleState(reasons uint32) string {
	switch {
	case reasons&(throttleAveragePowerCap|throttleBurstPowerCap|throttlePSUAlert) != 0:
		return "PWR"
	case reasons&throttleThermalLimit != 0:
		return "TMP"
	case reasons&throttleCurrentLimit != 0:
		return "CUR"
	}
	return ""
}

// counter is a monotonically increasing value and its timestamp, both in
// microseconds or microjoules as IGCL reports them.
type counter struct {
	value     uint64
	timestamp uint64
}

// rate returns the per-timestamp-unit increase from prev to cur. Resets and
// stalled clocks yield no rate.
func rate(prev, cur counter) (float64, bool) {
	if cur.timestamp <= prev.timestamp || cur.value < prev.value {
		return 0, false
	}
	return float64(cur.value-prev.value) / float64(cur.timestamp-prev.timestamp), true
}

// history keeps the previous energy and activity counters per device handle.
type history struct {
	mu       sync.Mutex
	energy   map[uintptr]counter
	activity map[uintptr]counter
}

func newHistory() *history {
	return &history{
		energy:   make(map[uintptr]counter),
		activity: make(map[uintptr]counter),
	}
}

// powerWatts turns microjoules over microseconds into watts.
func (h *history) powerWatts(dev uintptr, cur counter) *float64 {
	h.mu.Lock()
	prev, seen := h.energy[dev]
	h.energy[dev] = cur
	h.mu.Unlock()
	if !seen {
		return nil
	}
	w, ok := rate(prev, cur)
	if !ok {
		return nil
	}
	return &w
}

// utilPct is the share of wall time the engine group was active.
func (h *history) utilPct(dev uintptr, cur counter) *float64 {
	h.mu.Lock()
	prev, seen := h.activity[dev]
	h.activity[dev] = cur
	h.mu.Unlock()
	if !seen {
		return nil
	}
	r, ok := rate(prev, cur)
	if !ok {
		return nil
	}
	pct := min(max(r*100, 0), 100)
	return &pct
}

// deviceInfo is what matching needs from ctlGetDeviceProperties.
type deviceInfo struct {
	handle   uintptr
	luid     d3dkmt.LUID
	hasLUID  bool
	vendorID uint32
	deviceID uint32
}

// matchDevice picks the IGCL device for a: by LUID, then by PCI ids, then
// the first Intel device.
func matchDevice(devices []deviceInfo, a Adapter) (deviceInfo, bool) {
	for _, d := range devices {
		if d.hasLUID && d.luid == a.LUID {
			return d, true
		}
	}
	if a.VendorID != 0 && a.DeviceID != 0 {
		for _, d := range devices {
			if d.vendorID == a.VendorID && d.deviceID == a.DeviceID {
				return d, true
			}
		}
	}
	for _, d := range devices {
		if d.vendorID == intelVendorID {
			return d, true
		}
	}
	return deviceInfo{}, false
}

func gib(bytes uint64) *float64 {
	v := float64(bytes) / bytesPerGiB
	return &v
}
