// Package adlx binds the AMD Device Library eXtra (amdadlx64.dll) at runtime
// on Windows. ADLX objects are reference counted interfaces called through
// their virtual tables.
package adlx

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Source names this backend in unified telemetry records.
const Source = "adlx"

// ErrUnsupported is returned on platforms without ADLX.
var ErrUnsupported = errors.New("adlx: unsupported platform")

const mibPerGiB = 1024

// ADLX_PCI_BUS_TYPE values.
const (
	busPCIE  = 3
	busPCIE2 = 4
	busPCIE3 = 5
	busPCIE4 = 6
)

// Adapter identifies the Windows display adapter to read. Ordinal counts
// adapters with the same vendor and device id in enumeration order.
type Adapter struct {
	VendorID uint32
	DeviceID uint32
	Ordinal  int
}

// PCIeLink is the current PCIe link of a device. Generation is 0 when the
// bus type is not a PCIe revision ADLX names.
type PCIeLink struct {
	Generation uint32 `json:"generation"`
	Width      uint32 `json:"width"`
}

// Telemetry is one ADLX device reading. Nil fields were not exposed.
type Telemetry struct {
	UtilPct      *float64  `json:"util_pct"`
	TempC        *float64  `json:"temp_c"`
	PowerWatts   *float64  `json:"power_watts"`
	GPUClockMHz  *uint32   `json:"gpu_clock_mhz"`
	MemClockMHz  *uint32   `json:"mem_clock_mhz"`
	VRAMUsedGiB  *float64  `json:"vram_used_gib"`
	VRAMTotalGiB *float64  `json:"vram_total_gib"`
	Link         *PCIeLink `json:"link"`
}

// reading holds the raw values one device returned. A nil field is a call
// that did not succeed.
type reading struct {
	totalVRAMMiB *uint32
	usage        *float64
	gpuClock     *int32
	memClock     *int32
	temperature  *float64
	power        *float64
	vramMiB      *int32
	busType      *int32
	laneWidth    *uint32
}

// telemetry validates a reading. It is absent when no field survived.
func (r reading) telemetry() (Telemetry, bool) {
	var (
		t     Telemetry
		found bool
	)
	if r.totalVRAMMiB != nil && *r.totalVRAMMiB > 0 {
		t.VRAMTotalGiB = float64Ptr(float64(*r.totalVRAMMiB) / mibPerGiB)
		found = true
	}
	if r.usage != nil && finite(*r.usage) {
		t.UtilPct = float64Ptr(min(max(*r.usage, 0), 100))
		found = true
	}
	if r.gpuClock != nil && *r.gpuClock > 0 {
		t.GPUClockMHz = uint32Ptr(uint32(*r.gpuClock))
		found = true
	}
	if r.memClock != nil && *r.memClock > 0 {
		t.MemClockMHz = uint32Ptr(uint32(*r.memClock))
		found = true
	}
	if r.temperature != nil && finite(*r.temperature) {
		t.TempC = float64Ptr(*r.temperature)
		found = true
	}
	if r.power != nil && finite(*r.power) {
		t.PowerWatts = float64Ptr(*r.power)
		found = true
	}
	if r.vramMiB != nil && *r.vramMiB >= 0 {
		t.VRAMUsedGiB = float64Ptr(float64(*r.vramMiB) / mibPerGiB)
		found = true
	}
	if r.laneWidth != nil && *r.laneWidth > 0 {
		link := PCIeLink{Width: *r.laneWidth}
		if r.busType != nil {
			link.Generation = pcieGeneration(*r.busType)
		}
		t.Link = &link
	}
	return t, found
}

func pcieGeneration(busType int32) uint32 {
	switch busType {
	case busPCIE:
		return 1
	case busPCIE2:
		return 2
	case busPCIE3:
		return 3
	case busPCIE4:
		return 4
	}
	return 0
}

// identity is the PCI id pair ADLX reports for a GPU.
type identity struct {
	vendorID uint32
	deviceID uint32
}

// parseID reads the hex ids ADLX returns as strings, with or without 0x.
func parseID(s string) (uint32, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// selectGPU returns the position of the a.Ordinal-th GPU whose ids match a.
func selectGPU(gpus []identity, a Adapter) (int, bool) {
	seen := 0
	for i, g := range gpus {
		if g.vendorID != a.VendorID || g.deviceID != a.DeviceID {
			continue
		}
		if seen == a.Ordinal {
			return i, true
		}
		seen++
	}
	return 0, false
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func float64Ptr(v float64) *float64 {
	return &v
}

func uint32Ptr(v uint32) *uint32 {
	return &v
}
