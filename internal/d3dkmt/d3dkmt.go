// Package d3dkmt reads vendor-neutral adapter telemetry from the Windows
// kernel-mode thunk interface exported by gdi32.dll. On other platforms every
// query reports ErrUnsupported.
package d3dkmt

import (
	"errors"
	"fmt"
)

// Source names this backend in unified telemetry records.
const Source = "d3dkmt"

// ErrUnsupported is returned on platforms without D3DKMT.
var ErrUnsupported = errors.New("d3dkmt: unsupported platform")

const (
	statusSuccess = 0

	// KMTQAITYPE values from d3dkmthk.h.
	queryAdapterRegistryInfo = 8
	queryPhysicalDeviceIDs   = 31
	queryAdapterPerfData     = 62

	segmentGroupLocal = 0

	softwareVendorID = 0x1414
	maxPath          = 260

	// Drivers that report power in milliwatts exceed this; smaller values are
	// tenths of a percent of TDP and cannot be turned into watts.
	milliwattThreshold = 1000
)

// LUID identifies an adapter for the lifetime of the boot session.
type LUID struct {
	Low  uint32 `json:"low"`
	High int32  `json:"high"`
}

func (l LUID) String() string {
	return fmt.Sprintf("%08x:%08x", uint32(l.High), l.Low)
}

// Adapter is a hardware display adapter.
type Adapter struct {
	LUID     LUID   `json:"luid"`
	Name     string `json:"name"`
	VendorID uint32 `json:"vendor_id"`
	DeviceID uint32 `json:"device_id"`
}

// VideoMemory is the local segment group accounting of an adapter.
type VideoMemory struct {
	BudgetBytes                  uint64 `json:"budget_bytes"`
	CurrentUsageBytes            uint64 `json:"current_usage_bytes"`
	AvailableForReservationBytes uint64 `json:"available_for_reservation_bytes"`
	CurrentReservationBytes      uint64 `json:"current_reservation_bytes"`
}

// PerfData is the adapter performance block. PowerWatts is nil when the
// driver reports power relative to TDP.
type PerfData struct {
	TempC                float64  `json:"temp_c"`
	PowerWatts           *float64 `json:"power_watts"`
	FanRPM               uint32   `json:"fan_rpm"`
	MemoryFrequencyHz    uint64   `json:"memory_frequency_hz"`
	MaxMemoryFrequencyHz uint64   `json:"max_memory_frequency_hz"`
	MemoryBandwidthBytes uint64   `json:"memory_bandwidth_bytes"`
	PCIeBandwidthBytes   uint64   `json:"pcie_bandwidth_bytes"`
	PoweredOn            bool     `json:"powered_on"`
}

// adapterPerfData mirrors D3DKMT_ADAPTER_PERFDATA.
type adapterPerfData struct {
	PhysicalAdapterIndex uint32
	_                    uint32
	MemoryFrequency      uint64
	MaxMemoryFrequency   uint64
	MaxMemoryFrequencyOC uint64
	MemoryBandwidth      uint64
	PCIEBandwidth        uint64
	FanRPM               uint32
	Power                uint32
	Temperature          uint32
	PowerStateOverride   uint8
}

func perfDataFromRaw(raw adapterPerfData) PerfData {
	out := PerfData{
		TempC:                float64(raw.Temperature) / 10,
		FanRPM:               raw.FanRPM,
		MemoryFrequencyHz:    raw.MemoryFrequency,
		MaxMemoryFrequencyHz: raw.MaxMemoryFrequency,
		MemoryBandwidthBytes: raw.MemoryBandwidth,
		PCIeBandwidthBytes:   raw.PCIEBandwidth,
		PoweredOn:            raw.PowerStateOverride != 0,
	}
	if raw.Power > milliwattThreshold {
		watts := float64(raw.Power) / 1000
		out.PowerWatts = &watts
	}
	return out
}

func ignoredAdapter(vendorID uint32, name string) bool {
	return vendorID == softwareVendorID || name == "Microsoft Basic Render Driver"
}
