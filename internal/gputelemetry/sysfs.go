package gputelemetry

import (
	"log/slog"
	"math"

	"github.com/aiz-dev/hwtelemetry/internal/gpu"
)

type sysfsHandle struct {
	dev gpu.Device
}

// SysfsEnumerator lists DRM cards under a sysfs root.
type SysfsEnumerator struct {
	root   string
	logger *slog.Logger
}

// NewSysfsEnumerator enumerates class/drm beneath root.
func NewSysfsEnumerator(root string, logger *slog.Logger) *SysfsEnumerator {
	return &SysfsEnumerator{root: root, logger: logger}
}

func (e *SysfsEnumerator) Name() string { return gpu.SourceGeneric }

func (e *SysfsEnumerator) Devices() []Device {
	found, err := gpu.Discover(e.root, e.logger)
	if err != nil {
		if e.logger != nil {
			e.logger.Debug("drm enumeration failed", "root", e.root, "err", err)
		}
		return nil
	}
	devices := make([]Device, 0, len(found))
	ordinals := make(map[string]int)
	for i, d := range found {
		vendor := d.Vendor
		if d.IsAMD() {
			vendor = gpu.VendorAMD
		} else if d.IsIntel() {
			vendor = gpu.VendorIntel
		}
		devices = append(devices, Device{
			Index:         i,
			Name:          d.Name,
			Vendor:        vendor,
			PCIBusID:      d.PCI,
			VendorOrdinal: ordinals[vendor],
			sysfs:         &sysfsHandle{dev: d},
		})
		ordinals[vendor]++
	}
	return devices
}

// SysfsStrategy reads the generic kernel interface of a DRM card.
type SysfsStrategy struct{}

func (SysfsStrategy) Name() string { return gpu.SourceGeneric }

func (SysfsStrategy) Sample(dev Device) (Telemetry, bool) {
	if dev.sysfs == nil {
		return Telemetry{}, false
	}
	m, ok := gpu.ReadMetrics(dev.sysfs.dev)
	if !ok {
		return Telemetry{}, false
	}
	t := Telemetry{
		UtilPct:     m.UtilPct,
		PowerWatts:  m.PowerW,
		TempC:       m.TempC,
		PState:      m.PState,
		Source:      m.Source,
		GPUClockMHz: mhz(m.SCLKMHz),
		MemClockMHz: mhz(m.MCLKMHz),
	}
	if m.VRAMUsedBytes != nil {
		t.VRAMUsedGiB = gib(*m.VRAMUsedBytes)
	}
	if m.VRAMTotalBytes != nil {
		t.VRAMTotalGiB = gib(*m.VRAMTotalBytes)
	}
	return t, true
}

func mhz(v *float64) *uint32 {
	if v == nil || *v < 0 {
		return nil
	}
	return uint32Ptr(uint32(math.Round(*v)))
}
