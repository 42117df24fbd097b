// Package gputelemetry merges the vendor backends into one per-index GPU
// reading. The primary backend answers first; devices it does not cover are
// enumerated by the OS and sampled through an ordered list of strategies.
package gputelemetry

import (
	"io"
	"log/slog"
)

const bytesPerGiB = 1024 * 1024 * 1024

// Telemetry is the unified reading of one GPU. Fields a backend does not
// expose stay nil. A record always comes from a single backend.
type Telemetry struct {
	Index        int      `json:"index"`
	Name         string   `json:"name"`
	Vendor       string   `json:"vendor"`
	UtilPct      *float64 `json:"util_pct"`
	VRAMUsedGiB  *float64 `json:"vram_used_gib"`
	VRAMTotalGiB *float64 `json:"vram_total_gib"`
	PowerWatts   *float64 `json:"power_watts"`
	TempC        *float64 `json:"temp_c"`
	PState       string   `json:"pstate"`
	Source       string   `json:"source"`
	GPUClockMHz  *uint32  `json:"gpu_clock_mhz"`
	MemClockMHz  *uint32  `json:"mem_clock_mhz"`
}

// VRAMUtilPct derives VRAM occupancy from used and total memory.
func (t Telemetry) VRAMUtilPct() (float64, bool) {
	if t.VRAMUsedGiB == nil || t.VRAMTotalGiB == nil || *t.VRAMTotalGiB <= 0 {
		return 0, false
	}
	return *t.VRAMUsedGiB / *t.VRAMTotalGiB * 100, true
}

// Device is one GPU as seen by the OS enumerator.
type Device struct {
	Index  int
	Name   string
	Vendor string
	// PCIBusID is the domain:bus:device.function address when known.
	PCIBusID string
	// VendorOrdinal counts devices of the same vendor in enumeration order.
	VendorOrdinal int

	sysfs   *sysfsHandle
	adapter *adapterHandle
}

// Primary is the preferred backend. Indexes below its count are served by it.
type Primary interface {
	DeviceCount() (int, bool)
	Sample(index int) (Telemetry, bool)
}

// Enumerator lists the GPUs known to the OS.
type Enumerator interface {
	Name() string
	Devices() []Device
}

// Strategy samples one enumerated device.
type Strategy interface {
	Name() string
	Sample(dev Device) (Telemetry, bool)
}

// Aggregator walks the fallback chain. It holds no sampling state.
type Aggregator struct {
	primary    Primary
	enumerator Enumerator
	strategies []Strategy
	logger     *slog.Logger
}

// New builds an aggregator. Any of primary and enumerator may be nil.
func New(primary Primary, enumerator Enumerator, strategies []Strategy, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Aggregator{
		primary:    primary,
		enumerator: enumerator,
		strategies: strategies,
		logger:     logger.With("component", "gputelemetry"),
	}
}

// DeviceCount returns the first non-zero count of the primary backend and
// the enumerator. Counts are never summed.
func (a *Aggregator) DeviceCount() int {
	return a.view().count()
}

func (a *Aggregator) primaryCount() int {
	if a.primary == nil {
		return 0
	}
	n, ok := a.primary.DeviceCount()
	if !ok || n < 0 {
		return 0
	}
	return n
}

// deviceView holds the primary count and the enumeration for one pass, so a
// pass walks the enumerator at most once.
type deviceView struct {
	agg     *Aggregator
	primary int
	devices []Device
	listed  bool
}

func (a *Aggregator) view() *deviceView {
	return &deviceView{agg: a, primary: a.primaryCount()}
}

func (v *deviceView) enumerated() []Device {
	if !v.listed {
		v.listed = true
		if v.agg.enumerator != nil {
			v.devices = v.agg.enumerator.Devices()
		}
	}
	return v.devices
}

func (v *deviceView) count() int {
	if v.primary > 0 {
		return v.primary
	}
	return len(v.enumerated())
}

// SampleOne reads the GPU at index.
func (a *Aggregator) SampleOne(index int) (Telemetry, bool) {
	v := a.view()
	if index < 0 || index >= v.count() {
		return Telemetry{}, false
	}
	return a.sample(v, index)
}

// SampleAll reads every GPU in index order, skipping unreadable indexes.
func (a *Aggregator) SampleAll() []Telemetry {
	v := a.view()
	count := v.count()
	out := make([]Telemetry, 0, count)
	for i := 0; i < count; i++ {
		if t, ok := a.sample(v, i); ok {
			out = append(out, t)
		}
	}
	return out
}

func (a *Aggregator) sample(v *deviceView, index int) (Telemetry, bool) {
	if index < v.primary {
		if t, ok := a.primary.Sample(index); ok {
			t.Index = index
			return t, true
		}
	}

	if a.enumerator == nil {
		return Telemetry{}, false
	}
	devices := v.enumerated()
	if index >= len(devices) {
		return Telemetry{}, false
	}
	dev := devices[index]

	for _, s := range a.strategies {
		t, ok := s.Sample(dev)
		if !ok {
			continue
		}
		t.Index = index
		t.Name = dev.Name
		t.Vendor = dev.Vendor
		if t.Source == "" {
			t.Source = s.Name()
		}
		return t, true
	}

	a.logger.Debug("no backend produced telemetry", "index", index, "name", dev.Name)
	return Telemetry{
		Index:  index,
		Name:   dev.Name,
		Vendor: dev.Vendor,
		Source: a.enumerator.Name(),
	}, true
}

func float64Ptr(v float64) *float64 {
	return &v
}

func uint32Ptr(v uint32) *uint32 {
	return &v
}

func gib(bytes uint64) *float64 {
	return float64Ptr(float64(bytes) / bytesPerGiB)
}
