package metrics

import (
	"fmt"
	"strconv"

	"github.com/aiz-dev/hwtelemetry/internal/gputelemetry"
	"github.com/aiz-dev/hwtelemetry/internal/nvml"
)

// NVMLAggregate is the slice of the NVML client the GPU collectors use.
type NVMLAggregate interface {
	DeviceCount() (int, bool)
	Aggregate() (nvml.Telemetry, bool)
	AggregatePCIeThroughput() (nvml.PCIeThroughput, bool)
}

// GPUSource yields unified per-index readings.
type GPUSource interface {
	SampleOne(index int) (gputelemetry.Telemetry, bool)
}

// gpuCollector prefers the NVML aggregate over all devices and falls back to
// GPU 0 of the aggregator, labelled with the backend that served it.
type gpuCollector struct {
	name     string
	unit     string
	nvml     NVMLAggregate
	gpus     GPUSource
	fromNVML func(nvml.Telemetry) (float64, string, bool)
	fromGPU  func(gputelemetry.Telemetry) (float64, string, bool)
}

func (g *gpuCollector) Name() string { return g.name }

func (g *gpuCollector) Sample() (Sample, bool) {
	if g.nvml != nil {
		if t, ok := g.nvml.Aggregate(); ok {
			if v, label, ok := g.fromNVML(t); ok {
				if label == "" {
					label = nvmlLabel(g.nvml)
				}
				return Sample{Value: v, Unit: g.unit, Label: label}, true
			}
		}
	}
	if g.gpus != nil {
		if t, ok := g.gpus.SampleOne(0); ok {
			if v, label, ok := g.fromGPU(t); ok {
				if label == "" {
					label = t.Source
				}
				return Sample{Value: v, Unit: g.unit, Label: label}, true
			}
		}
	}
	return Sample{}, false
}

func nvmlLabel(n NVMLAggregate) string {
	if count, ok := n.DeviceCount(); ok {
		return "nvml (" + strconv.Itoa(count) + ")"
	}
	return "nvml"
}

func deref(p *float64) (float64, string, bool) {
	if p == nil {
		return 0, "", false
	}
	return *p, "", true
}

// NewGPUUsage reports GPU utilization.
func NewGPUUsage(n NVMLAggregate, gpus GPUSource) Collector {
	return &gpuCollector{
		name: "gpu_util",
		unit: UnitPercent,
		nvml: n,
		gpus: gpus,
		fromNVML: func(t nvml.Telemetry) (float64, string, bool) {
			return t.UtilPct, "", true
		},
		fromGPU: func(t gputelemetry.Telemetry) (float64, string, bool) {
			return deref(t.UtilPct)
		},
	}
}

// NewGPUMemoryUtil reports memory-controller utilization from NVML, or VRAM
// occupancy where only used and total memory are known.
func NewGPUMemoryUtil(n NVMLAggregate, gpus GPUSource) Collector {
	return &gpuCollector{
		name: "gpu_mem_util",
		unit: UnitPercent,
		nvml: n,
		gpus: gpus,
		fromNVML: func(t nvml.Telemetry) (float64, string, bool) {
			return t.MemUtilPct, "", true
		},
		fromGPU: func(t gputelemetry.Telemetry) (float64, string, bool) {
			pct, ok := t.VRAMUtilPct()
			return pct, "", ok
		},
	}
}

// NewVRAMUsage reports used VRAM in GiB, labelled with used and total.
func NewVRAMUsage(n NVMLAggregate, gpus GPUSource) Collector {
	return &gpuCollector{
		name: "vram",
		unit: UnitGiB,
		nvml: n,
		gpus: gpus,
		fromNVML: func(t nvml.Telemetry) (float64, string, bool) {
			if t.MemTotalGiB <= 0 {
				return 0, "", false
			}
			return t.MemUsedGiB, vramLabel(t.MemUsedGiB, t.MemTotalGiB), true
		},
		fromGPU: func(t gputelemetry.Telemetry) (float64, string, bool) {
			if t.VRAMUsedGiB == nil || t.VRAMTotalGiB == nil || *t.VRAMTotalGiB <= 0 {
				return 0, "", false
			}
			return *t.VRAMUsedGiB, vramLabel(*t.VRAMUsedGiB, *t.VRAMTotalGiB), true
		},
	}
}

func vramLabel(used, total float64) string {
	return fmt.Sprintf("%.1f/%.1f GiB", used, total)
}

// NewGPUPower reports board power draw in watts.
func NewGPUPower(n NVMLAggregate, gpus GPUSource) Collector {
	return &gpuCollector{
		name: "gpu_power",
		unit: UnitWatts,
		nvml: n,
		gpus: gpus,
		fromNVML: func(t nvml.Telemetry) (float64, string, bool) {
			return t.PowerWatts, "", true
		},
		fromGPU: func(t gputelemetry.Telemetry) (float64, string, bool) {
			return deref(t.PowerWatts)
		},
	}
}

// NewGPUTemperature reports the hottest GPU temperature.
func NewGPUTemperature(n NVMLAggregate, gpus GPUSource) Collector {
	return &gpuCollector{
		name: "gpu_temp",
		unit: UnitCelsius,
		nvml: n,
		gpus: gpus,
		fromNVML: func(t nvml.Telemetry) (float64, string, bool) {
			return t.TempC, "", true
		},
		fromGPU: func(t gputelemetry.Telemetry) (float64, string, bool) {
			return deref(t.TempC)
		},
	}
}

// PCIeMode selects which direction of PCIe traffic is measured.
type PCIeMode int

const (
	PCIeTotal PCIeMode = iota
	PCIeRx
	PCIeTx
)

// PCIeBandwidth reports NVML PCIe throughput summed over all devices.
type PCIeBandwidth struct {
	nvml NVMLAggregate
	mode PCIeMode
}

// NewPCIeBandwidth reads from the NVML aggregate.
func NewPCIeBandwidth(n NVMLAggregate, mode PCIeMode) *PCIeBandwidth {
	return &PCIeBandwidth{nvml: n, mode: mode}
}

func (p *PCIeBandwidth) Name() string {
	switch p.mode {
	case PCIeRx:
		return "pcie_rx"
	case PCIeTx:
		return "pcie_tx"
	default:
		return "pcie_total"
	}
}

func (p *PCIeBandwidth) Sample() (Sample, bool) {
	if p.nvml == nil {
		return Sample{}, false
	}
	t, ok := p.nvml.AggregatePCIeThroughput()
	if !ok {
		return Sample{}, false
	}
	var v float64
	switch p.mode {
	case PCIeRx:
		v = t.RxMBps
	case PCIeTx:
		v = t.TxMBps
	default:
		v = t.RxMBps + t.TxMBps
	}
	return Sample{Value: v, Unit: UnitMBps, Label: "nvml"}, true
}
