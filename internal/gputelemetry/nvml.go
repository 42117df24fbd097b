package gputelemetry

import (
	"github.com/aiz-dev/hwtelemetry/internal/gpu"
	"github.com/aiz-dev/hwtelemetry/internal/nvml"
)

const nvmlFallbackName = "NVIDIA GPU"

type nvmlClient interface {
	DeviceCount() (int, bool)
	Telemetry(index int) (nvml.Telemetry, bool)
	Name(index int) (string, bool)
}

// NVMLPrimary serves indexes from the NVIDIA management library.
type NVMLPrimary struct {
	client nvmlClient
}

// NewNVMLPrimary wraps an NVML client.
func NewNVMLPrimary(client *nvml.Client) *NVMLPrimary {
	return &NVMLPrimary{client: client}
}

func (p *NVMLPrimary) DeviceCount() (int, bool) {
	return p.client.DeviceCount()
}

func (p *NVMLPrimary) Sample(index int) (Telemetry, bool) {
	t, ok := p.client.Telemetry(index)
	if !ok {
		return Telemetry{}, false
	}
	name, ok := p.client.Name(index)
	if !ok {
		name = nvmlFallbackName
	}
	return Telemetry{
		Index:        index,
		Name:         name,
		Vendor:       gpu.VendorNVIDIA,
		UtilPct:      float64Ptr(t.UtilPct),
		VRAMUsedGiB:  float64Ptr(t.MemUsedGiB),
		VRAMTotalGiB: float64Ptr(t.MemTotalGiB),
		PowerWatts:   float64Ptr(t.PowerWatts),
		TempC:        float64Ptr(t.TempC),
		PState:       t.PState,
		Source:       "nvml",
		GPUClockMHz:  t.GPUClockMHz,
		MemClockMHz:  t.MemClockMHz,
	}, true
}
