package gputelemetry

import (
	"github.com/aiz-dev/hwtelemetry/internal/adlx"
	"github.com/aiz-dev/hwtelemetry/internal/gpu"
	"github.com/aiz-dev/hwtelemetry/internal/igcl"
)

type igclClient interface {
	Telemetry(a igcl.Adapter) (igcl.Telemetry, bool)
}

// IGCLStrategy samples Intel adapters through the Intel Graphics Control
// Library, matched by adapter LUID.
type IGCLStrategy struct {
	client igclClient
}

// NewIGCLStrategy wraps an IGCL client.
func NewIGCLStrategy(client *igcl.Client) *IGCLStrategy {
	return &IGCLStrategy{client: client}
}

func (s *IGCLStrategy) Name() string { return igcl.Source }

func (s *IGCLStrategy) Sample(dev Device) (Telemetry, bool) {
	if dev.Vendor != gpu.VendorIntel || dev.adapter == nil {
		return Telemetry{}, false
	}
	r, ok := s.client.Telemetry(igcl.Adapter{
		LUID:     dev.adapter.luid,
		VendorID: dev.adapter.vendorID,
		DeviceID: dev.adapter.deviceID,
	})
	if !ok {
		return Telemetry{}, false
	}
	return Telemetry{
		UtilPct:      r.UtilPct,
		VRAMUsedGiB:  r.VRAMUsedGiB,
		VRAMTotalGiB: r.VRAMTotalGiB,
		PowerWatts:   r.PowerWatts,
		TempC:        r.TempC,
		PState:       r.Throttle,
		GPUClockMHz:  r.GPUClockMHz,
		MemClockMHz:  r.MemClockMHz,
		Source:       igcl.Source,
	}, true
}

type adlxClient interface {
	Telemetry(a adlx.Adapter) (adlx.Telemetry, bool)
}

// ADLXStrategy samples AMD adapters through ADLX, matched by PCI ids and
// their order among identical boards.
type ADLXStrategy struct {
	client adlxClient
}

// NewADLXStrategy wraps an ADLX client.
func NewADLXStrategy(client *adlx.Client) *ADLXStrategy {
	return &ADLXStrategy{client: client}
}

func (s *ADLXStrategy) Name() string { return adlx.Source }

func (s *ADLXStrategy) Sample(dev Device) (Telemetry, bool) {
	if dev.Vendor != gpu.VendorAMD || dev.adapter == nil {
		return Telemetry{}, false
	}
	r, ok := s.client.Telemetry(adlx.Adapter{
		VendorID: dev.adapter.vendorID,
		DeviceID: dev.adapter.deviceID,
		Ordinal:  dev.adapter.idOrdinal,
	})
	if !ok {
		return Telemetry{}, false
	}
	return Telemetry{
		UtilPct:      r.UtilPct,
		VRAMUsedGiB:  r.VRAMUsedGiB,
		VRAMTotalGiB: r.VRAMTotalGiB,
		PowerWatts:   r.PowerWatts,
		TempC:        r.TempC,
		GPUClockMHz:  r.GPUClockMHz,
		MemClockMHz:  r.MemClockMHz,
		Source:       adlx.Source,
	}, true
}
