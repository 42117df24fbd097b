package gputelemetry

import (
	"github.com/aiz-dev/hwtelemetry/internal/gpu"
	"github.com/aiz-dev/hwtelemetry/internal/rocmsmi"
)

type rocmClient interface {
	FindByPCIBusID(bdf string) (rocmsmi.Telemetry, bool)
	Telemetry(index int) (rocmsmi.Telemetry, bool)
}

// ROCmStrategy samples AMD devices through ROCm SMI by bus address. The AMD
// ordinal is used only for devices whose bus address is unknown; a known
// address that ROCm does not monitor is left to the next strategy.
type ROCmStrategy struct {
	client rocmClient
}

// NewROCmStrategy wraps a ROCm SMI client.
func NewROCmStrategy(client *rocmsmi.Client) *ROCmStrategy {
	return &ROCmStrategy{client: client}
}

func (s *ROCmStrategy) Name() string { return rocmsmi.Source }

func (s *ROCmStrategy) Sample(dev Device) (Telemetry, bool) {
	if dev.Vendor != gpu.VendorAMD {
		return Telemetry{}, false
	}
	var (
		r  rocmsmi.Telemetry
		ok bool
	)
	if dev.PCIBusID != "" {
		r, ok = s.client.FindByPCIBusID(dev.PCIBusID)
	} else {
		r, ok = s.client.Telemetry(dev.VendorOrdinal)
	}
	if !ok {
		return Telemetry{}, false
	}
	return Telemetry{
		UtilPct:      r.UtilPct,
		VRAMUsedGiB:  r.VRAMUsedGiB,
		VRAMTotalGiB: r.VRAMTotalGiB,
		PowerWatts:   r.PowerWatts,
		TempC:        r.TempC,
		PState:       r.PerfLevel,
		Source:       rocmsmi.Source,
	}, true
}
