package gputelemetry

import (
	"fmt"
	"log/slog"

	"github.com/aiz-dev/hwtelemetry/internal/d3dkmt"
	"github.com/aiz-dev/hwtelemetry/internal/gpu"
)

type adapterHandle struct {
	luid     d3dkmt.LUID
	vendorID uint32
	deviceID uint32
	// idOrdinal counts earlier adapters with the same vendor and device id.
	idOrdinal int
}

type d3dkmtClient interface {
	Adapters() ([]d3dkmt.Adapter, error)
	VideoMemory(luid d3dkmt.LUID) (d3dkmt.VideoMemory, bool)
	PerfData(luid d3dkmt.LUID) (d3dkmt.PerfData, bool)
}

// D3DKMTEnumerator lists hardware display adapters on Windows.
type D3DKMTEnumerator struct {
	client d3dkmtClient
	logger *slog.Logger
}

// NewD3DKMTEnumerator wraps a D3DKMT client.
func NewD3DKMTEnumerator(client *d3dkmt.Client, logger *slog.Logger) *D3DKMTEnumerator {
	return &D3DKMTEnumerator{client: client, logger: logger}
}

func (e *D3DKMTEnumerator) Name() string { return d3dkmt.Source }

func (e *D3DKMTEnumerator) Devices() []Device {
	adapters, err := e.client.Adapters()
	if err != nil {
		if e.logger != nil {
			e.logger.Debug("adapter enumeration failed", "err", err)
		}
		return nil
	}
	devices := make([]Device, 0, len(adapters))
	ordinals := make(map[string]int)
	idOrdinals := make(map[[2]uint32]int)
	for i, a := range adapters {
		vendor := gpu.VendorFromID(fmt.Sprintf("%04x", a.VendorID))
		name := a.Name
		if name == "" {
			name = gpu.LookupName(gpu.PCIIdentity{Vendor: uint16(a.VendorID), Device: uint16(a.DeviceID)})
		}
		ids := [2]uint32{a.VendorID, a.DeviceID}
		devices = append(devices, Device{
			Index:         i,
			Name:          name,
			Vendor:        vendor,
			VendorOrdinal: ordinals[vendor],
			adapter: &adapterHandle{
				luid:      a.LUID,
				vendorID:  a.VendorID,
				deviceID:  a.DeviceID,
				idOrdinal: idOrdinals[ids],
			},
		})
		ordinals[vendor]++
		idOrdinals[ids]++
	}
	return devices
}

// D3DKMTStrategy reads video memory and adapter performance data.
type D3DKMTStrategy struct {
	client d3dkmtClient
}

// NewD3DKMTStrategy wraps a D3DKMT client.
func NewD3DKMTStrategy(client *d3dkmt.Client) *D3DKMTStrategy {
	return &D3DKMTStrategy{client: client}
}

func (s *D3DKMTStrategy) Name() string { return d3dkmt.Source }

func (s *D3DKMTStrategy) Sample(dev Device) (Telemetry, bool) {
	if dev.adapter == nil {
		return Telemetry{}, false
	}
	var (
		t     = Telemetry{Source: d3dkmt.Source}
		found bool
	)
	if mem, ok := s.client.VideoMemory(dev.adapter.luid); ok && mem.BudgetBytes > 0 {
		t.VRAMUsedGiB = gib(mem.CurrentUsageBytes)
		t.VRAMTotalGiB = gib(mem.BudgetBytes)
		found = true
	}
	if perf, ok := s.client.PerfData(dev.adapter.luid); ok {
		if perf.TempC > 0 {
			t.TempC = float64Ptr(perf.TempC)
			found = true
		}
		if perf.PowerWatts != nil {
			t.PowerWatts = perf.PowerWatts
			found = true
		}
		if perf.MemoryFrequencyHz > 0 {
			t.MemClockMHz = uint32Ptr(uint32(perf.MemoryFrequencyHz / 1_000_000))
			found = true
		}
	}
	return t, found
}
