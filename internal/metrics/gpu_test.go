package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiz-dev/hwtelemetry/internal/gputelemetry"
	"github.com/aiz-dev/hwtelemetry/internal/nvml"
)

type fakeNVML struct {
	count int
	agg   *nvml.Telemetry
	pcie  *nvml.PCIeThroughput
}

func (f fakeNVML) DeviceCount() (int, bool) { return f.count, f.count > 0 }

func (f fakeNVML) Aggregate() (nvml.Telemetry, bool) {
	if f.agg == nil {
		return nvml.Telemetry{}, false
	}
	return *f.agg, true
}

func (f fakeNVML) AggregatePCIeThroughput() (nvml.PCIeThroughput, bool) {
	if f.pcie == nil {
		return nvml.PCIeThroughput{}, false
	}
	return *f.pcie, true
}

type fakeGPUs map[int]gputelemetry.Telemetry

func (f fakeGPUs) SampleOne(index int) (gputelemetry.Telemetry, bool) {
	t, ok := f[index]
	return t, ok
}

func ptr(v float64) *float64 { return &v }

func TestGPUUsagePrefersNVML(t *testing.T) {
	n := fakeNVML{count: 2, agg: &nvml.Telemetry{UtilPct: 63, MemUtilPct: 12, PowerWatts: 310, TempC: 71}}
	gpus := fakeGPUs{0: {UtilPct: ptr(5), Source: "amdgpu-sysfs"}}

	s, ok := NewGPUUsage(n, gpus).Sample()
	require.True(t, ok)
	assert.Equal(t, Sample{Value: 63, Unit: "%", Label: "nvml (2)"}, s)

	s, ok = NewGPUPower(n, gpus).Sample()
	require.True(t, ok)
	assert.Equal(t, 310.0, s.Value)
	assert.Equal(t, "W", s.Unit)

	s, ok = NewGPUTemperature(n, gpus).Sample()
	require.True(t, ok)
	assert.Equal(t, 71.0, s.Value)
}

func TestGPUCollectorsFallBackToFirstGPU(t *testing.T) {
	gpus := fakeGPUs{0: {
		UtilPct:      ptr(40),
		VRAMUsedGiB:  ptr(2),
		VRAMTotalGiB: ptr(8),
		Source:       "amdgpu-sysfs",
	}}

	s, ok := NewGPUUsage(fakeNVML{}, gpus).Sample()
	require.True(t, ok)
	assert.Equal(t, Sample{Value: 40, Unit: "%", Label: "amdgpu-sysfs"}, s)

	s, ok = NewGPUMemoryUtil(fakeNVML{}, gpus).Sample()
	require.True(t, ok)
	assert.InDelta(t, 25, s.Value, 1e-9)

	s, ok = NewVRAMUsage(fakeNVML{}, gpus).Sample()
	require.True(t, ok)
	assert.Equal(t, Sample{Value: 2, Unit: "GiB", Label: "2.0/8.0 GiB"}, s)

	_, ok = NewGPUPower(fakeNVML{}, gpus).Sample()
	assert.False(t, ok, "power not exposed")
}

func TestGPUCollectorsUnavailable(t *testing.T) {
	_, ok := NewGPUUsage(nil, nil).Sample()
	assert.False(t, ok)

	_, ok = NewGPUTemperature(fakeNVML{}, fakeGPUs{}).Sample()
	assert.False(t, ok)
}

func TestPCIeBandwidth(t *testing.T) {
	n := fakeNVML{count: 1, pcie: &nvml.PCIeThroughput{RxMBps: 120, TxMBps: 30}}

	s, ok := NewPCIeBandwidth(n, PCIeTotal).Sample()
	require.True(t, ok)
	assert.Equal(t, Sample{Value: 150, Unit: "MB/s", Label: "nvml"}, s)

	s, _ = NewPCIeBandwidth(n, PCIeRx).Sample()
	assert.Equal(t, 120.0, s.Value)
	s, _ = NewPCIeBandwidth(n, PCIeTx).Sample()
	assert.Equal(t, 30.0, s.Value)

	_, ok = NewPCIeBandwidth(fakeNVML{}, PCIeTotal).Sample()
	assert.False(t, ok)
}
