package d3dkmt

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerfDataFromRawMilliwatts(t *testing.T) {
	got := perfDataFromRaw(adapterPerfData{
		Temperature:        455,
		Power:              35_500,
		FanRPM:             1800,
		MemoryFrequency:    9_001_000_000,
		MaxMemoryFrequency: 10_500_000_000,
		PCIEBandwidth:      1 << 20,
		PowerStateOverride: 1,
	})

	assert.InDelta(t, 45.5, got.TempC, 1e-9)
	require.NotNil(t, got.PowerWatts)
	assert.InDelta(t, 35.5, *got.PowerWatts, 1e-9)
	assert.Equal(t, uint32(1800), got.FanRPM)
	assert.Equal(t, uint64(9_001_000_000), got.MemoryFrequencyHz)
	assert.Equal(t, uint64(10_500_000_000), got.MaxMemoryFrequencyHz)
	assert.Equal(t, uint64(1<<20), got.PCIeBandwidthBytes)
	assert.True(t, got.PoweredOn)
}

func TestPerfDataFromRawRelativePowerIsDropped(t *testing.T) {
	got := perfDataFromRaw(adapterPerfData{Temperature: 370, Power: 250})
	assert.Nil(t, got.PowerWatts)
	assert.InDelta(t, 37, got.TempC, 1e-9)
	assert.False(t, got.PoweredOn)
}

func TestAdapterPerfDataLayout(t *testing.T) {
	var raw adapterPerfData
	assert.Equal(t, uintptr(8), unsafe.Offsetof(raw.MemoryFrequency))
	assert.Equal(t, uintptr(48), unsafe.Offsetof(raw.FanRPM))
	assert.Equal(t, uintptr(60), unsafe.Offsetof(raw.PowerStateOverride))
}

func TestIgnoredAdapter(t *testing.T) {
	assert.True(t, ignoredAdapter(softwareVendorID, "anything"))
	assert.True(t, ignoredAdapter(0, "Microsoft Basic Render Driver"))
	assert.False(t, ignoredAdapter(0x10de, "NVIDIA GeForce RTX 4090"))
}

func TestLUIDString(t *testing.T) {
	assert.Equal(t, "00000001:0000abcd", LUID{Low: 0xabcd, High: 1}.String())
}
