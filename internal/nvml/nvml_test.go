package nvml

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	util     utilization
	mem      memory
	mw       uint32
	temp     uint32
	state    uint32
	failCore bool

	name     string
	rxKB     uint32
	txKB     uint32
	gen      uint32
	width    uint32
	gfxClock uint32
	memClock uint32
	maxMem   uint32
	busWidth uint32
	procs    []processInfo
}

func fakeFunctions(devs ...fakeDevice) *functions {
	lookup := func(dev uintptr) *fakeDevice {
		return &devs[dev-1]
	}
	status := func(fail bool) int32 {
		if fail {
			return 999
		}
		return success
	}
	return &functions{
		library:  "libnvidia-ml.so.1",
		init:     func() int32 { return success },
		shutdown: func() int32 { return success },
		deviceCount: func(count *uint32) int32 {
			*count = uint32(len(devs))
			return success
		},
		handleByIndex: func(index uint32, dev *uintptr) int32 {
			if int(index) >= len(devs) {
				return 2
			}
			*dev = uintptr(index) + 1
			return success
		},
		utilizationRates: func(dev uintptr, util *utilization) int32 {
			d := lookup(dev)
			*util = d.util
			return status(d.failCore)
		},
		memoryInfo: func(dev uintptr, mem *memory) int32 {
			*mem = lookup(dev).mem
			return success
		},
		powerUsage: func(dev uintptr, mw *uint32) int32 {
			*mw = lookup(dev).mw
			return success
		},
		temperature: func(dev uintptr, _ uint32, c *uint32) int32 {
			*c = lookup(dev).temp
			return success
		},
		performanceState: func(dev uintptr, state *uint32) int32 {
			*state = lookup(dev).state
			return success
		},
		name: func(dev uintptr, buf *byte, length uint32) int32 {
			name := lookup(dev).name
			if name == "" {
				return 3
			}
			dst := unsafeBytes(buf, length)
			copy(dst, name)
			return success
		},
		pcieThroughput: func(dev uintptr, counter uint32, kbps *uint32) int32 {
			d := lookup(dev)
			if counter == pcieCounterRX {
				*kbps = d.rxKB
			} else {
				*kbps = d.txKB
			}
			return success
		},
		pcieLinkGeneration: func(dev uintptr, gen *uint32) int32 {
			*gen = lookup(dev).gen
			return success
		},
		pcieLinkWidth: func(dev uintptr, width *uint32) int32 {
			*width = lookup(dev).width
			return success
		},
		clockInfo: func(dev uintptr, clock uint32, mhz *uint32) int32 {
			d := lookup(dev)
			if clock == clockGraphics {
				*mhz = d.gfxClock
			} else {
				*mhz = d.memClock
			}
			return success
		},
		maxClockInfo: func(dev uintptr, clock uint32, mhz *uint32) int32 {
			if clock == clockMem {
				*mhz = lookup(dev).maxMem
			}
			return success
		},
		memoryBusWidth: func(dev uintptr, bits *uint32) int32 {
			*bits = lookup(dev).busWidth
			return success
		},
		computeProcesses: func(dev uintptr, count *uint32, infos *processInfo) int32 {
			d := lookup(dev)
			if infos == nil {
				*count = uint32(len(d.procs))
				return 7
			}
			dst := unsafeProcs(infos, *count)
			n := copy(dst, d.procs)
			*count = uint32(n)
			return success
		},
	}
}

func newFakeClient(devs ...fakeDevice) *Client {
	f := fakeFunctions(devs...)
	return newClient(func() (*functions, error) { return f, nil })
}

func TestTelemetryConversions(t *testing.T) {
	t.Parallel()

	client := newFakeClient(fakeDevice{
		util:     utilization{GPU: 87, Memory: 40},
		mem:      memory{Total: 16 * bytesPerGiB, Used: 4 * bytesPerGiB},
		mw:       215500,
		temp:     71,
		state:    2,
		gfxClock: 1800,
		memClock: 0,
		maxMem:   7000,
		busWidth: 256,
	})

	got, ok := client.Telemetry(0)
	require.True(t, ok)
	assert.InDelta(t, 87, got.UtilPct, 1e-9)
	assert.InDelta(t, 40, got.MemUtilPct, 1e-9)
	assert.InDelta(t, 4, got.MemUsedGiB, 1e-9)
	assert.InDelta(t, 16, got.MemTotalGiB, 1e-9)
	assert.InDelta(t, 215.5, got.PowerWatts, 1e-9)
	assert.InDelta(t, 71, got.TempC, 1e-9)
	assert.Equal(t, "P2", got.PState)
	require.NotNil(t, got.GPUClockMHz)
	assert.Equal(t, uint32(1800), *got.GPUClockMHz)
	require.NotNil(t, got.MemClockMHz, "memory clock falls back to the max clock")
	assert.Equal(t, uint32(7000), *got.MemClockMHz)
	require.NotNil(t, got.MaxMemBandwidthGBps)
	assert.InDelta(t, 448, *got.MaxMemBandwidthGBps, 1e-9)
	assert.Nil(t, got.EncoderUtilPct)
}

func TestTelemetryInvalidIndexAndCoreFailure(t *testing.T) {
	t.Parallel()

	client := newFakeClient(fakeDevice{failCore: true})

	_, ok := client.Telemetry(0)
	assert.False(t, ok)
	_, ok = client.Telemetry(1)
	assert.False(t, ok)
	_, ok = client.Telemetry(-1)
	assert.False(t, ok)
}

func TestAggregateRules(t *testing.T) {
	t.Parallel()

	client := newFakeClient(
		fakeDevice{util: utilization{GPU: 30}, mem: memory{Total: 8 * bytesPerGiB, Used: 2 * bytesPerGiB}, mw: 100000, temp: 80, state: 8},
		fakeDevice{util: utilization{GPU: 90}, mem: memory{Total: 24 * bytesPerGiB, Used: 6 * bytesPerGiB}, mw: 300000, temp: 65, state: 0},
		fakeDevice{failCore: true, state: 0},
	)

	agg, ok := client.Aggregate()
	require.True(t, ok)
	assert.InDelta(t, 90, agg.UtilPct, 1e-9)
	assert.InDelta(t, 80, agg.TempC, 1e-9)
	assert.InDelta(t, 8, agg.MemUsedGiB, 1e-9)
	assert.InDelta(t, 32, agg.MemTotalGiB, 1e-9)
	assert.InDelta(t, 400, agg.PowerWatts, 1e-9)
	assert.Equal(t, "P0", agg.PState)
}

func TestAggregateAllZeroIsAbsent(t *testing.T) {
	t.Parallel()

	client := newFakeClient(fakeDevice{})
	_, ok := client.Aggregate()
	assert.False(t, ok)
}

func TestPCIeAndName(t *testing.T) {
	t.Parallel()

	client := newFakeClient(
		fakeDevice{name: "NVIDIA RTX A4000", rxKB: 2048, txKB: 1024, gen: 4, width: 16},
		fakeDevice{rxKB: 1024, txKB: 512},
	)

	name, ok := client.Name(0)
	require.True(t, ok)
	assert.Equal(t, "NVIDIA RTX A4000", name)
	_, ok = client.Name(1)
	assert.False(t, ok)

	tp, ok := client.PCIeThroughput(0)
	require.True(t, ok)
	assert.InDelta(t, 2.0, tp.RxMBps, 1e-9)
	assert.InDelta(t, 1.0, tp.TxMBps, 1e-9)

	sum, ok := client.AggregatePCIeThroughput()
	require.True(t, ok)
	assert.InDelta(t, 3.0, sum.RxMBps, 1e-9)
	assert.InDelta(t, 1.5, sum.TxMBps, 1e-9)

	link, ok := client.PCIeLink(0)
	require.True(t, ok)
	assert.Equal(t, PCIeLink{Generation: 4, Width: 16}, link)
	_, ok = client.PCIeLink(1)
	assert.False(t, ok)
}

func TestProcesses(t *testing.T) {
	t.Parallel()

	client := newFakeClient(
		fakeDevice{},
		fakeDevice{procs: []processInfo{{PID: 4242, UsedGPUMemory: bytesPerGiB / 2}}},
	)

	procs := client.Processes()
	require.Len(t, procs, 1)
	assert.Equal(t, uint32(4242), procs[0].PID)
	assert.Equal(t, 1, procs[0].GPUIndex)
	assert.InDelta(t, 0.5, procs[0].VRAMUsedGiB, 1e-9)
}

func TestProcessesMemoryNotAvailable(t *testing.T) {
	t.Parallel()

	client := newFakeClient(fakeDevice{procs: []processInfo{
		{PID: 7, UsedGPUMemory: valueNotAvailable},
		{PID: 8, UsedGPUMemory: bytesPerGiB},
	}})

	procs := client.Processes()
	require.Len(t, procs, 2)
	assert.Equal(t, uint32(7), procs[0].PID)
	assert.Zero(t, procs[0].VRAMUsedGiB)
	assert.InDelta(t, 1.0, procs[1].VRAMUsedGiB, 1e-9)
}

func TestUnavailableIsCachedAndNeverRetried(t *testing.T) {
	t.Parallel()

	var loads atomic.Int32
	client := newClient(func() (*functions, error) {
		loads.Add(1)
		return nil, errors.New("NVML not found: library not found")
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := client.DeviceCount()
			assert.False(t, ok)
		}()
	}
	wg.Wait()

	_, ok := client.Telemetry(0)
	assert.False(t, ok)
	_, ok = client.Aggregate()
	assert.False(t, ok)
	assert.Nil(t, client.Processes())
	assert.EqualError(t, client.Available(), "NVML not found: library not found")
	assert.Equal(t, int32(1), loads.Load())
}
