// Package nvml binds the NVIDIA Management Library at runtime and exposes
// best-effort per-device and aggregate telemetry.
package nvml

import (
	"fmt"

	"github.com/aiz-dev/hwtelemetry/internal/dynlib"
	"github.com/aiz-dev/hwtelemetry/internal/pstate"
)

const bytesPerGiB = 1024 * 1024 * 1024

// valueNotAvailable is NVML_VALUE_NOT_AVAILABLE for unsigned long long
// fields. WDDM drivers report it as the per-process memory.
const valueNotAvailable = ^uint64(0)

// Telemetry is a single NVML device reading.
type Telemetry struct {
	UtilPct     float64 `json:"util_pct"`
	MemUtilPct  float64 `json:"mem_util_pct"`
	MemUsedGiB  float64 `json:"mem_used_gib"`
	MemTotalGiB float64 `json:"mem_total_gib"`
	PowerWatts  float64 `json:"power_watts"`
	TempC       float64 `json:"temp_c"`
	PState      string  `json:"pstate"`

	EncoderUtilPct      *float64 `json:"encoder_util_pct"`
	DecoderUtilPct      *float64 `json:"decoder_util_pct"`
	GPUClockMHz         *uint32  `json:"gpu_clock_mhz"`
	MemClockMHz         *uint32  `json:"mem_clock_mhz"`
	ComputeCapability   string   `json:"compute_capability,omitempty"`
	GPUCores            *uint32  `json:"gpu_cores"`
	MaxPowerLimitWatts  *float64 `json:"max_power_limit_watts"`
	MemBusWidthBits     *uint32  `json:"mem_bus_width_bits"`
	MaxMemBandwidthGBps *float64 `json:"max_mem_bandwidth_gbps"`
}

// PCIeThroughput is the instantaneous PCIe traffic of a device in MB/s.
type PCIeThroughput struct {
	RxMBps float64 `json:"rx_mbps"`
	TxMBps float64 `json:"tx_mbps"`
}

// PCIeLink describes the current PCIe link of a device.
type PCIeLink struct {
	Generation uint32 `json:"generation"`
	Width      uint32 `json:"width"`
}

// ProcessInfo is the VRAM held by one process on one device.
type ProcessInfo struct {
	PID         uint32  `json:"pid"`
	GPUIndex    int     `json:"gpu_index"`
	VRAMUsedGiB float64 `json:"vram_used_gib"`
}

// Client answers NVML queries. The library is loaded and initialised on
// first use; a failed activation is cached for the client lifetime.
type Client struct {
	lazy *dynlib.Lazy[*functions]
}

var defaultClient = newClient(loadFunctions)

// Default returns the process-wide NVML client.
func Default() *Client {
	return defaultClient
}

func newClient(load func() (*functions, error)) *Client {
	return &Client{lazy: dynlib.NewLazy(load)}
}

// Available returns nil when NVML is usable, otherwise the activation failure.
func (c *Client) Available() error {
	_, err := c.lazy.Get()
	return err
}

// Library returns the file NVML was loaded from.
func (c *Client) Library() string {
	f, err := c.lazy.Get()
	if err != nil {
		return ""
	}
	return f.library
}

func (c *Client) api() (*functions, bool) {
	f, err := c.lazy.Get()
	if err != nil || f == nil {
		return nil, false
	}
	return f, true
}

// DeviceCount returns the number of NVML-visible GPUs.
func (c *Client) DeviceCount() (int, bool) {
	f, ok := c.api()
	if !ok {
		return 0, false
	}
	var count uint32
	if f.deviceCount(&count) != success {
		return 0, false
	}
	return int(count), true
}

func (c *Client) device(index int) (*functions, uintptr, bool) {
	f, ok := c.api()
	if !ok || index < 0 {
		return nil, 0, false
	}
	var count uint32
	if f.deviceCount(&count) != success || index >= int(count) {
		return nil, 0, false
	}
	var dev uintptr
	if f.handleByIndex(uint32(index), &dev) != success {
		return nil, 0, false
	}
	return f, dev, true
}

// Telemetry reads one device. The result is absent when the index is
// invalid or any of the core readings fails.
func (c *Client) Telemetry(index int) (Telemetry, bool) {
	f, dev, ok := c.device(index)
	if !ok {
		return Telemetry{}, false
	}
	return readTelemetry(f, dev)
}

// Aggregate combines every device: utilization and temperature take the
// maximum, memory and power are summed, and the pstate is the best one.
func (c *Client) Aggregate() (Telemetry, bool) {
	f, ok := c.api()
	if !ok {
		return Telemetry{}, false
	}
	var count uint32
	if f.deviceCount(&count) != success || count == 0 {
		return Telemetry{}, false
	}

	var agg Telemetry
	states := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		var dev uintptr
		if f.handleByIndex(i, &dev) != success {
			continue
		}
		t, ok := readTelemetry(f, dev)
		if !ok {
			continue
		}
		agg.UtilPct = max(agg.UtilPct, t.UtilPct)
		agg.MemUtilPct = max(agg.MemUtilPct, t.MemUtilPct)
		agg.TempC = max(agg.TempC, t.TempC)
		agg.MemUsedGiB += t.MemUsedGiB
		agg.MemTotalGiB += t.MemTotalGiB
		agg.PowerWatts += t.PowerWatts
		states = append(states, t.PState)
	}

	if agg.MemTotalGiB <= 0 && agg.PowerWatts <= 0 && agg.UtilPct <= 0 {
		return Telemetry{}, false
	}
	agg.PState = pstate.Best(states...)
	return agg, true
}

func readTelemetry(f *functions, dev uintptr) (Telemetry, bool) {
	var (
		util  utilization
		mem   memory
		mw    uint32
		temp  uint32
		state uint32
	)
	if f.utilizationRates(dev, &util) != success {
		return Telemetry{}, false
	}
	if f.memoryInfo(dev, &mem) != success {
		return Telemetry{}, false
	}
	if f.powerUsage(dev, &mw) != success {
		return Telemetry{}, false
	}
	if f.temperature(dev, temperatureGPU, &temp) != success {
		return Telemetry{}, false
	}
	if f.performanceState(dev, &state) != success {
		return Telemetry{}, false
	}

	t := Telemetry{
		UtilPct:     float64(util.GPU),
		MemUtilPct:  float64(util.Memory),
		MemUsedGiB:  float64(mem.Used) / bytesPerGiB,
		MemTotalGiB: float64(mem.Total) / bytesPerGiB,
		PowerWatts:  float64(mw) / 1000,
		TempC:       float64(temp),
		PState:      pstate.Format(int(state)),
	}

	if f.encoderUtilization != nil {
		var value, period uint32
		if f.encoderUtilization(dev, &value, &period) == success {
			t.EncoderUtilPct = float64Ptr(float64(value))
		}
	}
	if f.decoderUtilization != nil {
		var value, period uint32
		if f.decoderUtilization(dev, &value, &period) == success {
			t.DecoderUtilPct = float64Ptr(float64(value))
		}
	}

	t.GPUClockMHz = readClock(f, dev, clockGraphics)
	t.MemClockMHz = readClock(f, dev, clockMem)

	if f.computeCapability != nil {
		var major, minor int32
		if f.computeCapability(dev, &major, &minor) == success && major > 0 {
			t.ComputeCapability = formatCapability(major, minor)
		}
	}
	if f.numGPUCores != nil {
		var cores uint32
		if f.numGPUCores(dev, &cores) == success && cores > 0 {
			t.GPUCores = uint32Ptr(cores)
		}
	}
	if f.powerLimitConstraints != nil {
		var minMW, maxMW uint32
		if f.powerLimitConstraints(dev, &minMW, &maxMW) == success && maxMW > 0 {
			t.MaxPowerLimitWatts = float64Ptr(float64(maxMW) / 1000)
		}
	}
	if f.memoryBusWidth != nil {
		var bits uint32
		if f.memoryBusWidth(dev, &bits) == success && bits > 0 {
			t.MemBusWidthBits = uint32Ptr(bits)
		}
	}
	if t.MemBusWidthBits != nil {
		memClock := maxClock(f, dev, clockMem)
		if memClock == 0 && t.MemClockMHz != nil {
			memClock = *t.MemClockMHz
		}
		if memClock > 0 {
			gbps := float64(memClock) * float64(*t.MemBusWidthBits) / 8 * 2 / 1000
			t.MaxMemBandwidthGBps = float64Ptr(gbps)
		}
	}

	return t, true
}

// readClock prefers the current clock and falls back to the maximum.
func readClock(f *functions, dev uintptr, clock uint32) *uint32 {
	if f.clockInfo != nil {
		var mhz uint32
		if f.clockInfo(dev, clock, &mhz) == success && mhz > 0 {
			return uint32Ptr(mhz)
		}
	}
	if mhz := maxClock(f, dev, clock); mhz > 0 {
		return uint32Ptr(mhz)
	}
	return nil
}

func maxClock(f *functions, dev uintptr, clock uint32) uint32 {
	if f.maxClockInfo == nil {
		return 0
	}
	var mhz uint32
	if f.maxClockInfo(dev, clock, &mhz) != success {
		return 0
	}
	return mhz
}

// Name returns the marketing name of a device.
func (c *Client) Name(index int) (string, bool) {
	f, dev, ok := c.device(index)
	if !ok || f.name == nil {
		return "", false
	}
	buf := make([]byte, stringBufferSize)
	if f.name(dev, &buf[0], uint32(len(buf))) != success {
		return "", false
	}
	name := dynlib.CString(buf)
	return name, name != ""
}

// PCIeThroughput reads the RX/TX PCIe counters of one device.
func (c *Client) PCIeThroughput(index int) (PCIeThroughput, bool) {
	f, dev, ok := c.device(index)
	if !ok {
		return PCIeThroughput{}, false
	}
	return readPCIeThroughput(f, dev)
}

// AggregatePCIeThroughput sums PCIe traffic across all devices.
func (c *Client) AggregatePCIeThroughput() (PCIeThroughput, bool) {
	f, ok := c.api()
	if !ok || f.pcieThroughput == nil {
		return PCIeThroughput{}, false
	}
	var count uint32
	if f.deviceCount(&count) != success || count == 0 {
		return PCIeThroughput{}, false
	}
	var (
		agg   PCIeThroughput
		found bool
	)
	for i := uint32(0); i < count; i++ {
		var dev uintptr
		if f.handleByIndex(i, &dev) != success {
			continue
		}
		t, ok := readPCIeThroughput(f, dev)
		if !ok {
			continue
		}
		agg.RxMBps += t.RxMBps
		agg.TxMBps += t.TxMBps
		found = true
	}
	return agg, found
}

func readPCIeThroughput(f *functions, dev uintptr) (PCIeThroughput, bool) {
	if f.pcieThroughput == nil {
		return PCIeThroughput{}, false
	}
	var rx, tx uint32
	if f.pcieThroughput(dev, pcieCounterRX, &rx) != success {
		return PCIeThroughput{}, false
	}
	if f.pcieThroughput(dev, pcieCounterTX, &tx) != success {
		return PCIeThroughput{}, false
	}
	return PCIeThroughput{
		RxMBps: float64(rx) / 1024,
		TxMBps: float64(tx) / 1024,
	}, true
}

// PCIeLink reads the current link generation and width of one device.
func (c *Client) PCIeLink(index int) (PCIeLink, bool) {
	f, dev, ok := c.device(index)
	if !ok || f.pcieLinkGeneration == nil || f.pcieLinkWidth == nil {
		return PCIeLink{}, false
	}
	var link PCIeLink
	if f.pcieLinkGeneration(dev, &link.Generation) != success {
		return PCIeLink{}, false
	}
	if f.pcieLinkWidth(dev, &link.Width) != success {
		return PCIeLink{}, false
	}
	if link.Generation == 0 || link.Width == 0 {
		return PCIeLink{}, false
	}
	return link, true
}

// LibraryVersion returns the NVML library version string.
func (c *Client) LibraryVersion() (string, bool) {
	f, ok := c.api()
	if !ok {
		return "", false
	}
	return readVersion(f.systemNVMLVersion)
}

// DriverVersion returns the installed NVIDIA driver version.
func (c *Client) DriverVersion() (string, bool) {
	f, ok := c.api()
	if !ok {
		return "", false
	}
	return readVersion(f.systemDriverVersion)
}

func readVersion(fn func(buf *byte, length uint32) int32) (string, bool) {
	if fn == nil {
		return "", false
	}
	buf := make([]byte, stringBufferSize)
	if fn(&buf[0], uint32(len(buf))) != success {
		return "", false
	}
	value := dynlib.CString(buf)
	return value, value != ""
}

// Processes lists compute processes with their VRAM usage across all devices.
func (c *Client) Processes() []ProcessInfo {
	f, ok := c.api()
	if !ok || f.computeProcesses == nil {
		return nil
	}
	var count uint32
	if f.deviceCount(&count) != success {
		return nil
	}

	var out []ProcessInfo
	for i := uint32(0); i < count; i++ {
		var dev uintptr
		if f.handleByIndex(i, &dev) != success {
			continue
		}
		var n uint32
		_ = f.computeProcesses(dev, &n, nil)
		if n == 0 {
			continue
		}
		// Processes may start between the two calls.
		n += 4
		infos := make([]processInfo, n)
		if f.computeProcesses(dev, &n, &infos[0]) != success {
			continue
		}
		for _, info := range infos[:min(int(n), len(infos))] {
			p := ProcessInfo{PID: info.PID, GPUIndex: int(i)}
			if info.UsedGPUMemory != valueNotAvailable {
				p.VRAMUsedGiB = float64(info.UsedGPUMemory) / bytesPerGiB
			}
			out = append(out, p)
		}
	}
	return out
}

func formatCapability(major, minor int32) string {
	return fmt.Sprintf("%d.%d", major, minor)
}

func float64Ptr(value float64) *float64 {
	v := value
	return &v
}

func uint32Ptr(value uint32) *uint32 {
	v := value
	return &v
}
