// Package rocmsmi binds AMD ROCm SMI at runtime. It is the secondary GPU
// backend, matched to sysfs-enumerated devices by PCI bus address.
package rocmsmi

import (
	"fmt"
	"strings"

	"github.com/aiz-dev/hwtelemetry/internal/dynlib"
)

// Source names this backend in unified telemetry records.
const Source = "rocm-smi"

const (
	statusSuccess = 0

	memTypeVRAM   = 0
	tempCurrent   = 0
	sensorDefault = 0

	bytesPerGiB = 1024 * 1024 * 1024
)

// Telemetry is a ROCm SMI device reading. Nil fields were not exposed.
type Telemetry struct {
	UtilPct      *float64 `json:"util_pct"`
	VRAMUsedGiB  *float64 `json:"vram_used_gib"`
	VRAMTotalGiB *float64 `json:"vram_total_gib"`
	PowerWatts   *float64 `json:"power_watts"`
	TempC        *float64 `json:"temp_c"`
	PerfLevel    string   `json:"perf_level"`
}

type functions struct {
	library string

	init              func(flags uint64) int32
	shutDown          func() int32
	numMonitorDevices func(count *uint32) int32
	busyPercent       func(index uint32, pct *uint32) int32
	memoryUsage       func(index uint32, memType int32, used *uint64) int32
	memoryTotal       func(index uint32, memType int32, total *uint64) int32
	powerAverage      func(index uint32, sensor uint32, microwatts *uint64) int32
	temperatureMetric func(index uint32, sensor uint32, metric int32, millidegrees *int64) int32
	performanceLevel  func(index uint32, level *int32) int32
	pciID             func(index uint32, id *uint64) int32
}

func candidateLibraries() []string {
	return dynlib.Names([]string{
		"librocm_smi64.so.1",
		"librocm_smi64.so",
		"librocm_smi64.so.6",
		"/opt/rocm/lib/librocm_smi64.so.1",
		"/opt/rocm/lib/librocm_smi64.so",
	}, nil)
}

func loadFunctions() (*functions, error) {
	lib, err := dynlib.Open(candidateLibraries())
	if err != nil {
		return nil, fmt.Errorf("ROCm SMI not found: %w", err)
	}

	f := &functions{library: lib.Name()}
	if err := lib.RequireAll([]dynlib.Binding{
		{Symbol: "rsmi_init", Fn: &f.init},
		{Symbol: "rsmi_shut_down", Fn: &f.shutDown},
		{Symbol: "rsmi_num_monitor_devices", Fn: &f.numMonitorDevices},
		{Symbol: "rsmi_dev_busy_percent_get", Fn: &f.busyPercent},
		{Symbol: "rsmi_dev_memory_usage_get", Fn: &f.memoryUsage},
		{Symbol: "rsmi_dev_memory_total_get", Fn: &f.memoryTotal},
	}); err != nil {
		return nil, fmt.Errorf("ROCm SMI unusable: %w", err)
	}
	lib.OptionalAll([]dynlib.Binding{
		{Symbol: "rsmi_dev_power_ave_get", Fn: &f.powerAverage},
		{Symbol: "rsmi_dev_temp_metric_get", Fn: &f.temperatureMetric},
		{Symbol: "rsmi_dev_perf_level_get", Fn: &f.performanceLevel},
		{Symbol: "rsmi_dev_pci_id_get", Fn: &f.pciID},
	})

	if code := f.init(0); code != statusSuccess {
		return nil, fmt.Errorf("rsmi_init failed (code %d)", code)
	}
	return f, nil
}

// Client answers ROCm SMI queries over a lazily activated library.
type Client struct {
	lazy *dynlib.Lazy[*functions]
}

var defaultClient = newClient(loadFunctions)

// Default returns the process-wide ROCm SMI client.
func Default() *Client {
	return defaultClient
}

func newClient(load func() (*functions, error)) *Client {
	return &Client{lazy: dynlib.NewLazy(load)}
}

// Available returns nil when ROCm SMI is usable.
func (c *Client) Available() error {
	_, err := c.lazy.Get()
	return err
}

// Library returns the file ROCm SMI was loaded from.
func (c *Client) Library() string {
	f, err := c.lazy.Get()
	if err != nil {
		return ""
	}
	return f.library
}

// DeviceCount returns the number of monitored devices.
func (c *Client) DeviceCount() (int, bool) {
	f, err := c.lazy.Get()
	if err != nil {
		return 0, false
	}
	var count uint32
	if f.numMonitorDevices(&count) != statusSuccess {
		return 0, false
	}
	return int(count), true
}

// Telemetry reads the device at index. It is absent when no field could be read.
func (c *Client) Telemetry(index int) (Telemetry, bool) {
	count, ok := c.DeviceCount()
	if !ok || index < 0 || index >= count {
		return Telemetry{}, false
	}
	f, _ := c.lazy.Get()
	return readTelemetry(f, uint32(index))
}

// PCIBusID returns the domain:bus:device.function address of a device.
func (c *Client) PCIBusID(index int) (string, bool) {
	count, ok := c.DeviceCount()
	if !ok || index < 0 || index >= count {
		return "", false
	}
	f, _ := c.lazy.Get()
	if f.pciID == nil {
		return "", false
	}
	var id uint64
	if f.pciID(uint32(index), &id) != statusSuccess {
		return "", false
	}
	return DecodeBDF(id)
}

// FindByPCIBusID reads the device whose bus address matches bdf.
func (c *Client) FindByPCIBusID(bdf string) (Telemetry, bool) {
	bdf = strings.TrimSpace(bdf)
	if bdf == "" {
		return Telemetry{}, false
	}
	count, ok := c.DeviceCount()
	if !ok {
		return Telemetry{}, false
	}
	for i := 0; i < count; i++ {
		id, ok := c.PCIBusID(i)
		if !ok || !strings.EqualFold(id, bdf) {
			continue
		}
		return c.Telemetry(i)
	}
	return Telemetry{}, false
}

func readTelemetry(f *functions, index uint32) (Telemetry, bool) {
	var (
		t     Telemetry
		found bool
	)

	var busy uint32
	if f.busyPercent(index, &busy) == statusSuccess {
		t.UtilPct = float64Ptr(float64(busy))
		found = true
	}
	var used uint64
	if f.memoryUsage(index, memTypeVRAM, &used) == statusSuccess {
		t.VRAMUsedGiB = float64Ptr(float64(used) / bytesPerGiB)
		found = true
	}
	var total uint64
	if f.memoryTotal(index, memTypeVRAM, &total) == statusSuccess {
		t.VRAMTotalGiB = float64Ptr(float64(total) / bytesPerGiB)
		found = true
	}
	if f.powerAverage != nil {
		var uw uint64
		if f.powerAverage(index, sensorDefault, &uw) == statusSuccess {
			t.PowerWatts = float64Ptr(float64(uw) / 1e6)
			found = true
		}
	}
	if f.temperatureMetric != nil {
		var milli int64
		if f.temperatureMetric(index, sensorDefault, tempCurrent, &milli) == statusSuccess {
			t.TempC = float64Ptr(float64(milli) / 1000)
			found = true
		}
	}
	if f.performanceLevel != nil {
		var level int32
		if f.performanceLevel(index, &level) == statusSuccess {
			if name := PerfLevelName(level); name != "" {
				t.PerfLevel = name
				found = true
			}
		}
	}
	return t, found
}

// PerfLevelName maps an rsmi_dev_perf_level_t value to its short name.
func PerfLevelName(level int32) string {
	switch level {
	case 0:
		return "auto"
	case 1:
		return "low"
	case 2:
		return "high"
	case 3:
		return "manual"
	case 4:
		return "stable"
	default:
		return ""
	}
}

// DecodeBDF unpacks a ROCm SMI PCI id into "dddd:bb:dd.f". An all-zero id
// carries no address.
func DecodeBDF(id uint64) (string, bool) {
	domain := (id >> 32) & 0xffff
	bus := (id >> 8) & 0xff
	device := (id >> 3) & 0x1f
	function := id & 0x7
	if domain == 0 && bus == 0 && device == 0 && function == 0 {
		return "", false
	}
	return fmt.Sprintf("%04x:%02x:%02x.%x", domain, bus, device, function), true
}

func float64Ptr(value float64) *float64 {
	v := value
	return &v
}
