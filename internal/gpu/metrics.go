package gpu

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	gpuBusyFilename       = "gpu_busy_percent"
	memBusyFilename       = "mem_busy_percent"
	vramUsedFilename      = "mem_info_vram_used"
	vramTotalFilename     = "mem_info_vram_total"
	perfLevelFilename     = "power_dpm_force_performance_level"
	ppDpmSclkFilename     = "pp_dpm_sclk"
	ppDpmMclkFilename     = "pp_dpm_mclk"
	hwmonTempFile         = "temp1_input"
	hwmonFanFile          = "fan1_input"
	hwmonPowerAverageFile = "power1_average"
	hwmonPowerInputFile   = "power1_input"
)

// Telemetry sources reported by ReadMetrics.
const (
	SourceAMD     = "amdgpu-sysfs"
	SourceGeneric = "sysfs"
)

var intelBusyFiles = []string{
	"gt_busy_percent",
	filepath.Join("gt", "gt0", "rps_busy_percent"),
	filepath.Join("gt", "gt0", "busy_percent"),
}

// Metrics contains kernel-exposed GPU telemetry. Pointer fields serialize as
// null when unavailable.
type Metrics struct {
	UtilPct        *float64 `json:"util_pct"`
	MemBusyPct     *float64 `json:"mem_busy_pct"`
	VRAMUsedBytes  *uint64  `json:"vram_used_bytes"`
	VRAMTotalBytes *uint64  `json:"vram_total_bytes"`
	TempC          *float64 `json:"temp_c"`
	PowerW         *float64 `json:"power_w"`
	FanRPM         *float64 `json:"fan_rpm"`
	SCLKMHz        *float64 `json:"sclk_mhz"`
	MCLKMHz        *float64 `json:"mclk_mhz"`
	PState         string   `json:"pstate"`
	Source         string   `json:"source"`
}

func (m Metrics) empty() bool {
	return m.UtilPct == nil && m.MemBusyPct == nil &&
		m.VRAMUsedBytes == nil && m.VRAMTotalBytes == nil &&
		m.TempC == nil && m.PowerW == nil && m.FanRPM == nil &&
		m.SCLKMHz == nil && m.MCLKMHz == nil && m.PState == ""
}

// ReadMetrics samples the vendor-specific sysfs files of dev plus the
// hwmon sensors every driver exposes. It reports false when nothing could be
// read.
func ReadMetrics(dev Device) (Metrics, bool) {
	if dev.DevicePath == "" {
		return Metrics{}, false
	}
	r := reader{devicePath: dev.DevicePath}

	var m Metrics
	switch {
	case dev.IsAMD():
		m.Source = SourceAMD
		m.UtilPct = r.readPercent(gpuBusyFilename)
		m.MemBusyPct = r.readPercent(memBusyFilename)
		m.SCLKMHz = r.readCurrentClock(ppDpmSclkFilename)
		m.MCLKMHz = r.readCurrentClock(ppDpmMclkFilename)
		m.PState = r.readText(perfLevelFilename)
		m.VRAMUsedBytes = r.readUint(vramUsedFilename)
		m.VRAMTotalBytes = r.readUint(vramTotalFilename)
	case dev.IsIntel():
		m.Source = VendorIntel + "-sysfs"
		if dev.Driver != "" {
			m.Source = dev.Driver + "-sysfs"
		}
		for _, name := range intelBusyFiles {
			if _, err := os.Stat(filepath.Join(r.devicePath, name)); err == nil {
				m.UtilPct = r.readPercent(name)
				break
			}
		}
		m.VRAMUsedBytes = r.readUint(vramUsedFilename)
		m.VRAMTotalBytes = r.readUint(vramTotalFilename)
	default:
		m.Source = SourceGeneric
	}

	if hwmon := detectHwmon(r.devicePath); hwmon != "" {
		m.TempC = r.readScaledFloat(filepath.Join(hwmon, hwmonTempFile), 1000)
		m.FanRPM = r.readScaledFloat(filepath.Join(hwmon, hwmonFanFile), 1)
		m.PowerW = r.readScaledFloat(filepath.Join(hwmon, hwmonPowerAverageFile), 1_000_000)
		if m.PowerW == nil {
			m.PowerW = r.readScaledFloat(filepath.Join(hwmon, hwmonPowerInputFile), 1_000_000)
		}
	}

	if m.empty() {
		return Metrics{}, false
	}
	return m, true
}

type reader struct {
	devicePath string
}

func (r reader) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.devicePath, name)
}

func (r reader) readText(name string) string {
	data, err := os.ReadFile(r.path(name))
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line)
}

func (r reader) readPercent(name string) *float64 {
	value, err := r.readFloatValue(r.path(name))
	if err != nil || value < 0 {
		return nil
	}
	if value > 100 {
		// Some kernels report busy % scaled by 100.
		value = min(value/100, 100)
	}
	return float64Ptr(value)
}

func (r reader) readCurrentClock(name string) *float64 {
	raw, err := os.ReadFile(r.path(name))
	if err != nil {
		return nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "*") {
			continue
		}
		if clock, ok := extractClockMHz(line); ok {
			return float64Ptr(clock)
		}
	}
	return nil
}

func (r reader) readUint(name string) *uint64 {
	valueStr := r.readText(name)
	if valueStr == "" {
		return nil
	}
	value, err := strconv.ParseUint(valueStr, 0, 64)
	if err != nil {
		return nil
	}
	return &value
}

func (r reader) readScaledFloat(path string, divisor float64) *float64 {
	value, err := r.readFloatValue(path)
	if err != nil {
		return nil
	}
	return float64Ptr(value / divisor)
}

func (r reader) readFloatValue(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	valueStr := strings.TrimSpace(string(data))
	if valueStr == "" {
		return 0, fmt.Errorf("empty value in %s", path)
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return value, nil
}

func detectHwmon(devicePath string) string {
	hwmonRoot := filepath.Join(devicePath, "hwmon")
	entries, err := os.ReadDir(hwmonRoot)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
			return filepath.Join(hwmonRoot, entry.Name())
		}
	}
	return ""
}

func extractClockMHz(line string) (float64, bool) {
	for _, field := range strings.Fields(line) {
		field = strings.ToLower(strings.TrimSuffix(field, "*"))
		valueStr, ok := strings.CutSuffix(field, "mhz")
		if !ok {
			continue
		}
		value, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			continue
		}
		return value, true
	}
	return 0, false
}

func float64Ptr(value float64) *float64 {
	v := value
	return &v
}
