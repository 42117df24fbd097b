package gpu

import (
	"path/filepath"
	"testing"
)

func TestReadMetricsAMD(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	deviceDir := createCard(t, root, "card0", map[string]string{
		"gpu_busy_percent":                  "47\n",
		"mem_busy_percent":                  "3100\n",
		"mem_info_vram_used":                "104857600\n",
		"mem_info_vram_total":               "2147483648\n",
		"power_dpm_force_performance_level": "auto\n",
		"pp_dpm_sclk":                       "0: 500Mhz\n1: 1000Mhz *\n2: 2400Mhz\n",
		"pp_dpm_mclk":                       "0: 96Mhz\n1: 900Mhz *\n",
		"hwmon/hwmon3/temp1_input":          "65000\n",
		"hwmon/hwmon3/fan1_input":           "1200\n",
		"hwmon/hwmon3/power1_average":       "120000000\n",
	})

	m, ok := ReadMetrics(Device{ID: "card0", Vendor: VendorAMD, Driver: "amdgpu", DevicePath: deviceDir})
	if !ok {
		t.Fatal("expected metrics")
	}
	if m.Source != SourceAMD {
		t.Fatalf("unexpected source %q", m.Source)
	}
	if m.PState != "auto" {
		t.Fatalf("unexpected pstate %q", m.PState)
	}

	assertFloatEqual(t, m.UtilPct, 47)
	assertFloatEqual(t, m.MemBusyPct, 31)
	assertFloatEqual(t, m.SCLKMHz, 1000)
	assertFloatEqual(t, m.MCLKMHz, 900)
	assertFloatEqual(t, m.TempC, 65)
	assertFloatEqual(t, m.FanRPM, 1200)
	assertFloatEqual(t, m.PowerW, 120)
	assertUintEqual(t, m.VRAMUsedBytes, 104857600)
	assertUintEqual(t, m.VRAMTotalBytes, 2147483648)
}

func TestReadMetricsIntelProbesBusyFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	deviceDir := createCard(t, root, "card1", map[string]string{
		"gt/gt0/rps_busy_percent":   "12\n",
		"hwmon/hwmon0/power1_input": "15500000\n",
	})

	m, ok := ReadMetrics(Device{ID: "card1", Vendor: VendorIntel, Driver: "xe", DevicePath: deviceDir})
	if !ok {
		t.Fatal("expected metrics")
	}
	if m.Source != "xe-sysfs" {
		t.Fatalf("unexpected source %q", m.Source)
	}
	assertFloatEqual(t, m.UtilPct, 12)
	assertFloatEqual(t, m.PowerW, 15.5)
	if m.TempC != nil || m.VRAMTotalBytes != nil {
		t.Fatalf("expected missing fields to stay nil, got %+v", m)
	}
}

func TestReadMetricsGenericHwmonOnly(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	deviceDir := createCard(t, root, "card0", map[string]string{
		"gpu_busy_percent":         "90\n",
		"hwmon/hwmon1/temp1_input": "41000\n",
	})

	m, ok := ReadMetrics(Device{ID: "card0", Vendor: VendorNVIDIA, Driver: "nouveau", DevicePath: deviceDir})
	if !ok {
		t.Fatal("expected metrics")
	}
	if m.Source != SourceGeneric {
		t.Fatalf("unexpected source %q", m.Source)
	}
	if m.UtilPct != nil {
		t.Fatal("generic path must not read vendor busy files")
	}
	assertFloatEqual(t, m.TempC, 41)
}

func TestReadMetricsNothingReadable(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	deviceDir := createCard(t, root, "card0", map[string]string{
		"gpu_busy_percent": "garbage\n",
	})

	if _, ok := ReadMetrics(Device{ID: "card0", Vendor: VendorAMD, DevicePath: deviceDir}); ok {
		t.Fatal("expected no metrics")
	}
	if _, ok := ReadMetrics(Device{ID: "card9", DevicePath: filepath.Join(root, "missing")}); ok {
		t.Fatal("expected no metrics for missing device")
	}
	if _, ok := ReadMetrics(Device{}); ok {
		t.Fatal("expected no metrics without device path")
	}
}

func assertFloatEqual(t *testing.T, value *float64, expected float64) {
	t.Helper()
	if value == nil {
		t.Fatalf("expected float value %.2f, got nil", expected)
	}
	if diff := *value - expected; diff < -0.0001 || diff > 0.0001 {
		t.Fatalf("expected %.2f, got %.4f", expected, *value)
	}
}

func assertUintEqual(t *testing.T, value *uint64, expected uint64) {
	t.Helper()
	if value == nil {
		t.Fatalf("expected uint value %d, got nil", expected)
	}
	if *value != expected {
		t.Fatalf("expected %d, got %d", expected, *value)
	}
}
