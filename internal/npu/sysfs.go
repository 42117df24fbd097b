package npu

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/aiz-dev/hwtelemetry/internal/gpu"
)

const (
	intelVendorID = 0x8086

	accelClassPrefix   = 0x0b40
	signalClassPrefix  = 0x1280
	amdVendorID        = 0x1002
	amdCPUVendorID     = 0x1022
	intelGenericName   = "Intel Neural Processing Unit"
	amdGenericName     = "AMD Ryzen AI NPU"
	amdArchitecture    = " Architecture: AMD XDNA"
	intelNoDriverNote  = "Intel NPU hardware detected but driver not loaded. Install intel-npu-driver package and ensure intel_vpu module is loaded."
	amdNoDriverNote    = "AMD Ryzen AI NPU hardware detected but driver not loaded. Install amdxdna driver (https://github.com/amd/xdna-driver) and ensure it's loaded."
	pciDevicesPath     = "bus/pci/devices"
	moduleVersionPath  = "module/%s/version"
	kernelDriverPrefix = "kernel "
)

type knownDevice struct {
	name string
	tops float64
}

var intelDevices = map[uint32]knownDevice{
	0x7d1d: {"Intel AI Boost (Meteor Lake NPU)", 10},
	0xad1d: {"Intel AI Boost (Arrow Lake NPU)", 13},
	0xb01d: {"Intel AI Boost (Lunar Lake NPU)", 48},
	0x643e: {"Intel AI Boost (Panther Lake NPU)", 60},
}

var amdDevices = map[uint32]knownDevice{
	0x1502: {"AMD Ryzen AI (Phoenix/Hawk Point NPU)", 10},
	0x17f0: {"AMD Ryzen AI (Strix Point NPU)", 50},
	0x17f1: {"AMD Ryzen AI (Strix Point NPU)", 50},
	0x17e0: {"AMD Ryzen AI (Strix Halo NPU)", 50},
	0x17f8: {"AMD Ryzen AI (Kraken Point NPU)", 55},
}

// Prober scans a sysfs tree for accel devices.
type Prober struct {
	sysfsRoot     string
	kernelVersion func() string
}

// NewProber scans beneath sysfsRoot. The kernel release is used as the
// driver version when a module does not publish one.
func NewProber(sysfsRoot string) *Prober {
	return &Prober{
		sysfsRoot: sysfsRoot,
		kernelVersion: func() string {
			v, err := host.KernelVersion()
			if err != nil {
				return ""
			}
			return v
		},
	}
}

// ProbeSysfs runs the Intel and AMD accel probes.
func (p *Prober) ProbeSysfs() Availability {
	return combine(map[string]vendorResult{
		VendorIntel: p.probeIntel(),
		VendorAMD:   p.probeAMD(),
	}, []string{VendorIntel, VendorAMD})
}

func (p *Prober) probeIntel() vendorResult {
	devices := p.scanAccel(intelClassDirs(p.sysfsRoot), func(d accelDevice) (Device, bool) {
		if d.vendorID != intelVendorID {
			return Device{}, false
		}
		isNPU := d.classPrefix() == accelClassPrefix || d.classPrefix() == signalClassPrefix
		if !isNPU {
			isNPU = strings.Contains(d.driver, "intel_vpu") || strings.Contains(d.driver, "intel_npu") || strings.Contains(d.driver, "ivpu")
		}
		if !isNPU {
			return Device{}, false
		}
		return p.describe(d, VendorIntel, intelDevices, intelGenericName), true
	})
	if len(devices) > 0 {
		return vendorResult{status: StatusAvailable, devices: devices, note: "Intel NPU available."}
	}
	if p.pciHas(func(vendor, _, class uint32) bool {
		return vendor == intelVendorID && class>>8 == accelClassPrefix
	}) {
		return vendorResult{status: StatusNoDriver, note: intelNoDriverNote}
	}
	return vendorResult{status: StatusNoDevice, note: "No Intel NPU detected."}
}

func (p *Prober) probeAMD() vendorResult {
	dirs := []string{filepath.Join(p.sysfsRoot, "class", "accel")}
	devices := p.scanAccel(dirs, func(d accelDevice) (Device, bool) {
		if d.vendorID != amdVendorID && d.vendorID != amdCPUVendorID {
			return Device{}, false
		}
		if d.driver == "" {
			return Device{}, false
		}
		if !strings.Contains(d.driver, "xdna") && d.classPrefix() != accelClassPrefix {
			return Device{}, false
		}
		dev := p.describe(d, VendorAMD, amdDevices, amdGenericName)
		dev.Details = append(dev.Details, amdArchitecture)
		return dev, true
	})
	if len(devices) > 0 {
		return vendorResult{status: StatusAvailable, devices: devices, note: "AMD Ryzen AI NPU available."}
	}
	if p.pciHas(func(vendor, device, class uint32) bool {
		if vendor != amdVendorID && vendor != amdCPUVendorID {
			return false
		}
		_, known := amdDevices[device]
		return known || class>>8 == accelClassPrefix
	}) {
		return vendorResult{status: StatusNoDriver, note: amdNoDriverNote}
	}
	return vendorResult{status: StatusNoDevice, note: "No AMD NPU detected."}
}

// intelClassDirs mirrors the older driver layout where NPUs showed up under
// the DRM class.
func intelClassDirs(root string) []string {
	accel := filepath.Join(root, "class", "accel")
	if _, err := os.Stat(accel); err == nil {
		return []string{accel}
	}
	return []string{filepath.Join(root, "class", "drm")}
}

type accelDevice struct {
	name     string
	dir      string
	vendorID uint32
	deviceID uint32
	class    uint32
	driver   string
}

func (d accelDevice) classPrefix() uint32 {
	return d.class >> 8
}

func (p *Prober) scanAccel(dirs []string, match func(accelDevice) (Device, bool)) []Device {
	var devices []Device
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "accel") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			deviceDir := filepath.Join(dir, name, "device")
			d := accelDevice{
				name:     name,
				dir:      deviceDir,
				vendorID: readHex(filepath.Join(deviceDir, "vendor")),
				deviceID: readHex(filepath.Join(deviceDir, "device")),
				class:    readHex(filepath.Join(deviceDir, "class")),
				driver:   driverName(deviceDir),
			}
			if dev, ok := match(d); ok {
				devices = append(devices, dev)
			}
		}
	}
	return devices
}

func (p *Prober) describe(d accelDevice, vendor string, known map[uint32]knownDevice, generic string) Device {
	dev := Device{
		Vendor:     vendor,
		VendorID:   d.vendorID,
		DeviceID:   d.deviceID,
		DevicePath: "/dev/" + d.name,
		Name:       generic,
	}
	if k, ok := known[d.deviceID]; ok {
		dev.Name = k.name
		tops := k.tops
		dev.PeakTOPS = &tops
	} else if resolved := gpu.LookupName(gpu.PCIIdentity{Vendor: uint16(d.vendorID), Device: uint16(d.deviceID)}); resolved != "" {
		dev.Name = resolved
	}
	if d.driver != "" {
		dev.DriverVersion = readAttr(filepath.Join(p.sysfsRoot, fmt.Sprintf(moduleVersionPath, d.driver)))
		if dev.DriverVersion == "" && p.kernelVersion != nil {
			if kv := p.kernelVersion(); kv != "" {
				dev.DriverVersion = kernelDriverPrefix + kv
			}
		}
	}

	dev.Details = append(dev.Details, fmt.Sprintf(" Device ID: 0x%x", d.deviceID))
	if dev.PeakTOPS != nil {
		dev.Details = append(dev.Details, " Peak Performance: "+strconv.FormatFloat(*dev.PeakTOPS, 'g', -1, 64)+" TOPS (INT8)")
	}
	if dev.DriverVersion != "" {
		dev.Details = append(dev.Details, " Driver: "+dev.DriverVersion)
	}
	return dev
}

// pciHas reports whether any PCI function satisfies match. It is used to
// tell hardware without a bound driver apart from no hardware at all.
func (p *Prober) pciHas(match func(vendor, device, class uint32) bool) bool {
	dir := filepath.Join(p.sysfsRoot, pciDevicesPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		base := filepath.Join(dir, e.Name())
		if match(readHex(filepath.Join(base, "vendor")), readHex(filepath.Join(base, "device")), readHex(filepath.Join(base, "class"))) {
			return true
		}
	}
	return false
}

func driverName(deviceDir string) string {
	target, err := os.Readlink(filepath.Join(deviceDir, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

func readAttr(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line)
}

func readHex(path string) uint32 {
	raw := readAttr(path)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(raw), "0x"), 16, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}
