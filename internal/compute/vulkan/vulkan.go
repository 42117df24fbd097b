// Package vulkan probes the Vulkan loader and its physical devices.
package vulkan

import (
	"errors"
	"fmt"

	"github.com/aiz-dev/hwtelemetry/internal/compute"
	"github.com/aiz-dev/hwtelemetry/internal/dynlib"
)

// API names this runtime in compute.Info.
const API = "vulkan"

const (
	vkSuccess = 0

	structureTypeInstanceCreateInfo = 1
	maxPhysicalDeviceNameSize       = 256
	uuidSize                        = 16
)

var errNotFound = errors.New("Vulkan runtime not found")

// instanceCreateInfo mirrors VkInstanceCreateInfo with no application info,
// layers or extensions.
type instanceCreateInfo struct {
	SType                   uint32
	PNext                   uintptr
	Flags                   uint32
	PApplicationInfo        uintptr
	EnabledLayerCount       uint32
	PPEnabledLayerNames     uintptr
	EnabledExtensionCount   uint32
	PPEnabledExtensionNames uintptr
}

// physicalDeviceProperties covers the leading fields of
// VkPhysicalDeviceProperties. The tail is sized past the limits and sparse
// property blocks so the driver never writes out of bounds.
type physicalDeviceProperties struct {
	APIVersion        uint32
	DriverVersion     uint32
	VendorID          uint32
	DeviceID          uint32
	DeviceType        uint32
	DeviceName        [maxPhysicalDeviceNameSize]byte
	PipelineCacheUUID [uuidSize]byte
	_                 [732]byte
}

type functions struct {
	library string

	createInstance              func(info *instanceCreateInfo, allocator uintptr, instance *uintptr) int32
	destroyInstance             func(instance uintptr, allocator uintptr)
	enumeratePhysicalDevices    func(instance uintptr, count *uint32, devices *uintptr) int32
	getPhysicalDeviceProperties func(device uintptr, props *physicalDeviceProperties)

	enumerateInstanceVersion func(version *uint32) int32
}

func candidateLibraries() []string {
	return dynlib.Names(dynlib.WithUnversioned([]string{"libvulkan.so.1"}), []string{"vulkan-1.dll"})
}

func loadFunctions() (*functions, error) {
	lib, err := dynlib.Open(candidateLibraries())
	if err != nil {
		return nil, errNotFound
	}
	f := &functions{library: lib.Name()}
	if err := lib.RequireAll([]dynlib.Binding{
		{Symbol: "vkCreateInstance", Fn: &f.createInstance},
		{Symbol: "vkDestroyInstance", Fn: &f.destroyInstance},
		{Symbol: "vkEnumeratePhysicalDevices", Fn: &f.enumeratePhysicalDevices},
		{Symbol: "vkGetPhysicalDeviceProperties", Fn: &f.getPhysicalDeviceProperties},
	}); err != nil {
		return nil, compute.BindError("Vulkan", err)
	}
	lib.Optional("vkEnumerateInstanceVersion", &f.enumerateInstanceVersion)
	return f, nil
}

// Prober reports the Vulkan loader version and physical devices.
type Prober struct {
	lazy *dynlib.Lazy[*functions]
}

var defaultProber = newProber(loadFunctions)

// Default returns the process-wide prober.
func Default() *Prober {
	return defaultProber
}

func newProber(load func() (*functions, error)) *Prober {
	return &Prober{lazy: dynlib.NewLazy(load)}
}

// Probe creates a throwaway instance and lists its physical devices.
func (p *Prober) Probe() compute.Info {
	f, err := p.lazy.Get()
	if err != nil {
		return compute.Unavailable(API, err)
	}
	info := compute.Info{API: API, Available: true, Library: f.library, Version: "1.0.0"}
	if f.enumerateInstanceVersion != nil {
		var v uint32
		if f.enumerateInstanceVersion(&v) == vkSuccess {
			info.Version = FormatVersion(v)
		}
	}

	create := instanceCreateInfo{SType: structureTypeInstanceCreateInfo}
	var instance uintptr
	if code := f.createInstance(&create, 0, &instance); code != vkSuccess {
		info.Available = false
		info.Reason = fmt.Sprintf("vkCreateInstance failed (VkResult %d)", code)
		return info
	}
	defer f.destroyInstance(instance, 0)

	var count uint32
	if f.enumeratePhysicalDevices(instance, &count, nil) != vkSuccess || count == 0 {
		return info
	}
	devices := make([]uintptr, count)
	if f.enumeratePhysicalDevices(instance, &count, &devices[0]) != vkSuccess {
		return info
	}
	for i, dev := range devices[:count] {
		var props physicalDeviceProperties
		f.getPhysicalDeviceProperties(dev, &props)
		info.Devices = append(info.Devices, compute.Device{
			Index:      i,
			Name:       dynlib.CString(props.DeviceName[:]),
			Type:       TypeName(props.DeviceType),
			VendorID:   props.VendorID,
			APIVersion: FormatVersion(props.APIVersion),
		})
	}
	return info
}

// FormatVersion decodes a VK_MAKE_API_VERSION value.
func FormatVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", (v>>22)&0x7f, (v>>12)&0x3ff, v&0xfff)
}

// TypeName maps VkPhysicalDeviceType to a short name.
func TypeName(t uint32) string {
	switch t {
	case 1:
		return "integrated_gpu"
	case 2:
		return "discrete_gpu"
	case 3:
		return "virtual_gpu"
	case 4:
		return "cpu"
	default:
		return "other"
	}
}
