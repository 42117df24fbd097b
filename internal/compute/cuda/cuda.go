// Package cuda probes the CUDA driver API.
package cuda

import (
	"errors"
	"fmt"

	"github.com/aiz-dev/hwtelemetry/internal/compute"
	"github.com/aiz-dev/hwtelemetry/internal/dynlib"
)

// API names this runtime in compute.Info.
const API = "cuda"

const (
	success = 0

	attrMultiprocessorCount    = 16
	attrComputeCapabilityMajor = 75
	attrComputeCapabilityMinor = 76
	deviceNameBufferSize       = 256
)

var errNotFound = errors.New("CUDA driver runtime not found")

type functions struct {
	library string

	init             func(flags uint32) int32
	driverGetVersion func(version *int32) int32
	deviceGetCount   func(count *int32) int32
	deviceGet        func(device *int32, ordinal int32) int32
	deviceGetName    func(name *byte, length int32, device int32) int32

	getErrorString     func(code int32, str **byte) int32
	deviceTotalMem     func(bytes *uint64, device int32) int32
	deviceGetAttribute func(value *int32, attribute int32, device int32) int32
}

func candidateLibraries() []string {
	return dynlib.Names(dynlib.WithUnversioned([]string{"libcuda.so.1"}), []string{"nvcuda.dll"})
}

func loadFunctions() (*functions, error) {
	lib, err := dynlib.Open(candidateLibraries())
	if err != nil {
		return nil, errNotFound
	}

	f := &functions{library: lib.Name()}
	if err := lib.RequireAll([]dynlib.Binding{
		{Symbol: "cuInit", Fn: &f.init},
		{Symbol: "cuDriverGetVersion", Fn: &f.driverGetVersion},
		{Symbol: "cuDeviceGetCount", Fn: &f.deviceGetCount},
		{Symbol: "cuDeviceGet", Fn: &f.deviceGet},
		{Symbol: "cuDeviceGetName", Fn: &f.deviceGetName},
	}); err != nil {
		return nil, compute.BindError("CUDA driver", err)
	}
	lib.OptionalAll([]dynlib.Binding{
		{Symbol: "cuGetErrorString", Fn: &f.getErrorString},
		{Symbol: "cuDeviceTotalMem_v2", Fn: &f.deviceTotalMem},
		{Symbol: "cuDeviceGetAttribute", Fn: &f.deviceGetAttribute},
	})

	if code := f.init(0); code != success {
		return nil, fmt.Errorf("cuInit failed: %s", f.errorString(code))
	}
	return f, nil
}

func (f *functions) errorString(code int32) string {
	if f.getErrorString != nil {
		var str *byte
		if f.getErrorString(code, &str) == success && str != nil {
			return dynlib.GoString(str)
		}
	}
	return fmt.Sprintf("CUDA_ERROR(%d)", code)
}

// Prober reports CUDA driver availability and devices.
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

// Probe returns the driver version and the visible devices.
func (p *Prober) Probe() compute.Info {
	f, err := p.lazy.Get()
	if err != nil {
		return compute.Unavailable(API, err)
	}

	info := compute.Info{API: API, Available: true, Library: f.library}
	var version int32
	if f.driverGetVersion(&version) == success {
		info.Version = FormatVersion(version)
	}

	var count int32
	if code := f.deviceGetCount(&count); code != success {
		info.Reason = "cuDeviceGetCount failed: " + f.errorString(code)
		return info
	}
	for i := int32(0); i < count; i++ {
		var dev int32
		if f.deviceGet(&dev, i) != success {
			continue
		}
		info.Devices = append(info.Devices, f.device(int(i), dev))
	}
	return info
}

func (f *functions) device(index int, dev int32) compute.Device {
	out := compute.Device{Index: index, Type: "gpu"}

	buf := make([]byte, deviceNameBufferSize)
	if f.deviceGetName(&buf[0], int32(len(buf)), dev) == success {
		out.Name = dynlib.CString(buf)
	}
	if f.deviceTotalMem != nil {
		var total uint64
		if f.deviceTotalMem(&total, dev) == success {
			out.MemoryBytes = total
		}
	}
	if f.deviceGetAttribute != nil {
		var major, minor, sms int32
		if f.deviceGetAttribute(&major, attrComputeCapabilityMajor, dev) == success &&
			f.deviceGetAttribute(&minor, attrComputeCapabilityMinor, dev) == success {
			out.ComputeCapability = fmt.Sprintf("%d.%d", major, minor)
		}
		if f.deviceGetAttribute(&sms, attrMultiprocessorCount, dev) == success {
			out.ComputeUnits = int(sms)
		}
	}
	return out
}

// FormatVersion renders a cuDriverGetVersion value, e.g. 12040 as "12.4".
func FormatVersion(v int32) string {
	return fmt.Sprintf("%d.%d", v/1000, (v%1000)/10)
}
