// Package opencl probes installed OpenCL platforms and their devices.
package opencl

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/aiz-dev/hwtelemetry/internal/compute"
	"github.com/aiz-dev/hwtelemetry/internal/dynlib"
)

// API names this runtime in compute.Info.
const API = "opencl"

const (
	clSuccess = 0

	platformVersion = 0x0901
	platformName    = 0x0902
	platformVendor  = 0x0903

	deviceTypeAll         = 0xFFFFFFFF
	deviceTypeCPU         = 1 << 1
	deviceTypeGPU         = 1 << 2
	deviceTypeAccelerator = 1 << 3

	deviceType            = 0x1000
	deviceMaxComputeUnits = 0x1002
	deviceGlobalMemSize   = 0x101F
	deviceName            = 0x102B
	deviceVendor          = 0x102C
	deviceVendorID        = 0x1001

	infoBufferSize = 256
)

var errNotFound = errors.New("OpenCL runtime not found")

type functions struct {
	library string

	getPlatformIDs  func(entries uint32, platforms *uintptr, count *uint32) int32
	getPlatformInfo func(platform uintptr, param uint32, size uintptr, value *byte, sizeRet *uintptr) int32
	getDeviceIDs    func(platform uintptr, kind uint64, entries uint32, devices *uintptr, count *uint32) int32
	getDeviceInfo   func(device uintptr, param uint32, size uintptr, value *byte, sizeRet *uintptr) int32
}

func candidateLibraries() []string {
	return dynlib.Names(dynlib.WithUnversioned([]string{"libOpenCL.so.1"}), []string{"OpenCL.dll"})
}

func loadFunctions() (*functions, error) {
	lib, err := dynlib.Open(candidateLibraries())
	if err != nil {
		return nil, errNotFound
	}
	f := &functions{library: lib.Name()}
	if err := lib.RequireAll([]dynlib.Binding{
		{Symbol: "clGetPlatformIDs", Fn: &f.getPlatformIDs},
		{Symbol: "clGetPlatformInfo", Fn: &f.getPlatformInfo},
		{Symbol: "clGetDeviceIDs", Fn: &f.getDeviceIDs},
		{Symbol: "clGetDeviceInfo", Fn: &f.getDeviceInfo},
	}); err != nil {
		return nil, compute.BindError("OpenCL", err)
	}
	return f, nil
}

// Prober reports OpenCL platforms and devices.
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

// Probe enumerates every platform and its devices. Version carries the
// first platform's version string.
func (p *Prober) Probe() compute.Info {
	f, err := p.lazy.Get()
	if err != nil {
		return compute.Unavailable(API, err)
	}
	info := compute.Info{API: API, Available: true, Library: f.library}

	var count uint32
	if code := f.getPlatformIDs(0, nil, &count); code != clSuccess || count == 0 {
		info.Reason = fmt.Sprintf("no OpenCL platforms (code %d)", code)
		return info
	}
	platforms := make([]uintptr, count)
	if code := f.getPlatformIDs(count, &platforms[0], nil); code != clSuccess {
		info.Reason = fmt.Sprintf("clGetPlatformIDs failed (code %d)", code)
		return info
	}

	for _, platform := range platforms {
		name := f.platformString(platform, platformName)
		if vendor := f.platformString(platform, platformVendor); vendor != "" && name == "" {
			name = vendor
		}
		if info.Version == "" {
			info.Version = f.platformString(platform, platformVersion)
		}
		for _, dev := range f.devices(platform) {
			d := f.device(dev)
			d.Index = len(info.Devices)
			d.Platform = name
			info.Devices = append(info.Devices, d)
		}
	}
	return info
}

func (f *functions) devices(platform uintptr) []uintptr {
	var count uint32
	if f.getDeviceIDs(platform, deviceTypeAll, 0, nil, &count) != clSuccess || count == 0 {
		return nil
	}
	devs := make([]uintptr, count)
	if f.getDeviceIDs(platform, deviceTypeAll, count, &devs[0], nil) != clSuccess {
		return nil
	}
	return devs
}

func (f *functions) device(dev uintptr) compute.Device {
	out := compute.Device{Name: f.deviceString(dev, deviceName)}

	var kind uint64
	if f.deviceValue(dev, deviceType, unsafe.Pointer(&kind), unsafe.Sizeof(kind)) {
		out.Type = TypeName(kind)
	}
	var mem uint64
	if f.deviceValue(dev, deviceGlobalMemSize, unsafe.Pointer(&mem), unsafe.Sizeof(mem)) {
		out.MemoryBytes = mem
	}
	var units uint32
	if f.deviceValue(dev, deviceMaxComputeUnits, unsafe.Pointer(&units), unsafe.Sizeof(units)) {
		out.ComputeUnits = int(units)
	}
	var vendorID uint32
	if f.deviceValue(dev, deviceVendorID, unsafe.Pointer(&vendorID), unsafe.Sizeof(vendorID)) {
		out.VendorID = vendorID
	}
	if out.Name == "" {
		out.Name = f.deviceString(dev, deviceVendor)
	}
	return out
}

func (f *functions) platformString(platform uintptr, param uint32) string {
	buf := make([]byte, infoBufferSize)
	if f.getPlatformInfo(platform, param, uintptr(len(buf)), &buf[0], nil) != clSuccess {
		return ""
	}
	return dynlib.CString(buf)
}

func (f *functions) deviceString(dev uintptr, param uint32) string {
	buf := make([]byte, infoBufferSize)
	if f.getDeviceInfo(dev, param, uintptr(len(buf)), &buf[0], nil) != clSuccess {
		return ""
	}
	return dynlib.CString(buf)
}

func (f *functions) deviceValue(dev uintptr, param uint32, value unsafe.Pointer, size uintptr) bool {
	return f.getDeviceInfo(dev, param, size, (*byte)(value), nil) == clSuccess
}

// TypeName maps a cl_device_type bitfield to a short name.
func TypeName(kind uint64) string {
	switch {
	case kind&deviceTypeGPU != 0:
		return "gpu"
	case kind&deviceTypeAccelerator != 0:
		return "accelerator"
	case kind&deviceTypeCPU != 0:
		return "cpu"
	default:
		return "other"
	}
}
