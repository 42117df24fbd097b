//go:build windows

package adlx

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/aiz-dev/hwtelemetry/internal/dynlib"
)

const resultOK = 0

// Virtual table slots. Every interface starts with Acquire, Release and
// QueryInterface.
const (
	slotRelease        = 1
	slotQueryInterface = 2

	slotSystemGetGPUs                          = 1
	slotSystemGetPerformanceMonitoringServices = 9

	slotListSize     = 3
	slotGPUListAtGPU = 11

	slotGPUVendorID  = 3
	slotGPUTotalVRAM = 11
	slotGPUDeviceID  = 14

	slotGPU1PCIBusType      = 19
	slotGPU1PCIBusLaneWidth = 20

	slotPerfGetCurrentGPUMetrics = 18

	slotMetricsGPUUsage          = 4
	slotMetricsGPUClockSpeed     = 5
	slotMetricsGPUVRAMClockSpeed = 6
	slotMetricsGPUTemperature    = 7
	slotMetricsGPUPower          = 9
	slotMetricsGPUVRAM           = 12
)

type (
	releaseFn        func(this uintptr) int32
	queryInterfaceFn func(this uintptr, iid *uint16, out *uintptr) int32
	objectFn         func(this uintptr, out *uintptr) int32
	sizeFn           func(this uintptr) uint32
	atFn             func(this uintptr, index uint32, out *uintptr) int32
	stringFn         func(this uintptr, out **byte) int32
	uint32Fn         func(this uintptr, out *uint32) int32
	int32Fn          func(this uintptr, out *int32) int32
	float64Fn        func(this uintptr, out *float64) int32
	gpuMetricsFn     func(this uintptr, gpu uintptr, out *uintptr) int32
)

type methodKey struct {
	addr uintptr
	typ  reflect.Type
}

var methods sync.Map

// method binds the virtual table slot of obj to a Go func of type F. Bound
// funcs are cached by address since every instance of a class shares its
// table.
func method[F any](obj uintptr, slot int) F {
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	addr := *(*uintptr)(unsafe.Pointer(vtbl + uintptr(slot)*unsafe.Sizeof(uintptr(0))))
	key := methodKey{addr: addr, typ: reflect.TypeFor[F]()}
	if fn, ok := methods.Load(key); ok {
		return fn.(F)
	}
	var fn F
	dynlib.BindPointer(&fn, addr)
	actual, _ := methods.LoadOrStore(key, fn)
	return actual.(F)
}

func release(obj uintptr) {
	if obj != 0 {
		method[releaseFn](obj, slotRelease)(obj)
	}
}

type functions struct {
	library string
	system  uintptr

	queryFullVersion func(version *uint64) int32
	initialize       func(version uint64, system *uintptr) int32
	terminate        func() int32
}

func loadFunctions() (*functions, error) {
	lib, err := dynlib.Open([]string{"amdadlx64.dll"})
	if err != nil {
		return nil, fmt.Errorf("ADLX not found: %w", err)
	}

	f := &functions{library: lib.Name()}
	if err := lib.RequireAll([]dynlib.Binding{
		{Symbol: "ADLXQueryFullVersion", Fn: &f.queryFullVersion},
		{Symbol: "ADLXInitialize", Fn: &f.initialize},
		{Symbol: "ADLXTerminate", Fn: &f.terminate},
	}); err != nil {
		return nil, fmt.Errorf("ADLX unusable: %w", err)
	}

	var version uint64
	if code := f.queryFullVersion(&version); code != resultOK {
		return nil, fmt.Errorf("ADLXQueryFullVersion failed (code %d)", code)
	}
	if code := f.initialize(version, &f.system); code != resultOK || f.system == 0 {
		return nil, fmt.Errorf("ADLXInitialize failed (code %d)", code)
	}
	return f, nil
}

// Client answers ADLX queries. The library is loaded and initialised on
// first use; a failed activation is cached for the client lifetime.
type Client struct {
	lazy *dynlib.Lazy[*functions]
	mu   sync.Mutex
}

var defaultClient = &Client{lazy: dynlib.NewLazy(loadFunctions)}

// Default returns the process-wide ADLX client.
func Default() *Client {
	return defaultClient
}

// Available returns nil when ADLX is usable, otherwise the activation failure.
func (c *Client) Available() error {
	_, err := c.lazy.Get()
	return err
}

// Library returns the file ADLX was loaded from.
func (c *Client) Library() string {
	f, err := c.lazy.Get()
	if err != nil {
		return ""
	}
	return f.library
}

// Telemetry reads the GPU matching a.
func (c *Client) Telemetry(a Adapter) (Telemetry, bool) {
	f, err := c.lazy.Get()
	if err != nil {
		return Telemetry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var list uintptr
	if method[objectFn](f.system, slotSystemGetGPUs)(f.system, &list) != resultOK || list == 0 {
		return Telemetry{}, false
	}
	defer release(list)

	count := method[sizeFn](list, slotListSize)(list)
	gpus := make([]uintptr, 0, count)
	ids := make([]identity, 0, count)
	defer func() {
		for _, g := range gpus {
			release(g)
		}
	}()
	for i := uint32(0); i < count; i++ {
		var g uintptr
		if method[atFn](list, slotGPUListAtGPU)(list, i, &g) != resultOK || g == 0 {
			continue
		}
		gpus = append(gpus, g)
		ids = append(ids, gpuIdentity(g))
	}

	pos, ok := selectGPU(ids, a)
	if !ok {
		return Telemetry{}, false
	}
	return readGPU(f.system, gpus[pos]).telemetry()
}

func gpuIdentity(g uintptr) identity {
	var id identity
	var s *byte
	if method[stringFn](g, slotGPUVendorID)(g, &s) == resultOK && s != nil {
		id.vendorID, _ = parseID(dynlib.GoString(s))
	}
	s = nil
	if method[stringFn](g, slotGPUDeviceID)(g, &s) == resultOK && s != nil {
		id.deviceID, _ = parseID(dynlib.GoString(s))
	}
	return id
}

func readGPU(system, g uintptr) reading {
	var r reading

	var total uint32
	if method[uint32Fn](g, slotGPUTotalVRAM)(g, &total) == resultOK {
		r.totalVRAMMiB = &total
	}

	if iid, err := windows.UTF16PtrFromString("IADLXGPU1"); err == nil {
		var g1 uintptr
		if method[queryInterfaceFn](g, slotQueryInterface)(g, iid, &g1) == resultOK && g1 != 0 {
			var bus int32
			if method[int32Fn](g1, slotGPU1PCIBusType)(g1, &bus) == resultOK {
				r.busType = &bus
			}
			var width uint32
			if method[uint32Fn](g1, slotGPU1PCIBusLaneWidth)(g1, &width) == resultOK {
				r.laneWidth = &width
			}
			release(g1)
		}
	}

	var perf uintptr
	if method[objectFn](system, slotSystemGetPerformanceMonitoringServices)(system, &perf) != resultOK || perf == 0 {
		return r
	}
	defer release(perf)

	var metrics uintptr
	if method[gpuMetricsFn](perf, slotPerfGetCurrentGPUMetrics)(perf, g, &metrics) != resultOK || metrics == 0 {
		return r
	}
	defer release(metrics)

	r.usage = readFloat(metrics, slotMetricsGPUUsage)
	r.gpuClock = readInt(metrics, slotMetricsGPUClockSpeed)
	r.memClock = readInt(metrics, slotMetricsGPUVRAMClockSpeed)
	r.temperature = readFloat(metrics, slotMetricsGPUTemperature)
	r.power = readFloat(metrics, slotMetricsGPUPower)
	r.vramMiB = readInt(metrics, slotMetricsGPUVRAM)
	return r
}

func readFloat(obj uintptr, slot int) *float64 {
	var v float64
	if method[float64Fn](obj, slot)(obj, &v) != resultOK {
		return nil
	}
	return &v
}

func readInt(obj uintptr, slot int) *int32 {
	var v int32
	if method[int32Fn](obj, slot)(obj, &v) != resultOK {
		return nil
	}
	return &v
}
