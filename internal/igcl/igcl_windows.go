//go:build windows

package igcl

import (
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/aiz-dev/hwtelemetry/internal/d3dkmt"
	"github.com/aiz-dev/hwtelemetry/internal/dynlib"
)

const (
	resultSuccess = 0

	initFlagUseLevelZero = 1

	engineGroupGT     = 0
	engineGroupRender = 1

	freqDomainGPU    = 0
	freqDomainMemory = 1
)

func makeVersion(major, minor uint32) uint32 {
	return major<<16 | minor&0xffff
}

type applicationID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// hwtelemetry's application UID, {3b1e6f0a-62d4-4c8e-9a4f-1d7c0e5b2a91}.
var appUID = applicationID{
	Data1: 0x3b1e6f0a,
	Data2: 0x62d4,
	Data3: 0x4c8e,
	Data4: [8]byte{0x9a, 0x4f, 0x1d, 0x7c, 0x0e, 0x5b, 0x2a, 0x91},
}

type initArgs struct {
	Size             uint32
	Version          uint8
	AppVersion       uint32
	Flags            uint32
	SupportedVersion uint32
	ApplicationUID   applicationID
}

type deviceAdapterProperties struct {
	Size                      uint32
	Version                   uint8
	DeviceID                  unsafe.Pointer
	DeviceIDSize              uint32
	DeviceType                uint32
	SupportedSubfunctionFlags uint32
	DriverVersion             uint64
	FirmwareVersion           [3]uint64
	PCIVendorID               uint32
	PCIDeviceID               uint32
	RevID                     uint32
	NumEUsPerSubSlice         uint32
	NumSubSlicesPerSlice      uint32
	NumSlices                 uint32
	Name                      [100]byte
	GraphicsAdapterProperties uint32
	Frequency                 uint32
	PCISubsysID               uint16
	PCISubsysVendorID         uint16
	AdapterBDF                [3]uint8
	Reserved                  [112]byte
}

type freqProperties struct {
	Size       uint32
	Version    uint8
	Type       uint32
	CanControl bool
	Min        float64
	Max        float64
}

type freqState struct {
	Size            uint32
	Version         uint8
	CurrentVoltage  float64
	Request         float64
	TDP             float64
	Efficient       float64
	Actual          float64
	ThrottleReasons uint32
}

type energyCounter struct {
	Size          uint32
	Version       uint8
	EnergyCounter uint64
	Timestamp     uint64
}

type engineProperties struct {
	Size    uint32
	Version uint8
	Type    uint32
}

type engineStats struct {
	Size       uint32
	Version    uint8
	ActiveTime uint64
	Timestamp  uint64
}

type memState struct {
	Size    uint32
	Version uint8
	Free    uint64
	Total   uint64
}

type pciState struct {
	Size         uint32
	Version      uint8
	Gen          int32
	Width        int32
	MaxBandwidth int64
}

type enumFunc func(parent uintptr, count *uint32, handles *uintptr) uint32

type functions struct {
	library string
	api     uintptr

	init             func(args *initArgs, api *uintptr) uint32
	enumerateDevices enumFunc
	deviceProperties func(dev uintptr, props *deviceAdapterProperties) uint32

	enumTemperatureSensors enumFunc
	temperatureState       func(sensor uintptr, celsius *float64) uint32
	enumFrequencyDomains   enumFunc
	frequencyProperties    func(domain uintptr, props *freqProperties) uint32
	frequencyState         func(domain uintptr, state *freqState) uint32
	enumPowerDomains       enumFunc
	energyCounter          func(domain uintptr, c *energyCounter) uint32
	enumEngineGroups       enumFunc
	engineProperties       func(engine uintptr, props *engineProperties) uint32
	engineActivity         func(engine uintptr, stats *engineStats) uint32
	enumMemoryModules      enumFunc
	memoryState            func(module uintptr, state *memState) uint32
	pciState               func(dev uintptr, state *pciState) uint32
}

func loadFunctions() (*functions, error) {
	lib, err := dynlib.Open([]string{"ControlLib.dll"})
	if err != nil {
		return nil, fmt.Errorf("IGCL not found: %w", err)
	}

	f := &functions{library: lib.Name()}
	if err := lib.RequireAll([]dynlib.Binding{
		{Symbol: "ctlInit", Fn: &f.init},
		{Symbol: "ctlEnumerateDevices", Fn: &f.enumerateDevices},
		{Symbol: "ctlGetDeviceProperties", Fn: &f.deviceProperties},
	}); err != nil {
		return nil, fmt.Errorf("IGCL unusable: %w", err)
	}
	lib.OptionalAll([]dynlib.Binding{
		{Symbol: "ctlEnumTemperatureSensors", Fn: &f.enumTemperatureSensors},
		{Symbol: "ctlTemperatureGetState", Fn: &f.temperatureState},
		{Symbol: "ctlEnumFrequencyDomains", Fn: &f.enumFrequencyDomains},
		{Symbol: "ctlFrequencyGetProperties", Fn: &f.frequencyProperties},
		{Symbol: "ctlFrequencyGetState", Fn: &f.frequencyState},
		{Symbol: "ctlEnumPowerDomains", Fn: &f.enumPowerDomains},
		{Symbol: "ctlPowerGetEnergyCounter", Fn: &f.energyCounter},
		{Symbol: "ctlEnumEngineGroups", Fn: &f.enumEngineGroups},
		{Symbol: "ctlEngineGetProperties", Fn: &f.engineProperties},
		{Symbol: "ctlEngineGetActivity", Fn: &f.engineActivity},
		{Symbol: "ctlEnumMemoryModules", Fn: &f.enumMemoryModules},
		{Symbol: "ctlMemoryGetState", Fn: &f.memoryState},
		{Symbol: "ctlPciGetState", Fn: &f.pciState},
	})

	// Level Zero backed telemetry is richer but not every driver offers it.
	code := f.initialize(initFlagUseLevelZero)
	if code != resultSuccess {
		code = f.initialize(0)
	}
	if code != resultSuccess {
		return nil, fmt.Errorf("ctlInit failed (code %#x)", code)
	}
	return f, nil
}

func (f *functions) initialize(flags uint32) uint32 {
	args := initArgs{
		Version:        0,
		AppVersion:     makeVersion(1, 0),
		Flags:          flags,
		ApplicationUID: appUID,
	}
	args.Size = uint32(unsafe.Sizeof(args))
	return f.init(&args, &f.api)
}

// Client answers IGCL queries. The library is loaded and initialised on
// first use; a failed activation is cached for the client lifetime.
type Client struct {
	lazy    *dynlib.Lazy[*functions]
	history *history

	// IGCL handles are not documented as thread safe.
	mu sync.Mutex
}

var defaultClient = &Client{lazy: dynlib.NewLazy(loadFunctions), history: newHistory()}

// Default returns the process-wide IGCL client.
func Default() *Client {
	return defaultClient
}

// Available returns nil when IGCL is usable, otherwise the activation failure.
func (c *Client) Available() error {
	_, err := c.lazy.Get()
	return err
}

// Library returns the file IGCL was loaded from.
func (c *Client) Library() string {
	f, err := c.lazy.Get()
	if err != nil {
		return ""
	}
	return f.library
}

// Telemetry reads the IGCL device matching a. The result is absent when no
// device matches or none of utilization, temperature, power and GPU clock
// could be read.
func (c *Client) Telemetry(a Adapter) (Telemetry, bool) {
	f, err := c.lazy.Get()
	if err != nil {
		return Telemetry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dev, ok := matchDevice(listDevices(f), a)
	if !ok {
		return Telemetry{}, false
	}
	t := c.read(f, dev.handle)
	if t.empty() {
		return Telemetry{}, false
	}
	return t, true
}

func listDevices(f *functions) []deviceInfo {
	handles := enumerate(f.enumerateDevices, f.api)
	out := make([]deviceInfo, 0, len(handles))
	for _, h := range handles {
		luid := new(d3dkmt.LUID)
		props := deviceAdapterProperties{
			DeviceID:     unsafe.Pointer(luid),
			DeviceIDSize: uint32(unsafe.Sizeof(*luid)),
		}
		props.Size = uint32(unsafe.Sizeof(props))
		if f.deviceProperties(h, &props) != resultSuccess {
			continue
		}
		out = append(out, deviceInfo{
			handle:   h,
			luid:     *luid,
			hasLUID:  *luid != d3dkmt.LUID{},
			vendorID: props.PCIVendorID,
			deviceID: props.PCIDeviceID,
		})
	}
	return out
}

func enumerate(fn enumFunc, parent uintptr) []uintptr {
	if fn == nil {
		return nil
	}
	var count uint32
	if fn(parent, &count, nil) != resultSuccess || count == 0 {
		return nil
	}
	handles := make([]uintptr, count)
	if fn(parent, &count, &handles[0]) != resultSuccess {
		return nil
	}
	return handles[:min(int(count), len(handles))]
}

func (c *Client) read(f *functions, dev uintptr) Telemetry {
	var t Telemetry

	if f.temperatureState != nil {
		hottest := math.Inf(-1)
		for _, s := range enumerate(f.enumTemperatureSensors, dev) {
			var celsius float64
			if f.temperatureState(s, &celsius) == resultSuccess && celsius > 0 && celsius > hottest {
				hottest = celsius
			}
		}
		if !math.IsInf(hottest, -1) {
			t.TempC = &hottest
		}
	}

	if f.frequencyProperties != nil && f.frequencyState != nil {
		for _, d := range enumerate(f.enumFrequencyDomains, dev) {
			props := freqProperties{}
			props.Size = uint32(unsafe.Sizeof(props))
			state := freqState{}
			state.Size = uint32(unsafe.Sizeof(state))
			if f.frequencyProperties(d, &props) != resultSuccess || f.frequencyState(d, &state) != resultSuccess {
				continue
			}
			mhz := uint32(math.Round(state.Actual))
			switch props.Type {
			case freqDomainGPU:
				if mhz > 0 && t.GPUClockMHz == nil {
					t.GPUClockMHz = &mhz
				}
				if t.Throttle == "" {
					t.Throttle = throttleState(state.ThrottleReasons)
				}
			case freqDomainMemory:
				if mhz > 0 && t.MemClockMHz == nil {
					t.MemClockMHz = &mhz
				}
			}
		}
	}

	if f.energyCounter != nil {
		if domains := enumerate(f.enumPowerDomains, dev); len(domains) > 0 {
			e := energyCounter{}
			e.Size = uint32(unsafe.Sizeof(e))
			if f.energyCounter(domains[0], &e) == resultSuccess {
				t.PowerWatts = c.history.powerWatts(dev, counter{value: e.EnergyCounter, timestamp: e.Timestamp})
			}
		}
	}

	if engine, ok := activeEngine(f, dev); ok {
		s := engineStats{}
		s.Size = uint32(unsafe.Sizeof(s))
		if f.engineActivity(engine, &s) == resultSuccess {
			t.UtilPct = c.history.utilPct(dev, counter{value: s.ActiveTime, timestamp: s.Timestamp})
		}
	}

	if f.memoryState != nil {
		var used, total uint64
		for _, m := range enumerate(f.enumMemoryModules, dev) {
			s := memState{}
			s.Size = uint32(unsafe.Sizeof(s))
			if f.memoryState(m, &s) != resultSuccess || s.Total == 0 {
				continue
			}
			total += s.Total
			used += s.Total - min(s.Free, s.Total)
		}
		if total > 0 {
			t.VRAMUsedGiB = gib(used)
			t.VRAMTotalGiB = gib(total)
		}
	}

	if f.pciState != nil {
		s := pciState{}
		s.Size = uint32(unsafe.Sizeof(s))
		if f.pciState(dev, &s) == resultSuccess && s.Gen > 0 && s.Width > 0 {
			t.Link = &PCIeLink{Generation: uint32(s.Gen), Width: uint32(s.Width)}
		}
	}
	return t
}

// activeEngine prefers the whole-GT engine group and falls back to render.
func activeEngine(f *functions, dev uintptr) (uintptr, bool) {
	if f.engineProperties == nil || f.engineActivity == nil {
		return 0, false
	}
	var (
		render   uintptr
		haveRend bool
	)
	for _, e := range enumerate(f.enumEngineGroups, dev) {
		props := engineProperties{}
		props.Size = uint32(unsafe.Sizeof(props))
		if f.engineProperties(e, &props) != resultSuccess {
			continue
		}
		switch props.Type {
		case engineGroupGT:
			return e, true
		case engineGroupRender:
			if !haveRend {
				render, haveRend = e, true
			}
		}
	}
	return render, haveRend
}
