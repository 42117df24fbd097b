package nvml

import (
	"fmt"

	"github.com/aiz-dev/hwtelemetry/internal/dynlib"
)

const (
	success = 0

	temperatureGPU = 0

	clockGraphics = 0
	clockMem      = 2

	pcieCounterTX = 0
	pcieCounterRX = 1

	stringBufferSize = 96
)

type utilization struct {
	GPU    uint32
	Memory uint32
}

type memory struct {
	Total uint64
	Free  uint64
	Used  uint64
}

type processInfo struct {
	PID               uint32
	UsedGPUMemory     uint64
	GPUInstanceID     uint32
	ComputeInstanceID uint32
}

// functions is the bound NVML entry-point table. Optional entries stay nil
// when the installed driver does not export them.
type functions struct {
	library string

	init             func() int32
	shutdown         func() int32
	deviceCount      func(count *uint32) int32
	handleByIndex    func(index uint32, dev *uintptr) int32
	utilizationRates func(dev uintptr, util *utilization) int32
	memoryInfo       func(dev uintptr, mem *memory) int32
	powerUsage       func(dev uintptr, milliwatts *uint32) int32
	temperature      func(dev uintptr, sensor uint32, celsius *uint32) int32
	performanceState func(dev uintptr, state *uint32) int32

	name                  func(dev uintptr, buf *byte, length uint32) int32
	pcieThroughput        func(dev uintptr, counter uint32, kbps *uint32) int32
	pcieLinkGeneration    func(dev uintptr, gen *uint32) int32
	pcieLinkWidth         func(dev uintptr, width *uint32) int32
	clockInfo             func(dev uintptr, clock uint32, mhz *uint32) int32
	maxClockInfo          func(dev uintptr, clock uint32, mhz *uint32) int32
	encoderUtilization    func(dev uintptr, util *uint32, periodUs *uint32) int32
	decoderUtilization    func(dev uintptr, util *uint32, periodUs *uint32) int32
	computeCapability     func(dev uintptr, major *int32, minor *int32) int32
	numGPUCores           func(dev uintptr, cores *uint32) int32
	powerLimitConstraints func(dev uintptr, minMilliwatts *uint32, maxMilliwatts *uint32) int32
	memoryBusWidth        func(dev uintptr, bits *uint32) int32
	systemNVMLVersion     func(buf *byte, length uint32) int32
	systemDriverVersion   func(buf *byte, length uint32) int32
	computeProcesses      func(dev uintptr, count *uint32, infos *processInfo) int32
}

func candidateLibraries() []string {
	return dynlib.Names(
		dynlib.WithUnversioned([]string{"libnvidia-ml.so.1"}),
		[]string{"nvml.dll", `C:\Program Files\NVIDIA Corporation\NVSMI\nvml.dll`},
	)
}

func loadFunctions() (*functions, error) {
	lib, err := dynlib.Open(candidateLibraries())
	if err != nil {
		return nil, fmt.Errorf("NVML not found: %w", err)
	}

	f := &functions{library: lib.Name()}
	required := []dynlib.Binding{
		{Symbol: "nvmlInit_v2", Fn: &f.init},
		{Symbol: "nvmlShutdown", Fn: &f.shutdown},
		{Symbol: "nvmlDeviceGetCount_v2", Fn: &f.deviceCount},
		{Symbol: "nvmlDeviceGetHandleByIndex_v2", Fn: &f.handleByIndex},
		{Symbol: "nvmlDeviceGetUtilizationRates", Fn: &f.utilizationRates},
		{Symbol: "nvmlDeviceGetMemoryInfo", Fn: &f.memoryInfo},
		{Symbol: "nvmlDeviceGetPowerUsage", Fn: &f.powerUsage},
		{Symbol: "nvmlDeviceGetTemperature", Fn: &f.temperature},
		{Symbol: "nvmlDeviceGetPerformanceState", Fn: &f.performanceState},
	}
	if err := lib.RequireAll(required); err != nil {
		return nil, fmt.Errorf("NVML unusable: %w", err)
	}

	lib.OptionalAll([]dynlib.Binding{
		{Symbol: "nvmlDeviceGetName", Fn: &f.name},
		{Symbol: "nvmlDeviceGetPcieThroughput", Fn: &f.pcieThroughput},
		{Symbol: "nvmlDeviceGetCurrPcieLinkGeneration", Fn: &f.pcieLinkGeneration},
		{Symbol: "nvmlDeviceGetCurrPcieLinkWidth", Fn: &f.pcieLinkWidth},
		{Symbol: "nvmlDeviceGetClockInfo", Fn: &f.clockInfo},
		{Symbol: "nvmlDeviceGetMaxClockInfo", Fn: &f.maxClockInfo},
		{Symbol: "nvmlDeviceGetEncoderUtilization", Fn: &f.encoderUtilization},
		{Symbol: "nvmlDeviceGetDecoderUtilization", Fn: &f.decoderUtilization},
		{Symbol: "nvmlDeviceGetCudaComputeCapability", Fn: &f.computeCapability},
		{Symbol: "nvmlDeviceGetNumGpuCores", Fn: &f.numGPUCores},
		{Symbol: "nvmlDeviceGetPowerManagementLimitConstraints", Fn: &f.powerLimitConstraints},
		{Symbol: "nvmlDeviceGetMemoryBusWidth", Fn: &f.memoryBusWidth},
		{Symbol: "nvmlSystemGetNVMLVersion", Fn: &f.systemNVMLVersion},
		{Symbol: "nvmlSystemGetDriverVersion", Fn: &f.systemDriverVersion},
	})
	if !lib.Optional("nvmlDeviceGetComputeRunningProcesses_v3", &f.computeProcesses) {
		lib.Optional("nvmlDeviceGetComputeRunningProcesses_v2", &f.computeProcesses)
	}

	if code := f.init(); code != success {
		return nil, fmt.Errorf("nvmlInit failed (code %d)", code)
	}
	return f, nil
}
