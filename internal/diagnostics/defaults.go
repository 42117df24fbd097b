package diagnostics

import (
	"github.com/shirou/gopsutil/v3/host"

	"github.com/aiz-dev/hwtelemetry/internal/adlx"
	"github.com/aiz-dev/hwtelemetry/internal/compute/cuda"
	"github.com/aiz-dev/hwtelemetry/internal/compute/onnxruntime"
	"github.com/aiz-dev/hwtelemetry/internal/compute/opencl"
	"github.com/aiz-dev/hwtelemetry/internal/compute/vulkan"
	"github.com/aiz-dev/hwtelemetry/internal/counters"
	"github.com/aiz-dev/hwtelemetry/internal/d3dkmt"
	"github.com/aiz-dev/hwtelemetry/internal/igcl"
	"github.com/aiz-dev/hwtelemetry/internal/npu"
	"github.com/aiz-dev/hwtelemetry/internal/nvml"
	"github.com/aiz-dev/hwtelemetry/internal/rocmsmi"
)

// DefaultProbes wires the process-wide backend clients.
func DefaultProbes(sysfsRoot string) Probes {
	return Probes{
		NVML:      nvml.Default(),
		ROCm:      rocmsmi.Default(),
		D3DKMT:    d3dkmt.Default(),
		IGCL:      igcl.Default(),
		ADLX:      adlx.Default(),
		SysfsRoot: sysfsRoot,
		Compute: []ComputeProber{
			cuda.Default(),
			opencl.Default(),
			vulkan.Default(),
			onnxruntime.Default(),
		},
		NPU:    func() npu.Availability { return npu.Probe(sysfsRoot) },
		Memory: counters.Default(),
		Host:   host.Info,
	}
}
