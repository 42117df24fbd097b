package procscan

import "github.com/aiz-dev/hwtelemetry/internal/nvml"

const bytesPerGiB = 1024 * 1024 * 1024

type nvmlProcessLister interface {
	Processes() []nvml.ProcessInfo
}

// NVMLMemory attributes VRAM reported by NVML for compute processes, summed
// across devices.
type NVMLMemory struct {
	client nvmlProcessLister
}

// NewNVMLMemory wraps an NVML client.
func NewNVMLMemory(client *nvml.Client) *NVMLMemory {
	return &NVMLMemory{client: client}
}

func (n *NVMLMemory) ProcessGPUMemory(pids []int) map[int]GPUMemory {
	want := make(map[int]struct{}, len(pids))
	for _, pid := range pids {
		want[pid] = struct{}{}
	}
	out := make(map[int]GPUMemory)
	for _, p := range n.client.Processes() {
		pid := int(p.PID)
		if _, ok := want[pid]; !ok {
			continue
		}
		mem := out[pid]
		mem.VRAMBytes += uint64(p.VRAMUsedGiB * bytesPerGiB)
		out[pid] = mem
	}
	return out
}
