package procscan

// ProcessInfo is one row of the top-process table.
type ProcessInfo struct {
	PID       int     `json:"pid"`
	Name      string  `json:"name"`
	Cmdline   string  `json:"cmdline"`
	CPUPct    float64 `json:"cpu_pct"`
	RAMBytes  uint64  `json:"ram_bytes"`
	VRAMBytes *uint64 `json:"vram_bytes"`
	GTTBytes  *uint64 `json:"gtt_bytes"`
}

// Identity describes a single process without CPU accounting.
type Identity struct {
	Name     string `json:"name"`
	Cmdline  string `json:"cmdline"`
	RAMBytes uint64 `json:"ram_bytes"`
}

// GPUMemory is the device memory held by one process.
type GPUMemory struct {
	VRAMBytes uint64
	GTTBytes  uint64
}

// GPUMemorySource attributes device memory to processes.
type GPUMemorySource interface {
	ProcessGPUMemory(pids []int) map[int]GPUMemory
}
