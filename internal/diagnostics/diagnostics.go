// Package diagnostics reports which telemetry backends could be activated on
// this machine, together with host and CPU identification.
package diagnostics

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/aiz-dev/hwtelemetry/internal/adlx"
	"github.com/aiz-dev/hwtelemetry/internal/compute"
	"github.com/aiz-dev/hwtelemetry/internal/counters"
	"github.com/aiz-dev/hwtelemetry/internal/d3dkmt"
	"github.com/aiz-dev/hwtelemetry/internal/gpu"
	"github.com/aiz-dev/hwtelemetry/internal/igcl"
	"github.com/aiz-dev/hwtelemetry/internal/npu"
	"github.com/aiz-dev/hwtelemetry/internal/nvml"
)

// Report is a point-in-time description of the machine.
type Report struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Host        HostInfo         `json:"host"`
	CPU         CPUInfo          `json:"cpu"`
	MemoryBytes uint64           `json:"memory_bytes"`
	Backends    []BackendStatus  `json:"backends"`
	NVMLDevices []NVMLDevice     `json:"nvml_devices"`
	GPUs        []gpu.Device     `json:"gpus"`
	Compute     []compute.Info   `json:"compute"`
	NPU         npu.Availability `json:"npu"`
}

// HostInfo identifies the operating system.
type HostInfo struct {
	Hostname        string        `json:"hostname"`
	OS              string        `json:"os"`
	Platform        string        `json:"platform"`
	PlatformVersion string        `json:"platform_version"`
	KernelVersion   string        `json:"kernel_version"`
	Arch            string        `json:"arch"`
	Uptime          time.Duration `json:"uptime"`
}

// CPUInfo identifies the processor.
type CPUInfo struct {
	Brand         string   `json:"brand"`
	Vendor        string   `json:"vendor"`
	PhysicalCores int      `json:"physical_cores"`
	LogicalCores  int      `json:"logical_cores"`
	L3CacheBytes  int      `json:"l3_cache_bytes"`
	Features      []string `json:"features"`
}

// BackendStatus is the activation outcome of one telemetry backend.
type BackendStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Library   string `json:"library,omitempty"`
	Version   string `json:"version,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// NVMLDevice is the per-device NVML view, including the PCIe link.
type NVMLDevice struct {
	Index      int                  `json:"index"`
	Name       string               `json:"name"`
	Link       *nvml.PCIeLink       `json:"pcie_link"`
	Throughput *nvml.PCIeThroughput `json:"pcie_throughput"`
}

// NVMLStatus is the slice of the NVML client diagnostics needs.
type NVMLStatus interface {
	Available() error
	Library() string
	DeviceCount() (int, bool)
	LibraryVersion() (string, bool)
	DriverVersion() (string, bool)
	Name(index int) (string, bool)
	PCIeLink(index int) (nvml.PCIeLink, bool)
	PCIeThroughput(index int) (nvml.PCIeThroughput, bool)
}

// ROCmStatus is the slice of the ROCm SMI client diagnostics needs.
type ROCmStatus interface {
	Available() error
	Library() string
	DeviceCount() (int, bool)
}

// AdapterStatus is the slice of the D3DKMT client diagnostics needs.
type AdapterStatus interface {
	Available() error
	Adapters() ([]d3dkmt.Adapter, error)
}

// VendorLibrary is the slice of a Windows vendor control library client
// diagnostics needs.
type VendorLibrary interface {
	Available() error
	Library() string
}

// MemoryReader reports physical memory.
type MemoryReader interface {
	Memory() (counters.Memory, error)
}

// ComputeProber probes one compute runtime.
type ComputeProber interface {
	Probe() compute.Info
}

// Probes are the sources a report is assembled from. Nil members are skipped.
type Probes struct {
	NVML      NVMLStatus
	ROCm      ROCmStatus
	D3DKMT    AdapterStatus
	IGCL      VendorLibrary
	ADLX      VendorLibrary
	SysfsRoot string
	Compute   []ComputeProber
	NPU       func() npu.Availability
	Memory    MemoryReader
	Host      func() (*host.InfoStat, error)
	Now       func() time.Time
}

// interesting CPU features for inference workloads.
var cpuFeatures = []struct {
	id   cpuid.FeatureID
	name string
}{
	{cpuid.AVX, "AVX"},
	{cpuid.AVX2, "AVX2"},
	{cpuid.FMA3, "FMA3"},
	{cpuid.F16C, "F16C"},
	{cpuid.AVXVNNI, "AVX-VNNI"},
	{cpuid.AVX512F, "AVX512F"},
	{cpuid.AVX512VNNI, "AVX512-VNNI"},
	{cpuid.AVX512BF16, "AVX512-BF16"},
	{cpuid.AMXINT8, "AMX-INT8"},
	{cpuid.AMXBF16, "AMX-BF16"},
	{cpuid.ASIMD, "NEON"},
	{cpuid.SVE, "SVE"},
}

// Collect probes every backend. Probing loads native libraries on first use,
// so the first call may take noticeably longer than later ones.
func Collect(p Probes) Report {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	r := Report{
		GeneratedAt: now().UTC(),
		CPU:         readCPU(),
		Backends:    []BackendStatus{},
		NVMLDevices: []NVMLDevice{},
		GPUs:        []gpu.Device{},
		Compute:     []compute.Info{},
	}

	if p.Host != nil {
		if info, err := p.Host(); err == nil && info != nil {
			r.Host = HostInfo{
				Hostname:        info.Hostname,
				OS:              info.OS,
				Platform:        info.Platform,
				PlatformVersion: info.PlatformVersion,
				KernelVersion:   info.KernelVersion,
				Arch:            info.KernelArch,
				Uptime:          time.Duration(info.Uptime) * time.Second,
			}
		}
	}
	if p.Memory != nil {
		if mem, err := p.Memory.Memory(); err == nil {
			r.MemoryBytes = mem.TotalBytes
		}
	}

	if p.NVML != nil {
		status := nvmlStatus(p.NVML)
		r.Backends = append(r.Backends, status)
		if status.Available {
			r.NVMLDevices = nvmlDevices(p.NVML)
		}
	}
	if p.ROCm != nil {
		r.Backends = append(r.Backends, rocmStatus(p.ROCm))
	}
	if p.SysfsRoot != "" {
		status := BackendStatus{Name: gpu.SourceGeneric}
		devices, err := gpu.Discover(p.SysfsRoot, nil)
		switch {
		case err != nil:
			status.Detail = err.Error()
		case len(devices) == 0:
			status.Detail = "no DRM display devices"
		default:
			status.Available = true
			status.Detail = fmt.Sprintf("%d device(s)", len(devices))
			r.GPUs = devices
		}
		r.Backends = append(r.Backends, status)
	}
	if p.D3DKMT != nil {
		r.Backends = append(r.Backends, adapterStatus(p.D3DKMT))
	}
	if p.IGCL != nil {
		r.Backends = append(r.Backends, libraryStatus(igcl.Source, p.IGCL))
	}
	if p.ADLX != nil {
		r.Backends = append(r.Backends, libraryStatus(adlx.Source, p.ADLX))
	}

	for _, c := range p.Compute {
		r.Compute = append(r.Compute, c.Probe())
	}
	if p.NPU != nil {
		r.NPU = p.NPU()
	}
	return r
}

func nvmlStatus(n NVMLStatus) BackendStatus {
	s := BackendStatus{Name: "nvml"}
	if err := n.Available(); err != nil {
		s.Detail = err.Error()
		return s
	}
	s.Available = true
	s.Library = n.Library()
	if v, ok := n.LibraryVersion(); ok {
		s.Version = v
	}
	var parts []string
	if v, ok := n.DriverVersion(); ok {
		parts = append(parts, "driver "+v)
	}
	if count, ok := n.DeviceCount(); ok {
		parts = append(parts, fmt.Sprintf("%d device(s)", count))
	}
	s.Detail = strings.Join(parts, ", ")
	return s
}

func nvmlDevices(n NVMLStatus) []NVMLDevice {
	count, ok := n.DeviceCount()
	if !ok {
		return []NVMLDevice{}
	}
	out := make([]NVMLDevice, 0, count)
	for i := 0; i < count; i++ {
		dev := NVMLDevice{Index: i}
		dev.Name, _ = n.Name(i)
		if link, ok := n.PCIeLink(i); ok {
			dev.Link = &link
		}
		if tp, ok := n.PCIeThroughput(i); ok {
			dev.Throughput = &tp
		}
		out = append(out, dev)
	}
	return out
}

func rocmStatus(r ROCmStatus) BackendStatus {
	s := BackendStatus{Name: "rocm-smi"}
	if err := r.Available(); err != nil {
		s.Detail = err.Error()
		return s
	}
	s.Available = true
	s.Library = r.Library()
	if count, ok := r.DeviceCount(); ok {
		s.Detail = fmt.Sprintf("%d device(s)", count)
	}
	return s
}

func libraryStatus(name string, l VendorLibrary) BackendStatus {
	s := BackendStatus{Name: name}
	if err := l.Available(); err != nil {
		s.Detail = err.Error()
		return s
	}
	s.Available = true
	s.Library = l.Library()
	return s
}

func adapterStatus(a AdapterStatus) BackendStatus {
	s := BackendStatus{Name: d3dkmt.Source}
	if err := a.Available(); err != nil {
		s.Detail = err.Error()
		return s
	}
	adapters, err := a.Adapters()
	if err != nil {
		s.Detail = err.Error()
		return s
	}
	s.Available = true
	names := make([]string, 0, len(adapters))
	for _, ad := range adapters {
		names = append(names, ad.Name)
	}
	s.Detail = fmt.Sprintf("%d adapter(s)", len(adapters))
	if len(names) > 0 {
		s.Detail += ": " + strings.Join(names, ", ")
	}
	return s
}

func readCPU() CPUInfo {
	info := CPUInfo{
		Brand:         cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		L3CacheBytes:  cpuid.CPU.Cache.L3,
		Features:      []string{},
	}
	for _, f := range cpuFeatures {
		if cpuid.CPU.Supports(f.id) {
			info.Features = append(info.Features, f.name)
		}
	}
	return info
}

// Text renders the report as free text.
func (r Report) Text() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.Format(time.RFC3339))
	if r.Host.Hostname != "" {
		fmt.Fprintf(&b, "Host: %s (%s %s %s, kernel %s, %s)\n",
			r.Host.Hostname, r.Host.OS, r.Host.Platform, r.Host.PlatformVersion, r.Host.KernelVersion, r.Host.Arch)
		if r.Host.Uptime > 0 {
			fmt.Fprintf(&b, "Booted: %s\n", humanize.Time(r.GeneratedAt.Add(-r.Host.Uptime)))
		}
	}

	brand := r.CPU.Brand
	if brand == "" {
		brand = "unknown"
	}
	fmt.Fprintf(&b, "CPU: %s (%d cores / %d threads)\n", brand, r.CPU.PhysicalCores, r.CPU.LogicalCores)
	if r.CPU.L3CacheBytes > 0 {
		fmt.Fprintf(&b, "  L3 cache: %s\n", humanize.IBytes(uint64(r.CPU.L3CacheBytes)))
	}
	if len(r.CPU.Features) > 0 {
		fmt.Fprintf(&b, "  Features: %s\n", strings.Join(r.CPU.Features, " "))
	}
	if r.MemoryBytes > 0 {
		fmt.Fprintf(&b, "Memory: %s\n", humanize.IBytes(r.MemoryBytes))
	}

	b.WriteString("\nGPU backends:\n")
	for _, s := range r.Backends {
		writeStatus(&b, s.Name, s.Available, s.Library, s.Version, s.Detail)
	}
	for _, d := range r.NVMLDevices {
		line := fmt.Sprintf("  nvml %d: %s", d.Index, d.Name)
		if d.Link != nil {
			line += fmt.Sprintf(", PCIe gen%d x%d", d.Link.Generation, d.Link.Width)
		}
		if d.Throughput != nil {
			line += fmt.Sprintf(", rx %.1f MB/s tx %.1f MB/s", d.Throughput.RxMBps, d.Throughput.TxMBps)
		}
		b.WriteString(line + "\n")
	}
	for _, d := range r.GPUs {
		fmt.Fprintf(&b, "  %s: %s [%s] %s\n", d.ID, d.Name, d.Vendor, d.PCI)
	}

	b.WriteString("\nCompute runtimes:\n")
	for _, c := range r.Compute {
		writeStatus(&b, c.API, c.Available, c.Library, c.Version, c.Reason)
		if len(c.Providers) > 0 {
			fmt.Fprintf(&b, "    providers: %s\n", strings.Join(c.Providers, ", "))
		}
		for _, d := range c.Devices {
			line := fmt.Sprintf("    #%d %s", d.Index, d.Name)
			if d.Type != "" {
				line += " (" + d.Type + ")"
			}
			if d.MemoryBytes > 0 {
				line += ", " + humanize.IBytes(d.MemoryBytes)
			}
			if d.ComputeCapability != "" {
				line += ", sm " + d.ComputeCapability
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\nNPU:\n")
	fmt.Fprintf(&b, "  status: %s\n  %s\n", r.NPU.Status, r.NPU.Diagnostics)
	for _, note := range r.NPU.VendorNotes {
		fmt.Fprintf(&b, "  %s\n", note)
	}
	for _, d := range r.NPU.Devices {
		fmt.Fprintf(&b, "  %s\n", d.Name)
		for _, line := range d.Details {
			fmt.Fprintf(&b, "   %s\n", line)
		}
	}
	return b.String()
}

func writeStatus(b *strings.Builder, name string, available bool, library, version, detail string) {
	state := "unavailable"
	if available {
		state = "available"
	}
	fmt.Fprintf(b, "  %-12s %s", name, state)
	if library != "" {
		fmt.Fprintf(b, " (%s)", library)
	}
	if version != "" {
		fmt.Fprintf(b, " v%s", version)
	}
	if detail != "" {
		fmt.Fprintf(b, ": %s", detail)
	}
	b.WriteString("\n")
}

// LogBackends records each activation outcome once: available backends at
// info, unavailable ones at debug.
func LogBackends(logger *slog.Logger, r Report) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "diagnostics")
	for _, s := range r.Backends {
		logOutcome(logger, s.Name, s.Available, "library", s.Library, "detail", s.Detail)
	}
	for _, c := range r.Compute {
		logOutcome(logger, c.API, c.Available, "library", c.Library, "version", c.Version, "reason", c.Reason)
	}
	logOutcome(logger, "npu", r.NPU.Status == npu.StatusAvailable, "status", r.NPU.Status.String())
}

func logOutcome(logger *slog.Logger, name string, available bool, attrs ...any) {
	args := append([]any{"backend", name}, attrs...)
	if available {
		logger.Info("backend available", args...)
		return
	}
	logger.Debug("backend unavailable", args...)
}
