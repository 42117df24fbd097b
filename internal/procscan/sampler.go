// Package procscan ranks the invoking user's processes by CPU share between
// successive scans and attributes GPU memory to the top entries.
package procscan

import (
	"io"
	"log/slog"
	"sort"

	"github.com/aiz-dev/hwtelemetry/internal/counters"
)

// Sampler keeps the per-process CPU ticks of the previous scan. It is not
// safe for concurrent use.
type Sampler struct {
	src    counters.Source
	gpuMem []GPUMemorySource
	logger *slog.Logger

	prevTotal uint64
	prevProc  map[int]uint64
	primed    bool
}

// NewSampler reads processes from src, or from the platform default when src
// is nil. Memory sources are consulted in order for the returned rows only.
func NewSampler(src counters.Source, logger *slog.Logger, gpuMem ...GPUMemorySource) *Sampler {
	if src == nil {
		src = counters.Default()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sampler{
		src:      src,
		gpuMem:   gpuMem,
		logger:   logger.With("component", "procscan"),
		prevProc: make(map[int]uint64),
	}
}

// SampleTop returns up to n processes sorted by CPU share descending, then
// pid ascending. CPU share is relative to all CPUs combined and is zero for
// processes not seen in the previous scan.
func (s *Sampler) SampleTop(n int) []ProcessInfo {
	if n <= 0 {
		return []ProcessInfo{}
	}

	cpu, err := s.src.CPU()
	if err != nil {
		s.logger.Debug("read cpu totals", "err", err)
		return []ProcessInfo{}
	}
	procs, err := s.src.Processes()
	if err != nil {
		s.logger.Debug("list processes", "err", err)
		return []ProcessInfo{}
	}

	var deltaTotal uint64
	if s.primed && cpu.Total > s.prevTotal {
		deltaTotal = cpu.Total - s.prevTotal
	}

	current := make(map[int]uint64, len(procs))
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		if p.PID <= 0 {
			continue
		}
		current[p.PID] = p.CPUTicks

		var pct float64
		if deltaTotal > 0 {
			if prev, ok := s.prevProc[p.PID]; ok && p.CPUTicks >= prev {
				pct = 100 * float64(p.CPUTicks-prev) / float64(deltaTotal)
			}
		}
		out = append(out, ProcessInfo{
			PID:      p.PID,
			Name:     p.Name,
			Cmdline:  p.Cmdline,
			CPUPct:   pct,
			RAMBytes: p.RSSBytes,
		})
	}

	s.prevTotal = cpu.Total
	s.prevProc = current
	s.primed = true

	sort.Slice(out, func(i, j int) bool {
		if out[i].CPUPct != out[j].CPUPct {
			return out[i].CPUPct > out[j].CPUPct
		}
		return out[i].PID < out[j].PID
	})
	if len(out) > n {
		out = out[:n]
	}
	s.attachGPUMemory(out)
	return out
}

func (s *Sampler) attachGPUMemory(rows []ProcessInfo) {
	if len(s.gpuMem) == 0 || len(rows) == 0 {
		return
	}
	pids := make([]int, len(rows))
	for i, r := range rows {
		pids[i] = r.PID
	}

	merged := make(map[int]GPUMemory)
	for _, src := range s.gpuMem {
		for pid, mem := range src.ProcessGPUMemory(pids) {
			cur := merged[pid]
			cur.VRAMBytes = max(cur.VRAMBytes, mem.VRAMBytes)
			cur.GTTBytes = max(cur.GTTBytes, mem.GTTBytes)
			merged[pid] = cur
		}
	}

	for i := range rows {
		mem, ok := merged[rows[i].PID]
		if !ok {
			continue
		}
		vram, gtt := mem.VRAMBytes, mem.GTTBytes
		rows[i].VRAMBytes = &vram
		if gtt > 0 {
			rows[i].GTTBytes = &gtt
		}
	}
}

// Identity looks up a single process owned by the invoking user.
func (s *Sampler) Identity(pid int) (Identity, bool) {
	procs, err := s.src.Processes()
	if err != nil {
		return Identity{}, false
	}
	for _, p := range procs {
		if p.PID == pid {
			return Identity{Name: p.Name, Cmdline: p.Cmdline, RAMBytes: p.RSSBytes}, true
		}
	}
	return Identity{}, false
}

// IsUserProcess reports whether pid belongs to the invoking user.
func (s *Sampler) IsUserProcess(pid int) bool {
	_, ok := s.Identity(pid)
	return ok
}
