package counters

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"sort"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Gopsutil reads counters through gopsutil on platforms without procfs.
// Process ownership uses the uid where the platform has one and the
// username otherwise.
type Gopsutil struct {
	uid      int
	username string
}

// NewGopsutil returns a Source for the calling user.
func NewGopsutil() *Gopsutil {
	g := &Gopsutil{uid: os.Getuid()}
	if u, err := user.Current(); err == nil {
		g.username = u.Username
	}
	return g
}

func (g *Gopsutil) CPU() (CPUTimes, error) {
	times, err := cpu.Times(false)
	if err != nil {
		return CPUTimes{}, fmt.Errorf("cpu times: %w", err)
	}
	if len(times) == 0 {
		return CPUTimes{}, errors.New("cpu times: empty")
	}
	return fromTimesStat(times[0]), nil
}

func (g *Gopsutil) PerCore() ([]CPUTimes, error) {
	times, err := cpu.Times(true)
	if err != nil {
		return nil, fmt.Errorf("per-cpu times: %w", err)
	}
	cores := make([]CPUTimes, 0, len(times))
	for _, t := range times {
		if c := fromTimesStat(t); c.Total > 0 {
			cores = append(cores, c)
		}
	}
	if len(cores) == 0 {
		return nil, errors.New("per-cpu times: empty")
	}
	return cores, nil
}

func fromTimesStat(t cpu.TimesStat) CPUTimes {
	return cpuTimes(t.User, t.Nice, t.System, t.Idle, t.Iowait, t.Irq, t.Softirq, t.Steal)
}

func (g *Gopsutil) Disks() ([]DiskIO, error) {
	stats, err := disk.IOCounters()
	if err != nil {
		return nil, fmt.Errorf("disk counters: %w", err)
	}
	disks := make([]DiskIO, 0, len(stats))
	for name, s := range stats {
		if s.Name != "" {
			name = s.Name
		}
		disks = append(disks, DiskIO{Name: name, ReadBytes: s.ReadBytes, WriteBytes: s.WriteBytes})
	}
	sort.Slice(disks, func(i, j int) bool { return disks[i].Name < disks[j].Name })
	return disks, nil
}

func (g *Gopsutil) Net() ([]NetIO, error) {
	stats, err := net.IOCounters(true)
	if err != nil {
		return nil, fmt.Errorf("net counters: %w", err)
	}
	ifaces := make([]NetIO, 0, len(stats))
	for _, s := range stats {
		ifaces = append(ifaces, NetIO{Name: s.Name, RxBytes: s.BytesRecv, TxBytes: s.BytesSent})
	}
	return ifaces, nil
}

func (g *Gopsutil) Memory() (Memory, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Memory{}, fmt.Errorf("virtual memory: %w", err)
	}
	if vm.Total == 0 {
		return Memory{}, errors.New("virtual memory: zero total")
	}
	return Memory{TotalBytes: vm.Total, AvailableBytes: vm.Available}, nil
}

func (g *Gopsutil) Processes() ([]Process, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		if p.Pid <= 0 || !g.owns(p) {
			continue
		}
		times, err := p.Times()
		if err != nil {
			continue
		}
		info := Process{
			PID:      int(p.Pid),
			CPUTicks: ticks(times.User) + ticks(times.System),
		}
		if name, err := p.Name(); err == nil {
			info.Name = name
		}
		if cmdline, err := p.Cmdline(); err == nil {
			info.Cmdline = joinCmdline([]string{cmdline})
		}
		if mi, err := p.MemoryInfo(); err == nil && mi != nil {
			info.RSSBytes = mi.RSS
		}
		out = append(out, info)
	}
	return out, nil
}

func (g *Gopsutil) owns(p *process.Process) bool {
	if g.uid >= 0 {
		if uids, err := p.Uids(); err == nil && len(uids) > 0 {
			return int(uids[0]) == g.uid
		}
	}
	if g.username == "" {
		return false
	}
	name, err := p.Username()
	return err == nil && name == g.username
}
