//go:build linux

package counters

import (
	"errors"
	"fmt"
	"sort"

	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/blockdevice"
	"golang.org/x/sys/unix"
)

const sectorSize = 512

// ProcFS reads counters from a mounted proc filesystem.
type ProcFS struct {
	fs    procfs.FS
	block blockdevice.FS
	uid   uint64
}

// NewProcFS opens the proc and sys mount points. Processes are filtered to
// the real uid of the calling process.
func NewProcFS(procRoot, sysRoot string) (*ProcFS, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", procRoot, err)
	}
	block, err := blockdevice.NewFS(procRoot, sysRoot)
	if err != nil {
		return nil, fmt.Errorf("open blockdevice fs: %w", err)
	}
	return &ProcFS{fs: fs, block: block, uid: uint64(unix.Getuid())}, nil
}

func (p *ProcFS) CPU() (CPUTimes, error) {
	stat, err := p.fs.Stat()
	if err != nil {
		return CPUTimes{}, fmt.Errorf("read stat: %w", err)
	}
	t := fromCPUStat(stat.CPUTotal)
	if t.Total == 0 {
		return CPUTimes{}, errors.New("read stat: empty cpu line")
	}
	return t, nil
}

func (p *ProcFS) PerCore() ([]CPUTimes, error) {
	stat, err := p.fs.Stat()
	if err != nil {
		return nil, fmt.Errorf("read stat: %w", err)
	}
	ids := make([]int64, 0, len(stat.CPU))
	for id := range stat.CPU {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cores := make([]CPUTimes, 0, len(ids))
	for _, id := range ids {
		if t := fromCPUStat(stat.CPU[id]); t.Total > 0 {
			cores = append(cores, t)
		}
	}
	if len(cores) == 0 {
		return nil, errors.New("read stat: no per-core lines")
	}
	return cores, nil
}

func fromCPUStat(s procfs.CPUStat) CPUTimes {
	return cpuTimes(s.User, s.Nice, s.System, s.Idle, s.Iowait, s.IRQ, s.SoftIRQ, s.Steal)
}

func (p *ProcFS) Disks() ([]DiskIO, error) {
	stats, err := p.block.ProcDiskstats()
	if err != nil {
		return nil, fmt.Errorf("read diskstats: %w", err)
	}
	disks := make([]DiskIO, 0, len(stats))
	for _, s := range stats {
		disks = append(disks, DiskIO{
			Name:       s.DeviceName,
			ReadBytes:  s.ReadSectors * sectorSize,
			WriteBytes: s.WriteSectors * sectorSize,
		})
	}
	return disks, nil
}

func (p *ProcFS) Net() ([]NetIO, error) {
	dev, err := p.fs.NetDev()
	if err != nil {
		return nil, fmt.Errorf("read net/dev: %w", err)
	}
	ifaces := make([]NetIO, 0, len(dev))
	for name, line := range dev {
		ifaces = append(ifaces, NetIO{Name: name, RxBytes: line.RxBytes, TxBytes: line.TxBytes})
	}
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Name < ifaces[j].Name })
	return ifaces, nil
}

func (p *ProcFS) Memory() (Memory, error) {
	info, err := p.fs.Meminfo()
	if err != nil {
		return Memory{}, fmt.Errorf("read meminfo: %w", err)
	}
	if info.MemTotal == nil || info.MemAvailable == nil || *info.MemTotal == 0 || *info.MemAvailable == 0 {
		return Memory{}, errors.New("read meminfo: MemTotal or MemAvailable missing")
	}
	return Memory{
		TotalBytes:     *info.MemTotal * 1024,
		AvailableBytes: *info.MemAvailable * 1024,
	}, nil
}

// Processes lists processes whose real uid matches the caller. Processes
// that exit mid-scan are skipped.
func (p *ProcFS) Processes() ([]Process, error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]Process, 0, len(procs))
	for _, proc := range procs {
		if proc.PID <= 0 {
			continue
		}
		status, err := proc.NewStatus()
		if err != nil || status.UIDs[0] != p.uid {
			continue
		}
		stat, err := proc.Stat()
		if err != nil {
			continue
		}
		info := Process{
			PID:      proc.PID,
			Name:     stat.Comm,
			CPUTicks: uint64(stat.UTime + stat.STime),
			RSSBytes: uint64(max(stat.ResidentMemory(), 0)),
		}
		if args, err := proc.CmdLine(); err == nil {
			info.Cmdline = joinCmdline(args)
		}
		out = append(out, info)
	}
	return out, nil
}
