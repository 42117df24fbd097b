// Package counters reads the raw, monotonically increasing OS counters the
// rate collectors and the process sampler difference between ticks.
package counters

import (
	"math"
	"strings"
	"sync"
)

// TicksPerSecond is the unit of CPU counters, matching USER_HZ on Linux.
const TicksPerSecond = 100

// CPUTimes are cumulative CPU ticks. Idle includes iowait; Total sums user,
// nice, system, idle, iowait, irq, softirq and steal.
type CPUTimes struct {
	Idle  uint64
	Total uint64
}

// DiskIO holds cumulative byte counters for one block device.
type DiskIO struct {
	Name       string
	ReadBytes  uint64
	WriteBytes uint64
}

// NetIO holds cumulative byte counters for one network interface.
type NetIO struct {
	Name    string
	RxBytes uint64
	TxBytes uint64
}

// Memory is the physical memory picture. Available counts reclaimable pages.
type Memory struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

// Process is one process owned by the invoking user. CPUTicks is user plus
// system time in TicksPerSecond units.
type Process struct {
	PID      int
	Name     string
	Cmdline  string
	CPUTicks uint64
	RSSBytes uint64
}

// Source reads OS counters. Implementations hold no sampling state.
type Source interface {
	CPU() (CPUTimes, error)
	PerCore() ([]CPUTimes, error)
	Disks() ([]DiskIO, error)
	Net() ([]NetIO, error)
	Memory() (Memory, error)
	Processes() ([]Process, error)
}

// Default mount points of the Linux pseudo filesystems.
const (
	DefaultProcRoot = "/proc"
	DefaultSysRoot  = "/sys"
)

var (
	defaultOnce   sync.Once
	defaultSource Source
)

// Default returns the process-wide Source for the running platform.
func Default() Source {
	defaultOnce.Do(func() {
		defaultSource = NewDefault(DefaultProcRoot, DefaultSysRoot, nil)
	})
	return defaultSource
}

func ticks(seconds float64) uint64 {
	if seconds <= 0 {
		return 0
	}
	return uint64(math.Round(seconds * TicksPerSecond))
}

func cpuTimes(user, nice, system, idle, iowait, irq, softirq, steal float64) CPUTimes {
	return CPUTimes{
		Idle:  ticks(idle) + ticks(iowait),
		Total: ticks(user) + ticks(nice) + ticks(system) + ticks(idle) + ticks(iowait) + ticks(irq) + ticks(softirq) + ticks(steal),
	}
}

// joinCmdline renders argv with single spaces, trimming surrounding blanks.
func joinCmdline(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
