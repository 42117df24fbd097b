package metrics

import (
	"strings"

	"github.com/aiz-dev/hwtelemetry/internal/counters"
)

// DiskMode selects which direction of disk traffic is measured.
type DiskMode int

const (
	DiskTotal DiskMode = iota
	DiskRead
	DiskWrite
)

func (m DiskMode) String() string {
	switch m {
	case DiskRead:
		return "read"
	case DiskWrite:
		return "write"
	default:
		return "total"
	}
}

// DiskBandwidth reports block-device throughput in MB/s. An empty prefix
// sums whole disks only; a prefix sums every device whose name starts with it.
type DiskBandwidth struct {
	src    counters.Source
	mode   DiskMode
	prefix string
	rate   rateTracker
}

// NewDiskBandwidth reads from src, or from the platform default when src is nil.
func NewDiskBandwidth(src counters.Source, mode DiskMode, prefix string, opts ...Option) *DiskBandwidth {
	o := buildOptions(opts)
	return &DiskBandwidth{
		src:    sourceOrDefault(src),
		mode:   mode,
		prefix: prefix,
		rate:   rateTracker{now: o.now},
	}
}

func (d *DiskBandwidth) Name() string { return "disk_" + d.mode.String() }

func (d *DiskBandwidth) Sample() (Sample, bool) {
	disks, err := d.src.Disks()
	if err != nil {
		return Sample{}, false
	}

	var total uint64
	for _, disk := range disks {
		if !d.matches(disk.Name) {
			continue
		}
		switch d.mode {
		case DiskRead:
			total += disk.ReadBytes
		case DiskWrite:
			total += disk.WriteBytes
		default:
			total += disk.ReadBytes + disk.WriteBytes
		}
	}

	mbps, warm := d.rate.update(total)
	if warm {
		return warming(UnitMBps), true
	}
	return Sample{Value: mbps, Unit: UnitMBps, Label: filterLabel(d.prefix)}, true
}

func (d *DiskBandwidth) matches(name string) bool {
	if d.prefix != "" {
		return strings.HasPrefix(name, d.prefix)
	}
	return !isPartition(name)
}

// isPartition reports names such as sda1 or nvme0n1p2. Whole nvme namespaces
// end in a digit too and are kept.
func isPartition(name string) bool {
	if name == "" {
		return false
	}
	last := name[len(name)-1]
	if last < '0' || last > '9' {
		return false
	}
	if strings.HasPrefix(name, "nvme") {
		return strings.Contains(name, "p")
	}
	return true
}

func filterLabel(prefix string) string {
	if prefix == "" {
		return "all"
	}
	return prefix
}
