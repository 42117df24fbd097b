package metrics

import (
	"strings"

	"github.com/aiz-dev/hwtelemetry/internal/counters"
)

// NetMode selects which direction of network traffic is measured.
type NetMode int

const (
	NetTotal NetMode = iota
	NetRx
	NetTx
)

func (m NetMode) String() string {
	switch m {
	case NetRx:
		return "rx"
	case NetTx:
		return "tx"
	default:
		return "total"
	}
}

const loopbackInterface = "lo"

// NetworkBandwidth reports interface throughput in MB/s. An empty prefix sums
// every interface except loopback.
type NetworkBandwidth struct {
	src    counters.Source
	mode   NetMode
	prefix string
	rate   rateTracker
}

// NewNetworkBandwidth reads from src, or from the platform default when src is nil.
func NewNetworkBandwidth(src counters.Source, mode NetMode, prefix string, opts ...Option) *NetworkBandwidth {
	o := buildOptions(opts)
	return &NetworkBandwidth{
		src:    sourceOrDefault(src),
		mode:   mode,
		prefix: prefix,
		rate:   rateTracker{now: o.now},
	}
}

func (n *NetworkBandwidth) Name() string { return "net_" + n.mode.String() }

func (n *NetworkBandwidth) Sample() (Sample, bool) {
	ifaces, err := n.src.Net()
	if err != nil {
		return Sample{}, false
	}

	var total uint64
	for _, iface := range ifaces {
		if n.prefix != "" {
			if !strings.HasPrefix(iface.Name, n.prefix) {
				continue
			}
		} else if iface.Name == loopbackInterface {
			continue
		}
		switch n.mode {
		case NetRx:
			total += iface.RxBytes
		case NetTx:
			total += iface.TxBytes
		default:
			total += iface.RxBytes + iface.TxBytes
		}
	}

	mbps, warm := n.rate.update(total)
	if warm {
		return warming(UnitMBps), true
	}
	return Sample{Value: mbps, Unit: UnitMBps, Label: filterLabel(n.prefix)}, true
}
