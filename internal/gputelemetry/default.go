package gputelemetry

import (
	"log/slog"
	"sync"

	"github.com/aiz-dev/hwtelemetry/internal/nvml"
)

// DefaultSysfsRoot is where the kernel exposes DRM devices.
const DefaultSysfsRoot = "/sys"

var (
	defaultOnce       sync.Once
	defaultAggregator *Aggregator
)

// Default returns the process-wide aggregator wired for this platform.
func Default() *Aggregator {
	defaultOnce.Do(func() {
		defaultAggregator = NewDefault(DefaultSysfsRoot, nil)
	})
	return defaultAggregator
}

// NewDefault wires NVML as the primary backend and the platform's
// enumerator and strategies behind it.
func NewDefault(sysfsRoot string, logger *slog.Logger) *Aggregator {
	enumerator, strategies := platformChain(sysfsRoot, logger)
	return New(NewNVMLPrimary(nvml.Default()), enumerator, strategies, logger)
}
