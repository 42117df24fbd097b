//go:build !linux

package counters

import "log/slog"

// NewDefault returns the gopsutil Source. The roots only apply on Linux.
func NewDefault(_, _ string, _ *slog.Logger) Source {
	return NewGopsutil()
}
