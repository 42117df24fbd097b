//go:build linux

package counters

import "log/slog"

// NewDefault returns a procfs Source rooted at procRoot and sysRoot, or the
// gopsutil Source when the proc filesystem cannot be opened.
func NewDefault(procRoot, sysRoot string, logger *slog.Logger) Source {
	src, err := NewProcFS(procRoot, sysRoot)
	if err != nil {
		if logger != nil {
			logger.Warn("procfs unavailable, using gopsutil", "proc_root", procRoot, "err", err)
		}
		return NewGopsutil()
	}
	return src
}
