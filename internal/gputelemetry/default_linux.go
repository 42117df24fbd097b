//go:build linux

package gputelemetry

import (
	"log/slog"

	"github.com/aiz-dev/hwtelemetry/internal/rocmsmi"
)

func platformChain(sysfsRoot string, logger *slog.Logger) (Enumerator, []Strategy) {
	return NewSysfsEnumerator(sysfsRoot, logger), []Strategy{
		NewROCmStrategy(rocmsmi.Default()),
		SysfsStrategy{},
	}
}
