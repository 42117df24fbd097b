//go:build windows

package gputelemetry

import (
	"log/slog"

	"github.com/aiz-dev/hwtelemetry/internal/adlx"
	"github.com/aiz-dev/hwtelemetry/internal/d3dkmt"
	"github.com/aiz-dev/hwtelemetry/internal/igcl"
)

func platformChain(_ string, logger *slog.Logger) (Enumerator, []Strategy) {
	client := d3dkmt.Default()
	return NewD3DKMTEnumerator(client, logger), []Strategy{
		NewIGCLStrategy(igcl.Default()),
		NewADLXStrategy(adlx.Default()),
		NewD3DKMTStrategy(client),
	}
}
