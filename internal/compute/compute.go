// Package compute holds the result shape shared by the compute-API probes.
package compute

import (
	"errors"
	"fmt"

	"github.com/aiz-dev/hwtelemetry/internal/dynlib"
)

// Info is the outcome of probing one compute runtime.
type Info struct {
	API       string   `json:"api"`
	Available bool     `json:"available"`
	Library   string   `json:"library,omitempty"`
	Version   string   `json:"version,omitempty"`
	Devices   []Device `json:"devices,omitempty"`
	Providers []string `json:"providers,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Device is a compute device as the runtime reports it. Fields a runtime
// does not expose stay zero.
type Device struct {
	Index             int    `json:"index"`
	Name              string `json:"name"`
	Type              string `json:"type,omitempty"`
	Platform          string `json:"platform,omitempty"`
	VendorID          uint32 `json:"vendor_id,omitempty"`
	MemoryBytes       uint64 `json:"memory_bytes,omitempty"`
	ComputeUnits      int    `json:"compute_units,omitempty"`
	ComputeCapability string `json:"compute_capability,omitempty"`
	APIVersion        string `json:"api_version,omitempty"`
}

// Unavailable builds an Info carrying reason.
func Unavailable(api string, reason error) Info {
	return Info{API: api, Reason: reason.Error()}
}

// BindError turns a symbol binding failure into the runtime's message.
// kind names the runtime, for example "CUDA driver" or "OpenCL".
func BindError(kind string, err error) error {
	var missing *dynlib.MissingSymbolError
	if errors.As(err, &missing) {
		return fmt.Errorf("Missing %s symbol '%s'", kind, missing.Symbol)
	}
	return err
}
