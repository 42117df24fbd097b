// Package npu detects neural processing units exposed through the kernel
// accel subsystem.
package npu

import (
	"fmt"
	"strings"
)

// Status is the overall outcome of a probe.
type Status int

const (
	StatusNoDevice Status = iota
	StatusAvailable
	StatusNoDriver
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "Available"
	case StatusNoDevice:
		return "No device"
	case StatusNoDriver:
		return "No driver"
	case StatusUnsupported:
		return "Unsupported"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{StatusNoDevice, StatusAvailable, StatusNoDriver, StatusUnsupported} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown npu status %q", text)
}

// Vendor names.
const (
	VendorIntel = "Intel"
	VendorAMD   = "AMD"
)

// Device is one detected NPU.
type Device struct {
	Vendor        string   `json:"vendor"`
	Name          string   `json:"name"`
	VendorID      uint32   `json:"vendor_id"`
	DeviceID      uint32   `json:"device_id"`
	DevicePath    string   `json:"device_path"`
	DriverVersion string   `json:"driver_version,omitempty"`
	PeakTOPS      *float64 `json:"peak_tops,omitempty"`
	Details       []string `json:"details,omitempty"`
}

// Availability is the combined result over all vendors.
type Availability struct {
	Status      Status   `json:"status"`
	Devices     []Device `json:"devices"`
	Diagnostics string   `json:"diagnostics"`
	// VendorNotes holds one line per vendor probe.
	VendorNotes []string `json:"vendor_notes"`
}

type vendorResult struct {
	status  Status
	devices []Device
	note    string
}

// combine merges vendor probes: any available vendor makes the result
// available, otherwise a missing driver outranks a missing device.
func combine(results map[string]vendorResult, order []string) Availability {
	out := Availability{Status: StatusNoDevice, Devices: []Device{}}
	for _, vendor := range order {
		r := results[vendor]
		switch r.status {
		case StatusAvailable:
			out.Devices = append(out.Devices, r.devices...)
			out.Status = StatusAvailable
		case StatusNoDriver:
			if out.Status != StatusAvailable {
				out.Status = StatusNoDriver
			}
		case StatusUnsupported:
			if out.Status == StatusNoDevice {
				out.Status = StatusUnsupported
			}
		}
		out.VendorNotes = append(out.VendorNotes, vendor+": "+r.note)
	}

	switch {
	case len(out.Devices) > 0:
		names := make([]string, len(out.Devices))
		for i, d := range out.Devices {
			names[i] = d.Name
		}
		out.Diagnostics = fmt.Sprintf("%d NPU(s) available: %s", len(out.Devices), strings.Join(names, ", "))
	case out.Status == StatusNoDriver:
		out.Diagnostics = "NPU hardware detected but driver not loaded."
	case out.Status == StatusUnsupported:
		out.Diagnostics = "NPU detection not supported on this platform."
	default:
		out.Diagnostics = "No NPU devices detected."
	}
	return out
}
