//go:build !linux

package npu

// Probe reports NPU detection as unsupported outside Linux.
func Probe(string) Availability {
	return combine(map[string]vendorResult{
		VendorIntel: {status: StatusUnsupported, note: "Intel NPU detection not supported on this platform."},
		VendorAMD:   {status: StatusUnsupported, note: "AMD NPU detection not supported on this platform."},
	}, []string{VendorIntel, VendorAMD})
}
