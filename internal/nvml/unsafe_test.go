package nvml

import "unsafe"

func unsafeBytes(p *byte, n uint32) []byte {
	return unsafe.Slice(p, n)
}

func unsafeProcs(p *processInfo, n uint32) []processInfo {
	return unsafe.Slice(p, n)
}
