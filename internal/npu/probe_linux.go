//go:build linux

package npu

// Probe inspects sysfsRoot (the default "/sys" when empty) for NPUs.
func Probe(sysfsRoot string) Availability {
	if sysfsRoot == "" {
		sysfsRoot = "/sys"
	}
	return NewProber(sysfsRoot).ProbeSysfs()
}
