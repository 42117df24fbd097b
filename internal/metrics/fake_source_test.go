package metrics

import (
	"errors"
	"time"

	"github.com/aiz-dev/hwtelemetry/internal/counters"
)

var errRead = errors.New("read failed")

type fakeSource struct {
	cpu     counters.CPUTimes
	cores   []counters.CPUTimes
	disks   []counters.DiskIO
	ifaces  []counters.NetIO
	mem     counters.Memory
	procs   []counters.Process
	failAll bool
}

func (f *fakeSource) CPU() (counters.CPUTimes, error) {
	if f.failAll {
		return counters.CPUTimes{}, errRead
	}
	return f.cpu, nil
}

func (f *fakeSource) PerCore() ([]counters.CPUTimes, error) {
	if f.failAll {
		return nil, errRead
	}
	return append([]counters.CPUTimes(nil), f.cores...), nil
}

func (f *fakeSource) Disks() ([]counters.DiskIO, error) {
	if f.failAll {
		return nil, errRead
	}
	return f.disks, nil
}

func (f *fakeSource) Net() ([]counters.NetIO, error) {
	if f.failAll {
		return nil, errRead
	}
	return f.ifaces, nil
}

func (f *fakeSource) Memory() (counters.Memory, error) {
	if f.failAll {
		return counters.Memory{}, errRead
	}
	return f.mem, nil
}

func (f *fakeSource) Processes() ([]counters.Process, error) {
	if f.failAll {
		return nil, errRead
	}
	return f.procs, nil
}

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
