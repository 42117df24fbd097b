//go:build linux

package counters

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func writeProcFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func procStatLine(pid int, comm string, utime, stime uint64, rssPages int) string {
	return fmt.Sprintf("%d (%s) S 1 1 1 0 -1 0 0 0 0 0 %d %d 0 0 20 0 1 0 100 4096 %d 0%s\n",
		pid, comm, utime, stime, rssPages, strings.Repeat(" 0", 19))
}

func addProcess(t *testing.T, root string, pid int, uid int, comm string, utime, stime uint64, rssPages int, cmdline string) {
	t.Helper()
	dir := fmt.Sprint(pid)
	writeProcFile(t, root, filepath.Join(dir, "stat"), procStatLine(pid, comm, utime, stime, rssPages))
	writeProcFile(t, root, filepath.Join(dir, "status"), fmt.Sprintf("Name:\t%s\nUid:\t%d\t%d\t%d\t%d\n", comm, uid, uid, uid, uid))
	writeProcFile(t, root, filepath.Join(dir, "cmdline"), cmdline)
}

func newFixtureFS(t *testing.T) (*ProcFS, string) {
	t.Helper()
	root := t.TempDir()
	proc := filepath.Join(root, "proc")
	sys := filepath.Join(root, "sys")
	require.NoError(t, os.MkdirAll(proc, 0o755))
	require.NoError(t, os.MkdirAll(sys, 0o755))

	src, err := NewProcFS(proc, sys)
	require.NoError(t, err)
	return src, proc
}

func TestProcFSCPU(t *testing.T) {
	src, proc := newFixtureFS(t)
	writeProcFile(t, proc, "stat", strings.Join([]string{
		"cpu  400 100 300 1000 200 10 20 30 0 0",
		"cpu0 200 50 150 500 100 5 10 15 0 0",
		"cpu1 0 0 0 0 0 0 0 0 0 0",
		"cpu2 200 50 150 500 100 5 10 15 0 0",
		"intr 0",
		"ctxt 12",
		"btime 1700000000",
		"",
	}, "\n"))

	total, err := src.CPU()
	require.NoError(t, err)
	assert.Equal(t, CPUTimes{Idle: 1200, Total: 2060}, total)

	cores, err := src.PerCore()
	require.NoError(t, err)
	require.Len(t, cores, 2, "zero-total cores are skipped")
	assert.Equal(t, CPUTimes{Idle: 600, Total: 1030}, cores[0])
	assert.Equal(t, cores[0], cores[1])
}

func TestProcFSCPUMissingStat(t *testing.T) {
	src, _ := newFixtureFS(t)
	_, err := src.CPU()
	assert.Error(t, err)
}

func TestProcFSDisks(t *testing.T) {
	src, proc := newFixtureFS(t)
	writeProcFile(t, proc, "diskstats",
		"   8       0 sda 100 0 2048 10 50 0 4096 20 0 30 30\n"+
			" 259       0 nvme0n1 10 0 8 1 20 0 16 2 0 3 3\n")

	disks, err := src.Disks()
	require.NoError(t, err)
	require.Len(t, disks, 2)
	assert.Equal(t, DiskIO{Name: "sda", ReadBytes: 2048 * 512, WriteBytes: 4096 * 512}, disks[0])
	assert.Equal(t, "nvme0n1", disks[1].Name)
}

func TestProcFSNet(t *testing.T) {
	src, proc := newFixtureFS(t)
	writeProcFile(t, proc, "net/dev", strings.Join([]string{
		"Inter-|   Receive                                                |  Transmit",
		" face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed",
		"    lo:    1000      10    0    0    0     0          0         0     1000      10    0    0    0     0       0          0",
		"  eth0:    5000      50    0    0    0     0          0         0     7000      70    0    0    0     0       0          0",
		"",
	}, "\n"))

	ifaces, err := src.Net()
	require.NoError(t, err)
	require.Len(t, ifaces, 2)
	assert.Equal(t, NetIO{Name: "eth0", RxBytes: 5000, TxBytes: 7000}, ifaces[0])
	assert.Equal(t, "lo", ifaces[1].Name)
}

func TestProcFSMemory(t *testing.T) {
	src, proc := newFixtureFS(t)
	writeProcFile(t, proc, "meminfo", "MemTotal:       16000000 kB\nMemFree:         1000000 kB\nMemAvailable:    4000000 kB\n")

	mem, err := src.Memory()
	require.NoError(t, err)
	assert.Equal(t, uint64(16000000*1024), mem.TotalBytes)
	assert.Equal(t, uint64(4000000*1024), mem.AvailableBytes)
}

func TestProcFSMemoryRequiresAvailable(t *testing.T) {
	src, proc := newFixtureFS(t)
	writeProcFile(t, proc, "meminfo", "MemTotal:       16000000 kB\nMemFree:         1000000 kB\n")

	_, err := src.Memory()
	assert.Error(t, err)
}

func TestProcFSProcessesFiltersByOwner(t *testing.T) {
	src, proc := newFixtureFS(t)
	uid := unix.Getuid()
	addProcess(t, proc, 42, uid, "worker", 120, 30, 10, "worker\x00--fast\x00")
	addProcess(t, proc, 43, uid+1, "other", 500, 500, 10, "other\x00")
	writeProcFile(t, proc, "44/status", fmt.Sprintf("Name:\tbroken\nUid:\t%d\t%d\t%d\t%d\n", uid, uid, uid, uid))

	procs, err := src.Processes()
	require.NoError(t, err)
	require.Len(t, procs, 1)

	p := procs[0]
	assert.Equal(t, 42, p.PID)
	assert.Equal(t, "worker", p.Name)
	assert.Equal(t, "worker --fast", p.Cmdline)
	assert.Equal(t, uint64(150), p.CPUTicks)
	assert.Equal(t, uint64(10*os.Getpagesize()), p.RSSBytes)
}
