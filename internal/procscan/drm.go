package procscan

import (
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const driDevicePrefix = "/dev/dri/"

// DRMMemory attributes GPU memory from the DRM fdinfo of open render and
// card nodes. Several descriptors of one DRM client are counted once.
type DRMMemory struct {
	procRoot string
	maxFDs   int
	logger   *slog.Logger
}

// NewDRMMemory scans procRoot. maxFDs bounds the descriptors inspected per
// process; zero means no limit.
func NewDRMMemory(procRoot string, maxFDs int, logger *slog.Logger) *DRMMemory {
	if procRoot == "" {
		procRoot = "/proc"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DRMMemory{
		procRoot: procRoot,
		maxFDs:   maxFDs,
		logger:   logger.With("component", "procscan_drm"),
	}
}

func (d *DRMMemory) ProcessGPUMemory(pids []int) map[int]GPUMemory {
	root, err := os.OpenRoot(d.procRoot)
	if err != nil {
		d.logger.Debug("open proc root", "path", d.procRoot, "err", err)
		return nil
	}
	defer root.Close()

	out := make(map[int]GPUMemory)
	for _, pid := range pids {
		procDir, err := root.OpenRoot(strconv.Itoa(pid))
		if err != nil {
			continue
		}
		if mem, ok := d.scanProcess(procDir); ok {
			out[pid] = mem
		}
		if err := procDir.Close(); err != nil {
			d.logger.Debug("failed to close proc dir", "pid", pid, "err", err)
		}
	}
	return out
}

func (d *DRMMemory) scanProcess(procDir *os.Root) (GPUMemory, bool) {
	fdEntries, err := fs.ReadDir(procDir.FS(), "fd")
	if err != nil {
		return GPUMemory{}, false
	}

	var (
		total   GPUMemory
		found   bool
		clients = make(map[int]GPUMemory)
	)
	for i, fdEntry := range fdEntries {
		if d.maxFDs > 0 && i >= d.maxFDs {
			break
		}
		fdName := fdEntry.Name()
		target, err := procDir.Readlink(filepath.Join("fd", fdName))
		if err != nil {
			continue
		}
		target = filepath.Clean(strings.TrimSuffix(target, " (deleted)"))
		if !strings.HasPrefix(target, driDevicePrefix) {
			continue
		}

		data, err := procDir.ReadFile(filepath.Join("fdinfo", fdName))
		if err != nil {
			continue
		}
		info := parseFDInfo(data)
		if !info.HasMemory {
			continue
		}
		found = true

		if info.ClientID == 0 {
			total.VRAMBytes += info.VRAMBytes
			total.GTTBytes += info.GTTBytes
			continue
		}
		prev := clients[info.ClientID]
		clients[info.ClientID] = GPUMemory{
			VRAMBytes: max(prev.VRAMBytes, info.VRAMBytes),
			GTTBytes:  max(prev.GTTBytes, info.GTTBytes),
		}
	}

	for _, mem := range clients {
		total.VRAMBytes += mem.VRAMBytes
		total.GTTBytes += mem.GTTBytes
	}
	return total, found
}
