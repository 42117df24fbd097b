//go:build windows

package d3dkmt

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/aiz-dev/hwtelemetry/internal/dynlib"
)

type adapterInfo struct {
	HAdapter                       uint32
	AdapterLuid                    LUID
	NumOfSources                   uint32
	PrecisePresentRegionsPreferred int32
}

type enumAdapters2 struct {
	NumAdapters uint32
	Adapters    *adapterInfo
}

type openAdapterFromLuid struct {
	AdapterLuid LUID
	HAdapter    uint32
}

type closeAdapter struct {
	HAdapter uint32
}

type queryVideoMemoryInfo struct {
	HProcess                uintptr
	HAdapter                uint32
	MemorySegmentGroup      uint32
	Budget                  uint64
	CurrentUsage            uint64
	CurrentReservation      uint64
	AvailableForReservation uint64
	PhysicalAdapterIndex    uint32
}

type queryAdapterInfo struct {
	HAdapter              uint32
	Type                  uint32
	PrivateDriverData     unsafe.Pointer
	PrivateDriverDataSize uint32
}

type adapterRegistryInfo struct {
	AdapterString [maxPath]uint16
	BiosString    [maxPath]uint16
	DacType       [maxPath]uint16
	ChipType      [maxPath]uint16
}

type queryDeviceIDs struct {
	PhysicalAdapterIndex uint32
	VendorID             uint32
	DeviceID             uint32
	SubVendorID          uint32
	SubSystemID          uint32
	RevisionID           uint32
	BusType              uint32
}

type functions struct {
	enumAdapters2        func(*enumAdapters2) int32
	openAdapterFromLuid  func(*openAdapterFromLuid) int32
	closeAdapter         func(*closeAdapter) int32
	queryVideoMemoryInfo func(*queryVideoMemoryInfo) int32
	queryAdapterInfo     func(*queryAdapterInfo) int32
}

func loadFunctions() (*functions, error) {
	lib, err := dynlib.Open([]string{"gdi32.dll"})
	if err != nil {
		return nil, fmt.Errorf("gdi32 not found: %w", err)
	}
	f := &functions{}
	if err := lib.RequireAll([]dynlib.Binding{
		{Symbol: "D3DKMTEnumAdapters2", Fn: &f.enumAdapters2},
		{Symbol: "D3DKMTOpenAdapterFromLuid", Fn: &f.openAdapterFromLuid},
		{Symbol: "D3DKMTCloseAdapter", Fn: &f.closeAdapter},
		{Symbol: "D3DKMTQueryVideoMemoryInfo", Fn: &f.queryVideoMemoryInfo},
	}); err != nil {
		return nil, fmt.Errorf("D3DKMT unusable: %w", err)
	}
	lib.Optional("D3DKMTQueryAdapterInfo", &f.queryAdapterInfo)
	return f, nil
}

// Client answers D3DKMT queries over a lazily bound gdi32.dll.
type Client struct {
	lazy *dynlib.Lazy[*functions]
}

var defaultClient = &Client{lazy: dynlib.NewLazy(loadFunctions)}

// Default returns the process-wide client.
func Default() *Client {
	return defaultClient
}

// Available returns nil when the D3DKMT entry points resolved.
func (c *Client) Available() error {
	_, err := c.lazy.Get()
	return err
}

// Adapters lists hardware adapters, skipping the software renderer.
func (c *Client) Adapters() ([]Adapter, error) {
	f, err := c.lazy.Get()
	if err != nil {
		return nil, err
	}

	var req enumAdapters2
	if status := f.enumAdapters2(&req); status != statusSuccess {
		return nil, fmt.Errorf("D3DKMTEnumAdapters2 count: status %#x", uint32(status))
	}
	if req.NumAdapters == 0 {
		return nil, nil
	}
	infos := make([]adapterInfo, req.NumAdapters)
	req.Adapters = &infos[0]
	if status := f.enumAdapters2(&req); status != statusSuccess {
		return nil, fmt.Errorf("D3DKMTEnumAdapters2: status %#x", uint32(status))
	}

	adapters := make([]Adapter, 0, req.NumAdapters)
	for _, info := range infos[:req.NumAdapters] {
		a := Adapter{LUID: info.AdapterLuid}
		if f.queryAdapterInfo != nil {
			var reg adapterRegistryInfo
			if queryInfo(f, info.HAdapter, queryAdapterRegistryInfo, unsafe.Pointer(&reg), unsafe.Sizeof(reg)) {
				a.Name = windows.UTF16ToString(reg.AdapterString[:])
			}
			var ids queryDeviceIDs
			if queryInfo(f, info.HAdapter, queryPhysicalDeviceIDs, unsafe.Pointer(&ids), unsafe.Sizeof(ids)) {
				a.VendorID, a.DeviceID = ids.VendorID, ids.DeviceID
			}
		}
		_ = f.closeAdapter(&closeAdapter{HAdapter: info.HAdapter})

		if ignoredAdapter(a.VendorID, a.Name) {
			continue
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// VideoMemory queries the local segment group of the adapter.
func (c *Client) VideoMemory(luid LUID) (VideoMemory, bool) {
	f, err := c.lazy.Get()
	if err != nil {
		return VideoMemory{}, false
	}
	var out VideoMemory
	ok := withAdapter(f, luid, func(h uint32) bool {
		q := queryVideoMemoryInfo{HAdapter: h, MemorySegmentGroup: segmentGroupLocal}
		if f.queryVideoMemoryInfo(&q) != statusSuccess {
			return false
		}
		out = VideoMemory{
			BudgetBytes:                  q.Budget,
			CurrentUsageBytes:            q.CurrentUsage,
			AvailableForReservationBytes: q.AvailableForReservation,
			CurrentReservationBytes:      q.CurrentReservation,
		}
		return true
	})
	return out, ok
}

// PerfData queries temperature, power, fan and memory clocks of the adapter.
func (c *Client) PerfData(luid LUID) (PerfData, bool) {
	f, err := c.lazy.Get()
	if err != nil || f.queryAdapterInfo == nil {
		return PerfData{}, false
	}
	var raw adapterPerfData
	ok := withAdapter(f, luid, func(h uint32) bool {
		return queryInfo(f, h, queryAdapterPerfData, unsafe.Pointer(&raw), unsafe.Sizeof(raw))
	})
	if !ok {
		return PerfData{}, false
	}
	return perfDataFromRaw(raw), true
}

func withAdapter(f *functions, luid LUID, fn func(h uint32) bool) bool {
	open := openAdapterFromLuid{AdapterLuid: luid}
	if f.openAdapterFromLuid(&open) != statusSuccess {
		return false
	}
	defer f.closeAdapter(&closeAdapter{HAdapter: open.HAdapter})
	return fn(open.HAdapter)
}

func queryInfo(f *functions, h uint32, kind uint32, data unsafe.Pointer, size uintptr) bool {
	q := queryAdapterInfo{
		HAdapter:              h,
		Type:                  kind,
		PrivateDriverData:     data,
		PrivateDriverDataSize: uint32(size),
	}
	return f.queryAdapterInfo(&q) == statusSuccess
}
