package gpu

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

// PCI vendor ids of the GPU vendors this package classifies.
const (
	pciVendorNVIDIA uint16 = 0x10de
	pciVendorATI    uint16 = 0x1002
	pciVendorAMD    uint16 = 0x1022
	pciVendorIntel  uint16 = 0x8086
)

// PCIIdentity is a device's PCI vendor and device id, plus the board
// subsystem ids when the kernel reports them.
type PCIIdentity struct {
	Vendor    uint16
	Device    uint16
	SubVendor uint16
	SubDevice uint16
}

// ParsePCIIdentity parses a "vendor:device" pair such as the uevent PCI_ID
// ("1002:744C"). Subsystem ids are optional and ignored when malformed.
func ParsePCIIdentity(pciID, subVendor, subDevice string) (PCIIdentity, bool) {
	v, d, ok := strings.Cut(pciID, ":")
	if !ok {
		return PCIIdentity{}, false
	}
	vendor, okV := parsePCIHex(v)
	device, okD := parsePCIHex(d)
	if !okV || !okD {
		return PCIIdentity{}, false
	}
	id := PCIIdentity{Vendor: vendor, Device: device}
	sv, okSV := parsePCIHex(subVendor)
	sd, okSD := parsePCIHex(subDevice)
	if okSV && okSD {
		id.SubVendor, id.SubDevice = sv, sd
	}
	return id, true
}

// parsePCIHex accepts "0x10DE", "10de" and surrounding whitespace.
func parsePCIHex(raw string) (uint16, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

func (id PCIIdentity) hasSubsystem() bool {
	return id.SubVendor != 0 || id.SubDevice != 0
}

func (id PCIIdentity) productKey() string {
	return fmt.Sprintf("%04x%04x", id.Vendor, id.Device)
}

var pciDatabase = sync.OnceValues(func() (*pcidb.PCIDB, error) {
	return pcidb.New()
})

// LookupName returns the marketing name the PCI id database has for id,
// preferring a board-specific subsystem entry. It returns "" when the
// database cannot be loaded or does not know the product.
func LookupName(id PCIIdentity) string {
	if id.Vendor == 0 || id.Device == 0 {
		return ""
	}
	db, err := pciDatabase()
	if err != nil || db == nil {
		return ""
	}
	product := db.Products[id.productKey()]
	if product == nil {
		return ""
	}
	if id.hasSubsystem() {
		subVendor := fmt.Sprintf("%04x", id.SubVendor)
		subDevice := fmt.Sprintf("%04x", id.SubDevice)
		for _, sub := range product.Subsystems {
			if sub != nil && sub.Name != "" &&
				strings.EqualFold(sub.VendorID, subVendor) && strings.EqualFold(sub.ID, subDevice) {
				return sub.Name
			}
		}
	}
	return product.Name
}

// VendorFromID maps a PCI vendor id ("0x10de", "10DE") to a vendor name.
func VendorFromID(id string) string {
	vendor, ok := parsePCIHex(id)
	if !ok {
		return VendorUnknown
	}
	return vendorName(vendor)
}

func vendorName(vendor uint16) string {
	switch vendor {
	case pciVendorNVIDIA:
		return VendorNVIDIA
	case pciVendorATI, pciVendorAMD:
		return VendorAMD
	case pciVendorIntel:
		return VendorIntel
	default:
		return VendorUnknown
	}
}

// kernelDriverNames are what DRM reports when it has no product name.
var kernelDriverNames = map[string]bool{
	"amdgpu": true, "radeon": true, "nvidia": true, "nouveau": true,
	"i915": true, "xe": true, "unknown": true,
}

// preferDatabaseName reports whether the database name should replace the
// one read from sysfs. Driver names and raw ids are always replaced, real
// product names never are.
func preferDatabaseName(current, resolved string) bool {
	if resolved == "" {
		return false
	}
	current = strings.ToLower(strings.TrimSpace(current))
	if current == "" || kernelDriverNames[current] {
		return true
	}
	return strings.HasPrefix(current, "pci device") || strings.HasPrefix(current, "0x")
}
