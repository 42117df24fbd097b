// Package gpu enumerates DRM display devices through sysfs and reads the
// generic kernel telemetry they expose.
package gpu

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	drmClassPath       = "class/drm"
	displayClassPrefix = "0x03"
)

// Vendor names reported in Device.Vendor.
const (
	VendorNVIDIA  = "nvidia"
	VendorAMD     = "amd"
	VendorIntel   = "intel"
	VendorUnknown = "unknown"
)

// Device describes a display-class DRM card discovered via sysfs.
type Device struct {
	ID         string `json:"id"`
	Index      int    `json:"index"`
	Card       int    `json:"card"`
	PCI        string `json:"pci"`
	PCIID      string `json:"pci_id"`
	Vendor     string `json:"vendor"`
	Driver     string `json:"driver"`
	Name       string `json:"name"`
	RenderNode string `json:"render_node"`
	DevicePath string `json:"-"`
}

// IsAMD reports whether the device is handled by the AMD telemetry path.
func (d Device) IsAMD() bool {
	return d.Vendor == VendorAMD || d.Driver == "amdgpu"
}

// IsIntel reports whether the device is handled by the Intel telemetry path.
func (d Device) IsIntel() bool {
	return d.Vendor == VendorIntel || d.Driver == "i915" || d.Driver == "xe"
}

// Discover enumerates display-class DRM cards under the provided sysfs root,
// ordered by card number. Index is the position in the returned slice.
func Discover(root string, logger *slog.Logger) ([]Device, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sysRoot, err := os.OpenRoot(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("sysfs root missing", "path", root)
			return nil, nil
		}
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}
	defer sysRoot.Close()

	entries, err := fs.ReadDir(sysRoot.FS(), drmClassPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("drm class path missing", "path", filepath.Join(root, drmClassPath))
			return nil, nil
		}
		return nil, fmt.Errorf("read drm class dir: %w", err)
	}

	type card struct {
		number int
		name   string
	}
	var cards []card
	for _, entry := range entries {
		name := entry.Name()
		number, ok := parseCardNumber(name)
		if !ok {
			continue
		}
		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		cards = append(cards, card{number: number, name: name})
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].number < cards[j].number })

	var devices []Device
	for _, c := range cards {
		cardRoot, err := sysRoot.OpenRoot(filepath.Join(drmClassPath, c.name))
		if err != nil {
			logger.Debug("failed to open card root", "card", c.name, "err", err)
			continue
		}

		dev, ok, err := loadDevice(c.name, cardRoot)
		if cerr := cardRoot.Close(); cerr != nil {
			logger.Debug("failed to close card root", "card", c.name, "err", cerr)
		}
		if err != nil {
			logger.Debug("skipping card", "card", c.name, "err", err)
			continue
		}
		if !ok {
			continue
		}

		dev.Index = len(devices)
		dev.Card = c.number
		dev.DevicePath = filepath.Join(root, drmClassPath, c.name, "device")
		devices = append(devices, dev)
	}

	return devices, nil
}

func loadDevice(cardID string, cardRoot *os.Root) (Device, bool, error) {
	deviceRoot, err := cardRoot.OpenRoot("device")
	if err != nil {
		return Device{}, false, fmt.Errorf("open device root: %w", err)
	}
	defer deviceRoot.Close()

	if class, err := readTrim(deviceRoot, "class"); err == nil && !strings.HasPrefix(strings.ToLower(class), displayClassPrefix) {
		return Device{}, false, nil
	}

	var (
		pciSlot   string
		pciID     string
		driver    string
		name      string
		subVendor string
		subDevice string
	)

	if data, err := deviceRoot.ReadFile("uevent"); err == nil {
		text := string(data)
		pciSlot = parseKeyValue(text, "PCI_SLOT_NAME")
		pciID = parseKeyValue(text, "PCI_ID")
		driver = parseKeyValue(text, "DRIVER")
		if subsys := parseKeyValue(text, "PCI_SUBSYS_ID"); subsys != "" {
			if v, d, ok := strings.Cut(subsys, ":"); ok {
				subVendor, subDevice = v, d
			}
		}
		name = parseKeyValue(text, "PCI_ID_NAME")
	}

	vendorHex, _ := readTrim(deviceRoot, "vendor")
	if pciID == "" && vendorHex != "" {
		if device, err := readTrim(deviceRoot, "device"); err == nil {
			pciID = formatHexPair(vendorHex, device)
		}
	}
	if name == "" {
		name, _ = readTrim(deviceRoot, "product_name")
	}
	if subVendor == "" {
		subVendor, _ = readTrim(deviceRoot, "subsystem_vendor")
	}
	if subDevice == "" {
		subDevice, _ = readTrim(deviceRoot, "subsystem_device")
	}

	vendor := VendorFromID(vendorHex)
	if identity, ok := ParsePCIIdentity(pciID, subVendor, subDevice); ok {
		if vendorHex == "" {
			vendor = vendorName(identity.Vendor)
		}
		if resolved := LookupName(identity); preferDatabaseName(name, resolved) {
			name = resolved
		}
	}
	if name == "" {
		name = fallbackName(driver, cardID)
	}

	return Device{
		ID:         cardID,
		PCI:        pciSlot,
		PCIID:      pciID,
		Vendor:     vendor,
		Driver:     driver,
		Name:       name,
		RenderNode: findRenderNode(deviceRoot),
	}, true, nil
}

func fallbackName(driver, cardID string) string {
	if driver == "" {
		return cardID
	}
	return driver + " (" + cardID + ")"
}

func findRenderNode(deviceRoot *os.Root) string {
	drmRoot, err := deviceRoot.OpenRoot("drm")
	if err != nil {
		return ""
	}
	defer drmRoot.Close()

	entries, err := fs.ReadDir(drmRoot.FS(), ".")
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if name := entry.Name(); strings.HasPrefix(name, "renderD") {
			return filepath.Join("/dev/dri", name)
		}
	}
	return ""
}

func parseCardNumber(name string) (int, bool) {
	digits, ok := strings.CutPrefix(name, "card")
	if !ok || digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseKeyValue(data, key string) string {
	prefix := key + "="
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		if value, ok := strings.CutPrefix(scanner.Text(), prefix); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func readTrim(root *os.Root, name string) (string, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func formatHexPair(vendor, device string) string {
	return strings.TrimPrefix(vendor, "0x") + ":" + strings.TrimPrefix(device, "0x")
}
