package gpu

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaypipes/pcidb"
)

func TestDiscover(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	createCard(t, root, "card1", map[string]string{
		"uevent":          "DRIVER=amdgpu\nPCI_SLOT_NAME=0000:0a:00.0\nPCI_ID=1002:73DF\n",
		"vendor":          "0x1002\n",
		"class":           "0x030000\n",
		"product_name":    "AMD Radeon RX 6800\n",
		"drm/renderD128/": "",
	})
	createCard(t, root, "card10", map[string]string{
		"uevent": "DRIVER=i915\nPCI_SLOT_NAME=0000:00:02.0\n",
		"vendor": "0x8086\n",
		"device": "0xffff\n",
		"class":  "0x038000\n",
	})
	createCard(t, root, "card2", map[string]string{
		"uevent": "DRIVER=snd_hda_intel\nPCI_SLOT_NAME=0000:0a:00.1\n",
		"vendor": "0x1002\n",
		"class":  "0x040300\n",
	})
	createCard(t, root, "card3", map[string]string{
		"uevent": "DRIVER=simpledrm\n",
	})
	if err := os.MkdirAll(filepath.Join(root, "class", "drm", "card1-DP-1"), 0o750); err != nil {
		t.Fatalf("mkdir connector: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "class", "drm", "card4"), 0o750); err != nil {
		t.Fatalf("mkdir card4: %v", err)
	}

	devices, err := Discover(root, logger)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("expected 3 GPUs, got %d: %+v", len(devices), devices)
	}

	amd := devices[0]
	if amd.ID != "card1" || amd.Index != 0 || amd.Card != 1 {
		t.Fatalf("unexpected first device: %+v", amd)
	}
	if amd.PCI != "0000:0a:00.0" {
		t.Errorf("unexpected PCI slot: %q", amd.PCI)
	}
	if amd.PCIID != "1002:73DF" {
		t.Errorf("unexpected PCI ID: %q", amd.PCIID)
	}
	if amd.Vendor != VendorAMD || amd.Driver != "amdgpu" || !amd.IsAMD() {
		t.Errorf("unexpected vendor/driver: %q/%q", amd.Vendor, amd.Driver)
	}
	if amd.Name != "AMD Radeon RX 6800" {
		t.Errorf("unexpected name: %q", amd.Name)
	}
	if amd.RenderNode != "/dev/dri/renderD128" {
		t.Errorf("unexpected render node: %q", amd.RenderNode)
	}
	if amd.DevicePath != filepath.Join(root, "class", "drm", "card1", "device") {
		t.Errorf("unexpected device path: %q", amd.DevicePath)
	}

	// Missing class file is accepted.
	generic := devices[1]
	if generic.ID != "card3" || generic.Index != 1 {
		t.Fatalf("unexpected second device: %+v", generic)
	}
	if generic.Vendor != VendorUnknown {
		t.Errorf("expected unknown vendor, got %q", generic.Vendor)
	}
	if generic.Name != "simpledrm (card3)" {
		t.Errorf("expected driver fallback name, got %q", generic.Name)
	}

	intel := devices[2]
	if intel.ID != "card10" || intel.Index != 2 || intel.Card != 10 {
		t.Fatalf("expected numeric card ordering, got %+v", intel)
	}
	if intel.PCIID != "8086:ffff" {
		t.Errorf("expected PCI ID fallback to vendor/device, got %q", intel.PCIID)
	}
	if !intel.IsIntel() {
		t.Errorf("expected intel device, got %+v", intel)
	}
}

func TestDiscoverMissingDRMClass(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	devices, err := Discover(root, logger)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("expected 0 GPUs, got %d", len(devices))
	}

	devices, err = Discover(filepath.Join(root, "absent"), nil)
	if err != nil || len(devices) != 0 {
		t.Fatalf("expected no devices and no error for missing root, got %v %v", devices, err)
	}
}

func TestDiscoverFollowsSymlinks(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	classPath := filepath.Join(root, "class", "drm")
	if err := os.MkdirAll(classPath, 0o750); err != nil {
		t.Fatalf("mkdir class: %v", err)
	}

	target := filepath.Join(root, "devices", "pci0000:00", "0000:00:01.0", "drm", "card0")
	deviceDir := filepath.Join(target, "device")
	writeFile(t, filepath.Join(deviceDir, "uevent"), "PCI_SLOT_NAME=0000:00:01.0\nPCI_ID=10de:2684\nDRIVER=nvidia\n")
	writeFile(t, filepath.Join(deviceDir, "vendor"), "0x10de\n")
	if err := os.MkdirAll(filepath.Join(deviceDir, "drm", "renderD128"), 0o750); err != nil {
		t.Fatalf("mkdir render node: %v", err)
	}

	relTarget, err := filepath.Rel(classPath, target)
	if err != nil {
		t.Fatalf("filepath.Rel: %v", err)
	}
	if err := os.Symlink(relTarget, filepath.Join(classPath, "card0")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	devices, err := Discover(root, logger)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "card0" {
		t.Fatalf("expected symlinked gpu, got %+v", devices)
	}
	if devices[0].Vendor != VendorNVIDIA {
		t.Fatalf("expected nvidia vendor, got %q", devices[0].Vendor)
	}
}

func TestDiscoverUsesPCIDatabase(t *testing.T) {
	t.Parallel()

	db, err := pcidb.New()
	if err != nil {
		t.Skipf("pcidb unavailable: %v", err)
	}

	const (
		vendorID = "1002"
		deviceID = "73bf"
	)

	product, ok := db.Products[vendorID+deviceID]
	if !ok || product == nil || product.Name == "" {
		t.Skipf("pcidb missing product for %s:%s", vendorID, deviceID)
	}

	root := t.TempDir()
	createCard(t, root, "card0", map[string]string{
		"uevent": "DRIVER=amdgpu\nPCI_SLOT_NAME=0000:00:01.0\nPCI_ID=1002:73BF\n",
		"vendor": "0x1002\n",
	})

	devices, err := Discover(root, nil)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 GPU, got %d", len(devices))
	}
	if devices[0].Name != product.Name {
		t.Fatalf("expected name %q, got %q", product.Name, devices[0].Name)
	}
}

func TestVendorFromID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"0x10de": VendorNVIDIA,
		"0x1002": VendorAMD,
		"1022":   VendorAMD,
		"0X8086": VendorIntel,
		"0x1af4": VendorUnknown,
		"":       VendorUnknown,
	}
	for id, want := range cases {
		if got := VendorFromID(id); got != want {
			t.Errorf("VendorFromID(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestPreferDatabaseName(t *testing.T) {
	t.Parallel()

	if preferDatabaseName("Radeon RX 7900", "") {
		t.Fatal("empty resolved name must never win")
	}
	if !preferDatabaseName("amdgpu", "Navi 31") {
		t.Fatal("driver name should be replaced")
	}
	if !preferDatabaseName(" NVIDIA ", "AD102") {
		t.Fatal("driver name should be replaced regardless of case and spacing")
	}
	if !preferDatabaseName("0x73bf", "Navi 21") {
		t.Fatal("raw id should be replaced")
	}
	if preferDatabaseName("AMD Radeon RX 6800", "Navi 21") {
		t.Fatal("product name should be kept")
	}
}

func TestParsePCIIdentity(t *testing.T) {
	t.Parallel()

	id, ok := ParsePCIIdentity("1002:744C", "0x1EAE", "7901")
	if !ok {
		t.Fatal("expected identity to parse")
	}
	want := PCIIdentity{Vendor: 0x1002, Device: 0x744c, SubVendor: 0x1eae, SubDevice: 0x7901}
	if id != want {
		t.Fatalf("got %+v, want %+v", id, want)
	}
	if id.productKey() != "1002744c" {
		t.Fatalf("unexpected product key %q", id.productKey())
	}

	id, ok = ParsePCIIdentity("10DE:2684", "zz", "")
	if !ok || id.hasSubsystem() {
		t.Fatalf("malformed subsystem ids should be dropped, got %+v ok=%v", id, ok)
	}

	for _, bad := range []string{"", "1002", "1002:", "g002:744c", "10020:744c"} {
		if _, ok := ParsePCIIdentity(bad, "", ""); ok {
			t.Errorf("ParsePCIIdentity(%q) should fail", bad)
		}
	}
}

// createCard lays out class/drm/<card>/device with the given files. Keys
// ending in "/" create directories.
func createCard(t *testing.T, root, card string, files map[string]string) string {
	t.Helper()
	deviceDir := filepath.Join(root, "class", "drm", card, "device")
	if err := os.MkdirAll(deviceDir, 0o750); err != nil {
		t.Fatalf("mkdir %s: %v", deviceDir, err)
	}
	for name, contents := range files {
		path := filepath.Join(deviceDir, name)
		if name[len(name)-1] == '/' {
			if err := os.MkdirAll(path, 0o750); err != nil {
				t.Fatalf("mkdir %s: %v", path, err)
			}
			continue
		}
		writeFile(t, path, contents)
	}
	return deviceDir
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
