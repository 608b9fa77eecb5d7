// Package usbdev implements the usbdev worker: enumerating attached USB
// mass-storage devices. Opening a device for block-level access is
// scsi2files's job; this worker only answers Devices.
package usbdev

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker"
)

// Lister enumerates attached USB mass-storage devices. SysfsLister is the
// real implementation; tests substitute a fake.
type Lister interface {
	List() ([]device.USB, error)
}

// Worker answers usbdev's Devices requests.
type Worker struct {
	lister Lister
}

// New builds a usbdev Worker backed by lister.
func New(lister Lister) *Worker {
	if lister == nil {
		lister = SysfsLister{Root: "/sys/bus/usb/devices"}
	}
	return &Worker{lister: lister}
}

// Handlers returns usbdev's Type -> worker.Handler table.
func (w *Worker) Handlers() map[proto.Type]worker.Handler {
	return map[proto.Type]worker.Handler{
		proto.TypeDevices: w.handleDevices,
	}
}

func (w *Worker) handleDevices(req proto.Envelope, out io.Writer) error {
	devs, err := w.lister.List()
	if err != nil {
		return fmt.Errorf("usbdev: list devices: %w", err)
	}
	return worker.Respond(out, proto.TypeDevicesResp, proto.DevicesResp{Devices: devs})
}

// SysfsLister enumerates USB mass-storage devices by walking
// /sys/bus/usb/devices, matching each device node against /sys/block to
// recover its reported capacity. Best-effort: any sysfs read failure drops
// that one device rather than failing the whole listing, since sysfs layout
// varies across kernel versions and this worker has no libusb binding to
// fall back on.
type SysfsLister struct {
	Root      string // /sys/bus/usb/devices
	BlockRoot string // /sys/block, defaults to "/sys/block" when empty
}

func (l SysfsLister) List() ([]device.USB, error) {
	blockRoot := l.BlockRoot
	if blockRoot == "" {
		blockRoot = "/sys/block"
	}

	entries, err := os.ReadDir(l.Root)
	if err != nil {
		// No sysfs (non-Linux, container without /sys mounted, test
		// environment): report zero devices rather than failing the
		// worker outright.
		return nil, nil
	}

	var out []device.USB
	for _, e := range entries {
		devPath := filepath.Join(l.Root, e.Name())
		busnum, ok := readUint(devPath, "busnum")
		if !ok {
			continue
		}
		devnum, ok := readUint(devPath, "devnum")
		if !ok {
			continue
		}
		vendor, _ := readHex16(devPath, "idVendor")
		product, _ := readHex16(devPath, "idProduct")
		manufacturer := readString(devPath, "manufacturer")
		productName := readString(devPath, "product")
		serial := readString(devPath, "serial")

		size, hasBlock := blockSizeBytes(blockRoot, e.Name())
		if !hasBlock {
			continue
		}

		out = append(out, device.USB{
			Busnum:       uint32(busnum),
			Devnum:       uint32(devnum),
			VendorID:     vendor,
			ProductID:    product,
			Manufacturer: manufacturer,
			Description:  productName,
			Serial:       serial,
			SectorSize:   512,
			DevSize:      size,
			IsSrc:        true,
			IsDst:        true,
		})
	}
	return out, nil
}

// blockSizeBytes finds a /sys/block entry whose "device" symlink resolves
// through a path component matching usbDeviceName, returning its capacity
// in bytes (the size file holds 512-byte sector counts).
func blockSizeBytes(blockRoot, usbDeviceName string) (uint64, bool) {
	blocks, err := os.ReadDir(blockRoot)
	if err != nil {
		return 0, false
	}
	for _, b := range blocks {
		link, err := filepath.EvalSymlinks(filepath.Join(blockRoot, b.Name()))
		if err != nil {
			continue
		}
		if !strings.Contains(link, usbDeviceName) {
			continue
		}
		sectors, ok := readUint(filepath.Join(blockRoot, b.Name()), "size")
		if !ok {
			continue
		}
		return sectors * 512, true
	}
	return 0, false
}

func readString(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readUint(dir, name string) (uint64, bool) {
	s := readString(dir, name)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func readHex16(dir, name string) (uint16, bool) {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return 0, false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(scanner.Text()), 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}
