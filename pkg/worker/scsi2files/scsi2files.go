// Package scsi2files implements the scsi2files worker: opening the source
// USB device, enumerating its partitions, and reading directories, files
// and raw sectors from the dirty source. Real sector-level SCSI access is
// not wired in this build; the worker operates against a configured root
// directory standing in for the opened device's single partition, using the
// real filesystem for attributes, listings and content, and a flat backing
// file for the raw sector stream.
package scsi2files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker"
)

// sectorSize is the block size reported for the stand-in device.
const sectorSize = 512

// Worker answers the files protocol (OpenDevice/Partitions/OpenPartition/
// GetAttr/ReadDir/ReadFile/ReadSectors) against Root, the directory tree
// standing in for the opened device's storage.
type Worker struct {
	root   string
	fstype string

	mu     sync.Mutex
	opened bool
}

// New builds a scsi2files Worker rooted at root, reporting fstype for its
// single partition.
func New(root, fstype string) *Worker {
	if fstype == "" {
		fstype = "fat32"
	}
	return &Worker{root: root, fstype: fstype}
}

// Handlers returns scsi2files's Type -> worker.Handler table.
func (w *Worker) Handlers() map[proto.Type]worker.Handler {
	return map[proto.Type]worker.Handler{
		proto.TypeOpenDevice:    w.handleOpenDevice,
		proto.TypePartitions:    w.handlePartitions,
		proto.TypeOpenPartition: w.handleOpenPartition,
		proto.TypeGetAttr:       w.handleGetAttr,
		proto.TypeReadDir:       w.handleReadDir,
		proto.TypeReadFile:      w.handleReadFile,
		proto.TypeReadSectors:   w.handleReadSectors,
	}
}

func (w *Worker) handleOpenDevice(req proto.Envelope, out io.Writer) error {
	var body proto.OpenDevice
	if err := req.Decode(&body); err != nil {
		return err
	}
	if _, err := os.Stat(w.root); err != nil {
		return fmt.Errorf("scsi2files: open device %d/%d: %w", body.Busnum, body.Devnum, err)
	}
	size, err := w.devSize()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.opened = true
	w.mu.Unlock()
	return worker.Respond(out, proto.TypeOpenDeviceResp, proto.OpenDeviceResp{
		BlockSize: sectorSize,
		DevSize:   size,
	})
}

func (w *Worker) handlePartitions(req proto.Envelope, out io.Writer) error {
	size, err := w.devSize()
	if err != nil {
		return err
	}
	return worker.Respond(out, proto.TypePartitionsResp, proto.PartitionsResp{
		Partitions: []device.Partition{{
			Index:       0,
			SizeBytes:   size,
			StartOffset: 0,
			TypeCode:    fstypeCode(w.fstype),
			TypeString:  w.fstype,
		}},
	})
}

func (w *Worker) handleOpenPartition(req proto.Envelope, out io.Writer) error {
	var body proto.OpenPartition
	if err := req.Decode(&body); err != nil {
		return err
	}
	if body.Index != 0 {
		return fmt.Errorf("scsi2files: no partition at index %d", body.Index)
	}
	return worker.Respond(out, proto.TypeOpenPartitionResp, proto.OpenPartitionResp{FSType: w.fstype})
}

func (w *Worker) handleGetAttr(req proto.Envelope, out io.Writer) error {
	var body proto.GetAttr
	if err := req.Decode(&body); err != nil {
		return err
	}
	info, err := os.Lstat(w.hostPath(body.Path))
	if err != nil {
		return fmt.Errorf("scsi2files: stat %s: %w", body.Path, err)
	}
	return worker.Respond(out, proto.TypeGetAttrResp, proto.GetAttrResp{
		FType:     fileTypeOf(info),
		Size:      uint64(info.Size()),
		Timestamp: info.ModTime().Unix(),
	})
}

func (w *Worker) handleReadDir(req proto.Envelope, out io.Writer) error {
	var body proto.ReadDir
	if err := req.Decode(&body); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.hostPath(body.Path))
	if err != nil {
		return fmt.Errorf("scsi2files: read dir %s: %w", body.Path, err)
	}
	result := make([]device.DirectoryEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		childPath := body.Path
		if childPath == "" || childPath == "/" {
			childPath = "/" + e.Name()
		} else {
			childPath = childPath + "/" + e.Name()
		}
		result = append(result, device.DirectoryEntry{
			Path:      childPath,
			FType:     fileTypeOf(info),
			Size:      uint64(info.Size()),
			Timestamp: info.ModTime().Unix(),
		})
	}
	return worker.Respond(out, proto.TypeReadDirResp, proto.ReadDirResp{Entries: result})
}

func (w *Worker) handleReadFile(req proto.Envelope, out io.Writer) error {
	var body proto.ReadFile
	if err := req.Decode(&body); err != nil {
		return err
	}
	if body.Size > device.ReadChunkSize {
		return fmt.Errorf("scsi2files: chunk of %d bytes exceeds limit", body.Size)
	}
	f, err := os.Open(w.hostPath(body.Path))
	if err != nil {
		return fmt.Errorf("scsi2files: open %s: %w", body.Path, err)
	}
	defer f.Close()
	buf := make([]byte, body.Size)
	n, err := f.ReadAt(buf, int64(body.Offset))
	if err != nil && err != io.EOF {
		return fmt.Errorf("scsi2files: read %s: %w", body.Path, err)
	}
	return worker.Respond(out, proto.TypeReadFileResp, proto.ReadFileResp{Data: buf[:n]})
}

func (w *Worker) handleReadSectors(req proto.Envelope, out io.Writer) error {
	var body proto.ReadSectors
	if err := req.Decode(&body); err != nil {
		return err
	}
	f, err := os.Open(w.root)
	if err != nil {
		return fmt.Errorf("scsi2files: open backing store: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		// A directory stand-in has no sector-addressable content; serve
		// zeroed sectors so imaging the stand-in still terminates.
		return worker.Respond(out, proto.TypeReadSectorsResp, proto.ReadSectorsResp{
			Data: make([]byte, body.Count*sectorSize),
		})
	}
	buf := make([]byte, body.Count*sectorSize)
	n, err := f.ReadAt(buf, int64(body.Offset*sectorSize))
	if err != nil && err != io.EOF {
		return fmt.Errorf("scsi2files: read sectors: %w", err)
	}
	return worker.Respond(out, proto.TypeReadSectorsResp, proto.ReadSectorsResp{Data: buf[:n]})
}

func (w *Worker) hostPath(p string) string {
	return filepath.Join(w.root, filepath.FromSlash(p))
}

func (w *Worker) devSize() (uint64, error) {
	info, err := os.Stat(w.root)
	if err != nil {
		return 0, fmt.Errorf("scsi2files: stat root: %w", err)
	}
	if !info.IsDir() {
		return uint64(info.Size()), nil
	}
	var total uint64
	err = filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	return total, err
}

func fileTypeOf(info os.FileInfo) device.FileType {
	switch {
	case info.Mode().IsRegular():
		return device.FileTypeRegular
	case info.IsDir():
		return device.FileTypeDirectory
	default:
		return device.FileTypeOther
	}
}

// fstypeCode maps a filesystem type string to the numeric MBR partition
// type byte reported alongside the human-readable TypeString.
func fstypeCode(fstype string) uint32 {
	switch fstype {
	case "fat32":
		return 0x0c // W95 FAT32 (LBA)
	case "exfat":
		return 0x07 // shared with NTFS at the MBR level, disambiguated by TypeString
	case "ntfs":
		return 0x07
	default:
		return 0x00
	}
}
