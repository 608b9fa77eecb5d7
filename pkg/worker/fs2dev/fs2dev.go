// Package fs2dev implements the fs2dev worker: copying the filesystem image
// files2fs built to the destination USB block device, block by marked
// block, and performing the secure wipe of that device. It starts locked
// and must be unlocked with the 8-byte little-endian (devnum<<32)|busnum
// payload identifying which destination device to open;
// an all-zero payload means "no USB destination, exit cleanly" (Net/Cmd
// transfers and teardown of an unused fs2dev).
//
// Real block-device writes are not wired in this build (scsi2files's
// package doc explains the same gap for reads); the worker stands the
// destination device in with a flat file at destPath, mirroring
// scsi2files's directory-tree-for-a-device approach on the write side.
package fs2dev

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker"
)

// blockSize must match files2fs's; it is the unit the loaded bitmap
// addresses.
const blockSize = 4096

// statusEvery bounds how many bytes are copied/wiped between two
// CopyStatus messages.
const statusEvery = 1 << 20

// Worker answers fs2dev's DevSize/LoadBitVec/StartCopy/Wipe requests,
// reading blocks from imagePath (the file files2fs built) and writing them
// to destPath (the file standing in for the opened destination block
// device).
type Worker struct {
	imagePath       string
	destPath        string
	deviceSizeBytes uint64

	mu           sync.Mutex
	busnum       uint32
	devnum       uint32
	bitmap       []byte
	bitmapLoaded bool
}

// New builds an fs2dev Worker. deviceSizeBytes stands in for the real
// block device's reported capacity.
func New(imagePath, destPath string, deviceSizeBytes uint64) *Worker {
	return &Worker{imagePath: imagePath, destPath: destPath, deviceSizeBytes: deviceSizeBytes}
}

// Handlers returns fs2dev's Type -> worker.Handler table.
func (w *Worker) Handlers() map[proto.Type]worker.Handler {
	return map[proto.Type]worker.Handler{
		proto.TypeDevSize:    w.handleDevSize,
		proto.TypeLoadBitVec: w.handleLoadBitVec,
		proto.TypeStartCopy:  w.handleStartCopy,
		proto.TypeWipe:       w.handleWipe,
	}
}

// OnUnlock decodes the (devnum<<32)|busnum payload. An all-zero payload
// (no USB destination) is not an error: the worker still needs to reach
// its normal request loop so teardown's End is observed cleanly.
func (w *Worker) OnUnlock(payload []byte) error {
	if len(payload) < 8 {
		return fmt.Errorf("fs2dev: unlock payload of %d bytes, want 8", len(payload))
	}
	v := leUint64(payload)
	w.busnum = uint32(v)
	w.devnum = uint32(v >> 32)
	return nil
}

func (w *Worker) handleDevSize(req proto.Envelope, out io.Writer) error {
	return worker.Respond(out, proto.TypeDevSizeResp, proto.DevSizeResp{Size: w.deviceSizeBytes})
}

func (w *Worker) handleLoadBitVec(req proto.Envelope, out io.Writer) error {
	var body proto.LoadBitVec
	if err := req.Decode(&body); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.bitmapLoaded {
		return fmt.Errorf("fs2dev: bitvec chunk after last")
	}
	w.bitmap = append(w.bitmap, body.Chunk...)
	if body.Last {
		w.bitmapLoaded = true
	}
	return worker.Respond(out, proto.TypeLoadBitVecResp, proto.LoadBitVecResp{})
}

// handleStartCopy copies every marked block from the built image to the
// destination, streaming CopyStatus ticks and finishing with
// CopyStatusDone. It refuses to start before the final bitvec chunk has
// been loaded.
func (w *Worker) handleStartCopy(req proto.Envelope, out io.Writer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.bitmapLoaded {
		return fmt.Errorf("fs2dev: start_copy before final bitvec chunk")
	}

	img, err := os.Open(w.imagePath)
	if err != nil {
		return fmt.Errorf("fs2dev: open image: %w", err)
	}
	defer img.Close()
	dst, err := os.OpenFile(w.destPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("fs2dev: open destination: %w", err)
	}
	defer dst.Close()

	total := w.markedBytes()
	var copied, sinceStatus uint64
	buf := make([]byte, blockSize)
	for i := 0; i < len(w.bitmap)*8; i++ {
		if w.bitmap[i/8]&(1<<(i%8)) == 0 {
			continue
		}
		offset := int64(i) * blockSize
		n, err := img.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return fmt.Errorf("fs2dev: read block %d: %w", i, err)
		}
		if n > 0 {
			if _, err := dst.WriteAt(buf[:n], offset); err != nil {
				return fmt.Errorf("fs2dev: write block %d: %w", i, err)
			}
		}
		copied += blockSize
		sinceStatus += blockSize
		if sinceStatus >= statusEvery {
			sinceStatus = 0
			if err := worker.Respond(out, proto.TypeCopyStatus, proto.CopyStatus{CurrentSize: copied, TotalSize: total}); err != nil {
				return err
			}
		}
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("fs2dev: sync destination: %w", err)
	}

	// The bitmap is consumed: a later copy (a wipe's format pass after a
	// secure pass) loads a fresh one.
	w.bitmap = nil
	w.bitmapLoaded = false

	if err := worker.Respond(out, proto.TypeCopyStatus, proto.CopyStatus{CurrentSize: total, TotalSize: total}); err != nil {
		return err
	}
	return worker.Respond(out, proto.TypeCopyStatusDone, proto.CopyStatusDone{})
}

// handleWipe overwrites the destination device with zeroes, streaming
// CopyStatus ticks and finishing with CopyStatusDone.
func (w *Worker) handleWipe(req proto.Envelope, out io.Writer) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	dst, err := os.OpenFile(w.destPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("fs2dev: open destination: %w", err)
	}
	defer dst.Close()

	buf := make([]byte, statusEvery)
	var written uint64
	for written < w.deviceSizeBytes {
		n := uint64(len(buf))
		if remaining := w.deviceSizeBytes - written; remaining < n {
			n = remaining
		}
		if _, err := dst.WriteAt(buf[:n], int64(written)); err != nil {
			return fmt.Errorf("fs2dev: wipe write: %w", err)
		}
		written += n
		if err := worker.Respond(out, proto.TypeCopyStatus, proto.CopyStatus{CurrentSize: written, TotalSize: w.deviceSizeBytes}); err != nil {
			return err
		}
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("fs2dev: sync destination: %w", err)
	}
	return worker.Respond(out, proto.TypeCopyStatusDone, proto.CopyStatusDone{})
}

func (w *Worker) markedBytes() uint64 {
	var n uint64
	for _, b := range w.bitmap {
		for ; b != 0; b &= b - 1 {
			n += blockSize
		}
	}
	return n
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
