// Package files2fs implements the files2fs worker: building the destination
// filesystem image (or raw disk image, for ImgDisk) that fs2dev will later
// copy to the destination block device. Real FAT32/exFAT/NTFS encoding is
// not wired in this build, so the worker lays files out sequentially in
// blockSize-aligned regions of a single flat image file and reports exactly
// the blocks it touched through the BitVec protocol — the same
// stand-in-for-a-device approach scsi2files takes for the source side,
// generalized to the destination.
package files2fs

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker"
)

// blockSize is the granularity of the bitmap files2fs reports to fs2dev.
const blockSize = 4096

// bitvecChunkBytes bounds one BitVec response's bitmap slice.
const bitvecChunkBytes = 4096

// Worker answers the writefs protocol, building imagePath as a flat
// sequence of block-aligned entry regions.
type Worker struct {
	imagePath string

	mu sync.Mutex
	f  *os.File

	devSize uint64
	fsType  device.FSType

	nextBlock uint64
	used      map[uint64]struct{}

	curPath    string
	curStart   uint64
	curSize    uint64
	curWritten uint64

	closed       bool
	bitmap       []byte
	bitvecCursor int

	rawMode   bool
	rawOffset uint64
}

// New builds a files2fs Worker that writes imagePath.
func New(imagePath string) *Worker {
	return &Worker{imagePath: imagePath, used: make(map[uint64]struct{})}
}

// Handlers returns files2fs's Type -> worker.Handler table.
func (w *Worker) Handlers() map[proto.Type]worker.Handler {
	return map[proto.Type]worker.Handler{
		proto.TypeSetFsInfos:  w.handleSetFsInfos,
		proto.TypeFsNewFile:   w.handleNewFile,
		proto.TypeFsWriteFile: w.handleWriteFile,
		proto.TypeFsEndFile:   w.handleEndFile,
		proto.TypeFsClose:     w.handleClose,
		proto.TypeBitVec:      w.handleBitVec,
		proto.TypeFsImgDisk:   w.handleImgDisk,
		proto.TypeFsWriteData: w.handleWriteData,
	}
}

func (w *Worker) ensureOpen() error {
	if w.f != nil {
		return nil
	}
	f, err := os.Create(w.imagePath)
	if err != nil {
		return fmt.Errorf("files2fs: create image: %w", err)
	}
	w.f = f
	return nil
}

func (w *Worker) handleSetFsInfos(req proto.Envelope, out io.Writer) error {
	var body proto.SetFsInfos
	if err := req.Decode(&body); err != nil {
		return err
	}
	switch body.FSType {
	case device.FSTypeFAT32, device.FSTypeExFAT, device.FSTypeNTFS:
	default:
		return fmt.Errorf("files2fs: unknown fstype %q", body.FSType)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.devSize = body.DevSize
	w.fsType = body.FSType

	// Block 0 holds the superblock-equivalent header every format writes.
	w.markUsed(0)
	w.nextBlock = 1
	return worker.Respond(out, proto.TypeSetFsInfosResp, proto.SetFsInfosResp{})
}

func (w *Worker) handleNewFile(req proto.Envelope, out io.Writer) error {
	var body proto.FsNewFile
	if err := req.Decode(&body); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return fmt.Errorf("files2fs: new file before set_fs_infos")
	}
	if w.closed {
		return fmt.Errorf("files2fs: new file after close")
	}
	if w.curPath != "" {
		return fmt.Errorf("files2fs: new file %s while %s still open", body.Path, w.curPath)
	}

	if body.FType == device.FileTypeDirectory {
		// A directory consumes one metadata block and has no content
		// region; no end_file follows.
		w.markUsed(w.nextBlock)
		w.nextBlock++
		return worker.Respond(out, proto.TypeFsNewFileResp, proto.FsNewFileResp{})
	}

	needed := (body.Size + blockSize - 1) / blockSize
	if needed == 0 {
		needed = 1
	}
	if w.devSize > 0 && (w.nextBlock+needed)*blockSize > w.devSize {
		return fmt.Errorf("files2fs: image full: %s needs %d blocks", body.Path, needed)
	}
	w.curPath = body.Path
	w.curStart = w.nextBlock
	w.curSize = body.Size
	w.curWritten = 0
	return worker.Respond(out, proto.TypeFsNewFileResp, proto.FsNewFileResp{})
}

func (w *Worker) handleWriteFile(req proto.Envelope, out io.Writer) error {
	var body proto.FsWriteFile
	if err := req.Decode(&body); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.curPath != body.Path {
		return fmt.Errorf("files2fs: write for %s but %s is open", body.Path, w.curPath)
	}
	offset := int64(w.curStart)*blockSize + int64(body.Offset)
	if _, err := w.f.WriteAt(body.Data, offset); err != nil {
		return fmt.Errorf("files2fs: write data for %s: %w", body.Path, err)
	}
	first := w.curStart + body.Offset/blockSize
	last := w.curStart + (body.Offset+uint64(len(body.Data))+blockSize-1)/blockSize
	for b := first; b < last; b++ {
		w.markUsed(b)
	}
	w.curWritten += uint64(len(body.Data))
	return worker.Respond(out, proto.TypeFsWriteFileResp, proto.FsWriteFileResp{})
}

func (w *Worker) handleEndFile(req proto.Envelope, out io.Writer) error {
	var body proto.FsEndFile
	if err := req.Decode(&body); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.curPath != body.Path {
		return fmt.Errorf("files2fs: end for %s but %s is open", body.Path, w.curPath)
	}
	blocks := (w.curSize + blockSize - 1) / blockSize
	if blocks == 0 {
		blocks = 1
		w.markUsed(w.curStart)
	}
	w.nextBlock = w.curStart + blocks
	w.curPath = ""
	return worker.Respond(out, proto.TypeFsEndFileResp, proto.FsEndFileResp{})
}

func (w *Worker) handleClose(req proto.Envelope, out io.Writer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	if w.curPath != "" {
		return fmt.Errorf("files2fs: close with %s still open", w.curPath)
	}
	if !w.closed {
		if w.nextBlock == 0 {
			// A close with no preceding set_fs_infos (empty wipe build
			// without infos is impossible, but keep the bitmap non-empty).
			w.markUsed(0)
			w.nextBlock = 1
		}
		if err := w.f.Sync(); err != nil {
			return fmt.Errorf("files2fs: sync image: %w", err)
		}
		w.bitmap = w.buildBitmap()
		w.bitvecCursor = 0
		w.closed = true
	}
	return worker.Respond(out, proto.TypeFsCloseResp, proto.FsCloseResp{})
}

func (w *Worker) handleBitVec(req proto.Envelope, out io.Writer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		return fmt.Errorf("files2fs: bitvec before close")
	}

	remaining := len(w.bitmap) - w.bitvecCursor
	if remaining < 0 {
		remaining = 0
	}
	n := remaining
	if n > bitvecChunkBytes {
		n = bitvecChunkBytes
	}
	chunk := w.bitmap[w.bitvecCursor : w.bitvecCursor+n]
	w.bitvecCursor += n
	last := w.bitvecCursor >= len(w.bitmap)
	return worker.Respond(out, proto.TypeBitVecResp, proto.BitVecResp{Chunk: chunk, Last: last})
}

func (w *Worker) handleImgDisk(req proto.Envelope, out io.Writer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.rawMode = true
	w.rawOffset = 0
	return worker.Respond(out, proto.TypeFsImgDiskResp, proto.FsImgDiskResp{})
}

func (w *Worker) handleWriteData(req proto.Envelope, out io.Writer) error {
	var body proto.FsWriteData
	if err := req.Decode(&body); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.rawMode {
		return fmt.Errorf("files2fs: write_data outside raw-image mode")
	}
	if _, err := w.f.WriteAt(body.Data, int64(w.rawOffset)); err != nil {
		return fmt.Errorf("files2fs: write raw data: %w", err)
	}
	w.rawOffset += uint64(len(body.Data))
	return worker.Respond(out, proto.TypeFsWriteDataResp, proto.FsWriteDataResp{})
}

func (w *Worker) markUsed(block uint64) {
	w.used[block] = struct{}{}
}

// buildBitmap renders the touched-block set as a little-endian bitmap
// covering every block up to the highest one written.
func (w *Worker) buildBitmap() []byte {
	var maxBlock uint64
	for b := range w.used {
		if b > maxBlock {
			maxBlock = b
		}
	}
	bitmap := make([]byte, maxBlock/8+1)
	for b := range w.used {
		bitmap[b/8] |= 1 << (b % 8)
	}
	return bitmap
}
