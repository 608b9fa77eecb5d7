// Package files2tar implements the files2tar worker: staging the selected
// files and directories into a single tar archive on disk, read back later
// by tar2files (USB destinations) or handed whole to uploader/cmdexec
// (net/command destinations). All content arrives over the pipe — this
// worker never touches the source device — and it starts locked, unlocked
// by the orchestrator before its first TarNewFile.
package files2tar

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker"
)

// infosEntryName is the archive-internal metadata entry TarClose writes,
// recording the user/device identity tuple the transfer ran under.
const infosEntryName = "infos.json"

// Worker answers the writetar protocol (TarNewFile/TarWriteFile/TarEndFile/
// TarClose), writing the tar stream to archivePath.
type Worker struct {
	archivePath string

	mu sync.Mutex
	f  *os.File
	tw *tar.Writer

	curPath    string
	curSize    uint64
	curWritten uint64
}

// New builds a files2tar Worker. The archive file is created lazily, on the
// first TarNewFile, so a session that never copies anything never leaves a
// zero-length tar behind.
func New(archivePath string) *Worker {
	return &Worker{archivePath: archivePath}
}

// Handlers returns files2tar's Type -> worker.Handler table.
func (w *Worker) Handlers() map[proto.Type]worker.Handler {
	return map[proto.Type]worker.Handler{
		proto.TypeTarNewFile:   w.handleNewFile,
		proto.TypeTarWriteFile: w.handleWriteFile,
		proto.TypeTarEndFile:   w.handleEndFile,
		proto.TypeTarClose:     w.handleClose,
	}
}

func (w *Worker) ensureOpen() error {
	if w.tw != nil {
		return nil
	}
	f, err := os.Create(w.archivePath)
	if err != nil {
		return fmt.Errorf("files2tar: create archive: %w", err)
	}
	w.f = f
	w.tw = tar.NewWriter(f)
	return nil
}

func (w *Worker) handleNewFile(req proto.Envelope, out io.Writer) error {
	var body proto.TarNewFile
	if err := req.Decode(&body); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	if w.curPath != "" {
		return fmt.Errorf("files2tar: new file %s while %s still open", body.Path, w.curPath)
	}

	hdr := &tar.Header{
		Name:    body.Path,
		Mode:    0o644,
		Size:    int64(body.Size),
		ModTime: time.Unix(body.Timestamp, 0),
	}
	switch body.FType {
	case device.FileTypeDirectory:
		hdr.Typeflag = tar.TypeDir
		hdr.Name = body.Path + "/"
		hdr.Mode = 0o755
		// The orchestrator already normalizes directory sizes to 0; keep
		// the header honest even against a misbehaving peer.
		hdr.Size = 0
	case device.FileTypeRegular:
		hdr.Typeflag = tar.TypeReg
	default:
		return fmt.Errorf("files2tar: unsupported file type %d for %s", body.FType, body.Path)
	}

	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("files2tar: write header for %s: %w", body.Path, err)
	}
	if body.FType == device.FileTypeRegular {
		w.curPath = body.Path
		w.curSize = body.Size
		w.curWritten = 0
	}
	return worker.Respond(out, proto.TypeTarNewFileResp, proto.TarNewFileResp{})
}

func (w *Worker) handleWriteFile(req proto.Envelope, out io.Writer) error {
	var body proto.TarWriteFile
	if err := req.Decode(&body); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.curPath != body.Path {
		return fmt.Errorf("files2tar: write for %s but %s is open", body.Path, w.curPath)
	}
	if body.Offset != w.curWritten {
		return fmt.Errorf("files2tar: non-contiguous write at %d, expected %d", body.Offset, w.curWritten)
	}
	if _, err := w.tw.Write(body.Data); err != nil {
		return fmt.Errorf("files2tar: write content for %s: %w", body.Path, err)
	}
	w.curWritten += uint64(len(body.Data))
	return worker.Respond(out, proto.TypeTarWriteFileResp, proto.TarWriteFileResp{})
}

func (w *Worker) handleEndFile(req proto.Envelope, out io.Writer) error {
	var body proto.TarEndFile
	if err := req.Decode(&body); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.curPath != body.Path {
		return fmt.Errorf("files2tar: end for %s but %s is open", body.Path, w.curPath)
	}
	if w.curWritten != w.curSize {
		return fmt.Errorf("files2tar: %s ended at %d of %d bytes", body.Path, w.curWritten, w.curSize)
	}
	w.curPath = ""
	return worker.Respond(out, proto.TypeTarEndFileResp, proto.TarEndFileResp{})
}

func (w *Worker) handleClose(req proto.Envelope, out io.Writer) error {
	var body proto.TarClose
	if err := req.Decode(&body); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	if w.curPath != "" {
		return fmt.Errorf("files2tar: close with %s still open", w.curPath)
	}

	infos, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("files2tar: marshal infos: %w", err)
	}
	hdr := &tar.Header{
		Name:    infosEntryName,
		Mode:    0o644,
		Size:    int64(len(infos)),
		ModTime: time.Now(),
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("files2tar: write infos header: %w", err)
	}
	if _, err := w.tw.Write(infos); err != nil {
		return fmt.Errorf("files2tar: write infos: %w", err)
	}

	if err := w.tw.Close(); err != nil {
		return fmt.Errorf("files2tar: close tar writer: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("files2tar: close archive: %w", err)
	}
	w.tw, w.f = nil, nil
	return worker.Respond(out, proto.TypeTarCloseResp, proto.TarCloseResp{})
}
