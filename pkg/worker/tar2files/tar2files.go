// Package tar2files implements the tar2files worker: re-parsing, entry by
// entry, the staging tar files2tar just wrote, and serving the same files
// protocol scsi2files serves for the source partition — GetAttr and
// ReadFile against staged paths. It starts locked; the unlock payload's
// single byte tells it whether a USB destination is going to ask
// it to unpack anything (1) or whether it should just sit ready to exit
// cleanly at teardown (0).
package tar2files

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker"
)

// entry is one indexed archive member.
type entry struct {
	ftype     device.FileType
	size      uint64
	timestamp int64
}

// Worker answers GetAttr/ReadFile against the staging tar at archivePath.
type Worker struct {
	archivePath string

	mu    sync.Mutex
	index map[string]entry
}

// New builds a tar2files Worker reading back archivePath.
func New(archivePath string) *Worker {
	return &Worker{archivePath: archivePath}
}

// Handlers returns tar2files's Type -> worker.Handler table.
func (w *Worker) Handlers() map[proto.Type]worker.Handler {
	return map[proto.Type]worker.Handler{
		proto.TypeGetAttr:  w.handleGetAttr,
		proto.TypeReadFile: w.handleReadFile,
	}
}

// ensureIndex scans the archive once, recording each member's type, size
// and timestamp keyed by its path as the orchestrator staged it.
func (w *Worker) ensureIndex() error {
	if w.index != nil {
		return nil
	}
	f, err := os.Open(w.archivePath)
	if err != nil {
		return fmt.Errorf("tar2files: open archive: %w", err)
	}
	defer f.Close()

	index := make(map[string]entry)
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar2files: scan archive: %w", err)
		}
		ftype := device.FileTypeRegular
		name := hdr.Name
		if hdr.Typeflag == tar.TypeDir {
			ftype = device.FileTypeDirectory
			name = strings.TrimSuffix(name, "/")
		}
		index[name] = entry{
			ftype:     ftype,
			size:      uint64(hdr.Size),
			timestamp: hdr.ModTime.Unix(),
		}
	}
	w.index = index
	return nil
}

func (w *Worker) handleGetAttr(req proto.Envelope, out io.Writer) error {
	var body proto.GetAttr
	if err := req.Decode(&body); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureIndex(); err != nil {
		return err
	}
	e, ok := w.index[body.Path]
	if !ok {
		return fmt.Errorf("tar2files: no archive entry for %s", body.Path)
	}
	return worker.Respond(out, proto.TypeGetAttrResp, proto.GetAttrResp{
		FType:     e.ftype,
		Size:      e.size,
		Timestamp: e.timestamp,
	})
}

func (w *Worker) handleReadFile(req proto.Envelope, out io.Writer) error {
	var body proto.ReadFile
	if err := req.Decode(&body); err != nil {
		return err
	}
	if body.Size > device.ReadChunkSize {
		return fmt.Errorf("tar2files: chunk of %d bytes exceeds limit", body.Size)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.archivePath)
	if err != nil {
		return fmt.Errorf("tar2files: open archive: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("tar2files: no archive entry for %s", body.Path)
		}
		if err != nil {
			return fmt.Errorf("tar2files: scan archive: %w", err)
		}
		if hdr.Name != body.Path || hdr.Typeflag == tar.TypeDir {
			continue
		}
		if body.Offset > 0 {
			if _, err := io.CopyN(io.Discard, tr, int64(body.Offset)); err != nil {
				return fmt.Errorf("tar2files: seek in %s: %w", body.Path, err)
			}
		}
		buf := make([]byte, body.Size)
		n, err := io.ReadFull(tr, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return fmt.Errorf("tar2files: read %s: %w", body.Path, err)
		}
		return worker.Respond(out, proto.TypeReadFileResp, proto.ReadFileResp{Data: buf[:n]})
	}
}
