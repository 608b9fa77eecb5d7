package orchestrator

import (
	"fmt"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/internal/progress"
	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/proto"
)

// writeToDestFS drives the WriteFiles state for a USB destination: if an
// analyzer is configured, the staging tar is scanned first and any dirty
// survivor is dropped; files2fs then rebuilds the surviving tree on the
// destination filesystem image, the image's non-empty-block bitmap is
// forwarded to fs2dev, and fs2dev copies the marked blocks to the
// destination device. tar2files and fs2dev are already unlocked by the time
// this runs.
func (m *Machine) writeToDestFS() error {
	if m.analyzerOn {
		if err := m.analyze(); err != nil {
			return err
		}
		if len(m.selection.Files) == 0 {
			m.transition(StateWaitEnd)
			return &NothingToCopyError{
				RejectedFilter: m.lastFilterRejected,
				RejectedDirty:  m.lastAnalyzeDirty,
			}
		}
	}

	if err := m.initFS(); err != nil {
		return err
	}
	m.progress.Push(progress.WaypointFromTarToFS, 0)

	// Directory tree first, in the order the expansion recorded it
	// (parents always precede children), then file content.
	for _, dir := range m.selection.Directories {
		attrs, err := m.getAttr(WorkerTar2files, dir)
		if err != nil {
			m.selection.Errors = append(m.selection.Errors, dir)
			continue
		}
		if _, err := m.request(WorkerFiles2fs, proto.TypeFsNewFile, proto.FsNewFile{
			Path:      dir,
			Size:      0,
			FType:     device.FileTypeDirectory,
			Timestamp: attrs.Timestamp,
		}); err != nil {
			return err
		}
	}

	var written uint64
	for _, path := range m.selection.Files {
		attrs, err := m.getAttr(WorkerTar2files, path)
		if err != nil {
			logger.Warn("couldn't read staged attributes", logger.Path(path), logger.Err(err))
			m.selection.Errors = append(m.selection.Errors, path)
			continue
		}
		if err := m.writeFileToFS(path, attrs, written); err != nil {
			logger.Warn("couldn't write file to destination fs", logger.Path(path), logger.Err(err))
			m.selection.Errors = append(m.selection.Errors, path)
			continue
		}
		written += attrs.Size
	}

	if _, err := m.request(WorkerFiles2fs, proto.TypeFsClose, proto.FsClose{}); err != nil {
		return err
	}

	if err := m.forwardBitvec(); err != nil {
		return err
	}

	m.progress.Push(progress.WaypointFS2DevStart, 0)
	if err := m.writeFS(); err != nil {
		return err
	}
	return nil
}

// initFS queries fs2dev for the destination device's capacity and hands it,
// with the requested filesystem format, to files2fs.
func (m *Machine) initFS() error {
	devSize, err := m.destDevSize()
	if err != nil {
		return err
	}
	_, err = m.request(WorkerFiles2fs, proto.TypeSetFsInfos, proto.SetFsInfos{
		DevSize: devSize,
		FSType:  m.destination.FSType,
	})
	return err
}

// analyze submits the staging tar (by transfer id) to the analyzer and
// applies the clean/dirty normalization asymmetry of the scanner wire
// format: survivor files are matched against clean paths after stripping
// their own leading '/', while dirty paths (reported with no leading '/')
// get one prepended before being recorded.
func (m *Machine) analyze() error {
	m.progress.Push(progress.WaypointAnalyzing, 0)

	env, err := proto.NewEnvelope(proto.TypeAnalyze, proto.Analyze{ID: m.userID})
	if err != nil {
		return err
	}
	if err := m.children.Send(WorkerAnalyzer, env); err != nil {
		return err
	}

	var verdict proto.AnalyzeResp
	for {
		resp, err := m.children.Recv(WorkerAnalyzer)
		if err != nil {
			return err
		}
		switch resp.Type {
		case proto.TypeUploadStatus:
			var st proto.UploadStatus
			if err := resp.Decode(&st); err != nil {
				return err
			}
			frac := 0.0
			if st.TotalSize > 0 {
				frac = float64(st.CurrentSize) / float64(st.TotalSize)
			}
			m.progress.Push(progress.WaypointAnalyzeUpdate, frac)
			continue
		case proto.TypeAnalyzeResp:
			if err := resp.Decode(&verdict); err != nil {
				return err
			}
		case proto.TypeError:
			return decodeWorkerError(resp)
		default:
			return fmt.Errorf("orchestrator: unexpected analyzer response %s", resp.Type)
		}
		break
	}

	clean := make(map[string]struct{}, len(verdict.Clean))
	for _, c := range verdict.Clean {
		clean[c] = struct{}{}
	}

	var kept []string
	for _, f := range m.selection.Files {
		stripped := f
		if len(stripped) > 0 && stripped[0] == '/' {
			stripped = stripped[1:]
		}
		if _, ok := clean[stripped]; ok {
			kept = append(kept, f)
		}
	}
	m.selection.Files = kept

	var dirty []string
	for _, d := range verdict.Dirty {
		dirty = append(dirty, "/"+d)
	}
	m.lastAnalyzeDirty = dirty
	if len(dirty) > 0 {
		logger.Warn("analyzer flagged files as dirty, dropped from transfer",
			logger.Size(int64(len(dirty))))
	}

	m.progress.Push(progress.WaypointAnalyzeUpdate, 1.0)
	return nil
}

// writeFileToFS rebuilds one staged file on the destination filesystem:
// open, relay content chunk by chunk from tar2files, close.
func (m *Machine) writeFileToFS(path string, attrs device.Attr, writtenSoFar uint64) error {
	if _, err := m.request(WorkerFiles2fs, proto.TypeFsNewFile, proto.FsNewFile{
		Path:      path,
		Size:      attrs.Size,
		FType:     attrs.FType,
		Timestamp: attrs.Timestamp,
	}); err != nil {
		return err
	}

	var offset uint64
	remaining := attrs.Size
	for remaining > 0 {
		todo := remaining
		if todo > device.ReadChunkSize {
			todo = device.ReadChunkSize
		}
		data, err := m.readFileChunk(WorkerTar2files, path, offset, todo)
		if err != nil {
			return err
		}
		if _, err := m.request(WorkerFiles2fs, proto.TypeFsWriteFile, proto.FsWriteFile{
			Path:   path,
			Offset: offset,
			Data:   data,
		}); err != nil {
			return err
		}
		offset += todo
		remaining -= todo

		frac := 0.0
		if m.selection.TotalSize > 0 {
			frac = float64(writtenSoFar+offset) / float64(m.selection.TotalSize)
		}
		m.progress.Push(progress.WaypointFromTarUpdate, frac)
	}

	_, err := m.request(WorkerFiles2fs, proto.TypeFsEndFile, proto.FsEndFile{Path: path})
	return err
}

// forwardBitvec pulls the built filesystem image's non-empty-block bitmap
// from files2fs chunk by chunk and relays each chunk to fs2dev, stopping
// after the chunk flagged last. fs2dev must not begin copying before the
// final chunk has been loaded.
func (m *Machine) forwardBitvec() error {
	for {
		resp, err := m.request(WorkerFiles2fs, proto.TypeBitVec, proto.BitVec{})
		if err != nil {
			return err
		}
		var bv proto.BitVecResp
		if err := resp.Decode(&bv); err != nil {
			return err
		}
		if _, err := m.request(WorkerFs2dev, proto.TypeLoadBitVec, proto.LoadBitVec{
			Chunk: bv.Chunk,
			Last:  bv.Last,
		}); err != nil {
			return err
		}
		if bv.Last {
			return nil
		}
	}
}

// writeFS tells fs2dev to copy the built image's marked blocks to the
// destination device, relaying its CopyStatus stream as final-copy progress
// until CopyStatusDone.
func (m *Machine) writeFS() error {
	env, err := proto.NewEnvelope(proto.TypeStartCopy, proto.StartCopy{})
	if err != nil {
		return err
	}
	if err := m.children.Send(WorkerFs2dev, env); err != nil {
		return err
	}
	return m.relayFs2devStatus(func(st proto.CopyStatus) {
		frac := 0.0
		if st.TotalSize > 0 {
			frac = float64(st.CurrentSize) / float64(st.TotalSize)
		}
		m.progress.Push(progress.WaypointFinalUpdate, frac)
	})
}

// relayFs2devStatus drains one CopyStatus stream from fs2dev, invoking tick
// per status message, until CopyStatusDone.
func (m *Machine) relayFs2devStatus(tick func(proto.CopyStatus)) error {
	for {
		resp, err := m.children.Recv(WorkerFs2dev)
		if err != nil {
			return err
		}
		switch resp.Type {
		case proto.TypeCopyStatus:
			var st proto.CopyStatus
			if err := resp.Decode(&st); err != nil {
				return err
			}
			tick(st)
		case proto.TypeCopyStatusDone:
			return nil
		case proto.TypeError:
			return decodeWorkerError(resp)
		default:
			return fmt.Errorf("orchestrator: unexpected fs2dev response %s", resp.Type)
		}
	}
}

// uploadArchive drives the UploadOrCmd state for a network destination: the
// staged archive is handed to uploader whole, named remotely by the
// transfer's user id, with its progress stream relayed as final-copy
// progress. fs2dev is never a participant in a Net transfer, so it is
// unlocked with a zero payload so it can exit cleanly at teardown.
func (m *Machine) uploadArchive() error {
	if err := m.children.unlock(WorkerFs2dev); err != nil {
		return err
	}
	m.progress.Push(progress.WaypointUploadStart, 0)

	env, err := proto.NewEnvelope(proto.TypeUpload, proto.Upload{ID: m.userID})
	if err != nil {
		return err
	}
	if err := m.children.Send(WorkerUploader, env); err != nil {
		return err
	}

	for {
		resp, err := m.children.Recv(WorkerUploader)
		if err != nil {
			return err
		}
		switch resp.Type {
		case proto.TypeUploadStatus:
			var st proto.UploadStatus
			if err := resp.Decode(&st); err != nil {
				return err
			}
			frac := 0.0
			if st.TotalSize > 0 {
				frac = float64(st.CurrentSize) / float64(st.TotalSize)
			}
			m.progress.Push(progress.WaypointFinalUpdate, frac)
		case proto.TypeUploadResp:
			return nil
		case proto.TypeError:
			return decodeWorkerError(resp)
		default:
			return fmt.Errorf("orchestrator: unexpected uploader response %s", resp.Type)
		}
	}
}

// runDestCmd drives the UploadOrCmd state for a command destination:
// cmdexec runs the configured binary against the staged archive. fs2dev is
// never a participant in a Cmd transfer, so it is unlocked with a zero
// payload so it can exit cleanly at teardown.
func (m *Machine) runDestCmd() error {
	if err := m.children.unlock(WorkerFs2dev); err != nil {
		return err
	}
	m.progress.Push(progress.WaypointCmdStart, 0)

	if _, err := m.request(WorkerCmdexec, proto.TypeExec, proto.Exec{}); err != nil {
		return err
	}
	m.progress.Push(progress.WaypointFinalUpdate, 1.0)
	return nil
}
