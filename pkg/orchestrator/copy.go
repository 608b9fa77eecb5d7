package orchestrator

import (
	"fmt"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/internal/progress"
	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/proto"
)

// NotEnoughSpaceError reports that the selection's total size exceeds 98% of
// the destination device's reported capacity. Callers (the session layer)
// surface this on the progress stream as a structured
// "copy_not_enough_space" status, not a transport failure.
type NotEnoughSpaceError struct {
	MaxSize uint64
}

func (e *NotEnoughSpaceError) Error() string {
	return fmt.Sprintf("orchestrator: not enough space on destination (size %d)", e.MaxSize)
}

// NothingToCopyError reports that every selected path was rejected, either
// by the filter worker (before any tar/analyze work starts) or by the
// analyzer (after the staging tar was built). Exactly one of the two
// rejection reasons is populated depending on which stage produced it.
type NothingToCopyError struct {
	RejectedFilter []string
	RejectedDirty  []string
}

func (e *NothingToCopyError) Error() string {
	return "orchestrator: nothing to copy after filtering/analysis"
}

// Copy drives PartitionOpened -> CopyFiles -> (WriteFiles | UploadOrCmd) ->
// TransferDone: expansion -> filter -> tar staging -> (optional analyze) ->
// destination write/upload/command. A *NotEnoughSpaceError or
// *NothingToCopyError is a structural-but-expected abort: the state machine
// lands in WaitEnd and these are not treated as transport failures by the
// caller.
func (m *Machine) Copy(selected []string, dest Destination) (err error) {
	if m.state != StatePartitionOpened {
		return fmt.Errorf("orchestrator: Copy called in state %s", m.state)
	}
	// An uncaught error from any state lands in WaitEnd: the pipeline does
	// not exit, so reset remains possible.
	defer func() {
		if err != nil && m.state != StateWaitEnd && m.state != StateEnd {
			m.transition(StateWaitEnd)
		}
	}()
	m.destination = dest
	m.lastFilterRejected = nil
	m.lastAnalyzeDirty = nil
	m.transition(StateCopyFiles)
	m.progress.Push(progress.WaypointCopyStart, 0)

	if _, err := m.ID(); err != nil {
		return err
	}
	logger.Info("transfer started", logger.UserID(m.userID))

	m.selection = device.ExpandSelection(scsiWalker{m: m}, selected)
	m.progress.Push(progress.WaypointUsbReadAttrs, 0)

	files, rejectedFiles, err := m.filterPaths(m.selection.Files)
	if err != nil {
		return err
	}
	dirs, rejectedDirs, err := m.filterPaths(m.selection.Directories)
	if err != nil {
		return err
	}
	m.selection.Files, m.selection.Directories = files, dirs
	m.lastFilterRejected = append(rejectedFiles, rejectedDirs...)
	m.progress.Push(progress.WaypointUsbFilter, 0)

	if len(files)+len(dirs) == 0 {
		m.transition(StateWaitEnd)
		return &NothingToCopyError{RejectedFilter: m.lastFilterRejected}
	}

	// maxFileSize caps individual files at 2^32-1 bytes when the
	// destination filesystem is FAT32; no cap otherwise.
	var maxFileSize uint64
	if dest.Kind == device.KindUSB {
		if err := m.children.unlockFs2devForDestination(dest.Device.USB.Busnum, dest.Device.USB.Devnum); err != nil {
			return err
		}
		devSize, err := m.destDevSize()
		if err != nil {
			return err
		}
		if !device.CapacityOK(m.selection.TotalSize, devSize) {
			m.transition(StateWaitEnd)
			return &NotEnoughSpaceError{MaxSize: devSize}
		}
		if dest.FSType == device.FSTypeFAT32 {
			maxFileSize = device.MaxFAT32FileSize
		}
	}

	if err := m.children.unlock(WorkerFiles2tar); err != nil {
		return err
	}
	m.progress.Push(progress.WaypointUsbTarStart, 0)

	if err := m.tarSrcFiles(maxFileSize); err != nil {
		return err
	}

	if err := m.children.unlockTar2files(dest.Kind == device.KindUSB); err != nil {
		return err
	}

	switch dest.Kind {
	case device.KindUSB:
		m.transition(StateWriteFiles)
		if err := m.writeToDestFS(); err != nil {
			return err
		}
	case device.KindNet:
		m.transition(StateUploadOrCmd)
		if err := m.uploadArchive(); err != nil {
			return err
		}
	case device.KindCmd:
		m.transition(StateUploadOrCmd)
		if err := m.runDestCmd(); err != nil {
			return err
		}
	}

	m.progress.Push(progress.WaypointTerminate, 0)
	m.transition(StateTransferDone)
	return nil
}

// destDevSize queries fs2dev for the opened destination device's capacity.
func (m *Machine) destDevSize() (uint64, error) {
	resp, err := m.request(WorkerFs2dev, proto.TypeDevSize, proto.DevSize{})
	if err != nil {
		return 0, err
	}
	var body proto.DevSizeResp
	if err := resp.Decode(&body); err != nil {
		return 0, err
	}
	return body.Size, nil
}

// filterPaths submits one batch to the filter worker and splits it into
// kept and rejected, preserving order. A result-count mismatch is a
// structural failure: the worker's verdicts can no longer be matched to
// paths, so the transfer aborts rather than guessing.
func (m *Machine) filterPaths(paths []string) (kept, rejected []string, err error) {
	resp, err := m.request(WorkerFilter, proto.TypeFilterPaths, proto.FilterPaths{Paths: paths})
	if err != nil {
		return nil, nil, err
	}
	var body proto.FilterPathsResp
	if err := resp.Decode(&body); err != nil {
		return nil, nil, err
	}
	if len(body.Results) != len(paths) {
		return nil, nil, fmt.Errorf("orchestrator: filter returned %d results for %d paths", len(body.Results), len(paths))
	}
	for i, p := range paths {
		if body.Results[i] == proto.FilterPathOk {
			kept = append(kept, p)
		} else {
			rejected = append(rejected, p)
		}
	}
	return kept, rejected, nil
}

// tarSrcFiles stages every surviving directory, then every surviving file,
// into the staging tar, and closes it with the collected user/device
// identity tuple. A per-entry failure is recorded to the selection's errors
// and staging continues.
func (m *Machine) tarSrcFiles(maxFileSize uint64) error {
	var written uint64
	var dirs, files []string
	for _, path := range m.selection.Directories {
		if _, err := m.fileToTar(path, maxFileSize, written); err != nil {
			logger.Warn("couldn't stage directory", logger.Path(path), logger.Err(err))
			m.selection.Errors = append(m.selection.Errors, path)
			continue
		}
		dirs = append(dirs, path)
	}
	for _, path := range m.selection.Files {
		n, err := m.fileToTar(path, maxFileSize, written)
		if err != nil {
			logger.Warn("couldn't stage file", logger.Path(path), logger.Err(err))
			m.selection.Errors = append(m.selection.Errors, path)
			continue
		}
		files = append(files, path)
		written += n
	}
	// Only what actually reached the staging tar proceeds to the
	// destination stage.
	m.selection.Directories, m.selection.Files = dirs, files

	if _, err := m.request(WorkerFiles2tar, proto.TypeTarClose, proto.TarClose{
		ID:           m.userID,
		VendorID:     m.srcDevice.VendorID,
		ProductID:    m.srcDevice.ProductID,
		Manufacturer: m.srcDevice.Manufacturer,
		Serial:       m.srcDevice.Serial,
		Description:  m.srcDevice.Description,
	}); err != nil {
		return err
	}
	return nil
}

// fileToTar stages one path: attributes from scsi2files, header to
// files2tar, then content relayed chunk by chunk. Directories are written
// with size normalized to 0 regardless of what the source filesystem
// reports (ext4-style nonzero directory sizes). Returns the content bytes
// relayed, for proportional progress.
func (m *Machine) fileToTar(path string, maxFileSize, writtenSoFar uint64) (uint64, error) {
	attrs, err := m.getAttr(WorkerScsi2files, path)
	if err != nil {
		return 0, err
	}

	if maxFileSize > 0 && attrs.Size > maxFileSize {
		return 0, fmt.Errorf("file too large (%d > %d)", attrs.Size, maxFileSize)
	}

	if attrs.FType == device.FileTypeDirectory {
		attrs.Size = 0
	}

	if _, err := m.request(WorkerFiles2tar, proto.TypeTarNewFile, proto.TarNewFile{
		Path:      path,
		Size:      attrs.Size,
		FType:     attrs.FType,
		Timestamp: attrs.Timestamp,
	}); err != nil {
		return 0, err
	}

	// Directory entries are complete at their header; only regular files
	// carry a content stream and an end-of-file marker.
	if attrs.FType == device.FileTypeDirectory {
		return 0, nil
	}

	var offset uint64
	remaining := attrs.Size
	for remaining > 0 {
		todo := remaining
		if todo > device.ReadChunkSize {
			todo = device.ReadChunkSize
		}
		data, err := m.readFileChunk(WorkerScsi2files, path, offset, todo)
		if err != nil {
			return offset, err
		}
		if _, err := m.request(WorkerFiles2tar, proto.TypeTarWriteFile, proto.TarWriteFile{
			Path:   path,
			Offset: offset,
			Data:   data,
		}); err != nil {
			return offset, err
		}
		offset += todo
		remaining -= todo

		frac := 0.0
		if m.selection.TotalSize > 0 {
			frac = float64(writtenSoFar+offset) / float64(m.selection.TotalSize)
		}
		m.progress.Push(progress.WaypointUsbTarUpdate, frac)
	}

	if _, err := m.request(WorkerFiles2tar, proto.TypeTarEndFile, proto.TarEndFile{Path: path}); err != nil {
		return offset, err
	}
	return offset, nil
}
