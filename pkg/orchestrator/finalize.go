package orchestrator

import (
	"fmt"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/internal/progress"
	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/proto"
)

// Wipe drives the Init -> Wipe -> WaitEnd branch: fs2dev overwrites the
// destination device directly, then files2fs builds an empty filesystem of
// the requested format and fs2dev copies it over, leaving the device
// cleanly formatted. busnum/devnum identify the destination device
// directly, since this branch never goes through OpenDevice/DevOpened. A
// quick wipe skips the secure overwrite pass and only rebuilds the
// filesystem.
func (m *Machine) Wipe(busnum, devnum uint32, fstype device.FSType, quick bool) (err error) {
	if m.state != StateInit {
		return fmt.Errorf("orchestrator: Wipe called in state %s", m.state)
	}
	defer func() {
		if err != nil && m.state != StateWaitEnd && m.state != StateEnd {
			m.transition(StateWaitEnd)
		}
	}()
	m.transition(StateWipe)
	m.progress.Push(progress.WaypointWipeStart, 0)

	if err := m.children.unlockFs2devForDestination(busnum, devnum); err != nil {
		return err
	}

	if !quick {
		env, err := proto.NewEnvelope(proto.TypeWipe, proto.Wipe{})
		if err != nil {
			return err
		}
		if err := m.children.Send(WorkerFs2dev, env); err != nil {
			return err
		}
		if err := m.relayFs2devStatus(func(st proto.CopyStatus) {
			m.progress.PushWipeStatus(st.CurrentSize, st.TotalSize)
		}); err != nil {
			return err
		}
	}

	// Build an empty filesystem of the requested format and copy it over,
	// so the device comes back usable rather than zeroed.
	devSize, err := m.destDevSize()
	if err != nil {
		return err
	}
	if _, err := m.request(WorkerFiles2fs, proto.TypeSetFsInfos, proto.SetFsInfos{
		DevSize: devSize,
		FSType:  fstype,
	}); err != nil {
		return err
	}
	if _, err := m.request(WorkerFiles2fs, proto.TypeFsClose, proto.FsClose{}); err != nil {
		return err
	}
	if err := m.forwardBitvec(); err != nil {
		return err
	}

	env, err := proto.NewEnvelope(proto.TypeStartCopy, proto.StartCopy{})
	if err != nil {
		return err
	}
	if err := m.children.Send(WorkerFs2dev, env); err != nil {
		return err
	}
	if err := m.relayFs2devStatus(func(st proto.CopyStatus) {
		m.progress.PushFormatStatus(st.CurrentSize, st.TotalSize)
	}); err != nil {
		return err
	}

	logger.Info("wipe done",
		logger.Worker(WorkerFs2dev), logger.State(string(StateWipe)))
	m.progress.Push(progress.WaypointWipeEnd, 0)
	m.transition(StateWaitEnd)
	return nil
}

// ImgDisk drives the Init -> ImgDisk -> WaitEnd branch: scsi2files opens
// the source device, files2fs switches to raw-image mode, and the device's
// sectors are relayed across in ReadChunkSize-sized batches. fs2dev never
// participates — the raw image is the artifact; it is left locked and
// teardown's zero-payload unlock releases it.
func (m *Machine) ImgDisk(dev device.USB) (err error) {
	if m.state != StateInit {
		return fmt.Errorf("orchestrator: ImgDisk called in state %s", m.state)
	}
	defer func() {
		if err != nil && m.state != StateWaitEnd && m.state != StateEnd {
			m.transition(StateWaitEnd)
		}
	}()
	opened, err := m.openSourceDevice(dev)
	if err != nil {
		return err
	}
	m.srcDevice, m.srcOpened = opened, true
	m.transition(StateImgDisk)
	m.progress.Push(progress.WaypointImgDiskStart, 0)

	if _, err := m.request(WorkerFiles2fs, proto.TypeFsImgDisk, proto.FsImgDisk{}); err != nil {
		return err
	}

	sectorSize := uint64(opened.SectorSize)
	if sectorSize == 0 {
		return fmt.Errorf("orchestrator: device reports zero sector size")
	}
	todo := opened.DevSize
	sectorCount := device.ReadChunkSize / sectorSize
	var offset uint64

	for todo > 0 {
		if todo < device.ReadChunkSize {
			sectorCount = (todo + sectorSize - 1) / sectorSize
		}
		resp, err := m.request(WorkerScsi2files, proto.TypeReadSectors, proto.ReadSectors{
			Offset: offset,
			Count:  sectorCount,
		})
		if err != nil {
			return err
		}
		var body proto.ReadSectorsResp
		if err := resp.Decode(&body); err != nil {
			return err
		}
		if _, err := m.request(WorkerFiles2fs, proto.TypeFsWriteData, proto.FsWriteData{Data: body.Data}); err != nil {
			return err
		}
		offset += sectorCount
		read := sectorCount * sectorSize
		if read > todo {
			read = todo
		}
		todo -= read
		m.progress.PushImgDiskUpdate(offset*sectorSize, opened.DevSize)
	}

	logger.Info("disk image done", logger.Size(int64(opened.DevSize)))
	m.progress.Push(progress.WaypointImgDiskEnd, 0)
	m.transition(StateWaitEnd)
	return nil
}

// PostCopyCmd runs the configured post-copy command after a completed
// transfer. It is only legal in TransferDone and always leaves the machine
// in WaitEnd, whether the command succeeded or not; the returned error
// reports the command's failure without changing that.
func (m *Machine) PostCopyCmd(outFileType string) error {
	if m.state != StateTransferDone {
		return fmt.Errorf("orchestrator: PostCopyCmd called in state %s", m.state)
	}
	m.transition(StateWaitEnd)
	if _, err := m.request(WorkerCmdexec, proto.TypePostCopyExec, proto.PostCopyExec{OutFileType: outFileType}); err != nil {
		return fmt.Errorf("orchestrator: post copy command: %w", err)
	}
	return nil
}

// HandleTransferDone answers exactly one client message while in
// StateTransferDone: an End moves straight to End, anything else moves to
// WaitEnd instead of looping here. The caller (the session layer) calls
// this at most once per arrival in TransferDone.
func (m *Machine) HandleTransferDone(req proto.Envelope) (proto.Envelope, error) {
	if m.state != StateTransferDone {
		return proto.Envelope{}, fmt.Errorf("orchestrator: HandleTransferDone called in state %s", m.state)
	}
	if req.Type == proto.TypeEnd {
		m.transition(StateEnd)
		return proto.NewEnvelope(proto.TypeEndResp, proto.EndResp{})
	}
	m.transition(StateWaitEnd)
	return proto.NewEnvelope(proto.TypeError, proto.Error{Message: "bad request: transfer already done, expected end"})
}

// HandleWaitEnd answers client messages while in StateWaitEnd. Unlike
// HandleTransferDone this is meant to be called in a loop by the session
// layer until it returns state == StateEnd: every message other than End is
// answered with a bad-request-shaped Error without changing state.
func (m *Machine) HandleWaitEnd(req proto.Envelope) (proto.Envelope, error) {
	if m.state != StateWaitEnd {
		return proto.Envelope{}, fmt.Errorf("orchestrator: HandleWaitEnd called in state %s", m.state)
	}
	if req.Type == proto.TypeEnd {
		m.transition(StateEnd)
		return proto.NewEnvelope(proto.TypeEndResp, proto.EndResp{})
	}
	return proto.NewEnvelope(proto.TypeError, proto.Error{Message: "bad request: session is ending, expected end"})
}
