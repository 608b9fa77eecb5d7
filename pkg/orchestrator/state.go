package orchestrator

import (
	"fmt"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/internal/progress"
	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/proto"
)

// State names one node of the orchestrator state machine.
type State string

const (
	StateInit            State = "Init"
	StateDevOpened       State = "DevOpened"
	StatePartitionOpened State = "PartitionOpened"
	StateCopyFiles       State = "CopyFiles"
	StateWriteFiles      State = "WriteFiles"
	StateUploadOrCmd     State = "UploadOrCmd"
	StateWipe            State = "Wipe"
	StateImgDisk         State = "ImgDisk"
	StateTransferDone    State = "TransferDone"
	StateWaitEnd         State = "WaitEnd"
	StateEnd             State = "End"
)

// Destination describes where a copy transfer's files end up: another USB
// device (fs2dev), a network upload (uploader), or a post-copy command
// (cmdexec). Device and FSType are only meaningful when Kind == KindUSB:
// FSType names the filesystem files2fs builds on the destination device,
// chosen by the client at copy time.
type Destination struct {
	Kind   device.Kind
	Device device.Device
	FSType device.FSType
}

// Machine drives one session's orchestrator state machine. It owns the
// worker children and the progress channel the front-end reads from.
type Machine struct {
	children *Children
	progress *progress.Channel

	state       State
	selection   device.Selection
	destination Destination
	analyzerOn  bool

	// srcDevice is the opened source device, recorded at OpenDevice time;
	// its identity strings close the staging tar and name imgdisk
	// artifacts, and its sector/device size drives the raw imaging loop.
	srcDevice device.USB
	srcOpened bool

	// userID caches identificator's answer across the session; a later
	// non-empty answer replaces it, an empty one leaves it as-is.
	userID string

	// lastAnalyzeDirty holds the dirty-normalized paths (leading '/'
	// prepended) from the most recent analyze() call, for NothingToCopyError
	// and the final report.
	lastAnalyzeDirty []string

	// lastFilterRejected holds the paths the filter worker rejected during
	// the most recent Copy, for CopyDone's filtered_path list.
	lastFilterRejected []string
}

// NewMachine builds a Machine in StateInit, owning children and reporting
// progress on ch.
func NewMachine(children *Children, ch *progress.Channel, analyzerOn bool) *Machine {
	return &Machine{children: children, progress: ch, state: StateInit, analyzerOn: analyzerOn}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Progress returns the progress channel this Machine publishes waypoints
// to, for the caller to stream to an HTTP client.
func (m *Machine) Progress() *progress.Channel { return m.progress }

// ErrorPaths returns every per-file path recorded as failed during the most
// recent Copy, for the final_report the session layer publishes.
func (m *Machine) ErrorPaths() []string { return m.selection.Errors }

// DirtyPaths returns the analyzer-rejected paths from the most recent Copy
// (empty if no analyzer is configured or nothing was flagged).
func (m *Machine) DirtyPaths() []string { return m.lastAnalyzeDirty }

// FilteredPaths returns the filter-rejected paths from the most recent
// Copy.
func (m *Machine) FilteredPaths() []string { return m.lastFilterRejected }

// TotalSize returns the most recent Copy's accumulated selection size.
func (m *Machine) TotalSize() uint64 { return m.selection.TotalSize }

func (m *Machine) transition(to State) {
	logger.Info("orchestrator state transition", logger.State(string(to)))
	m.state = to
}

// request is the single synchronous round trip every worker interaction
// builds on: marshal, send, read one response, surface a worker-reported
// Error envelope as a Go error.
func (m *Machine) request(worker string, t proto.Type, body any) (proto.Envelope, error) {
	env, err := proto.NewEnvelope(t, body)
	if err != nil {
		return proto.Envelope{}, err
	}
	if err := m.children.Send(worker, env); err != nil {
		return proto.Envelope{}, err
	}
	resp, err := m.children.Recv(worker)
	if err != nil {
		return proto.Envelope{}, err
	}
	if resp.Type == proto.TypeError {
		return proto.Envelope{}, decodeWorkerError(resp)
	}
	return resp, nil
}

// ID queries identificator for the user id string, caching any non-empty
// answer for the rest of the session (the staging tar's close-time identity
// tuple reuses it without a second round trip).
func (m *Machine) ID() (string, error) {
	resp, err := m.request(WorkerIdentificator, proto.TypeID, proto.ID{})
	if err != nil {
		return "", err
	}
	var body proto.IDResp
	if err := resp.Decode(&body); err != nil {
		return "", err
	}
	if body.ID != "" {
		m.userID = body.ID
	}
	return m.userID, nil
}

// ListDevices is an Init self-loop: enumerates attached USB mass-storage
// devices via usbdev.
func (m *Machine) ListDevices() ([]device.USB, error) {
	resp, err := m.request(WorkerUsbdev, proto.TypeDevices, proto.Devices{})
	if err != nil {
		return nil, err
	}
	var body proto.DevicesResp
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	return body.Devices, nil
}

// OpenDevice drives Init -> DevOpened: scsi2files opens the source device
// and reports its geometry, which is folded back into the recorded source
// device for the imaging loop and the tar close identity.
func (m *Machine) OpenDevice(dev device.USB) error {
	if m.state != StateInit {
		return fmt.Errorf("orchestrator: OpenDevice called in state %s", m.state)
	}
	opened, err := m.openSourceDevice(dev)
	if err != nil {
		return err
	}
	m.srcDevice, m.srcOpened = opened, true
	m.transition(StateDevOpened)
	return nil
}

// openSourceDevice performs the scsi2files OpenDevice round trip without a
// state transition; ImgDisk reuses it from Init.
func (m *Machine) openSourceDevice(dev device.USB) (device.USB, error) {
	resp, err := m.request(WorkerScsi2files, proto.TypeOpenDevice, proto.OpenDevice{Busnum: dev.Busnum, Devnum: dev.Devnum})
	if err != nil {
		return device.USB{}, err
	}
	var body proto.OpenDeviceResp
	if err := resp.Decode(&body); err != nil {
		return device.USB{}, err
	}
	dev.SectorSize = body.BlockSize
	dev.DevSize = body.DevSize
	return dev, nil
}

// Partitions is a DevOpened self-loop: lists partitions on the opened
// source device.
func (m *Machine) Partitions() ([]device.Partition, error) {
	if m.state != StateDevOpened && m.state != StatePartitionOpened {
		return nil, fmt.Errorf("orchestrator: Partitions called in state %s", m.state)
	}
	resp, err := m.request(WorkerScsi2files, proto.TypePartitions, proto.Partitions{})
	if err != nil {
		return nil, err
	}
	var body proto.PartitionsResp
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	return body.Partitions, nil
}

// OpenPartition drives DevOpened -> PartitionOpened.
func (m *Machine) OpenPartition(index int) error {
	if m.state != StateDevOpened {
		return fmt.Errorf("orchestrator: OpenPartition called in state %s", m.state)
	}
	if _, err := m.request(WorkerScsi2files, proto.TypeOpenPartition, proto.OpenPartition{Index: index}); err != nil {
		return err
	}
	m.transition(StatePartitionOpened)
	return nil
}

// ReadDir is a PartitionOpened self-loop: lists entries of one directory on
// the opened partition.
func (m *Machine) ReadDir(path string) ([]device.DirectoryEntry, error) {
	if m.state != StatePartitionOpened {
		return nil, fmt.Errorf("orchestrator: ReadDir called in state %s", m.state)
	}
	return m.readDir(WorkerScsi2files, path)
}

// GetAttr is a PartitionOpened self-loop: fetches one path's attributes on
// the opened partition.
func (m *Machine) GetAttr(path string) (device.Attr, error) {
	if m.state != StatePartitionOpened {
		return device.Attr{}, fmt.Errorf("orchestrator: GetAttr called in state %s", m.state)
	}
	return m.getAttr(WorkerScsi2files, path)
}

// getAttr/readDir/readFileChunk speak the shared files protocol against
// either scsi2files or tar2files.
func (m *Machine) getAttr(worker, path string) (device.Attr, error) {
	resp, err := m.request(worker, proto.TypeGetAttr, proto.GetAttr{Path: path})
	if err != nil {
		return device.Attr{}, err
	}
	var body proto.GetAttrResp
	if err := resp.Decode(&body); err != nil {
		return device.Attr{}, err
	}
	return device.Attr{FType: body.FType, Size: body.Size, Timestamp: body.Timestamp}, nil
}

func (m *Machine) readDir(worker, path string) ([]device.DirectoryEntry, error) {
	resp, err := m.request(worker, proto.TypeReadDir, proto.ReadDir{Path: path})
	if err != nil {
		return nil, err
	}
	var body proto.ReadDirResp
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	return body.Entries, nil
}

func (m *Machine) readFileChunk(worker, path string, offset, size uint64) ([]byte, error) {
	resp, err := m.request(worker, proto.TypeReadFile, proto.ReadFile{Path: path, Offset: offset, Size: size})
	if err != nil {
		return nil, err
	}
	var body proto.ReadFileResp
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// scsiWalker adapts the scsi2files worker's GetAttr/ReadDir round trips to
// the device.Walker interface the selection-expansion algorithm uses.
type scsiWalker struct{ m *Machine }

func (w scsiWalker) GetAttr(path string) (device.Attr, error) {
	return w.m.getAttr(WorkerScsi2files, path)
}

func (w scsiWalker) ReadDir(path string) ([]device.DirectoryEntry, error) {
	return w.m.readDir(WorkerScsi2files, path)
}

// decodeWorkerError turns an Error envelope into a Go error.
func decodeWorkerError(env proto.Envelope) error {
	var e proto.Error
	_ = env.Decode(&e)
	return fmt.Errorf("orchestrator: worker error: %s", e.Message)
}
