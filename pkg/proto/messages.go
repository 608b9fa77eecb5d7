package proto

import "github.com/marmos91/usbsas/pkg/device"

// End is sent to every worker during teardown; workers that are locked
// (files2tar, tar2files, fs2dev before their first real message) must be
// unlocked first so they can observe it.
type End struct{}

// EndResp acknowledges End; the orchestrator does not block on it during
// teardown.
type EndResp struct{}

// Error carries a worker-reported failure back to the orchestrator. It is a
// valid response to almost any request.
type Error struct {
	Message string `json:"message"`
}

// Unlock is sent to a worker started in wait-on-startup mode (files2tar,
// tar2files, fs2dev) to release it from its initial blocking read. Payload
// size is fixed per worker: 1 byte for files2tar/tar2files, 8 bytes
// little-endian for fs2dev.
type Unlock struct {
	Payload []byte `json:"payload"`
}

// ID is identificator's sole request: it returns the user id string
// recorded into the staging tar's close-time identity tuple.
type ID struct{}

type IDResp struct {
	ID string `json:"id"`
}

// Devices asks usbdev to enumerate every attached USB mass-storage device.
type Devices struct{}

type DevicesResp struct {
	Devices []device.USB `json:"devices"`
}

// OpenDevice asks scsi2files to open the source device at the given bus
// position for reading.
type OpenDevice struct {
	Busnum uint32 `json:"busnum"`
	Devnum uint32 `json:"devnum"`
}

type OpenDeviceResp struct {
	BlockSize uint32 `json:"block_size"`
	DevSize   uint64 `json:"dev_size"`
}

// Partitions/OpenPartition enumerate and open one slot of the opened source
// device's partition table.
type Partitions struct{}

type PartitionsResp struct {
	Partitions []device.Partition `json:"partitions"`
}

type OpenPartition struct {
	Index int `json:"index"`
}

type OpenPartitionResp struct {
	FSType string `json:"fs_type"`
}

// GetAttr fetches one path's type/size/timestamp on the opened partition
// (scsi2files) or in the staging tar (tar2files).
type GetAttr struct {
	Path string `json:"path"`
}

type GetAttrResp struct {
	FType     device.FileType `json:"ftype"`
	Size      uint64          `json:"size"`
	Timestamp int64           `json:"timestamp"`
}

// ReadDir lists one directory on the opened partition.
type ReadDir struct {
	Path string `json:"path"`
}

type ReadDirResp struct {
	Entries []device.DirectoryEntry `json:"entries"`
}

// ReadFile pulls up to Size bytes of one file's content starting at Offset.
// The orchestrator never asks for more than device.ReadChunkSize per round
// trip.
type ReadFile struct {
	Path   string `json:"path"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

type ReadFileResp struct {
	Data []byte `json:"data"`
}

// ReadSectors pulls Count raw sectors starting at sector Offset, for raw
// disk imaging.
type ReadSectors struct {
	Offset uint64 `json:"offset"`
	Count  uint64 `json:"count"`
}

type ReadSectorsResp struct {
	Data []byte `json:"data"`
}

// FilterResult is the filter worker's per-path verdict.
type FilterResult int32

const (
	FilterPathOk  FilterResult = 0
	FilterPathBad FilterResult = 1
)

// FilterPaths submits a batch of paths for rule evaluation. The response
// must carry exactly one result per submitted path, in order; a count
// mismatch is a structural error that aborts the transfer.
type FilterPaths struct {
	Paths []string `json:"paths"`
}

type FilterPathsResp struct {
	Results []FilterResult `json:"results"`
}

// TarNewFile opens one entry in the staging tar. Size must already be
// normalized (0 for directories, regardless of what the source filesystem
// reports).
type TarNewFile struct {
	Path      string          `json:"path"`
	Size      uint64          `json:"size"`
	FType     device.FileType `json:"ftype"`
	Timestamp int64           `json:"timestamp"`
}

type TarNewFileResp struct{}

// TarWriteFile appends one chunk of the open entry's content. Offset is the
// byte position within the entry and must advance contiguously.
type TarWriteFile struct {
	Path   string `json:"path"`
	Offset uint64 `json:"offset"`
	Data   []byte `json:"data"`
}

type TarWriteFileResp struct{}

// TarEndFile completes the open entry.
type TarEndFile struct {
	Path string `json:"path"`
}

type TarEndFileResp struct{}

// TarClose finalizes the staging tar, recording the collected user/device
// identity tuple as the archive's metadata entry.
type TarClose struct {
	ID           string `json:"id"`
	VendorID     uint16 `json:"vendorid"`
	ProductID    uint16 `json:"productid"`
	Manufacturer string `json:"manufacturer"`
	Serial       string `json:"serial"`
	Description  string `json:"description"`
}

type TarCloseResp struct{}

// SetFsInfos tells files2fs the destination device's capacity and the
// filesystem format to build, before the first FsNewFile.
type SetFsInfos struct {
	DevSize uint64        `json:"dev_size"`
	FSType  device.FSType `json:"fstype"`
}

type SetFsInfosResp struct{}

// FsNewFile opens one entry (file or directory) in the output filesystem.
type FsNewFile struct {
	Path      string          `json:"path"`
	Size      uint64          `json:"size"`
	FType     device.FileType `json:"ftype"`
	Timestamp int64           `json:"timestamp"`
}

type FsNewFileResp struct{}

// FsWriteFile writes one chunk of the open entry's content at Offset.
type FsWriteFile struct {
	Path   string `json:"path"`
	Offset uint64 `json:"offset"`
	Data   []byte `json:"data"`
}

type FsWriteFileResp struct{}

// FsEndFile completes the open entry.
type FsEndFile struct {
	Path string `json:"path"`
}

type FsEndFileResp struct{}

// FsClose finalizes the output filesystem image. The block bitmap becomes
// readable via BitVec afterwards.
type FsClose struct{}

type FsCloseResp struct{}

// BitVec pulls the next chunk of the filesystem image's non-empty-block
// bitmap; the orchestrator forwards each chunk to fs2dev as LoadBitVec and
// stops after the chunk with Last set.
type BitVec struct{}

type BitVecResp struct {
	Chunk []byte `json:"chunk"`
	Last  bool   `json:"last"`
}

// FsImgDisk switches files2fs to raw-image mode: subsequent FsWriteData
// payloads are appended verbatim instead of laid out as filesystem entries.
type FsImgDisk struct{}

type FsImgDiskResp struct{}

// FsWriteData appends one chunk of raw sector data in raw-image mode.
type FsWriteData struct {
	Data []byte `json:"data"`
}

type FsWriteDataResp struct{}

// DevSize asks fs2dev for the opened destination device's capacity.
type DevSize struct{}

type DevSizeResp struct {
	Size uint64 `json:"size"`
}

// LoadBitVec hands fs2dev one chunk of the non-empty-block bitmap. fs2dev
// must not begin copying until it has received the chunk with Last set.
type LoadBitVec struct {
	Chunk []byte `json:"chunk"`
	Last  bool   `json:"last"`
}

type LoadBitVecResp struct{}

// StartCopy tells fs2dev to copy the built filesystem image's marked blocks
// to the destination device. fs2dev answers with a stream of CopyStatus
// messages terminated by CopyStatusDone.
type StartCopy struct{}

// Wipe tells fs2dev to securely overwrite the opened destination device,
// streaming CopyStatus/CopyStatusDone like StartCopy. A quick wipe never
// sends this message at all.
type Wipe struct{}

// CopyStatus is one progress tick of an fs2dev copy/wipe or an uploader/
// analyzer upload.
type CopyStatus struct {
	CurrentSize uint64 `json:"current_size"`
	TotalSize   uint64 `json:"total_size"`
}

type CopyStatusDone struct{}

// Upload asks the uploader to send the staging tar to the configured
// network endpoint, named remotely by the transfer's user id. The uploader
// answers with a stream of UploadStatus messages, then UploadResp.
type Upload struct {
	ID string `json:"id"`
}

type UploadResp struct{}

// UploadStatus is one progress tick of an uploader or analyzer submission.
type UploadStatus struct {
	CurrentSize uint64 `json:"current_size"`
	TotalSize   uint64 `json:"total_size"`
}

// Analyze asks the analyzer to submit the staging tar for scanning. The
// analyzer answers with a stream of UploadStatus messages, then
// AnalyzeResp.
type Analyze struct {
	ID string `json:"id"`
}

// AnalyzeResp reports the antivirus verdict. The scanner reports every
// path with no leading '/': clean paths are matched against survivors
// after stripping the survivor's leading '/', dirty paths get one
// prepended before being recorded.
type AnalyzeResp struct {
	Clean []string `json:"clean"`
	Dirty []string `json:"dirty"`
}

// Exec drives cmdexec's Cmd-destination branch: run the configured command
// against the staged archive.
type Exec struct{}

type ExecResp struct{}

// PostCopyExec runs the configured post-copy command after a completed
// transfer (TransferDone -> PostCopyCmd -> WaitEnd).
type PostCopyExec struct {
	OutFileType string `json:"out_file_type"`
}

type PostCopyExecResp struct{}
