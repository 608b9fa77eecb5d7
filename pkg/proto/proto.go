// Package proto defines the IPC envelope exchanged between the orchestrator
// and its worker child processes, and the length-prefixed JSON framing used
// to send it over the anonymous pipes set up at spawn time.
//
// Every worker speaks the same envelope; the Type field selects which
// request/response shape Body holds, one tagged catalog per worker.
package proto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Type names one request or response message kind.
type Type string

const (
	// Control messages understood by every worker.
	TypeEnd     Type = "end"
	TypeEndResp Type = "end_resp"
	TypeError   Type = "error"
	TypeUnlock  Type = "unlock"

	// identificator
	TypeID     Type = "id"
	TypeIDResp Type = "id_resp"

	// usbdev
	TypeDevices     Type = "devices"
	TypeDevicesResp Type = "devices_resp"

	// Files protocol, spoken by both scsi2files (against the opened source
	// partition) and tar2files (against the staging tar). OpenDevice,
	// Partitions, OpenPartition and ReadSectors are answered by scsi2files
	// only.
	TypeOpenDevice        Type = "open_device"
	TypeOpenDeviceResp    Type = "open_device_resp"
	TypePartitions        Type = "partitions"
	TypePartitionsResp    Type = "partitions_resp"
	TypeOpenPartition     Type = "open_partition"
	TypeOpenPartitionResp Type = "open_partition_resp"
	TypeGetAttr           Type = "get_attr"
	TypeGetAttrResp       Type = "get_attr_resp"
	TypeReadDir           Type = "read_dir"
	TypeReadDirResp       Type = "read_dir_resp"
	TypeReadFile          Type = "read_file"
	TypeReadFileResp      Type = "read_file_resp"
	TypeReadSectors       Type = "read_sectors"
	TypeReadSectorsResp   Type = "read_sectors_resp"

	// filter
	TypeFilterPaths     Type = "filter_paths"
	TypeFilterPathsResp Type = "filter_paths_resp"

	// files2tar (writetar protocol)
	TypeTarNewFile       Type = "tar_new_file"
	TypeTarNewFileResp   Type = "tar_new_file_resp"
	TypeTarWriteFile     Type = "tar_write_file"
	TypeTarWriteFileResp Type = "tar_write_file_resp"
	TypeTarEndFile       Type = "tar_end_file"
	TypeTarEndFileResp   Type = "tar_end_file_resp"
	TypeTarClose         Type = "tar_close"
	TypeTarCloseResp     Type = "tar_close_resp"

	// files2fs (writefs protocol)
	TypeSetFsInfos      Type = "set_fs_infos"
	TypeSetFsInfosResp  Type = "set_fs_infos_resp"
	TypeFsNewFile       Type = "fs_new_file"
	TypeFsNewFileResp   Type = "fs_new_file_resp"
	TypeFsWriteFile     Type = "fs_write_file"
	TypeFsWriteFileResp Type = "fs_write_file_resp"
	TypeFsEndFile       Type = "fs_end_file"
	TypeFsEndFileResp   Type = "fs_end_file_resp"
	TypeFsClose         Type = "fs_close"
	TypeFsCloseResp     Type = "fs_close_resp"
	TypeBitVec          Type = "bitvec"
	TypeBitVecResp      Type = "bitvec_resp"
	TypeFsImgDisk       Type = "fs_img_disk"
	TypeFsImgDiskResp   Type = "fs_img_disk_resp"
	TypeFsWriteData     Type = "fs_write_data"
	TypeFsWriteDataResp Type = "fs_write_data_resp"

	// fs2dev
	TypeDevSize        Type = "dev_size"
	TypeDevSizeResp    Type = "dev_size_resp"
	TypeLoadBitVec     Type = "load_bitvec"
	TypeLoadBitVecResp Type = "load_bitvec_resp"
	TypeStartCopy      Type = "start_copy"
	TypeWipe           Type = "wipe"
	TypeCopyStatus     Type = "copy_status"
	TypeCopyStatusDone Type = "copy_status_done"

	// uploader / analyzer / cmdexec
	TypeUpload           Type = "upload"
	TypeUploadResp       Type = "upload_resp"
	TypeUploadStatus     Type = "upload_status"
	TypeAnalyze          Type = "analyze"
	TypeAnalyzeResp      Type = "analyze_resp"
	TypeExec             Type = "exec"
	TypeExecResp         Type = "exec_resp"
	TypePostCopyExec     Type = "post_copy_exec"
	TypePostCopyExecResp Type = "post_copy_exec_resp"
)

// Envelope is the single message shape exchanged over the IPC pipes. Body
// carries the type-specific payload as raw JSON, decoded by the receiver
// once Type is known.
type Envelope struct {
	Type Type            `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

// NewEnvelope marshals body into an Envelope of the given type.
func NewEnvelope(t Type, body any) (Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("proto: marshal body for %s: %w", t, err)
	}
	return Envelope{Type: t, Body: raw}, nil
}

// Decode unmarshals the envelope's body into v.
func (e Envelope) Decode(v any) error {
	if len(e.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("proto: decode body for %s: %w", e.Type, err)
	}
	return nil
}

// maxFrameBytes bounds a single envelope's encoded size, guarding against a
// misbehaving worker sending a corrupt length prefix that would otherwise
// make the reader allocate unbounded memory.
const maxFrameBytes = 256 * 1024 * 1024

// WriteEnvelope writes env to w as a 4-byte big-endian length prefix
// followed by its JSON encoding.
func WriteEnvelope(w io.Writer, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("proto: marshal envelope: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("proto: write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("proto: write envelope body: %w", err)
	}
	return nil
}

// ReadEnvelope reads one length-prefixed envelope from r.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return Envelope{}, fmt.Errorf("proto: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Envelope{}, fmt.Errorf("proto: read envelope body: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return Envelope{}, fmt.Errorf("proto: unmarshal envelope: %w", err)
	}
	return env, nil
}
