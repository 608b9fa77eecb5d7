// Package audit persists one record per completed Copy/Wipe/ImageDisk
// operation: the device fingerprints involved, the outcome, byte/file
// counts, and timing, backing the admin session-history surface
// that pkg/session.Manager's in-memory List() can't answer
// once a session's worker pipeline has torn down.
package audit

import "time"

// Operation names a transfer kind, matching the outcome labels
// internal/metrics already uses for the same three operations.
type Operation string

const (
	OperationCopy    Operation = "copy"
	OperationWipe    Operation = "wipe"
	OperationImgDisk Operation = "imgdisk"
)

// Record is one completed operation's audit trail entry. Field names mirror
// internal/metrics.RecordTransfer's parameters so both consumers read off
// the same session.Session bookkeeping.
type Record struct {
	ID uint `gorm:"primarykey"`

	SessionID string    `gorm:"index;size:64" json:"session_id"`
	Operation Operation `gorm:"size:16" json:"operation"`

	SourceFingerprint string `gorm:"size:128" json:"source_fingerprint,omitempty"`
	DestFingerprint   string `gorm:"size:128" json:"dest_fingerprint,omitempty"`
	Destination       string `gorm:"size:16" json:"destination"` // usb/net/cmd

	Outcome      string `gorm:"size:32;index" json:"outcome"` // done/not_enough_space/nothing_to_copy/error
	ErrorMessage string `json:"error_message,omitempty"`

	BytesTransferred uint64 `json:"bytes_transferred"`
	FileCount        int    `json:"file_count"`

	StartedAt  time.Time `gorm:"index" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns how long the operation ran.
func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
