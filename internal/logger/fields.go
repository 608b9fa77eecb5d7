package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so aggregation and
// querying across the front-end and worker processes line up.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Session & Device
	// ========================================================================
	KeySessionID         = "session_id"         // front-end session identifier
	KeyUserID            = "user_id"            // identificator-reported user id
	KeyDeviceFingerprint = "device_fingerprint"  // hex-encoded fingerprint
	KeyDeviceBusnum      = "device_busnum"       // USB bus number
	KeyDeviceDevnum      = "device_devnum"       // USB device number
	KeyDestinationKind   = "destination_kind"    // usb, net, cmd

	// ========================================================================
	// Orchestrator / Worker
	// ========================================================================
	KeyWorker      = "worker"      // worker name: usbdev, scsi2files, filter, ...
	KeyState       = "state"       // orchestrator state name
	KeyPID         = "pid"         // child process PID
	KeyExitCode    = "exit_code"   // child process exit code
	KeyMessageType = "message_type" // IPC request/response message type

	// ========================================================================
	// Transfer Progress
	// ========================================================================
	KeyWaypoint     = "waypoint"      // progress waypoint name
	KeyPercent      = "percent"       // progress percentage (0-100)
	KeyBytesTotal   = "bytes_total"   // total bytes for the transfer
	KeyBytesDone    = "bytes_done"    // bytes processed so far
	KeyFileCount    = "file_count"    // number of files in selection

	// ========================================================================
	// File System Operations
	// ========================================================================
	KeyPath     = "path"      // file/directory path
	KeySize     = "size"      // file size in bytes
	KeyPartUUID = "part_uuid" // partition identifier

	// ========================================================================
	// Client / Request Identification
	// ========================================================================
	KeyClientIP  = "client_ip"  // client IP address
	KeyRequestID = "request_id" // HTTP request ID (chi middleware)
	KeyMethod    = "method"     // HTTP method
	KeyRoute     = "route"      // HTTP route pattern
	KeyStatus    = "status"     // HTTP status code / IPC status
	KeyBytesOut  = "bytes_out"  // bytes written to an HTTP response

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyAttempt    = "attempt"     // retry attempt number

	// ========================================================================
	// Storage Backend (uploader, audit trail)
	// ========================================================================
	KeyStoreType = "store_type" // sqlite, postgres, s3
	KeyBucket    = "bucket"     // S3 bucket name
	KeyKey       = "key"        // S3 object key
	KeyRegion    = "region"     // cloud region
)

// ----------------------------------------------------------------------------
// Field constructors for type safety
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// SessionID returns a slog.Attr for the front-end session identifier
func SessionID(id string) slog.Attr { return slog.String(KeySessionID, id) }

// DeviceFingerprint returns a slog.Attr for the hex-encoded device fingerprint
func DeviceFingerprint(fp string) slog.Attr { return slog.String(KeyDeviceFingerprint, fp) }

// UserID tags a log line with identificator's reported user id.
func UserID(id string) slog.Attr { return slog.String(KeyUserID, id) }

// Worker returns a slog.Attr for a worker name
func Worker(name string) slog.Attr { return slog.String(KeyWorker, name) }

// State returns a slog.Attr for an orchestrator state name
func State(name string) slog.Attr { return slog.String(KeyState, name) }

// PID returns a slog.Attr for a child process PID
func PID(pid int) slog.Attr { return slog.Int(KeyPID, pid) }

// ExitCode returns a slog.Attr for a child process exit code
func ExitCode(code int) slog.Attr { return slog.Int(KeyExitCode, code) }

// Waypoint returns a slog.Attr for a progress waypoint name
func Waypoint(name string) slog.Attr { return slog.String(KeyWaypoint, name) }

// Percent returns a slog.Attr for a progress percentage
func Percent(p int) slog.Attr { return slog.Int(KeyPercent, p) }

// Path returns a slog.Attr for a file/directory path
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// Size returns a slog.Attr for a size in bytes
func Size(n int64) slog.Attr { return slog.Int64(KeySize, n) }

// ClientIP returns a slog.Attr for a client IP address
func ClientIP(addr string) slog.Attr { return slog.String(KeyClientIP, addr) }

// RequestID returns a slog.Attr for an HTTP request ID
func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }

// DurationMs returns a slog.Attr for an operation duration in milliseconds
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error value
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
