package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a usbsas session.
type LogContext struct {
	TraceID           string    // OpenTelemetry trace ID
	SpanID            string    // OpenTelemetry span ID
	SessionID         string    // front-end session identifier
	DeviceFingerprint string    // hex-encoded device fingerprint
	Worker            string    // worker name (usbdev, scsi2files, filter, ...)
	State             string    // orchestrator state name
	ClientIP          string    // client IP address (without port)
	StartTime         time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext with the given client IP
func NewLogContext(clientIP string) *LogContext {
	return &LogContext{
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:           lc.TraceID,
		SpanID:            lc.SpanID,
		SessionID:         lc.SessionID,
		DeviceFingerprint: lc.DeviceFingerprint,
		Worker:            lc.Worker,
		State:             lc.State,
		ClientIP:          lc.ClientIP,
		StartTime:         lc.StartTime,
	}
}

// WithSession returns a copy with the session ID set
func (lc *LogContext) WithSession(sessionID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.SessionID = sessionID
	}
	return clone
}

// WithDevice returns a copy with the device fingerprint set
func (lc *LogContext) WithDevice(fingerprint string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.DeviceFingerprint = fingerprint
	}
	return clone
}

// WithWorker returns a copy with the worker name set
func (lc *LogContext) WithWorker(worker string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Worker = worker
	}
	return clone
}

// WithState returns a copy with the orchestrator state name set
func (lc *LogContext) WithState(state string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.State = state
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
