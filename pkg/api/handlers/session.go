package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/internal/progress"
	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/session"
)

// SessionHandler exposes the session request surface over HTTP: one
// route group per session, addressed by the id Create hands back.
type SessionHandler struct {
	manager *session.Manager
}

// NewSessionHandler builds a SessionHandler over manager.
func NewSessionHandler(manager *session.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

func (h *SessionHandler) sessionOrNotFound(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	s, ok := h.manager.Get(id)
	if !ok {
		NotFound(w, "unknown session")
		return nil, false
	}
	return s, true
}

// Create handles POST /api/v1/sessions: spawns a fresh worker pipeline and
// returns its session id.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Create()
	if err != nil {
		logger.Error("create session failed", logger.Err(err))
		InternalServerError(w, "failed to create session")
		return
	}
	OK(w, map[string]string{"session_id": s.ID()})
}

// ListDevices handles GET /api/v1/sessions/{sessionID}/devices.
func (h *SessionHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionOrNotFound(w, r)
	if !ok {
		return
	}
	devices, err := s.ListDevices()
	if err != nil {
		logger.Error("list devices failed", logger.SessionID(s.ID()), logger.Err(err))
		InternalServerError(w, "failed to list devices")
		return
	}
	OK(w, devices)
}

type selectDeviceRequest struct {
	SrcFingerprint string `json:"src_fingerprint"`
	DstFingerprint string `json:"dst_fingerprint"`
}

// SelectDevice handles POST /api/v1/sessions/{sessionID}/select.
func (h *SessionHandler) SelectDevice(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionOrNotFound(w, r)
	if !ok {
		return
	}
	var req selectDeviceRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	err := s.SelectDevice(device.Fingerprint(req.SrcFingerprint), device.Fingerprint(req.DstFingerprint))
	switch err {
	case nil:
		OK(w, map[string]string{"status": "selected"})
	case session.ErrOutputCannotMatchInput:
		BadRequest(w, "Output cannot be the same as input")
	default:
		logger.Error("select device failed", logger.SessionID(s.ID()), logger.Err(err))
		InternalServerError(w, "failed to select device")
	}
}

// Partitions handles GET /api/v1/sessions/{sessionID}/partitions.
func (h *SessionHandler) Partitions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionOrNotFound(w, r)
	if !ok {
		return
	}
	parts, err := s.Partitions()
	if err != nil {
		logger.Error("partitions failed", logger.SessionID(s.ID()), logger.Err(err))
		InternalServerError(w, "failed to list partitions")
		return
	}
	OK(w, parts)
}

type openPartitionRequest struct {
	Index int `json:"index"`
}

// OpenPartition handles POST /api/v1/sessions/{sessionID}/partitions/open.
func (h *SessionHandler) OpenPartition(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionOrNotFound(w, r)
	if !ok {
		return
	}
	var req openPartitionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.OpenPartition(req.Index); err != nil {
		logger.Error("open partition failed", logger.SessionID(s.ID()), logger.Err(err))
		InternalServerError(w, "failed to open partition")
		return
	}
	OK(w, map[string]string{"status": "opened"})
}

// ReadDir handles GET /api/v1/sessions/{sessionID}/dir?token=<parent_token>.
func (h *SessionHandler) ReadDir(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionOrNotFound(w, r)
	if !ok {
		return
	}
	entries, err := s.ReadDir(r.URL.Query().Get("token"))
	if err != nil {
		logger.Error("read dir failed", logger.SessionID(s.ID()), logger.Err(err))
		InternalServerError(w, "failed to read directory")
		return
	}
	OK(w, entries)
}

type copyRequest struct {
	Tokens   []string      `json:"tokens"`
	FSFormat device.FSType `json:"fs_format,omitempty"`
}

// Copy handles POST /api/v1/sessions/{sessionID}/copy: starts the transfer
// and streams waypoint updates back as newline-delimited JSON.
// fs_format only matters when the selected destination is a
// USB device; it is ignored for net/cmd destinations.
func (h *SessionHandler) Copy(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionOrNotFound(w, r)
	if !ok {
		return
	}
	var req copyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	ch, err := s.Copy(req.Tokens, req.FSFormat)
	if err != nil {
		logger.Error("copy failed to start", logger.SessionID(s.ID()), logger.Err(err))
		InternalServerError(w, "failed to start copy")
		return
	}
	streamProgress(w, ch)
}

type wipeRequest struct {
	Fingerprint string        `json:"fingerprint"`
	FSFormat    device.FSType `json:"fs_format"`
	Quick       bool          `json:"quick"`
}

// Wipe handles POST /api/v1/sessions/{sessionID}/wipe.
func (h *SessionHandler) Wipe(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionOrNotFound(w, r)
	if !ok {
		return
	}
	var req wipeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	ch, err := s.Wipe(device.Fingerprint(req.Fingerprint), req.FSFormat, req.Quick)
	if err != nil {
		logger.Error("wipe failed to start", logger.SessionID(s.ID()), logger.Err(err))
		InternalServerError(w, "failed to start wipe")
		return
	}
	streamProgress(w, ch)
}

type imageDiskRequest struct {
	Fingerprint string `json:"fingerprint"`
}

// ImageDisk handles POST /api/v1/sessions/{sessionID}/imgdisk.
func (h *SessionHandler) ImageDisk(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionOrNotFound(w, r)
	if !ok {
		return
	}
	var req imageDiskRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	ch, err := s.ImageDisk(device.Fingerprint(req.Fingerprint))
	if err != nil {
		logger.Error("imgdisk failed to start", logger.SessionID(s.ID()), logger.Err(err))
		InternalServerError(w, "failed to start imgdisk")
		return
	}
	streamProgress(w, ch)
}

// Reset handles POST /api/v1/sessions/{sessionID}/reset.
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s, err := h.manager.Reset(id)
	if err != nil {
		NotFound(w, "unknown session")
		return
	}
	OK(w, map[string]string{"session_id": s.ID()})
}

// streamProgress flushes every batch of progress messages to w as they
// arrive, terminating the response once the channel closes. The handler
// never buffers the whole transfer in memory; each waypoint reaches the
// client as soon as the pipeline emits it.
func streamProgress(w http.ResponseWriter, ch *progress.Channel) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	for {
		batch, ok := ch.Next()
		if !ok {
			return
		}
		data, err := progress.MarshalBatch(batch)
		if err != nil {
			return
		}
		if _, err := w.Write(data); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
