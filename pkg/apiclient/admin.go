package apiclient

import (
	"strconv"
	"time"
)

// SessionSummary mirrors session.Summary's JSON fields.
type SessionSummary struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditRecord mirrors audit.Record's JSON fields.
type AuditRecord struct {
	SessionID         string    `json:"session_id"`
	Operation         string    `json:"operation"`
	SourceFingerprint string    `json:"source_fingerprint,omitempty"`
	DestFingerprint   string    `json:"dest_fingerprint,omitempty"`
	Destination       string    `json:"destination"`
	Outcome           string    `json:"outcome"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	BytesTransferred  uint64    `json:"bytes_transferred"`
	FileCount         int       `json:"file_count"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// ListSessions returns every session the front-end currently tracks,
// requiring an admin token (see WithAdminToken).
func (c *Client) ListSessions() ([]SessionSummary, error) {
	var out []SessionSummary
	err := c.do("GET", "/api/v1/admin/sessions", nil, &out)
	return out, err
}

// TerminateSession force-tears-down the named session.
func (c *Client) TerminateSession(sessionID string) error {
	return c.do("DELETE", "/api/v1/admin/sessions/"+sessionID, nil, nil)
}

// SessionHistory returns the persisted audit trail for sessionID, including
// sessions whose worker pipeline has already torn down.
func (c *Client) SessionHistory(sessionID string) ([]AuditRecord, error) {
	var out []AuditRecord
	err := c.do("GET", "/api/v1/admin/sessions/"+sessionID+"/history", nil, &out)
	return out, err
}

// RecentActivity returns the limit most recent audit records across every
// session.
func (c *Client) RecentActivity(limit int) ([]AuditRecord, error) {
	var out []AuditRecord
	path := "/api/v1/admin/activity"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.do("GET", path, nil, &out)
	return out, err
}
