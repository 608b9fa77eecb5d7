package apiclient

import (
	"bufio"
	"encoding/json"
)

// Device is the client-visible shape of one entry in ListDevices, mirroring
// device.Descriptor's JSON fields without importing the server-side
// package.
type Device struct {
	Dev     DevicePayload `json:"dev"`
	ID      string        `json:"id"`
	IsSrc   bool          `json:"is_src"`
	IsDst   bool          `json:"is_dst"`
	DevType string        `json:"dev_type"`
}

// DevicePayload keys the kind-specific descriptor payload by its kind tag.
type DevicePayload struct {
	Usb *USBPayload    `json:"Usb,omitempty"`
	Net *TargetPayload `json:"Net,omitempty"`
	Cmd *TargetPayload `json:"Cmd,omitempty"`
}

// USBPayload mirrors device.USBDescriptor.
type USBPayload struct {
	VendorID     uint16 `json:"vendorid"`
	ProductID    uint16 `json:"productid"`
	Manufacturer string `json:"manufacturer"`
	Serial       string `json:"serial"`
	Description  string `json:"description"`
	IsSrc        bool   `json:"is_src"`
	IsDst        bool   `json:"is_dst"`
}

// TargetPayload mirrors device.NetDescriptor/CmdDescriptor.
type TargetPayload struct {
	Description     string `json:"description"`
	LongDescription string `json:"long_description"`
}

// Description renders a human-readable label for any device kind.
func (d Device) Description() string {
	switch {
	case d.Dev.Usb != nil:
		return d.Dev.Usb.Description
	case d.Dev.Net != nil:
		return d.Dev.Net.Description
	case d.Dev.Cmd != nil:
		return d.Dev.Cmd.Description
	}
	return ""
}

// Partition mirrors device.Partition's JSON fields.
type Partition struct {
	Index       int    `json:"index"`
	SizeBytes   uint64 `json:"size_bytes"`
	StartOffset uint64 `json:"start_offset"`
	TypeCode    uint32 `json:"type_code"`
	TypeString  string `json:"type_string"`
	Name        string `json:"name,omitempty"`
}

// Entry mirrors session.TokenizedEntry's JSON fields. FType follows
// device.FileType: 0 regular, 1 directory, 2 other.
type Entry struct {
	Token     string `json:"token"`
	FType     int32  `json:"ftype"`
	Size      uint64 `json:"size"`
	Timestamp int64  `json:"timestamp"`
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.FType == 1 }

// ProgressMessage mirrors one line of the copy/wipe/imgdisk ndjson stream.
type ProgressMessage struct {
	Status       string   `json:"status"`
	Progress     *float64 `json:"progress,omitempty"`
	Size         *uint64  `json:"size,omitempty"`
	FilteredPath []string `json:"filtered_path,omitempty"`
	DirtyPath    []string `json:"dirty_path,omitempty"`
	ErrorPath    []string `json:"error_path,omitempty"`
	Msg          string   `json:"msg,omitempty"`
}

// CreateSession spawns a fresh worker pipeline and returns a client scoped
// to it.
func (c *Client) CreateSession() (*Client, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do("POST", "/api/v1/sessions", nil, &out); err != nil {
		return nil, err
	}
	return c.WithSession(out.SessionID), nil
}

// ListDevices lists every known source/destination device.
func (c *Client) ListDevices() ([]Device, error) {
	var out []Device
	err := c.do("GET", c.sessionPath("/devices"), nil, &out)
	return out, err
}

// SelectDevice selects the source and destination devices by fingerprint.
func (c *Client) SelectDevice(srcFingerprint, dstFingerprint string) error {
	body := map[string]string{"src_fingerprint": srcFingerprint, "dst_fingerprint": dstFingerprint}
	return c.do("POST", c.sessionPath("/select"), body, nil)
}

// Partitions lists the selected source device's partitions.
func (c *Client) Partitions() ([]Partition, error) {
	var out []Partition
	err := c.do("GET", c.sessionPath("/partitions"), nil, &out)
	return out, err
}

// OpenPartition opens the partition at index for browsing/selection.
func (c *Client) OpenPartition(index int) error {
	return c.do("POST", c.sessionPath("/partitions/open"), map[string]int{"index": index}, nil)
}

// ReadDir lists the entries under the directory parentToken names, or the
// partition root when parentToken is empty.
func (c *Client) ReadDir(parentToken string) ([]Entry, error) {
	path := c.sessionPath("/dir")
	if parentToken != "" {
		path += "?token=" + parentToken
	}
	var out []Entry
	err := c.do("GET", path, nil, &out)
	return out, err
}

// Copy starts a transfer of the given tokens to the selected destination
// and streams progress messages on the returned channel until it closes.
// fsFormat only matters for a USB destination.
func (c *Client) Copy(tokens []string, fsFormat string) (<-chan ProgressMessage, error) {
	body := map[string]any{"tokens": tokens, "fs_format": fsFormat}
	return c.streamProgress("POST", c.sessionPath("/copy"), body)
}

// Wipe securely erases the destination device and rebuilds an empty
// filesystem of fsFormat on it.
func (c *Client) Wipe(fingerprint, fsFormat string, quick bool) (<-chan ProgressMessage, error) {
	body := map[string]any{"fingerprint": fingerprint, "fs_format": fsFormat, "quick": quick}
	return c.streamProgress("POST", c.sessionPath("/wipe"), body)
}

// ImageDisk dumps the selected source device's raw sectors to the staging
// fs path and onto the destination.
func (c *Client) ImageDisk(fingerprint string) (<-chan ProgressMessage, error) {
	body := map[string]any{"fingerprint": fingerprint}
	return c.streamProgress("POST", c.sessionPath("/imgdisk"), body)
}

// Reset tears down and respawns this session's worker pipeline, returning a
// client scoped to the fresh session id.
func (c *Client) Reset() (*Client, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do("POST", c.sessionPath("/reset"), nil, &out); err != nil {
		return nil, err
	}
	return c.WithSession(out.SessionID), nil
}

func (c *Client) streamProgress(method, path string, body any) (<-chan ProgressMessage, error) {
	rc, err := c.doStream(method, path, body)
	if err != nil {
		return nil, err
	}

	ch := make(chan ProgressMessage, 8)
	go func() {
		defer rc.Close()
		defer close(ch)
		scanner := bufio.NewScanner(rc)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			var msg ProgressMessage
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue
			}
			ch <- msg
		}
	}()
	return ch, nil
}
