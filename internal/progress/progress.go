// Package progress implements the streaming progress channel a front-end
// session hands to an HTTP client: a queue of JSON messages, a done flag,
// and a single parked-waiter slot.
package progress

import (
	"encoding/json"
	"sync"
)

// Waypoint names a point in the transfer the orchestrator has reached. Its
// string value doubles as the wire "status" field for ordinary progress
// messages.
type Waypoint string

const (
	WaypointCopyStart     Waypoint = "copy_start"
	WaypointUsbReadAttrs  Waypoint = "copy_usb_read_attrs"
	WaypointUsbFilter     Waypoint = "copy_usb_filter"
	WaypointUsbTarStart   Waypoint = "copy_usb_tar_start"
	WaypointUsbTarUpdate  Waypoint = "copy_usb_tar_update"
	WaypointAnalyzing     Waypoint = "analyzing"
	WaypointAnalyzeUpdate Waypoint = "analyze_update"
	WaypointFromTarToFS   Waypoint = "copy_fromtar_tofs"
	WaypointFromTarUpdate Waypoint = "copy_fromtar_update"
	WaypointFS2DevStart   Waypoint = "copy_fs2dev_start"
	WaypointUploadStart   Waypoint = "copy_upload_start"
	WaypointCmdStart      Waypoint = "copy_cmd_start"
	WaypointFinalUpdate   Waypoint = "copy_final_update"
	WaypointTerminate     Waypoint = "terminate"
	WaypointWipeStart     Waypoint = "wipe_start"
	WaypointWipeEnd       Waypoint = "wipe_end"
	WaypointImgDiskStart  Waypoint = "imgdisk_start"
	WaypointImgDiskEnd    Waypoint = "imgdisk_end"
)

// flatWeights holds the fixed-weight waypoints (entered once, contribute
// their full weight immediately). Proportional waypoints (usb_tar_update,
// analyze_update, fromtar_update, final_update) instead scale their weight
// by a caller-supplied fraction via Push.
var flatWeights = map[Waypoint]int{
	WaypointUsbReadAttrs: 1,
	WaypointUsbFilter:    1,
	WaypointUsbTarStart:  1,
	WaypointFS2DevStart:  30,
	WaypointUploadStart:  30,
	WaypointCmdStart:     30,
	WaypointTerminate:    30,
}

var proportionalWeights = map[Waypoint]int{
	WaypointUsbTarUpdate:  30,
	WaypointAnalyzeUpdate: 5,
	WaypointFromTarUpdate: 30,
	WaypointFinalUpdate:   30,
}

// message is the single wire shape every status line takes. omitempty
// keeps each concrete message down to the fields its status actually
// carries; the path slices are forced non-nil so they marshal as "[]"
// rather than "null" — clients index into them without a null check.
type message struct {
	Status       string   `json:"status"`
	Progress     *float64 `json:"progress,omitempty"`
	Size         *uint64  `json:"size,omitempty"`
	FilteredPath []string `json:"filtered_path,omitempty"`
	DirtyPath    []string `json:"dirty_path,omitempty"`
	ErrorPath    []string `json:"error_path,omitempty"`
	CurrentSize  *uint64  `json:"current_size,omitempty"`
	TotalSize    *uint64  `json:"total_size,omitempty"`
	Msg          string   `json:"msg,omitempty"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func u64p(v uint64) *uint64   { return &v }
func f64p(v float64) *float64 { return &v }

// Channel is a single-producer, single-consumer streaming progress channel.
// The producer (orchestrator driver) calls the Push* methods as waypoints
// are reached or a domain/fatal status is reached; the consumer (the HTTP
// handler serving the progress stream) calls Next, which either returns
// buffered messages immediately or parks until more arrive or the channel
// is marked Done.
type Channel struct {
	mu       sync.Mutex
	queue    [][]byte
	done     bool
	percent  int
	waiterCh chan struct{} // non-nil while a waiter is parked
}

// NewChannel returns an empty, not-done progress channel.
func NewChannel() *Channel {
	return &Channel{}
}

// Push appends a waypoint to the channel, computing its contribution to the
// overall progress counter. frac is used only for proportional waypoints
// and should be in [0,1]; it is ignored for flat waypoints. The wire
// message is {"status": "<waypoint>", "progress": <running total>}.
func (c *Channel) Push(wp Waypoint, frac float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := flatWeights[wp]; ok {
		c.percent += w
	} else if w, ok := proportionalWeights[wp]; ok {
		c.percent = clampPercent(c.percent + int(float64(w)*frac))
	}
	if c.percent > 100 {
		c.percent = 100
	}

	c.enqueue(message{Status: string(wp), Progress: f64p(float64(c.percent))})
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// PushNotEnoughSpace reports the destination capacity check failure:
// {"status": "copy_not_enough_space", "size": N}.
func (c *Channel) PushNotEnoughSpace(maxSize uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueue(message{Status: "copy_not_enough_space", Size: u64p(maxSize)})
}

// PushNothingToCopy reports that every selected path was rejected by the
// filter or the analyzer, before any destination write: {"status":
// "nothing_to_copy", "filtered_path": [...], "dirty_path": [...],
// "error_path": []}.
func (c *Channel) PushNothingToCopy(filteredPath, dirtyPath []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueue(message{
		Status:       "nothing_to_copy",
		FilteredPath: nonNil(filteredPath),
		DirtyPath:    nonNil(dirtyPath),
		ErrorPath:    nonNil(nil),
	})
}

// PushFinalReport reports the completed transfer's outcome, mirroring
// CopyDone{error_path, filtered_path, dirty_path}: {"status":
// "final_report", "error_path": [...], "filtered_path": [...], "dirty_path":
// [...]}.
func (c *Channel) PushFinalReport(errorPath, filteredPath, dirtyPath []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueue(message{
		Status:       "final_report",
		ErrorPath:    nonNil(errorPath),
		FilteredPath: nonNil(filteredPath),
		DirtyPath:    nonNil(dirtyPath),
	})
}

// PushWipeStatus reports in-progress secure-overwrite byte counts:
// {"status": "wipe_status", "current_size": N, "total_size": M}.
func (c *Channel) PushWipeStatus(current, total uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueue(message{Status: "wipe_status", CurrentSize: u64p(current), TotalSize: u64p(total)})
}

// PushFormatStatus reports in-progress filesystem-build byte counts:
// {"status": "format_status", "current_size": N, "total_size": M}.
func (c *Channel) PushFormatStatus(current, total uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueue(message{Status: "format_status", CurrentSize: u64p(current), TotalSize: u64p(total)})
}

// PushImgDiskUpdate reports in-progress raw disk imaging byte counts:
// {"status": "imgdisk_update", "current_size": N, "total_size": M}.
func (c *Channel) PushImgDiskUpdate(current, total uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueue(message{Status: "imgdisk_update", CurrentSize: u64p(current), TotalSize: u64p(total)})
}

// PushFatalError reports an unrecoverable failure and immediately closes the
// stream: {"status": "fatal_error", "msg": "..."} followed by
// end-of-stream; only a reset recovers the session afterwards.
func (c *Channel) PushFatalError(msg string) {
	c.mu.Lock()
	c.enqueue(message{Status: "fatal_error", Msg: msg})
	c.done = true
	c.wake()
	c.mu.Unlock()
}

// enqueue must be called with mu held.
func (c *Channel) enqueue(m message) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	c.queue = append(c.queue, data)
	c.wake()
}

// Close marks the channel done; once the queue drains, Next returns
// ok=false.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = true
	c.wake()
}

// wake must be called with mu held.
func (c *Channel) wake() {
	if c.waiterCh != nil {
		close(c.waiterCh)
		c.waiterCh = nil
	}
}

// Next drains all currently queued messages as one batch. If the queue is
// empty and the channel is not done, it blocks until messages arrive or the
// channel closes. Returns ok=false once the queue is empty and the channel
// is done — there is nothing left to deliver.
func (c *Channel) Next() (batch [][]byte, ok bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			batch = c.queue
			c.queue = nil
			c.mu.Unlock()
			return batch, true
		}
		if c.done {
			c.mu.Unlock()
			return nil, false
		}
		if c.waiterCh == nil {
			c.waiterCh = make(chan struct{})
		}
		wait := c.waiterCh
		c.mu.Unlock()
		<-wait
	}
}

// MarshalBatch joins a batch of already-encoded JSON messages as CRLF
// separated lines, the stream's wire shape.
func MarshalBatch(batch [][]byte) ([]byte, error) {
	var out []byte
	for _, line := range batch {
		out = append(out, line...)
		out = append(out, '\r', '\n')
	}
	return out, nil
}
