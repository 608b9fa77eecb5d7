package progress

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func decodeBatch(t *testing.T, batch [][]byte) []map[string]any {
	t.Helper()
	out := make([]map[string]any, 0, len(batch))
	for _, raw := range batch {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("batch line %q: %v", raw, err)
		}
		out = append(out, m)
	}
	return out
}

func TestPushAccumulatesProgress(t *testing.T) {
	c := NewChannel()
	c.Push(WaypointCopyStart, 0)     // +0
	c.Push(WaypointUsbReadAttrs, 0)  // +1
	c.Push(WaypointUsbFilter, 0)     // +1
	c.Push(WaypointUsbTarStart, 0)   // +1
	c.Push(WaypointUsbTarUpdate, .5) // +15 of 30

	batch, ok := c.Next()
	if !ok {
		t.Fatal("Next returned done")
	}
	msgs := decodeBatch(t, batch)
	if len(msgs) != 5 {
		t.Fatalf("got %d messages", len(msgs))
	}
	last := msgs[4]
	if last["status"] != "copy_usb_tar_update" {
		t.Errorf("status = %v", last["status"])
	}
	if got := last["progress"].(float64); got != 18 {
		t.Errorf("progress = %v, want 18", got)
	}
}

func TestNotEnoughSpaceMessageShape(t *testing.T) {
	c := NewChannel()
	c.PushNotEnoughSpace(1 << 30)
	batch, _ := c.Next()
	msgs := decodeBatch(t, batch)
	if msgs[0]["status"] != "copy_not_enough_space" {
		t.Fatalf("status = %v", msgs[0]["status"])
	}
	if msgs[0]["size"].(float64) != float64(1<<30) {
		t.Fatalf("size = %v", msgs[0]["size"])
	}
}

func TestNothingToCopyForcesEmptyArrays(t *testing.T) {
	c := NewChannel()
	c.PushNothingToCopy([]string{"/b.exe"}, nil)
	batch, _ := c.Next()

	line := string(batch[0])
	if !strings.Contains(line, `"dirty_path":[]`) {
		t.Errorf("dirty_path not an empty array: %s", line)
	}
	if !strings.Contains(line, `"error_path":[]`) {
		t.Errorf("error_path not an empty array: %s", line)
	}
	if !strings.Contains(line, `"filtered_path":["/b.exe"]`) {
		t.Errorf("filtered_path missing: %s", line)
	}
}

func TestFinalReportShape(t *testing.T) {
	c := NewChannel()
	c.PushFinalReport([]string{"/err"}, nil, []string{"/b.txt"})
	batch, _ := c.Next()
	line := string(batch[0])
	for _, want := range []string{`"status":"final_report"`, `"error_path":["/err"]`, `"filtered_path":[]`, `"dirty_path":["/b.txt"]`} {
		if !strings.Contains(line, want) {
			t.Errorf("final_report missing %s: %s", want, line)
		}
	}
}

func TestFatalErrorClosesStream(t *testing.T) {
	c := NewChannel()
	c.PushFatalError("worker dropped")

	batch, ok := c.Next()
	if !ok {
		t.Fatal("fatal message lost")
	}
	msgs := decodeBatch(t, batch)
	if msgs[0]["status"] != "fatal_error" || msgs[0]["msg"] != "worker dropped" {
		t.Fatalf("message = %v", msgs[0])
	}
	if _, ok := c.Next(); ok {
		t.Fatal("stream still open after fatal_error")
	}
}

func TestNextParksUntilPush(t *testing.T) {
	c := NewChannel()
	got := make(chan [][]byte, 1)
	go func() {
		batch, _ := c.Next()
		got <- batch
	}()

	time.Sleep(20 * time.Millisecond)
	c.Push(WaypointWipeStart, 0)

	select {
	case batch := <-got:
		if len(batch) != 1 {
			t.Fatalf("batch of %d", len(batch))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("parked reader never woke")
	}
}

func TestNextReturnsDoneAfterClose(t *testing.T) {
	c := NewChannel()
	c.Close()
	if _, ok := c.Next(); ok {
		t.Fatal("closed empty channel reported messages")
	}
}

func TestMarshalBatchCRLF(t *testing.T) {
	out, err := MarshalBatch([][]byte{[]byte(`{"a":1}`), []byte(`{"b":2}`)})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "{\"a\":1}\r\n{\"b\":2}\r\n" {
		t.Fatalf("out = %q", out)
	}
}
