package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreInsertAndForSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	start := time.Now().Add(-time.Minute)
	rec := Record{
		SessionID:         "sess-1",
		Operation:         OperationCopy,
		SourceFingerprint: "src-fp",
		DestFingerprint:   "dst-fp",
		Destination:       "usb",
		Outcome:           "done",
		BytesTransferred:  4096,
		FileCount:         3,
		StartedAt:         start,
		FinishedAt:        start.Add(30 * time.Second),
	}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	other := rec
	other.SessionID = "sess-2"
	if err := s.Insert(ctx, other); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.ForSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ForSession: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ForSession returned %d records, want 1", len(got))
	}
	if got[0].Outcome != "done" || got[0].BytesTransferred != 4096 {
		t.Fatalf("unexpected record: %+v", got[0])
	}
}

func TestStoreRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := Record{
			SessionID:   "sess",
			Operation:   OperationWipe,
			Destination: "usb",
			Outcome:     "done",
			StartedAt:   time.Now().Add(time.Duration(i) * time.Second),
			FinishedAt:  time.Now().Add(time.Duration(i)*time.Second + time.Second),
		}
		if err := s.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d records, want 3", len(got))
	}
}
