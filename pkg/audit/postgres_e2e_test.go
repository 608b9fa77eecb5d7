//go:build e2e

package audit

import (
	"context"
	"testing"
	"time"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// TestStorePostgresMigrateAndInsert exercises the PostgreSQL driver path,
// including the embedded golang-migrate migration set, against a real
// container. Gated behind the "e2e" build tag since it needs a live
// Docker daemon.
func TestStorePostgresMigrateAndInsert(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("usbsas_audit"),
		tcpostgres.WithUsername("usbsas"),
		tcpostgres.WithPassword("usbsas"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	s, err := Open(Config{Driver: DriverPostgres, DSN: dsn, RunMigrations: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	start := time.Now()
	rec := Record{
		SessionID:   "sess-pg",
		Operation:   OperationCopy,
		Destination: "usb",
		Outcome:     "done",
		StartedAt:   start,
		FinishedAt:  start.Add(time.Second),
	}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.ForSession(ctx, "sess-pg")
	if err != nil {
		t.Fatalf("ForSession: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ForSession returned %d records, want 1", len(got))
	}
}
