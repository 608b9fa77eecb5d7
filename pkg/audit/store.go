package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Driver selects the audit store's backing database.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config holds the audit store's connection parameters, decoded from
// pkg/config.AuditConfig.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver Driver
	// DSN is the SQLite file path, or a libpq-style PostgreSQL connection
	// string ("host=... port=... user=... password=... dbname=... sslmode=...").
	DSN string
	// RunMigrations runs the embedded golang-migrate migration set against
	// a PostgreSQL DSN before GORM connects. Ignored for SQLite, where
	// AutoMigrate alone is sufficient (no concurrent-instance advisory lock
	// concern: the audit db is owned by one front-end process).
	RunMigrations bool
}

// Store is the audit trail's GORM-backed persistence layer. Supports both
// SQLite (single-node default) and PostgreSQL (shared audit trail across
// several front-end instances), selected by dialector at open time.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and ensures the Record table
// exists, creating the SQLite file's parent directory if needed.
func Open(cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o750); err != nil {
			return nil, fmt.Errorf("audit: create database directory: %w", err)
		}
		dsn := cfg.DSN + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		if cfg.RunMigrations {
			if err := runMigrations(cfg.DSN); err != nil {
				return nil, fmt.Errorf("audit: migrate: %w", err)
			}
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Insert persists one completed operation's record.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

// ForSession returns every record for the given session id, most recent
// first, for the admin surface's per-session history view.
func (s *Store) ForSession(ctx context.Context, sessionID string) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("started_at DESC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("audit: query session %s: %w", sessionID, err)
	}
	return records, nil
}

// Recent returns the most recent limit records across every session, for
// the admin surface's global activity feed.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []Record
	if err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	return records, nil
}
