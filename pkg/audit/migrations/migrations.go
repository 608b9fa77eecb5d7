// Package migrations embeds the audit store's PostgreSQL schema, applied by
// golang-migrate before GORM's AutoMigrate connects (see ../migrate.go).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
