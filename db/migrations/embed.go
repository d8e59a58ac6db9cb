// Package dbmigrations exposes embedded SQL migrations for stresslab binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into stresslab binaries.
//
//go:embed *.sql
var Files embed.FS
