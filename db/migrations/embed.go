// Package dbmigrations exposes embedded SQL migrations for marketplace binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into marketplace binaries.
//
//go:embed *.sql
var Files embed.FS
