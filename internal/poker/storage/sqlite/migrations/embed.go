package migrations

import "embed"

// FS contains embedded SQLite migrations for poker storage.
//
//go:embed *.sql
var FS embed.FS
