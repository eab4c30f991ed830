package migrations

import "embed"

// FS contains embedded SQLite migrations for the event and snapshot tables.
//
//go:embed *.sql
var FS embed.FS
