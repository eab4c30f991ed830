package migrations

import "embed"

// FS contains embedded Postgres migrations for the event and snapshot tables.
//
//go:embed *.sql
var FS embed.FS
