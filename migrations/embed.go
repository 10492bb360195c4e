package migrations

import "embed"

// FS embeds the SQL migrations applied by feectl migrate.
//
//go:embed *.sql
var FS embed.FS
