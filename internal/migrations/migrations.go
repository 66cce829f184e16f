// Package migrations embeds the account schema migrations.
package migrations

import "embed"

// FS holds the numbered migration files. Only *.up.sql files are applied.
//
//go:embed *.sql
var FS embed.FS
