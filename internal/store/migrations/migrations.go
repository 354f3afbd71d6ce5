// Package migrations embeds the drift.db schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
