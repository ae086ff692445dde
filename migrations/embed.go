// Package migrations embeds the Postgres schema so the server can apply it at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
