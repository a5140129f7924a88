// Package migrations embeds the per-tenant billing schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
