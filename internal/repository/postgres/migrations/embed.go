// Package migrations embeds the discount schema migration files.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
