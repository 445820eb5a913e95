// Package migrations embeds the forward-only SQL migration set for the
// Postgres memory store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
