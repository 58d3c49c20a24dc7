// Package migrations embeds the goose SQL migrations applied on store open.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
