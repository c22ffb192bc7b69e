// Package migrations embeds the SQL migrations for the session cache database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
