// Package migrations embeds the SQL schema for generation runs and transcript
// chunks so the server and recastctl can apply it from any working directory.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in name order.
//
//go:embed *.sql
var FS embed.FS
