// Package migrations embeds the schema migrations for every supported SQL
// dialect. Each dialect lives in its own directory.
package migrations

import "embed"

// FS holds the postgres/ and sqlite/ migration directories.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
