// Package db embeds the SQL schema so the server and the seeding tool
// can run migrations without shipping files next to the binary.
package db

import _ "embed"

//go:embed migrations/001_schema.sql
var Schema string
