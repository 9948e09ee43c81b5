// Package db provides the embedded schema of the transactions table.
package db

import _ "embed"

// Schema contains the DDL statements applied when the table sink starts.
//
//go:embed migrations/001_schema.sql
var Schema string
