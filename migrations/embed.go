// Package migrations carries the PostgreSQL schema applied by lanectl migrate
// and by the store integration tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
