// Package db carries the embedded goose migrations so the binary can apply
// them regardless of working directory.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
