// Package migrations embeds the ordered schema migration files.
//
// Migrations are additive only: they create tables, indexes and columns or
// backfill defaults, never drop user data. Every statement carries an
// IF NOT EXISTS guard so a step interrupted mid-apply can run again without
// corrupting state.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
