// Package migrations embeds the versioned SQL schema for the local store.
// Upgrades migrate existing rows in place; the schema is never rebuilt from
// scratch on an existing device.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
