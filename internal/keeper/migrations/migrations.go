// Package migrations embeds the goose SQL migrations for the two embedded
// databases: the packets dataset and the API-keys dataset.
package migrations

import "embed"

// Migrations holds one subdirectory per dataset ("packets", "keys").
//
//go:embed packets/*.sql keys/*.sql
var Migrations embed.FS
