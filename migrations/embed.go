// Package migrations embeds the billing schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
