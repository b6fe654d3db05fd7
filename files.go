package iamclient

import "embed"

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS exposes the embedded schema migrations so the host
// application can register them with its own migrator.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
