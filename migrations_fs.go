package reverify

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the run, directory and rate limit schema, with the
// sqlite dialect variants under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the full embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
