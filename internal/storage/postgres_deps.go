package storage

// Pins the pgx connection-string helpers as direct module dependencies. pgx
// consults them when a DSN points at a passfile or pg_service.conf, and the
// blank imports keep the go tool from demoting them to indirect requirements.
import (
	_ "github.com/jackc/pgpassfile"
	_ "github.com/jackc/pgservicefile"
)
