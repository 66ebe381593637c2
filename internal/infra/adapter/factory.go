// Package adapter selects a persistence adapter from process environment.
package adapter

import (
	"fmt"
	"os"

	"recordcore/internal/infra/adapter/memory"
	"recordcore/internal/infra/adapter/postgres"
	"recordcore/internal/infra/adapter/sqlite"
	"recordcore/pkg/domain"
)

// Open selects an adapter using environment variables.
//
//	RECORDCORE_PERSISTENCE_DRIVER: memory|sqlite|postgres (default memory)
//	RECORDCORE_SQLITE_PATH: database path when driver=sqlite (default recordcore.db)
//	RECORDCORE_POSTGRES_DSN: connection string when driver=postgres
func Open() (domain.Adapter, error) {
	driver := os.Getenv("RECORDCORE_PERSISTENCE_DRIVER")
	if driver == "" {
		driver = "memory"
	}
	switch driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(os.Getenv("RECORDCORE_SQLITE_PATH"))
	case "postgres":
		return postgres.New(os.Getenv("RECORDCORE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown persistence driver %s", driver)
	}
}
