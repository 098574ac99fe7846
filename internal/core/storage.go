package core

import (
	"fmt"

	"energycore/internal/config"
	"energycore/internal/infra/persistence/memory"
	"energycore/internal/infra/persistence/postgres"
	"energycore/internal/infra/persistence/sqlite"
	"energycore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = config.StorageMemory   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = config.StorageSQLite   // embedded sqlite file
	StoragePostgres StorageDriver = config.StoragePostgres // PostgreSQL server
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// OpenPersistentStore selects a backend from the configuration. Defaults to
// sqlite when the driver is unset.
//
//	ENERGYCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	ENERGYCORE_SQLITE_PATH: path to sqlite file (default ./energycore.db)
//	ENERGYCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(cfg config.Config) (PersistentStore, error) {
	driver := StorageDriver(cfg.StorageDriver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case StoragePostgres:
		return postgres.NewStore(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
