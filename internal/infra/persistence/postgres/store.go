// Package postgres provides the Postgres-backed persistent store, applying
// the result-store DDL on startup.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"energycore/internal/infra/persistence/sqlbundle"
	"energycore/internal/infra/persistence/sqlstore"
	"energycore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/energycore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
	// pgtype.Map is not safe for concurrent use.
	typeMaps = sync.Pool{New: func() any { return pgtype.NewMap() }}
)

type floatArray struct {
	dst *[]float64
}

// Scan decodes a DOUBLE PRECISION[] column through pgtype.
func (f floatArray) Scan(src any) error {
	m := typeMaps.Get().(*pgtype.Map)
	defer typeMaps.Put(m)
	return m.SQLScanner(f.dst).Scan(src)
}

// Dialect is the Postgres column encoding: "$n" placeholders, native
// DOUBLE PRECISION[] sequences, JSONB documents, and TIMESTAMPTZ.
var Dialect = sqlstore.Dialect{
	Name:        "postgres",
	Placeholder: sqlstore.DollarPlaceholder,
	Floats:      func(values []float64) any { return values },
	ScanFloats:  func(dst *[]float64) any { return floatArray{dst: dst} },
	JSON:        func(raw []byte) any { return string(raw) },
	Time:        func(t time.Time) any { return t.UTC() },
}

// Store persists simulations, datasets, and cached results to Postgres.
type Store struct {
	*sqlstore.Store
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN)
// and applies the result-store DDL.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := sqlstore.New(db, Dialect)
	if err := store.Migrate(ctx, sqlbundle.Postgres()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: store}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
