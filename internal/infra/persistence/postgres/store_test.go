package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"energycore/internal/infra/persistence/sqlbundle"
	"energycore/internal/infra/persistence/storetest"
	"energycore/pkg/domain"
)

// recordingDriver accepts every statement and remembers what was executed.
type recordingDriver struct {
	mu      sync.Mutex
	execs   []string
	pingErr error
}

func (d *recordingDriver) Open(string) (driver.Conn, error) { return &recordingConn{d: d}, nil }

func (d *recordingDriver) statements() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.execs...)
}

type recordingConn struct{ d *recordingDriver }

func (c *recordingConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}
func (c *recordingConn) Close() error              { return nil }
func (c *recordingConn) Begin() (driver.Tx, error) { return nil, errors.New("tx not supported") }

func (c *recordingConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.d.mu.Lock()
	c.d.execs = append(c.d.execs, query)
	c.d.mu.Unlock()
	return driver.RowsAffected(0), nil
}

func (c *recordingConn) Ping(context.Context) error { return c.d.pingErr }

var registerOnce sync.Once

var drivers = struct {
	sync.Mutex
	byName map[string]*recordingDriver
}{byName: map[string]*recordingDriver{}}

// routingDriver dispatches to a per-test recordingDriver keyed by DSN.
type routingDriver struct{}

func (routingDriver) Open(name string) (driver.Conn, error) {
	drivers.Lock()
	d := drivers.byName[name]
	drivers.Unlock()
	if d == nil {
		return nil, errors.New("unknown recording dsn " + name)
	}
	return d.Open(name)
}

func openRecording(t *testing.T, d *recordingDriver) func() {
	t.Helper()
	registerOnce.Do(func() { sql.Register("energycore-recording", routingDriver{}) })
	drivers.Lock()
	drivers.byName[t.Name()] = d
	drivers.Unlock()
	return OverrideSQLOpen(func(_, _ string) (*sql.DB, error) {
		return sql.Open("energycore-recording", t.Name())
	})
}

func TestNewStoreAppliesResultStoreDDL(t *testing.T) {
	rec := &recordingDriver{}
	restore := openRecording(t, rec)
	defer restore()

	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer func() { _ = store.Close() }()

	expected := sqlbundle.SplitStatements(sqlbundle.Postgres())
	got := rec.statements()
	if len(got) != len(expected) {
		t.Fatalf("expected %d DDL statements, got %d", len(expected), len(got))
	}
	for i, stmt := range expected {
		if strings.TrimSpace(got[i]) != strings.TrimSpace(stmt) {
			t.Fatalf("statement %d mismatch:\nwant: %s\ngot:  %s", i, stmt, got[i])
		}
	}
}

func TestNewStorePingFailure(t *testing.T) {
	rec := &recordingDriver{pingErr: errors.New("connection refused")}
	restore := openRecording(t, rec)
	defer restore()

	_, err := NewStore("postgres://example/none")
	if err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping failure, got %v", err)
	}
	if len(rec.statements()) != 0 {
		t.Fatalf("DDL must not run after a failed ping")
	}
}

func TestNewStoreOpenFailure(t *testing.T) {
	boom := errors.New("boom")
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, boom })
	defer restore()
	if _, err := NewStore("postgres://example/none"); !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestDialectRebind(t *testing.T) {
	got := Dialect.Rebind(`SELECT 1 FROM results WHERE simulation_id = ? AND name = ?`)
	if got != `SELECT 1 FROM results WHERE simulation_id = $1 AND name = $2` {
		t.Fatalf("unexpected rebind: %s", got)
	}
}

func TestFloatArrayScan(t *testing.T) {
	var got []float64
	if err := (floatArray{dst: &got}).Scan("{1.5,2,-3}"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 3 || got[0] != 1.5 || got[2] != -3 {
		t.Fatalf("unexpected values %v", got)
	}
}

// TestStoreContractLive runs the shared contract against a real server when
// ENERGYCORE_TEST_POSTGRES_DSN points at a disposable database.
func TestStoreContractLive(t *testing.T) {
	dsn := os.Getenv("ENERGYCORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ENERGYCORE_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) domain.PersistentStore {
		store, err := NewStore(dsn)
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		for _, table := range []string{"results", "simulations", "datasets", "scalars", "sequences", "data_bundles"} {
			if _, err := store.DB().Exec(`DELETE FROM ` + table); err != nil {
				t.Fatalf("reset %s: %v", table, err)
			}
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}
