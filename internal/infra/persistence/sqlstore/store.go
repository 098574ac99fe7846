// Package sqlstore implements domain.PersistentStore on database/sql with a
// relational schema. The sqlite and postgres packages supply the connection
// and a Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"energycore/internal/infra/persistence/sqlbundle"
	"energycore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store runs domain transactions against a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	nowFn   func() time.Time
}

// New wraps an open database. The schema is not applied; call Migrate.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		nowFn:   func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Migrate executes every statement of the DDL script.
func (s *Store) Migrate(ctx context.Context, ddl string) error {
	for _, stmt := range sqlbundle.SplitStatements(ddl) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// SetNowFunc overrides the clock used to stamp new rows.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// RunInTransaction executes fn inside a database transaction, committing
// only when fn returns nil.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (retErr error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s transaction: %w", s.dialect.Name, err)
	}
	defer func() {
		if retErr != nil {
			_ = sqlTx.Rollback()
		}
	}()
	if err := fn(&transaction{view: view{ctx: ctx, tx: sqlTx, d: s.dialect}, now: s.nowFn()}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit %s transaction: %w", s.dialect.Name, err)
	}
	return nil
}

// View executes fn inside a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s view: %w", s.dialect.Name, err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(view{ctx: ctx, tx: sqlTx, d: s.dialect})
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

type view struct {
	ctx context.Context
	tx  *sql.Tx
	d   Dialect
}

func (v view) query(q string, args ...any) (*sql.Rows, error) {
	return v.tx.QueryContext(v.ctx, v.d.Rebind(q), args...)
}

func (v view) queryRow(q string, args ...any) *sql.Row {
	return v.tx.QueryRowContext(v.ctx, v.d.Rebind(q), args...)
}

func (v view) exec(q string, args ...any) (sql.Result, error) {
	return v.tx.ExecContext(v.ctx, v.d.Rebind(q), args...)
}

const simulationColumns = `id, scenario, parameters, parameters_key, dataset_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (v view) scanSimulation(row rowScanner) (domain.Simulation, error) {
	var (
		sim       domain.Simulation
		rawParams []byte
		datasetID sql.NullInt64
	)
	if err := row.Scan(&sim.ID, &sim.Scenario, &rawParams, &sim.ParametersKey, &datasetID, Timestamp{Dst: &sim.CreatedAt}); err != nil {
		return domain.Simulation{}, err
	}
	params, err := domain.ParseParameters(string(rawParams))
	if err != nil {
		return domain.Simulation{}, err
	}
	sim.Parameters = params
	if datasetID.Valid {
		id := datasetID.Int64
		sim.DatasetID = &id
	}
	return sim, nil
}

func (v view) GetSimulation(id int64) (domain.Simulation, bool, error) {
	sim, err := v.scanSimulation(v.queryRow(`SELECT `+simulationColumns+` FROM simulations WHERE id = ?`, id))
	return found(sim, err, "get simulation")
}

func (v view) FindSimulation(scenario, parametersKey string) (domain.Simulation, bool, error) {
	sim, err := v.scanSimulation(v.queryRow(`SELECT `+simulationColumns+` FROM simulations WHERE scenario = ? AND parameters_key = ?`, scenario, parametersKey))
	return found(sim, err, "find simulation")
}

func (v view) ListSimulations(scenario string) ([]domain.Simulation, error) {
	q := `SELECT ` + simulationColumns + ` FROM simulations`
	var args []any
	if scenario != "" {
		q += ` WHERE scenario = ?`
		args = append(args, scenario)
	}
	rows, err := v.query(q+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list simulations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Simulation
	for rows.Next() {
		sim, err := v.scanSimulation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan simulation: %w", err)
		}
		out = append(out, sim)
	}
	return out, rows.Err()
}

func (v view) GetDataset(id int64) (domain.Dataset, bool, error) {
	ds := domain.Dataset{ID: id}
	err := v.queryRow(`SELECT input_id, result_id FROM datasets WHERE id = ?`, id).Scan(&ds.Input.ID, &ds.Result.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Dataset{}, false, nil
	}
	if err != nil {
		return domain.Dataset{}, false, fmt.Errorf("get dataset: %w", err)
	}
	if ds.Input, err = v.loadBundle(ds.Input.ID); err != nil {
		return domain.Dataset{}, false, err
	}
	if ds.Result, err = v.loadBundle(ds.Result.ID); err != nil {
		return domain.Dataset{}, false, err
	}
	return ds, true, nil
}

func (v view) loadBundle(id int64) (domain.DataBundle, error) {
	bundle := domain.DataBundle{ID: id}
	rows, err := v.query(`SELECT id, from_node, to_node, attribute, value, type FROM scalars WHERE bundle_id = ? ORDER BY id`, id)
	if err != nil {
		return bundle, fmt.Errorf("load scalars: %w", err)
	}
	for rows.Next() {
		var row domain.ScalarRow
		if err := rows.Scan(&row.ID, &row.FromNode, &row.ToNode, &row.Attribute, &row.Value, &row.Type); err != nil {
			_ = rows.Close()
			return bundle, fmt.Errorf("scan scalar: %w", err)
		}
		bundle.Scalars = append(bundle.Scalars, row)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return bundle, err
	}
	_ = rows.Close()

	rows, err = v.query(`SELECT id, from_node, to_node, attribute, value, type FROM sequences WHERE bundle_id = ? ORDER BY id`, id)
	if err != nil {
		return bundle, fmt.Errorf("load sequences: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			row domain.SequenceRow
			to  sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.FromNode, &to, &row.Attribute, v.d.ScanFloats(&row.Value), &row.Type); err != nil {
			return bundle, fmt.Errorf("scan sequence: %w", err)
		}
		if to.Valid {
			s := to.String
			row.ToNode = &s
		}
		bundle.Sequences = append(bundle.Sequences, row)
	}
	return bundle, rows.Err()
}

const resultColumns = `id, simulation_id, name, data_type, data, created_at`

func scanResult(row rowScanner) (domain.Result, error) {
	var res domain.Result
	var data []byte
	if err := row.Scan(&res.ID, &res.SimulationID, &res.Name, &res.DataType, &data, Timestamp{Dst: &res.CreatedAt}); err != nil {
		return domain.Result{}, err
	}
	res.Data = append([]byte(nil), data...)
	return res, nil
}

func (v view) FindResult(simulationID int64, name string) (domain.Result, bool, error) {
	res, err := scanResult(v.queryRow(`SELECT `+resultColumns+` FROM results WHERE simulation_id = ? AND name = ?`, simulationID, name))
	return found(res, err, "find result")
}

func (v view) ListResults(simulationID int64) ([]domain.Result, error) {
	rows, err := v.query(`SELECT `+resultColumns+` FROM results WHERE simulation_id = ? ORDER BY id`, simulationID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func found[T any](v T, err error, op string) (T, bool, error) {
	var zero T
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return zero, false, nil
	case err != nil:
		return zero, false, fmt.Errorf("%s: %w", op, err)
	default:
		return v, true, nil
	}
}

type transaction struct {
	view
	now time.Time
}

func (tx *transaction) insertID(q string, args ...any) (int64, error) {
	var id int64
	if err := tx.queryRow(q+` RETURNING id`, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (tx *transaction) insertBundle(b domain.DataBundle) (domain.DataBundle, error) {
	out := b.Clone()
	id, err := tx.insertID(`INSERT INTO data_bundles DEFAULT VALUES`)
	if err != nil {
		return domain.DataBundle{}, fmt.Errorf("insert bundle: %w", err)
	}
	out.ID = id
	for i, row := range out.Scalars {
		rowID, err := tx.insertID(`INSERT INTO scalars (bundle_id, from_node, to_node, attribute, value, type) VALUES (?, ?, ?, ?, ?, ?)`,
			id, row.FromNode, row.ToNode, row.Attribute, row.Value, string(row.Type))
		if err != nil {
			return domain.DataBundle{}, fmt.Errorf("insert scalar %s: %w", row.Attribute, err)
		}
		out.Scalars[i].ID = rowID
	}
	for i, row := range out.Sequences {
		var to any
		if row.ToNode != nil {
			to = *row.ToNode
		}
		values := row.Value
		if values == nil {
			values = []float64{}
		}
		rowID, err := tx.insertID(`INSERT INTO sequences (bundle_id, from_node, to_node, attribute, value, type) VALUES (?, ?, ?, ?, ?, ?)`,
			id, row.FromNode, to, row.Attribute, tx.d.Floats(values), string(row.Type))
		if err != nil {
			return domain.DataBundle{}, fmt.Errorf("insert sequence %s: %w", row.Attribute, err)
		}
		out.Sequences[i].ID = rowID
	}
	return out, nil
}

// CreateDataset writes two fresh bundles and links them.
func (tx *transaction) CreateDataset(input, result domain.DataBundle) (domain.Dataset, error) {
	in, err := tx.insertBundle(input)
	if err != nil {
		return domain.Dataset{}, err
	}
	out, err := tx.insertBundle(result)
	if err != nil {
		return domain.Dataset{}, err
	}
	id, err := tx.insertID(`INSERT INTO datasets (input_id, result_id) VALUES (?, ?)`, in.ID, out.ID)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("insert dataset: %w", err)
	}
	return domain.Dataset{ID: id, Input: in, Result: out}, nil
}

// CreateSimulation inserts a simulation, rejecting duplicate identities.
func (tx *transaction) CreateSimulation(sim domain.Simulation) (domain.Simulation, error) {
	if _, exists, err := tx.FindSimulation(sim.Scenario, sim.ParametersKey); err != nil {
		return domain.Simulation{}, err
	} else if exists {
		return domain.Simulation{}, fmt.Errorf("simulation for scenario %q with parameters %s already exists", sim.Scenario, sim.ParametersKey)
	}
	params := sim.Parameters
	if params == nil {
		params = domain.Parameters{}
	}
	key, err := params.CanonicalKey()
	if err != nil {
		return domain.Simulation{}, err
	}
	var datasetID any
	if sim.DatasetID != nil {
		datasetID = *sim.DatasetID
	}
	sim.CreatedAt = tx.now
	id, err := tx.insertID(`INSERT INTO simulations (scenario, parameters, parameters_key, dataset_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		sim.Scenario, tx.d.JSON([]byte(key)), sim.ParametersKey, datasetID, tx.d.Time(sim.CreatedAt))
	if err != nil {
		return domain.Simulation{}, fmt.Errorf("insert simulation: %w", err)
	}
	sim.ID = id
	return sim.Clone(), nil
}

// AttachDataset links an existing dataset to a simulation.
func (tx *transaction) AttachDataset(simulationID, datasetID int64) error {
	if _, ok, err := tx.GetSimulation(simulationID); err != nil {
		return err
	} else if !ok {
		return domain.SimulationNotFoundError{ID: simulationID}
	}
	var one int
	if err := tx.queryRow(`SELECT 1 FROM datasets WHERE id = ?`, datasetID).Scan(&one); errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", domain.ErrDatasetNotFound, datasetID)
	} else if err != nil {
		return fmt.Errorf("check dataset: %w", err)
	}
	if _, err := tx.exec(`UPDATE simulations SET dataset_id = ? WHERE id = ?`, datasetID, simulationID); err != nil {
		return fmt.Errorf("attach dataset: %w", err)
	}
	return nil
}

// DeleteSimulation removes the simulation, its cached results, and its
// dataset with both bundles. The schema declares no cascading deletes, so
// dependent rows are removed here in reference order.
func (tx *transaction) DeleteSimulation(id int64) error {
	sim, ok, err := tx.GetSimulation(id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.SimulationNotFoundError{ID: id}
	}
	if _, err := tx.exec(`DELETE FROM results WHERE simulation_id = ?`, id); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	if _, err := tx.exec(`DELETE FROM simulations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete simulation: %w", err)
	}
	if sim.DatasetID == nil {
		return nil
	}
	return tx.deleteDataset(*sim.DatasetID)
}

func (tx *transaction) deleteDataset(id int64) error {
	var inputID, resultID int64
	err := tx.queryRow(`SELECT input_id, result_id FROM datasets WHERE id = ?`, id).Scan(&inputID, &resultID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	if _, err := tx.exec(`DELETE FROM datasets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	for _, bundleID := range []int64{inputID, resultID} {
		for _, table := range []string{"scalars", "sequences"} {
			if _, err := tx.exec(`DELETE FROM `+table+` WHERE bundle_id = ?`, bundleID); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		if _, err := tx.exec(`DELETE FROM data_bundles WHERE id = ?`, bundleID); err != nil {
			return fmt.Errorf("delete bundle: %w", err)
		}
	}
	return nil
}

// DeleteSimulations removes every simulation of the scenario.
func (tx *transaction) DeleteSimulations(scenario string) (int, error) {
	sims, err := tx.ListSimulations(scenario)
	if err != nil {
		return 0, err
	}
	for _, sim := range sims {
		if err := tx.DeleteSimulation(sim.ID); err != nil {
			return 0, err
		}
	}
	return len(sims), nil
}

// CreateResult inserts a cached result; a concurrent or earlier row for the
// same (simulation, name) wins and is returned instead.
func (tx *transaction) CreateResult(res domain.Result) (domain.Result, bool, error) {
	if _, ok, err := tx.GetSimulation(res.SimulationID); err != nil {
		return domain.Result{}, false, err
	} else if !ok {
		return domain.Result{}, false, domain.SimulationNotFoundError{ID: res.SimulationID}
	}
	res.CreatedAt = tx.now
	id, err := tx.insertID(`INSERT INTO results (simulation_id, name, data_type, data, created_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT (simulation_id, name) DO NOTHING`,
		res.SimulationID, res.Name, string(res.DataType), tx.d.JSON(res.Data), tx.d.Time(res.CreatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		existing, ok, ferr := tx.FindResult(res.SimulationID, res.Name)
		if ferr != nil {
			return domain.Result{}, false, ferr
		}
		if !ok {
			return domain.Result{}, false, fmt.Errorf("result %q for simulation %d vanished after conflict", res.Name, res.SimulationID)
		}
		return existing, false, nil
	}
	if err != nil {
		return domain.Result{}, false, fmt.Errorf("insert result: %w", err)
	}
	res.ID = id
	return res.Clone(), true, nil
}
