// Package memory provides an in-memory implementation of the energycore
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"energycore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Simulation aliases domain.Simulation for in-memory persistence operations.
	Simulation = domain.Simulation
	// Dataset aliases domain.Dataset.
	Dataset = domain.Dataset
	// DataBundle aliases domain.DataBundle.
	DataBundle = domain.DataBundle
	// Result aliases domain.Result.
	Result = domain.Result
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	simulations map[int64]Simulation
	datasets    map[int64]Dataset
	results     map[int64]Result
	nextID      int64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Simulations map[int64]Simulation `json:"simulations"`
	Datasets    map[int64]Dataset    `json:"datasets"`
	Results     map[int64]Result     `json:"results"`
	NextID      int64                `json:"next_id"`
}

func newMemoryState() memoryState {
	return memoryState{
		simulations: make(map[int64]Simulation),
		datasets:    make(map[int64]Dataset),
		results:     make(map[int64]Result),
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		simulations: make(map[int64]Simulation, len(s.simulations)),
		datasets:    make(map[int64]Dataset, len(s.datasets)),
		results:     make(map[int64]Result, len(s.results)),
		nextID:      s.nextID,
	}
	for k, v := range s.simulations {
		out.simulations[k] = v.Clone()
	}
	for k, v := range s.datasets {
		out.datasets[k] = v.Clone()
	}
	for k, v := range s.results {
		out.results[k] = v.Clone()
	}
	return out
}

// Store provides an in-memory transactional store for simulations,
// datasets, and cached results.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	nowFn func() time.Time
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state: newMemoryState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// ExportState returns a clone of the current store state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state.clone()
	return Snapshot{Simulations: st.simulations, Datasets: st.datasets, Results: st.results, NextID: st.nextID}
}

// SetNowFunc overrides the clock used to stamp new rows.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// RunInTransaction executes fn against a cloned state and commits it only
// when fn succeeds.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		transactionView: transactionView{state: s.state.clone()},
		now:             s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(transactionView{state: snapshot})
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

type transactionView struct {
	state memoryState
}

type transaction struct {
	transactionView
	now time.Time
}

func (v transactionView) GetSimulation(id int64) (Simulation, bool, error) {
	sim, ok := v.state.simulations[id]
	if !ok {
		return Simulation{}, false, nil
	}
	return sim.Clone(), true, nil
}

func (v transactionView) FindSimulation(scenario, parametersKey string) (Simulation, bool, error) {
	for _, sim := range v.state.simulations {
		if sim.Scenario == scenario && sim.ParametersKey == parametersKey {
			return sim.Clone(), true, nil
		}
	}
	return Simulation{}, false, nil
}

func (v transactionView) ListSimulations(scenario string) ([]Simulation, error) {
	out := make([]Simulation, 0, len(v.state.simulations))
	for _, sim := range v.state.simulations {
		if scenario != "" && sim.Scenario != scenario {
			continue
		}
		out = append(out, sim.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v transactionView) GetDataset(id int64) (Dataset, bool, error) {
	ds, ok := v.state.datasets[id]
	if !ok {
		return Dataset{}, false, nil
	}
	return ds.Clone(), true, nil
}

func (v transactionView) FindResult(simulationID int64, name string) (Result, bool, error) {
	for _, res := range v.state.results {
		if res.SimulationID == simulationID && res.Name == name {
			return res.Clone(), true, nil
		}
	}
	return Result{}, false, nil
}

func (v transactionView) ListResults(simulationID int64) ([]Result, error) {
	var out []Result
	for _, res := range v.state.results {
		if res.SimulationID == simulationID {
			out = append(out, res.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *transaction) newID() int64 {
	tx.state.nextID++
	return tx.state.nextID
}

func (tx *transaction) stampBundle(b DataBundle) DataBundle {
	out := b.Clone()
	out.ID = tx.newID()
	for i := range out.Scalars {
		out.Scalars[i].ID = tx.newID()
	}
	for i := range out.Sequences {
		out.Sequences[i].ID = tx.newID()
	}
	return out
}

// CreateDataset stores both bundles under fresh ids.
func (tx *transaction) CreateDataset(input, result DataBundle) (Dataset, error) {
	ds := Dataset{
		Input:  tx.stampBundle(input),
		Result: tx.stampBundle(result),
	}
	ds.ID = tx.newID()
	tx.state.datasets[ds.ID] = ds.Clone()
	return ds, nil
}

// CreateSimulation stores a new simulation, rejecting duplicate identities.
func (tx *transaction) CreateSimulation(sim Simulation) (Simulation, error) {
	if _, exists, _ := tx.FindSimulation(sim.Scenario, sim.ParametersKey); exists {
		return Simulation{}, fmt.Errorf("simulation for scenario %q with parameters %s already exists", sim.Scenario, sim.ParametersKey)
	}
	if sim.DatasetID != nil {
		if _, ok := tx.state.datasets[*sim.DatasetID]; !ok {
			return Simulation{}, fmt.Errorf("%w: %d", domain.ErrDatasetNotFound, *sim.DatasetID)
		}
	}
	sim.ID = tx.newID()
	sim.CreatedAt = tx.now
	tx.state.simulations[sim.ID] = sim.Clone()
	return sim.Clone(), nil
}

// AttachDataset links an existing dataset to a simulation.
func (tx *transaction) AttachDataset(simulationID, datasetID int64) error {
	sim, ok := tx.state.simulations[simulationID]
	if !ok {
		return domain.SimulationNotFoundError{ID: simulationID}
	}
	if _, ok := tx.state.datasets[datasetID]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrDatasetNotFound, datasetID)
	}
	id := datasetID
	sim.DatasetID = &id
	tx.state.simulations[simulationID] = sim
	return nil
}

// DeleteSimulation removes the simulation, its cached results, and its dataset.
func (tx *transaction) DeleteSimulation(id int64) error {
	sim, ok := tx.state.simulations[id]
	if !ok {
		return domain.SimulationNotFoundError{ID: id}
	}
	for rid, res := range tx.state.results {
		if res.SimulationID == id {
			delete(tx.state.results, rid)
		}
	}
	if sim.DatasetID != nil {
		delete(tx.state.datasets, *sim.DatasetID)
	}
	delete(tx.state.simulations, id)
	return nil
}

// DeleteSimulations removes every simulation of the scenario.
func (tx *transaction) DeleteSimulations(scenario string) (int, error) {
	sims, _ := tx.ListSimulations(scenario)
	for _, sim := range sims {
		if err := tx.DeleteSimulation(sim.ID); err != nil {
			return 0, err
		}
	}
	return len(sims), nil
}

// CreateResult stores a cached result unless (SimulationID, Name) exists.
func (tx *transaction) CreateResult(res Result) (Result, bool, error) {
	if _, ok := tx.state.simulations[res.SimulationID]; !ok {
		return Result{}, false, domain.SimulationNotFoundError{ID: res.SimulationID}
	}
	if existing, ok, _ := tx.FindResult(res.SimulationID, res.Name); ok {
		return existing, false, nil
	}
	res.ID = tx.newID()
	res.CreatedAt = tx.now
	tx.state.results[res.ID] = res.Clone()
	return res.Clone(), true, nil
}
