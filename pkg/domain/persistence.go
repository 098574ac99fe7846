package domain

import "context"

// TransactionView provides read-only access to persisted simulations,
// datasets, and cached results.
type TransactionView interface {
	GetSimulation(id int64) (Simulation, bool, error)
	// FindSimulation looks a simulation up by its identity.
	FindSimulation(scenario, parametersKey string) (Simulation, bool, error)
	// ListSimulations returns simulations of the scenario, or all when empty.
	ListSimulations(scenario string) ([]Simulation, error)
	GetDataset(id int64) (Dataset, bool, error)
	FindResult(simulationID int64, name string) (Result, bool, error)
	ListResults(simulationID int64) ([]Result, error)
}

// Transaction exposes the mutations a persistence implementation must
// support within an atomic scope.
type Transaction interface {
	TransactionView
	// CreateDataset writes both bundles and links them into a new dataset.
	// The bundles never alias rows of another dataset.
	CreateDataset(input, result DataBundle) (Dataset, error)
	// CreateSimulation inserts a new simulation. The (Scenario, ParametersKey)
	// pair must be unique.
	CreateSimulation(Simulation) (Simulation, error)
	AttachDataset(simulationID, datasetID int64) error
	// DeleteSimulation removes the simulation together with its dataset,
	// bundles, rows, and cached results.
	DeleteSimulation(id int64) error
	// DeleteSimulations removes every simulation of a scenario and returns
	// the number removed.
	DeleteSimulations(scenario string) (int, error)
	// CreateResult inserts a cached result unless one already exists for
	// (SimulationID, Name); the stored row is returned with created=false
	// in that case.
	CreateResult(Result) (stored Result, created bool, err error)
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	View(ctx context.Context, fn func(TransactionView) error) error
	Close() error
}
