// Package results computes named calculations over restored simulation
// datasets and caches their payloads per simulation.
package results

import (
	"context"
	"fmt"

	"energycore/internal/logging"
	"energycore/internal/observability"
	"energycore/internal/resultstore"
	"energycore/pkg/domain"
)

// Cache serves calculation results, computing and persisting only the ones
// not yet stored for a simulation.
type Cache struct {
	persist  domain.PersistentStore
	store    *resultstore.Store
	registry *Registry
	log      logging.Logger
	metrics  *observability.Collector
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics records hit and miss counts on the collector.
func WithMetrics(c *observability.Collector) Option {
	return func(cache *Cache) { cache.metrics = c }
}

// WithRegistry replaces the default calculation registry.
func WithRegistry(r *Registry) Option {
	return func(cache *Cache) {
		if r != nil {
			cache.registry = r
		}
	}
}

// NewCache constructs a cache over the persistent store.
func NewCache(persist domain.PersistentStore, store *resultstore.Store, log logging.Logger, opts ...Option) *Cache {
	c := &Cache{
		persist:  persist,
		store:    store,
		registry: NewRegistry(),
		log:      logging.OrNoop(log),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry exposes the calculation registry for custom registrations.
func (c *Cache) Registry() *Registry { return c.registry }

// GetResults resolves names through the registry and returns their outputs.
func (c *Cache) GetResults(ctx context.Context, simulationID int64, names ...string) (map[string]Output, error) {
	calcs, err := c.registry.Resolve(names...)
	if err != nil {
		return nil, err
	}
	return c.Calculate(ctx, simulationID, calcs...)
}

// Calculate returns the output of every calculation for the simulation.
// Stored results are decoded and trusted. When any are missing the dataset
// is restored once, the missing ones are computed against one shared
// Calculator and persisted, and the stored payloads are returned so that
// later calls see identical values.
func (c *Cache) Calculate(ctx context.Context, simulationID int64, calcs ...Calculation) (map[string]Output, error) {
	var (
		sim     domain.Simulation
		out     = make(map[string]Output, len(calcs))
		missing []Calculation
	)
	err := c.persist.View(ctx, func(v domain.TransactionView) error {
		found, ok, err := v.GetSimulation(simulationID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.SimulationNotFoundError{ID: simulationID}
		}
		sim = found
		seen := map[string]bool{}
		for _, calc := range calcs {
			name := calc.Name()
			if seen[name] {
				continue
			}
			seen[name] = true
			res, ok, err := v.FindResult(simulationID, name)
			if err != nil {
				return err
			}
			if !ok {
				missing = append(missing, calc)
				continue
			}
			decoded, err := DecodePayload(res.Data, res.DataType)
			if err != nil {
				return fmt.Errorf("cached result %q: %w", name, err)
			}
			out[name] = decoded
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.ObserveCalculation(observability.CalculationHit, len(out))
	c.metrics.ObserveCalculation(observability.CalculationMiss, len(missing))
	if len(missing) == 0 {
		return out, nil
	}
	if !sim.HasDataset() {
		return nil, fmt.Errorf("simulation %d: %w", simulationID, ErrDatasetMissing)
	}

	input, result, err := c.store.RestoreResults(ctx, *sim.DatasetID)
	if err != nil {
		return nil, err
	}
	calculator := NewCalculator(input, result, c.registry)
	pending := make([]domain.Result, 0, len(missing))
	for _, calc := range missing {
		value, err := calculator.Compute(ctx, calc)
		if err != nil {
			return nil, err
		}
		data, dataType, err := EncodePayload(value)
		if err != nil {
			return nil, fmt.Errorf("calculation %q: %w", calc.Name(), err)
		}
		pending = append(pending, domain.Result{SimulationID: simulationID, Name: calc.Name(), DataType: dataType, Data: data})
	}

	stored := make([]domain.Result, 0, len(pending))
	err = c.persist.RunInTransaction(ctx, func(tx domain.Transaction) error {
		stored = stored[:0]
		for _, res := range pending {
			row, created, err := tx.CreateResult(res)
			if err != nil {
				return err
			}
			if !created {
				c.log.Debug(ctx, "calculation result already stored by a concurrent writer",
					logging.Int64("simulation_id", simulationID), logging.String("calculation", res.Name))
			}
			stored = append(stored, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store calculation results: %w", err)
	}
	cached := len(out)
	for _, row := range stored {
		decoded, err := DecodePayload(row.Data, row.DataType)
		if err != nil {
			return nil, fmt.Errorf("stored result %q: %w", row.Name, err)
		}
		out[row.Name] = decoded
	}
	c.log.Info(ctx, "calculations computed",
		logging.Int64("simulation_id", simulationID), logging.Int("computed", len(stored)), logging.Int("cached", cached))
	return out, nil
}
