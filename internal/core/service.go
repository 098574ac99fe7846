// Package core wires the energycore components into one service: the
// simulation pipeline and its background worker, the calculation cache and
// the static result importer, over a configured persistent store and blob
// store.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"energycore/internal/blob"
	"energycore/internal/config"
	"energycore/internal/hooks"
	"energycore/internal/logging"
	"energycore/internal/observability"
	"energycore/internal/results"
	"energycore/internal/resultstore"
	"energycore/internal/simulation"
	"energycore/internal/statics"
	"energycore/pkg/domain"
)

// ErrNoEngine is returned by simulation calls on a service built without an
// optimisation engine, such as the static import command.
var ErrNoEngine = errors.New("no simulation engine configured")

// Service exposes the simulation lifecycle over one persistent store.
type Service struct {
	persist  PersistentStore
	blobs    blob.Store
	log      logging.Logger
	metrics  *observability.Collector
	pipeline *simulation.Pipeline
	worker   *simulation.Worker
	cache    *results.Cache
	importer *statics.Importer
	hasSolve bool
}

type serviceOptions struct {
	log        logging.Logger
	registerer prometheus.Registerer
	hooks      *hooks.Registry
	calcs      *results.Registry
	cfg        config.Config
	progress   func(statics.Entry)
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

// WithLogger sets the logger shared by every component.
func WithLogger(l logging.Logger) ServiceOption {
	return func(o *serviceOptions) { o.log = logging.OrNoop(l) }
}

// WithRegisterer registers metrics against reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) ServiceOption {
	return func(o *serviceOptions) { o.registerer = reg }
}

// WithHooks uses a prepared hook registry.
func WithHooks(r *hooks.Registry) ServiceOption {
	return func(o *serviceOptions) { o.hooks = r }
}

// WithCalculations uses a prepared calculation registry.
func WithCalculations(r *results.Registry) ServiceOption {
	return func(o *serviceOptions) { o.calcs = r }
}

// WithConfig applies prefixes, ignored parameters and worker settings.
func WithConfig(cfg config.Config) ServiceOption {
	return func(o *serviceOptions) { o.cfg = cfg }
}

// WithImportProgress reports each static scenario as it is imported or
// skipped.
func WithImportProgress(fn func(statics.Entry)) ServiceOption {
	return func(o *serviceOptions) { o.progress = fn }
}

// NewService wires a service over existing stores. engine may be nil for
// services that only import or read results.
func NewService(persist PersistentStore, blobs blob.Store, engine simulation.Engine, opts ...ServiceOption) (*Service, error) {
	o := serviceOptions{log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	registerer := o.registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	metrics, err := observability.NewCollector(registerer)
	if err != nil {
		return nil, err
	}

	pipelineOpts := []simulation.Option{
		simulation.WithLogger(o.log),
		simulation.WithMetrics(metrics),
		simulation.WithScenarioPrefix(o.cfg.ScenarioPrefix),
		simulation.WithIgnoredParameters(o.cfg.IgnoreSimulationParameters...),
	}
	if o.hooks != nil {
		pipelineOpts = append(pipelineOpts, simulation.WithHooks(o.hooks))
	}
	pipeline := simulation.NewPipeline(persist, blobs, engine, pipelineOpts...)

	s := &Service{
		persist:  persist,
		blobs:    blobs,
		log:      o.log,
		metrics:  metrics,
		pipeline: pipeline,
		cache: results.NewCache(persist, resultstore.New(persist, o.log), o.log,
			results.WithMetrics(metrics), results.WithRegistry(o.calcs)),
		importer: statics.NewImporter(persist, blobs,
			statics.WithPrefix(o.cfg.StaticPrefix),
			statics.WithIgnoredParameters(o.cfg.IgnoreSimulationParameters...),
			statics.WithLogger(o.log),
			statics.WithProgress(o.progress)),
		hasSolve: engine != nil,
	}
	s.worker = simulation.NewWorker(s,
		simulation.WithTimeLimit(o.cfg.TimeLimit),
		simulation.WithWorkers(o.cfg.Workers),
		simulation.WithWorkerLogger(o.log),
		simulation.WithWorkerMetrics(metrics))
	return s, nil
}

// Open builds a service from configuration, opening both stores.
func Open(ctx context.Context, cfg config.Config, engine simulation.Engine, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	persist, err := OpenPersistentStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open persistent store: %w", err)
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = persist.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	svc, err := NewService(persist, blobs, engine, append([]ServiceOption{WithConfig(cfg)}, opts...)...)
	if err != nil {
		_ = persist.Close()
		return nil, err
	}
	return svc, nil
}

// Store returns the underlying persistent store.
func (s *Service) Store() PersistentStore { return s.persist }

// Blobs returns the datapackage blob store.
func (s *Service) Blobs() blob.Store { return s.blobs }

// Hooks exposes the hook registry.
func (s *Service) Hooks() *hooks.Registry { return s.pipeline.Hooks() }

// Calculations exposes the calculation registry.
func (s *Service) Calculations() *results.Registry { return s.cache.Registry() }

// Metrics returns the service metric collector.
func (s *Service) Metrics() *observability.Collector { return s.metrics }

// Start launches the background worker.
func (s *Service) Start() { s.worker.Start() }

// Close stops the worker and releases the persistent store.
func (s *Service) Close(ctx context.Context) error {
	stopErr := s.worker.Stop(ctx)
	if err := s.persist.Close(); err != nil {
		return err
	}
	return stopErr
}

// SimulateScenario runs or reuses a simulation synchronously.
func (s *Service) SimulateScenario(ctx context.Context, scenario string, params domain.Parameters, meta hooks.Metadata) (simulation.Outcome, error) {
	if !s.hasSolve {
		return simulation.Outcome{}, ErrNoEngine
	}
	return s.pipeline.SimulateScenario(ctx, scenario, params, meta)
}

// Submit queues a background simulation.
func (s *Service) Submit(ctx context.Context, req simulation.Request) (simulation.Task, error) {
	if !s.hasSolve {
		return simulation.Task{}, ErrNoEngine
	}
	return s.worker.Submit(ctx, req)
}

// Task returns a background task snapshot.
func (s *Service) Task(id string) (simulation.Task, bool) { return s.worker.Get(id) }

// Terminate stops a background task.
func (s *Service) Terminate(id string) (simulation.Task, error) { return s.worker.Terminate(id) }

// Simulations lists stored simulations of a scenario, or all when empty.
func (s *Service) Simulations(ctx context.Context, scenario string) ([]domain.Simulation, error) {
	var sims []domain.Simulation
	err := s.persist.View(ctx, func(v TransactionView) error {
		var err error
		sims, err = v.ListSimulations(scenario)
		return err
	})
	return sims, err
}

// Results returns named calculation outputs, computing missing ones.
func (s *Service) Results(ctx context.Context, simulationID int64, names ...string) (map[string]results.Output, error) {
	return s.cache.GetResults(ctx, simulationID, names...)
}

// Calculate returns outputs of ad-hoc calculations, computing missing ones.
func (s *Service) Calculate(ctx context.Context, simulationID int64, calcs ...results.Calculation) (map[string]results.Output, error) {
	return s.cache.Calculate(ctx, simulationID, calcs...)
}

// ImportStatic loads precomputed scenarios from the static prefix.
func (s *Service) ImportStatic(ctx context.Context, scenarios ...string) (statics.Report, error) {
	return s.importer.Import(ctx, scenarios...)
}

// DeleteSimulation removes one simulation with its dataset and results.
func (s *Service) DeleteSimulation(ctx context.Context, id int64) error {
	return s.pipeline.DeleteSimulation(ctx, id)
}

// DeleteScenario removes every simulation of a scenario.
func (s *Service) DeleteScenario(ctx context.Context, scenario string) (int, error) {
	return s.pipeline.DeleteScenario(ctx, scenario)
}
