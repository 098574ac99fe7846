package simulation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"energycore/internal/adapter"
	"energycore/internal/blob"
	"energycore/internal/hooks"
	"energycore/internal/logging"
	"energycore/internal/network"
	"energycore/internal/observability"
	"energycore/internal/resultstore"
	"energycore/pkg/domain"
)

// DefaultScenarioPrefix is the blob prefix under which scenario
// datapackages live.
const DefaultScenarioPrefix = "oemof"

var (
	// ErrScenarioNotFound is returned when no datapackage exists for a scenario.
	ErrScenarioNotFound = errors.New("scenario datapackage not found")
	// ErrHookResult is returned when a hook hands back a value of the wrong type.
	ErrHookResult = errors.New("hook returned unexpected type")
	// ErrInvalidScenario is returned for empty scenario names and names that
	// would escape the scenario prefix.
	ErrInvalidScenario = errors.New("invalid scenario name")
)

// Status summarises how a SimulateScenario call ended.
type Status string

const (
	// StatusSolved means the engine ran and a new simulation was stored.
	StatusSolved Status = "solved"
	// StatusReused means an identical simulation was already stored.
	StatusReused Status = "reused"
	// StatusInfeasible means the solver reported infeasibility; nothing was stored.
	StatusInfeasible Status = "infeasible"
)

// Outcome reports the simulation a request resolved to. SimulationID is
// zero for infeasible outcomes.
type Outcome struct {
	Status       Status
	SimulationID int64
	Termination  string
}

// Pipeline owns the simulate-or-reuse flow for scenarios.
type Pipeline struct {
	persist domain.PersistentStore
	results *resultstore.Store
	blobs   blob.Store
	engine  Engine
	hooks   *hooks.Registry
	adapter *adapter.Adapter
	log     logging.Logger
	metrics *observability.Collector
	prefix  string
	ignored []string
	flight  singleflight.Group

	runsMu sync.Mutex
	runs   map[string]*solveRun
}

// solveRun is the context of one shared solve. It is cancelled once every
// caller waiting on it has gone, so one caller giving up does not abort the
// solve for the others.
type solveRun struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) { p.log = logging.OrNoop(l) }
}

// WithHooks sets the hook registry consulted at each extension point.
func WithHooks(r *hooks.Registry) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.hooks = r
		}
	}
}

// WithMetrics records simulation outcomes on the collector.
func WithMetrics(c *observability.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// WithScenarioPrefix changes the blob prefix of scenario datapackages.
func WithScenarioPrefix(prefix string) Option {
	return func(p *Pipeline) {
		if prefix = strings.Trim(prefix, "/"); prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithIgnoredParameters excludes top-level parameter keys from simulation
// identity. Ignored keys still reach the parameter hooks and the adapter.
func WithIgnoredParameters(keys ...string) Option {
	return func(p *Pipeline) { p.ignored = append(p.ignored, keys...) }
}

// NewPipeline wires a pipeline over the persistent store, the blob store
// holding datapackages, and the engine.
func NewPipeline(persist domain.PersistentStore, blobs blob.Store, engine Engine, opts ...Option) *Pipeline {
	p := &Pipeline{
		persist: persist,
		blobs:   blobs,
		engine:  engine,
		hooks:   hooks.NewRegistry(),
		log:     logging.Noop(),
		prefix:  DefaultScenarioPrefix,
		runs:    map[string]*solveRun{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.results = resultstore.New(persist, p.log)
	p.adapter = adapter.New(p.log)
	return p
}

// Hooks exposes the registry for hook registration.
func (p *Pipeline) Hooks() *hooks.Registry { return p.hooks }

// DatapackageKey returns the blob key of a scenario's datapackage.
func (p *Pipeline) DatapackageKey(scenario string) string {
	return blob.Join(p.prefix, scenario, "datapackage.json")
}

// SimulateScenario returns the stored simulation for (scenario, params),
// solving and storing it first when none exists. Setup hooks run before the
// lookup, so identity is computed on their output minus ignored keys.
// Concurrent in-process requests for one identity share a single solve.
func (p *Pipeline) SimulateScenario(ctx context.Context, scenario string, params domain.Parameters, meta hooks.Metadata) (Outcome, error) {
	start := time.Now()
	outcome, err := p.simulate(ctx, scenario, params, meta)
	switch {
	case err != nil:
		p.metrics.ObserveSimulation(observability.OutcomeFailed, time.Since(start))
		p.log.Error(ctx, "simulation failed", logging.String("scenario", scenario), logging.Err(err))
	case outcome.Status == StatusReused:
		p.metrics.ObserveSimulation(observability.OutcomeReused, 0)
	case outcome.Status == StatusInfeasible:
		p.metrics.ObserveSimulation(observability.OutcomeInfeasible, time.Since(start))
	default:
		p.metrics.ObserveSimulation(observability.OutcomeSolved, time.Since(start))
	}
	return outcome, err
}

func (p *Pipeline) simulate(ctx context.Context, scenario string, params domain.Parameters, meta hooks.Metadata) (Outcome, error) {
	if err := ValidateScenario(scenario); err != nil {
		return Outcome{}, err
	}
	if params == nil {
		params = domain.Parameters{}
	}
	setup, err := p.applyParameterHooks(ctx, hooks.Setup, scenario, params, meta)
	if err != nil {
		return Outcome{}, err
	}
	identity := setup.Without(p.ignored...)
	key, err := identity.CanonicalKey()
	if err != nil {
		return Outcome{}, err
	}

	sim, found, err := p.lookup(ctx, scenario, key)
	if err != nil {
		return Outcome{}, err
	}
	if found {
		return Outcome{Status: StatusReused, SimulationID: sim.ID}, nil
	}

	flightKey := scenario + "\x00" + key
	runCtx := p.join(ctx, flightKey)
	defer p.leave(flightKey)
	ch := p.flight.DoChan(flightKey, func() (any, error) {
		return p.solve(runCtx, scenario, setup, identity, key, meta)
	})
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Outcome{}, res.Err
		}
		outcome := res.Val.(Outcome)
		if res.Shared {
			p.log.Debug(ctx, "shared in-flight simulation", logging.String("scenario", scenario), logging.Int64("simulation_id", outcome.SimulationID))
		}
		return outcome, nil
	}
}

// join registers the caller as a waiter on the shared solve for key and
// returns the context that solve runs under. The context keeps the values of
// the first caller's ctx but none of its cancellation.
func (p *Pipeline) join(ctx context.Context, key string) context.Context {
	p.runsMu.Lock()
	defer p.runsMu.Unlock()
	run, ok := p.runs[key]
	if !ok {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		run = &solveRun{ctx: runCtx, cancel: cancel}
		p.runs[key] = run
	}
	run.waiters++
	return run.ctx
}

// leave drops a waiter. The last one out cancels the solve and makes later
// callers start a fresh one.
func (p *Pipeline) leave(key string) {
	p.runsMu.Lock()
	defer p.runsMu.Unlock()
	run, ok := p.runs[key]
	if !ok {
		return
	}
	if run.waiters--; run.waiters > 0 {
		return
	}
	run.cancel()
	delete(p.runs, key)
	p.flight.Forget(key)
}

// ValidateScenario rejects names that are empty or that would resolve
// outside the scenario prefix.
func ValidateScenario(scenario string) error {
	switch {
	case strings.TrimSpace(scenario) == "":
		return fmt.Errorf("%w: name required", ErrInvalidScenario)
	case scenario == "." || strings.Contains(scenario, "..") || strings.ContainsAny(scenario, "/\\"):
		return fmt.Errorf("%w: %q", ErrInvalidScenario, scenario)
	}
	return nil
}

func (p *Pipeline) lookup(ctx context.Context, scenario, key string) (domain.Simulation, bool, error) {
	var (
		sim   domain.Simulation
		found bool
	)
	err := p.persist.View(ctx, func(v domain.TransactionView) error {
		var err error
		sim, found, err = v.FindSimulation(scenario, key)
		return err
	})
	if err != nil {
		return domain.Simulation{}, false, fmt.Errorf("lookup simulation: %w", err)
	}
	return sim, found, nil
}

func (p *Pipeline) solve(ctx context.Context, scenario string, params, identity domain.Parameters, key string, meta hooks.Metadata) (Outcome, error) {
	p.log.Info(ctx, "simulation started", logging.String("scenario", scenario), logging.String("parameters", key))

	adapted, err := p.applyParameterHooks(ctx, hooks.Parameter, scenario, params, meta)
	if err != nil {
		return Outcome{}, err
	}
	raw, err := blob.ReadAll(ctx, p.blobs, p.DatapackageKey(scenario))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Outcome{}, fmt.Errorf("%w: %s", ErrScenarioNotFound, scenario)
		}
		return Outcome{}, fmt.Errorf("load datapackage: %w", err)
	}
	net, err := p.engine.BuildNetwork(ctx, raw)
	if err != nil {
		return Outcome{}, fmt.Errorf("build network for %s: %w", scenario, err)
	}
	net = p.adapter.Adapt(ctx, net, adapted)

	out, err := p.hooks.Apply(ctx, hooks.EnergySystem, scenario, net, meta)
	if err != nil {
		return Outcome{}, err
	}
	net, ok := out.(network.Network)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s hooks returned %T", ErrHookResult, hooks.EnergySystem, out)
	}
	model, err := p.engine.NewModel(ctx, net)
	if err != nil {
		return Outcome{}, fmt.Errorf("build model for %s: %w", scenario, err)
	}
	out, err = p.hooks.Apply(ctx, hooks.Model, scenario, model, meta)
	if err != nil {
		return Outcome{}, err
	}
	model, ok = out.(Model)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s hooks returned %T", ErrHookResult, hooks.Model, out)
	}

	solution, err := model.Solve(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("solve %s: %w", scenario, err)
	}
	if solution.Termination == TerminationInfeasible {
		p.log.Info(ctx, "simulation infeasible", logging.String("scenario", scenario), logging.String("parameters", key))
		return Outcome{Status: StatusInfeasible, Termination: solution.Termination}, nil
	}

	input, result, err := p.results.EncodeDataset(ctx, solution.Input, solution.Result)
	if err != nil {
		return Outcome{}, err
	}
	outcome := Outcome{Status: StatusSolved, Termination: solution.Termination}
	err = p.persist.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if existing, ok, err := tx.FindSimulation(scenario, key); err != nil {
			return err
		} else if ok {
			outcome = Outcome{Status: StatusReused, SimulationID: existing.ID, Termination: solution.Termination}
			return nil
		}
		ds, err := tx.CreateDataset(input, result)
		if err != nil {
			return err
		}
		sim, err := tx.CreateSimulation(domain.Simulation{
			Scenario:      scenario,
			Parameters:    identity,
			ParametersKey: key,
			DatasetID:     &ds.ID,
		})
		if err != nil {
			return err
		}
		outcome.SimulationID = sim.ID
		return nil
	})
	if err != nil {
		// another process may have committed the same identity first
		if sim, ok, lookupErr := p.lookup(ctx, scenario, key); lookupErr == nil && ok {
			return Outcome{Status: StatusReused, SimulationID: sim.ID, Termination: solution.Termination}, nil
		}
		return Outcome{}, fmt.Errorf("store simulation: %w", err)
	}
	p.log.Info(ctx, "simulation finished",
		logging.String("scenario", scenario),
		logging.Int64("simulation_id", outcome.SimulationID),
		logging.String("status", string(outcome.Status)))
	return outcome, nil
}

// applyParameterHooks runs Setup or Parameter hooks and insists on a
// parameter map as their result.
func (p *Pipeline) applyParameterHooks(ctx context.Context, point hooks.ExtensionPoint, scenario string, params domain.Parameters, meta hooks.Metadata) (domain.Parameters, error) {
	out, err := p.hooks.Apply(ctx, point, scenario, params, meta)
	if err != nil {
		return nil, err
	}
	switch v := out.(type) {
	case domain.Parameters:
		if v == nil {
			return domain.Parameters{}, nil
		}
		return v, nil
	case map[string]any:
		return domain.Parameters(v), nil
	default:
		return nil, fmt.Errorf("%w: %s hooks returned %T", ErrHookResult, point, out)
	}
}

// DeleteSimulation removes a simulation with its dataset and cached results.
func (p *Pipeline) DeleteSimulation(ctx context.Context, id int64) error {
	err := p.persist.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteSimulation(id)
	})
	if err != nil {
		return err
	}
	p.log.Info(ctx, "simulation deleted", logging.Int64("simulation_id", id))
	return nil
}

// DeleteScenario removes every stored simulation of a scenario and returns
// how many were removed.
func (p *Pipeline) DeleteScenario(ctx context.Context, scenario string) (int, error) {
	var n int
	err := p.persist.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		n, err = tx.DeleteSimulations(scenario)
		return err
	})
	if err != nil {
		return 0, err
	}
	p.log.Info(ctx, "scenario simulations deleted", logging.String("scenario", scenario), logging.Int("count", n))
	return n, nil
}
