package results

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"energycore/pkg/domain"
)

var (
	// ErrUnknownCalculation is returned for names missing from the registry.
	ErrUnknownCalculation = errors.New("unknown calculation")
	// ErrDatasetMissing is returned when missing calculations must be
	// computed for a simulation that carries no dataset.
	ErrDatasetMissing = errors.New("simulation has no dataset")
	// ErrDependencyCycle is returned when calculations depend on each other.
	ErrDependencyCycle = errors.New("calculation dependency cycle")
)

// Calculation derives an output from a restored dataset.
type Calculation interface {
	Name() string
	Compute(ctx context.Context, c *Calculator) (Output, error)
}

// CalculationFunc adapts a function into a Calculation.
type CalculationFunc struct {
	name string
	fn   func(ctx context.Context, c *Calculator) (Output, error)
}

// NewCalculation wraps fn as a named calculation.
func NewCalculation(name string, fn func(ctx context.Context, c *Calculator) (Output, error)) CalculationFunc {
	return CalculationFunc{name: name, fn: fn}
}

// Name returns the calculation name.
func (f CalculationFunc) Name() string { return f.name }

// Compute runs the wrapped function.
func (f CalculationFunc) Compute(ctx context.Context, c *Calculator) (Output, error) {
	return f.fn(ctx, c)
}

// Registry maps calculation names to definitions.
type Registry struct {
	mu    sync.RWMutex
	calcs map[string]Calculation
}

// NewRegistry returns a registry preloaded with the built-in calculations.
func NewRegistry() *Registry {
	r := &Registry{calcs: map[string]Calculation{}}
	r.Register(Builtins()...)
	return r
}

// Register adds calculations; a later registration replaces an earlier one
// of the same name.
func (r *Registry) Register(calcs ...Calculation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range calcs {
		if c == nil || c.Name() == "" {
			continue
		}
		r.calcs[c.Name()] = c
	}
}

// Lookup returns the calculation registered under name.
func (r *Registry) Lookup(name string) (Calculation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calcs[name]
	return c, ok
}

// Resolve looks up every name, failing on the first unknown one.
func (r *Registry) Resolve(names ...string) ([]Calculation, error) {
	out := make([]Calculation, 0, len(names))
	for _, name := range names {
		c, ok := r.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCalculation, name)
		}
		out = append(out, c)
	}
	return out, nil
}

// Names lists registered calculation names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.calcs))
	for name := range r.calcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Calculator is the shared context for one batch of calculations over a
// restored dataset. It memoises every computed output by name.
type Calculator struct {
	Input    domain.Bundle
	Result   domain.Bundle
	registry *Registry
	memo     map[string]Output
	active   map[string]bool
}

// NewCalculator builds a calculator over a restored (input, result) pair.
// Dependencies are resolved through registry.
func NewCalculator(input, result domain.Bundle, registry *Registry) *Calculator {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Calculator{
		Input:    input,
		Result:   result,
		registry: registry,
		memo:     map[string]Output{},
		active:   map[string]bool{},
	}
}

// Compute returns calc's output, computing it at most once per calculator.
func (c *Calculator) Compute(ctx context.Context, calc Calculation) (Output, error) {
	name := calc.Name()
	if out, ok := c.memo[name]; ok {
		return out, nil
	}
	if c.active[name] {
		return nil, fmt.Errorf("%w at %q", ErrDependencyCycle, name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.active[name] = true
	defer delete(c.active, name)
	out, err := calc.Compute(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("calculation %q: %w", name, err)
	}
	c.memo[name] = out
	return out, nil
}

// Dependency computes (or reuses) the registered calculation name.
func (c *Calculator) Dependency(ctx context.Context, name string) (Output, error) {
	calc, ok := c.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCalculation, name)
	}
	return c.Compute(ctx, calc)
}
