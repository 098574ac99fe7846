// Package hooks provides the scenario hook registry used by the simulation
// pipeline to let callers transform parameters, networks, and models at
// fixed extension points.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"energycore/pkg/domain"
)

// ExtensionPoint names a pipeline stage at which hooks run.
type ExtensionPoint int

// Extension points in pipeline order.
const (
	// Setup receives the raw request parameters before the scenario lookup.
	Setup ExtensionPoint = iota
	// Parameter receives adapted parameters before network construction.
	Parameter
	// EnergySystem receives the constructed network before model construction.
	EnergySystem
	// Model receives the solve-ready model before the solver runs.
	Model
)

var pointNames = [...]string{"setup", "parameter", "energysystem", "model"}

func (p ExtensionPoint) String() string {
	if !p.valid() {
		return fmt.Sprintf("extension_point(%d)", int(p))
	}
	return pointNames[p]
}

func (p ExtensionPoint) valid() bool { return p >= Setup && p <= Model }

// copies reports whether Apply threads a deep copy of the input through the hooks.
func (p ExtensionPoint) copies() bool { return p == Setup || p == Parameter }

// Scope selects the scenarios a hook fires for.
type Scope struct {
	scenario string
	all      bool
}

// Scenario scopes a hook to one named scenario.
func Scenario(name string) Scope { return Scope{scenario: name} }

// AllScenarios scopes a hook to every scenario.
func AllScenarios() Scope { return Scope{all: true} }

// Matches reports whether the scope covers scenario.
func (s Scope) Matches(scenario string) bool { return s.all || s.scenario == scenario }

func (s Scope) String() string {
	if s.all {
		return "*"
	}
	return s.scenario
}

// Metadata carries request context handed to hooks, such as the caller's
// identity or request headers. It may be nil.
type Metadata map[string]string

// Func transforms pipeline data. It must return the (possibly new) data.
type Func func(ctx context.Context, scenario string, data any, meta Metadata) (any, error)

// Descriptor describes a registered hook.
type Descriptor struct {
	Point ExtensionPoint
	Scope Scope
	Name  string
}

// HookError attributes a hook failure to the hook that raised it.
type HookError struct {
	Point ExtensionPoint
	Scope Scope
	Name  string
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook %q (scenario %s): %v", e.Point, e.Name, e.Scope, e.Err)
}

// Unwrap returns the hook's original error.
func (e *HookError) Unwrap() error { return e.Err }

var (
	// ErrInvalidExtensionPoint rejects registrations outside the four points.
	ErrInvalidExtensionPoint = errors.New("invalid extension point")
	// ErrNilHook rejects a registration without a function.
	ErrNilHook = errors.New("hook function is nil")
)

type hook struct {
	Descriptor
	fn Func
}

// Registry holds hooks per extension point in registration order. Hooks are
// registered once at startup and applied per request; registration is
// additive only.
type Registry struct {
	mu    sync.RWMutex
	hooks [len(pointNames)][]hook
}

// NewRegistry constructs an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends fn to the hooks of point. Name is used in errors and
// introspection only and need not be unique.
func (r *Registry) Register(point ExtensionPoint, scope Scope, name string, fn Func) error {
	if !point.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidExtensionPoint, int(point))
	}
	if fn == nil {
		return ErrNilHook
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[point] = append(r.hooks[point], hook{Descriptor: Descriptor{Point: point, Scope: scope, Name: name}, fn: fn})
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *Registry) MustRegister(point ExtensionPoint, scope Scope, name string, fn Func) {
	if err := r.Register(point, scope, name, fn); err != nil {
		panic(err)
	}
}

// Hooks lists the hooks registered for point in registration order.
func (r *Registry) Hooks(point ExtensionPoint) []Descriptor {
	if !point.valid() {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.hooks[point]))
	for i, h := range r.hooks[point] {
		out[i] = h.Descriptor
	}
	return out
}

// Apply threads data through every hook of point whose scope matches
// scenario, in registration order. Setup and Parameter hooks operate on a
// deep copy so the caller's value is never mutated; EnergySystem and Model
// hooks receive the caller's instance. The first failing hook aborts Apply
// with a *HookError.
func (r *Registry) Apply(ctx context.Context, point ExtensionPoint, scenario string, data any, meta Metadata) (any, error) {
	if !point.valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidExtensionPoint, int(point))
	}
	r.mu.RLock()
	chain := append([]hook(nil), r.hooks[point]...)
	r.mu.RUnlock()

	if point.copies() {
		data = domain.CloneValue(data)
	}
	for _, h := range chain {
		if !h.Scope.Matches(scenario) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := h.fn(ctx, scenario, data, meta)
		if err != nil {
			return nil, &HookError{Point: point, Scope: h.Scope, Name: h.Name, Err: err}
		}
		data = out
	}
	return data, nil
}
