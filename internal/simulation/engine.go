// Package simulation runs scenarios through an external optimisation engine
// and persists each distinct (scenario, parameters) solve exactly once.
package simulation

import (
	"context"

	"energycore/internal/network"
	"energycore/pkg/domain"
)

// TerminationInfeasible is the solver termination condition for which no
// results are stored.
const TerminationInfeasible = "infeasible"

// Solution is what a solved model hands back: the solver's termination
// condition plus the flattened input parameters and results.
type Solution struct {
	Termination string
	Input       domain.Bundle
	Result      domain.Bundle
}

// Model is a solve-ready optimisation model.
type Model interface {
	Solve(ctx context.Context) (Solution, error)
}

// Engine is the optimisation backend: it builds networks from scenario
// datapackages and turns them into models.
type Engine interface {
	BuildNetwork(ctx context.Context, datapackage []byte) (network.Network, error)
	NewModel(ctx context.Context, net network.Network) (Model, error)
}
