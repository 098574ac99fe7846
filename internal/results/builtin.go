package results

import (
	"context"
	"fmt"

	"energycore/pkg/domain"
)

// Built-in calculation names.
const (
	SummedFlows      = "summed_flows"
	VariableCosts    = "variable_costs"
	TotalSystemCosts = "total_system_costs"
)

// Builtins returns the built-in calculations.
func Builtins() []Calculation {
	return []Calculation{
		NewCalculation(SummedFlows, summedFlows),
		NewCalculation(VariableCosts, variableCosts),
		NewCalculation(TotalSystemCosts, totalSystemCosts),
	}
}

// summedFlows sums the "flow" sequence of every result edge.
func summedFlows(_ context.Context, c *Calculator) (Output, error) {
	s := &Series{Name: SummedFlows, Index: []any{}, Values: []float64{}}
	for _, edge := range c.Result.Edges() {
		values, ok, err := sequenceValues(c.Result[edge].Sequences["flow"])
		if err != nil {
			return nil, fmt.Errorf("flow on %s: %w", edge, err)
		}
		if !ok || edge.To == "" {
			continue
		}
		var total float64
		for _, v := range values {
			total += v
		}
		s.Index = append(s.Index, edge.String())
		s.Values = append(s.Values, total)
	}
	return s, nil
}

// variableCosts multiplies each summed flow by the edge's variable_costs
// input scalar. Edges without a numeric cost are left out.
func variableCosts(ctx context.Context, c *Calculator) (Output, error) {
	dep, err := c.Dependency(ctx, SummedFlows)
	if err != nil {
		return nil, err
	}
	flows, ok := dep.(*Series)
	if !ok {
		return nil, fmt.Errorf("%s: expected series, got %T", SummedFlows, dep)
	}
	f := &Frame{Columns: []string{"variable_costs", "summed_flow", "costs"}, Index: []any{}, Data: [][]any{}}
	edges := map[string]domain.Edge{}
	for _, e := range c.Input.Edges() {
		edges[e.String()] = e
	}
	for i, label := range flows.Index {
		key, _ := label.(string)
		edge, ok := edges[key]
		if !ok {
			continue
		}
		cost, ok := number(c.Input[edge].Scalars["variable_costs"])
		if !ok {
			continue
		}
		flow := flows.Values[i]
		f.Index = append(f.Index, key)
		f.Data = append(f.Data, []any{cost, flow, cost * flow})
	}
	return f, nil
}

// totalSystemCosts sums the costs column of variable_costs.
func totalSystemCosts(ctx context.Context, c *Calculator) (Output, error) {
	dep, err := c.Dependency(ctx, VariableCosts)
	if err != nil {
		return nil, err
	}
	frame, ok := dep.(*Frame)
	if !ok {
		return nil, fmt.Errorf("%s: expected frame, got %T", VariableCosts, dep)
	}
	costs, _ := frame.Column("costs")
	var total float64
	for _, v := range costs {
		if n, ok := number(v); ok {
			total += n
		}
	}
	return &Series{Name: TotalSystemCosts, Index: []any{TotalSystemCosts}, Values: []float64{total}}, nil
}

func sequenceValues(v any) ([]float64, bool, error) {
	switch s := v.(type) {
	case nil:
		return nil, false, nil
	case domain.Series:
		return s.Values, true, nil
	case []float64:
		return s, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported sequence %T", v)
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case domain.Float64:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
