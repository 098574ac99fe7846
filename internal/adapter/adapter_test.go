package adapter

import (
	"context"
	"errors"
	"testing"

	"energycore/internal/logging"
	"energycore/internal/network"
	"energycore/pkg/domain"
)

func dispatchGraph(t *testing.T) *network.Graph {
	t.Helper()
	g := network.NewGraph()
	g.AddNode("gas", map[string]any{"capacity": 100.0, "marginal_cost": 30.0})
	g.AddNode("wind", map[string]any{"capacity": 50.0})
	g.AddNode("bus", nil)
	g.AddNode("demand", map[string]any{"amount": 80.0})
	for _, pair := range [][2]string{{"gas", "bus"}, {"wind", "bus"}, {"bus", "demand"}} {
		if _, err := g.Connect(pair[0], pair[1], map[string]any{"variable_costs": 0.0}); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	return g
}

func TestAdaptSetsNodeAttributesAndUpdates(t *testing.T) {
	g := dispatchGraph(t)
	rec := logging.NewRecorder()
	a := New(rec)
	out := a.Adapt(context.Background(), g, domain.Parameters{"wind": map[string]any{"capacity": 5.0}})
	if out != g {
		t.Fatalf("expected the same network instance")
	}
	wind, _ := g.GraphNode("wind")
	if v, _ := wind.Attr("capacity"); v != 5.0 {
		t.Fatalf("capacity not applied: %v", v)
	}
	if wind.Updates() != 1 {
		t.Fatalf("expected one update, got %d", wind.Updates())
	}
	if rec.Count("warn") != 0 {
		t.Fatalf("unexpected warnings: %+v", rec.Entries())
	}
}

func TestAdaptUnknownNodeIsSoft(t *testing.T) {
	g := dispatchGraph(t)
	rec := logging.NewRecorder()
	New(rec).Adapt(context.Background(), g, domain.Parameters{
		"nuclear": map[string]any{"capacity": 1.0},
		"gas":     map[string]any{"capacity": 10.0},
	})
	gas, _ := g.GraphNode("gas")
	if v, _ := gas.Attr("capacity"); v != 10.0 {
		t.Fatalf("known node must still be adapted, got %v", v)
	}
	if rec.Count("warn") != 1 || rec.Entries()[0].Fields["node"] != "nuclear" {
		t.Fatalf("expected one warning naming the unknown node, got %+v", rec.Entries())
	}
}

func TestAdaptMissingAttributeStillAssigns(t *testing.T) {
	g := dispatchGraph(t)
	rec := logging.NewRecorder()
	New(rec).Adapt(context.Background(), g, domain.Parameters{"demand": map[string]any{"profile": "winter"}})
	demand, _ := g.GraphNode("demand")
	if v, ok := demand.Attr("profile"); !ok || v != "winter" {
		t.Fatalf("attribute must be assigned despite warning, got %v %v", v, ok)
	}
	if rec.Count("warn") != 1 {
		t.Fatalf("expected one warning, got %d", rec.Count("warn"))
	}
}

func TestAdaptOutputParametersResolvesSingleFlow(t *testing.T) {
	g := dispatchGraph(t)
	rec := logging.NewRecorder()
	New(rec).Adapt(context.Background(), g, domain.Parameters{
		"gas": map[string]any{"output_parameters": map[string]any{"variable_costs": 42.0}},
	})
	flow, _ := g.Flow("gas", "bus")
	if flow["variable_costs"] != 42.0 {
		t.Fatalf("implicit output flow not adapted: %v", flow)
	}
	gas, _ := g.GraphNode("gas")
	if _, ok := gas.Attr("output_parameters"); !ok {
		t.Fatalf("node attribute must be assigned as well")
	}
}

func TestAdaptInputParametersAmbiguousSkipsFlow(t *testing.T) {
	g := dispatchGraph(t)
	rec := logging.NewRecorder()
	New(rec).Adapt(context.Background(), g, domain.Parameters{
		"bus": map[string]any{"input_parameters": map[string]any{"variable_costs": 7.0}},
	})
	for _, from := range []string{"gas", "wind"} {
		flow, _ := g.Flow(from, "bus")
		if flow["variable_costs"] != 0.0 {
			t.Fatalf("ambiguous inbound flow %s->bus must not be adapted: %v", from, flow)
		}
	}
	bus, _ := g.GraphNode("bus")
	if v, ok := bus.Attr("input_parameters"); !ok || v == nil {
		t.Fatalf("direct node assignment must proceed")
	}
	if bus.Updates() != 1 {
		t.Fatalf("node update must still run")
	}
	var ambiguity bool
	for _, e := range rec.Entries() {
		if e.Level == "warn" && e.Fields["candidates"] == 2 {
			ambiguity = true
		}
	}
	if !ambiguity {
		t.Fatalf("expected ambiguity warning, got %+v", rec.Entries())
	}
}

func TestAdaptFlowEntries(t *testing.T) {
	g := dispatchGraph(t)
	rec := logging.NewRecorder()
	New(rec).Adapt(context.Background(), g, domain.Parameters{
		"flow": []any{
			[]any{"bus", "demand", "variable_costs", 3.5},
			[]any{"bus", "demand", "nominal_value", 90.0},
			[]any{"wind", "demand", "variable_costs", 1.0},
			[]any{"broken"},
		},
	})
	flow, _ := g.Flow("bus", "demand")
	if flow["variable_costs"] != 3.5 || flow["nominal_value"] != 90.0 {
		t.Fatalf("flow overrides not applied: %v", flow)
	}
	// nominal_value undeclared, wind->demand unknown, malformed entry
	if rec.Count("warn") != 3 {
		t.Fatalf("expected three warnings, got %+v", rec.Entries())
	}
}

func TestAdaptNodeUpdateFailureIsSoft(t *testing.T) {
	g := dispatchGraph(t)
	gas, _ := g.GraphNode("gas")
	gas.OnUpdate = func(*network.GraphNode) error { return errors.New("invalid capacity") }
	rec := logging.NewRecorder()
	New(rec).Adapt(context.Background(), g, domain.Parameters{"gas": map[string]any{"capacity": -1.0}})
	if rec.Count("warn") != 1 {
		t.Fatalf("expected update failure to be logged, got %+v", rec.Entries())
	}
}

func TestAdaptNonMappingOverride(t *testing.T) {
	g := dispatchGraph(t)
	rec := logging.NewRecorder()
	New(rec).Adapt(context.Background(), g, domain.Parameters{"gas": 5.0, "flow": "nope"})
	if rec.Count("warn") != 2 {
		t.Fatalf("expected two warnings, got %+v", rec.Entries())
	}
}
