package core

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"energycore/internal/blob"
	"energycore/internal/config"
	"energycore/internal/infra/persistence/memory"
	"energycore/internal/network"
	"energycore/internal/observability"
	"energycore/internal/results"
	"energycore/internal/simulation"
	"energycore/pkg/domain"
)

// costEngine builds a single gas->bus flow whose cost comes from the
// datapackage and dispatches 2 then 4 units on it.
type costEngine struct{}

func (costEngine) BuildNetwork(_ context.Context, raw []byte) (network.Network, error) {
	var dp struct {
		Cost float64 `json:"cost"`
	}
	if err := json.Unmarshal(raw, &dp); err != nil {
		return nil, err
	}
	g := network.NewGraph()
	g.AddNode("gas", map[string]any{"capacity": 10.0})
	g.AddNode("bus", map[string]any{})
	if _, err := g.Connect("gas", "bus", map[string]any{"variable_costs": dp.Cost}); err != nil {
		return nil, err
	}
	return g, nil
}

func (costEngine) NewModel(_ context.Context, net network.Network) (simulation.Model, error) {
	return costModel{net: net}, nil
}

type costModel struct{ net network.Network }

func (m costModel) Solve(ctx context.Context) (simulation.Solution, error) {
	if err := ctx.Err(); err != nil {
		return simulation.Solution{}, err
	}
	input, result := domain.Bundle{}, domain.Bundle{}
	for _, e := range m.net.Edges() {
		cost, _ := e.Flow.Attr("variable_costs")
		key := domain.Edge{From: e.From, To: e.To}
		input[key] = domain.EdgeData{Scalars: map[string]any{"variable_costs": cost}}
		result[key] = domain.EdgeData{Sequences: map[string]any{"flow": []float64{2, 4}}}
	}
	return simulation.Solution{Termination: "optimal", Input: input, Result: result}, nil
}

func testConfig() config.Config {
	return config.Config{
		StorageDriver:              config.StorageMemory,
		Blob:                       blob.Config{Driver: blob.DriverMemory},
		ScenarioPrefix:             "oemof",
		StaticPrefix:               "oemof_static",
		IgnoreSimulationParameters: []string{"year"},
		TimeLimit:                  time.Second,
		Workers:                    2,
	}
}

func newTestService(t *testing.T, engine simulation.Engine) *Service {
	t.Helper()
	blobs := blob.NewMemory()
	put := func(key, body string) {
		if _, err := blobs.Put(context.Background(), key, strings.NewReader(body), blob.PutOptions{}); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	put("oemof/dispatch/datapackage.json", `{"cost": 30}`)
	put("oemof_static/archive/datapackage.json", `{"parameters": {"year": 2020}, "resources": [{"name": "total_system_costs", "path": "total.csv"}]}`)
	put("oemof_static/archive/total.csv", "name,total\ntotal_system_costs,95\n")

	svc, err := NewService(memory.NewStore(), blobs, engine, WithConfig(testConfig()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return svc
}

func totalCosts(t *testing.T, svc *Service, simID int64) float64 {
	t.Helper()
	out, err := svc.Results(context.Background(), simID, results.TotalSystemCosts)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	series, ok := out[results.TotalSystemCosts].(*results.Series)
	if !ok || len(series.Values) != 1 {
		t.Fatalf("unexpected total_system_costs %#v", out[results.TotalSystemCosts])
	}
	return series.Values[0]
}

func TestServiceSimulateThenCalculate(t *testing.T) {
	svc := newTestService(t, costEngine{})
	ctx := context.Background()

	first, err := svc.SimulateScenario(ctx, "dispatch", domain.Parameters{"year": 2030.0}, nil)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	second, err := svc.SimulateScenario(ctx, "dispatch", domain.Parameters{"year": 2050.0}, nil)
	if err != nil {
		t.Fatalf("simulate again: %v", err)
	}
	if second.Status != simulation.StatusReused || second.SimulationID != first.SimulationID {
		t.Fatalf("configured ignored parameter must not split identity: %+v %+v", first, second)
	}
	if got := totalCosts(t, svc, first.SimulationID); got != 180 {
		t.Fatalf("total_system_costs = %v, want 180", got)
	}
	if got := testutil.ToFloat64(svc.Metrics().Simulations.WithLabelValues(observability.OutcomeReused)); got != 1 {
		t.Fatalf("reused simulations = %v", got)
	}

	n, err := svc.DeleteScenario(ctx, "dispatch")
	if err != nil || n != 1 {
		t.Fatalf("delete scenario: n=%d err=%v", n, err)
	}
	if _, err := svc.Results(ctx, first.SimulationID, results.SummedFlows); !errors.Is(err, domain.ErrSimulationNotFound) {
		t.Fatalf("expected deleted simulation to be gone, got %v", err)
	}
}

func TestServiceBackgroundSubmit(t *testing.T) {
	svc := newTestService(t, costEngine{})
	svc.Start()
	task, err := svc.Submit(context.Background(), simulation.Request{Scenario: "dispatch"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, ok := svc.Task(task.ID)
		if !ok {
			t.Fatalf("task vanished")
		}
		if got.Status.Done() {
			if got.Status != simulation.TaskSucceeded {
				t.Fatalf("task ended %s: %s", got.Status, got.Error)
			}
			sims, err := svc.Simulations(context.Background(), "dispatch")
			if err != nil || len(sims) != 1 || sims[0].ID != got.SimulationID {
				t.Fatalf("background result not stored: %+v %v", sims, err)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("task did not finish: %+v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServiceWithoutEngineImportsStatics(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	if _, err := svc.SimulateScenario(ctx, "dispatch", nil, nil); !errors.Is(err, ErrNoEngine) {
		t.Fatalf("expected no engine, got %v", err)
	}
	if _, err := svc.Submit(ctx, simulation.Request{Scenario: "dispatch"}); !errors.Is(err, ErrNoEngine) {
		t.Fatalf("expected no engine on submit, got %v", err)
	}
	report, err := svc.ImportStatic(ctx)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported := report.Imported(); len(imported) != 1 || imported[0] != "archive" {
		t.Fatalf("unexpected report %+v", report)
	}
	sims, err := svc.Simulations(ctx, "archive")
	if err != nil || len(sims) != 1 {
		t.Fatalf("imported simulation missing: %+v %v", sims, err)
	}
	if _, ok := sims[0].Parameters["year"]; ok {
		t.Fatalf("ignored parameter stored on import: %v", sims[0].Parameters)
	}
	if got := totalCosts(t, svc, sims[0].ID); got != 95 {
		t.Fatalf("imported total = %v, want 95", got)
	}
}

func TestServiceCustomCalculation(t *testing.T) {
	svc := newTestService(t, costEngine{})
	ctx := context.Background()
	out, err := svc.SimulateScenario(ctx, "dispatch", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	peak := results.NewCalculation("peak_flow", func(ctx context.Context, c *results.Calculator) (results.Output, error) {
		return &results.Series{Name: "peak_flow", Index: []any{"gas-bus"}, Values: []float64{4}}, nil
	})
	svc.Calculations().Register(peak)
	got, err := svc.Results(ctx, out.SimulationID, "peak_flow")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if s := got["peak_flow"].(*results.Series); s.Values[0] != 4 {
		t.Fatalf("peak_flow = %v", s.Values)
	}
	if _, err := svc.Calculate(ctx, out.SimulationID, peak); err != nil {
		t.Fatalf("calculate: %v", err)
	}
}

func TestOpenFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = config.StorageSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "service.db")
	cfg.Blob = blob.Config{Driver: blob.DriverFilesystem, FSRoot: t.TempDir()}
	svc, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer svc.Close(context.Background())
	if svc.Blobs().Driver() != blob.DriverFilesystem {
		t.Fatalf("unexpected blob driver %s", svc.Blobs().Driver())
	}
	report, err := svc.ImportStatic(context.Background())
	if err != nil || len(report.Entries) != 0 {
		t.Fatalf("empty static prefix: %+v %v", report, err)
	}

	bad := testConfig()
	bad.StorageDriver = "mongo"
	if _, err := Open(context.Background(), bad, nil); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}

func TestOpenPersistentStoreDrivers(t *testing.T) {
	store, err := OpenPersistentStore(config.Config{StorageDriver: config.StorageMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	if _, err := OpenPersistentStore(config.Config{StorageDriver: "mongo"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
