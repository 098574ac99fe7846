package statics

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"energycore/internal/blob"
	"energycore/internal/infra/persistence/memory"
	"energycore/internal/infra/persistence/sqlite"
	"energycore/internal/logging"
	"energycore/internal/results"
	"energycore/internal/resultstore"
	"energycore/pkg/domain"
)

const costsPackage = `{
  "parameters": {"year": 2030, "region": "north"},
  "resources": [
    {"name": "summed_flows", "path": "data/summed_flows.csv"},
    {"name": "variable_costs", "path": "data/variable_costs.csv"}
  ]
}`

const summedFlowsCSV = "flow,value\ngas-bus,6\nwind-bus,\n"

const variableCostsCSV = "node,costs,label\ngas,180,fossil\nwind,0,\n"

func put(t *testing.T, store blob.Store, key, body string) {
	t.Helper()
	if _, err := store.Put(context.Background(), key, strings.NewReader(body), blob.PutOptions{}); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func seeded(t *testing.T, scenarios ...string) blob.Store {
	t.Helper()
	store := blob.NewMemory()
	for _, scenario := range scenarios {
		put(t, store, blob.Join(DefaultPrefix, scenario, "datapackage.json"), costsPackage)
		put(t, store, blob.Join(DefaultPrefix, scenario, "data/summed_flows.csv"), summedFlowsCSV)
		put(t, store, blob.Join(DefaultPrefix, scenario, "data/variable_costs.csv"), variableCostsCSV)
	}
	return store
}

func simulations(t *testing.T, persist domain.PersistentStore, scenario string) []domain.Simulation {
	t.Helper()
	var sims []domain.Simulation
	err := persist.View(context.Background(), func(v domain.TransactionView) error {
		var err error
		sims, err = v.ListSimulations(scenario)
		return err
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return sims
}

func TestImportAllScenariosThenSkip(t *testing.T) {
	for name, open := range map[string]func(t *testing.T) domain.PersistentStore{
		"memory": func(*testing.T) domain.PersistentStore { return memory.NewStore() },
		"sqlite": func(t *testing.T) domain.PersistentStore {
			s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "statics.db"))
			if err != nil {
				t.Skipf("sqlite unavailable: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	} {
		t.Run(name, func(t *testing.T) {
			persist := open(t)
			rec := logging.NewRecorder()
			imp := NewImporter(persist, seeded(t, "north", "south"), WithIgnoredParameters("year"), WithLogger(rec))
			ctx := context.Background()

			report, err := imp.Import(ctx)
			if err != nil {
				t.Fatalf("import: %v", err)
			}
			if diff := cmp.Diff(Report{Entries: []Entry{{Scenario: "north"}, {Scenario: "south"}}}, report); diff != "" {
				t.Fatalf("report mismatch (-want +got):\n%s", diff)
			}
			sims := simulations(t, persist, "north")
			if len(sims) != 1 {
				t.Fatalf("expected one simulation, got %d", len(sims))
			}
			if sims[0].HasDataset() {
				t.Fatalf("static simulation must not carry a dataset")
			}
			if diff := cmp.Diff(domain.Parameters{"region": "north"}, sims[0].Parameters); diff != "" {
				t.Fatalf("stored parameters (-want +got):\n%s", diff)
			}

			again, err := imp.Import(ctx, "north")
			if err != nil {
				t.Fatalf("second import: %v", err)
			}
			if diff := cmp.Diff(Report{Entries: []Entry{{Scenario: "north", Skipped: true}}}, again); diff != "" {
				t.Fatalf("second report (-want +got):\n%s", diff)
			}
			if got := len(simulations(t, persist, "")); got != 2 {
				t.Fatalf("expected two simulations overall, got %d", got)
			}
			if rec.Count("info") != 3 {
				t.Fatalf("expected three info logs, got %+v", rec.Entries())
			}
		})
	}
}

func TestImportedResultsServeTheCache(t *testing.T) {
	persist := memory.NewStore()
	if _, err := NewImporter(persist, seeded(t, "north")).Import(context.Background()); err != nil {
		t.Fatalf("import: %v", err)
	}
	sim := simulations(t, persist, "north")[0]
	cache := results.NewCache(persist, resultstore.New(persist, nil), nil)

	out, err := cache.GetResults(context.Background(), sim.ID, "summed_flows", "variable_costs")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	series, ok := out["summed_flows"].(*results.Series)
	if !ok {
		t.Fatalf("summed_flows is %T", out["summed_flows"])
	}
	if series.Values[0] != 6 || !math.IsNaN(series.Values[1]) {
		t.Fatalf("unexpected series values %v", series.Values)
	}
	frame, ok := out["variable_costs"].(*results.Frame)
	if !ok {
		t.Fatalf("variable_costs is %T", out["variable_costs"])
	}
	want := &results.Frame{
		Columns: []string{"costs", "label"},
		Index:   []any{"gas", "wind"},
		Data:    [][]any{{180.0, "fossil"}, {0.0, nil}},
	}
	if diff := cmp.Diff(want, frame); diff != "" {
		t.Fatalf("frame mismatch (-want +got):\n%s", diff)
	}

	// results absent from the import cannot be computed without a dataset
	if _, err := cache.GetResults(context.Background(), sim.ID, "total_system_costs"); !errors.Is(err, results.ErrDatasetMissing) {
		t.Fatalf("expected dataset missing, got %v", err)
	}
}

func TestImportRollsBackBrokenScenario(t *testing.T) {
	persist := memory.NewStore()
	store := blob.NewMemory()
	put(t, store, blob.Join(DefaultPrefix, "north", "datapackage.json"), costsPackage)
	put(t, store, blob.Join(DefaultPrefix, "north", "data/summed_flows.csv"), summedFlowsCSV)
	put(t, store, blob.Join(DefaultPrefix, "north", "data/variable_costs.csv"), "node\ngas\n")

	_, err := NewImporter(persist, store).Import(context.Background(), "north")
	if !errors.Is(err, ErrMalformedResource) {
		t.Fatalf("expected malformed resource, got %v", err)
	}
	if sims := simulations(t, persist, ""); len(sims) != 0 {
		t.Fatalf("failed import left %d simulations", len(sims))
	}
}

func TestImportReportsInProcessingOrder(t *testing.T) {
	persist := memory.NewStore()
	store := seeded(t, "east", "north", "south")
	if _, err := NewImporter(persist, store).Import(context.Background(), "north"); err != nil {
		t.Fatalf("seed import: %v", err)
	}
	put(t, store, blob.Join(DefaultPrefix, "west", "datapackage.json"), "{")

	var seen []Entry
	imp := NewImporter(persist, store, WithProgress(func(e Entry) { seen = append(seen, e) }))
	report, err := imp.Import(context.Background(), "east", "north", "south", "west")
	if err == nil {
		t.Fatalf("expected the broken scenario to fail")
	}
	want := []Entry{{Scenario: "east"}, {Scenario: "north", Skipped: true}, {Scenario: "south"}}
	if diff := cmp.Diff(want, report.Entries); diff != "" {
		t.Fatalf("report order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("progress order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"east", "south"}, report.Imported()); diff != "" {
		t.Fatalf("imported (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"north"}, report.Skipped()); diff != "" {
		t.Fatalf("skipped (-want +got):\n%s", diff)
	}
}

func TestImportMissingScenario(t *testing.T) {
	_, err := NewImporter(memory.NewStore(), blob.NewMemory()).Import(context.Background(), "nowhere")
	if !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestImportCustomPrefix(t *testing.T) {
	store := blob.NewMemory()
	put(t, store, "static/island/datapackage.json", `{"parameters": {}, "resources": []}`)
	report, err := NewImporter(memory.NewStore(), store, WithPrefix("/static/")).Import(context.Background())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if diff := cmp.Diff([]string{"island"}, report.Imported()); diff != "" {
		t.Fatalf("imported (-want +got):\n%s", diff)
	}
}

func TestParseCSV(t *testing.T) {
	cases := map[string]struct {
		in   string
		want results.Output
		err  bool
	}{
		"series": {
			in:   "t,demand\n0,1.5\n1,2\n",
			want: &results.Series{Name: "demand", Index: []any{0.0, 1.0}, Values: []float64{1.5, 2}},
		},
		"frame": {
			in:   "t,a,b\nx,1,y\n",
			want: &results.Frame{Columns: []string{"a", "b"}, Index: []any{"x"}, Data: [][]any{{1.0, "y"}}},
		},
		"index only":           {in: "t\n0\n", err: true},
		"empty":                {in: "", err: true},
		"ragged":               {in: "t,a\n0,1,2\n", err: true},
		"text in series value": {in: "t,a\n0,high\n", err: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseCSV(strings.NewReader(tc.in))
			if tc.err {
				if !errors.Is(err, ErrMalformedResource) {
					t.Fatalf("expected malformed resource, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
