// Package storetest holds the behavioural contract every domain.PersistentStore
// backend must satisfy. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"energycore/pkg/domain"
)

// Opener returns a fresh, empty store for one subtest.
type Opener func(t *testing.T) domain.PersistentStore

// Run executes the full contract against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Helper()
	t.Run("dataset round trip", func(t *testing.T) { testDatasetRoundTrip(t, open(t)) })
	t.Run("simulation identity", func(t *testing.T) { testSimulationIdentity(t, open(t)) })
	t.Run("result conflict ignored", func(t *testing.T) { testResultConflict(t, open(t)) })
	t.Run("delete cascades", func(t *testing.T) { testDeleteCascade(t, open(t)) })
	t.Run("rollback on error", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("missing lookups", func(t *testing.T) { testMissing(t, open(t)) })
}

// SampleBundles returns an input and result bundle covering every tag.
func SampleBundles() (domain.DataBundle, domain.DataBundle) {
	to := "bus"
	input := domain.DataBundle{
		Scalars: []domain.ScalarRow{
			{FromNode: "pp_gas", ToNode: "bus", Attribute: "nominal_value", Value: "1200.5", Type: domain.TagFloat},
			{FromNode: "pp_gas", ToNode: "", Attribute: "label", Value: "pp_gas", Type: domain.TagStr},
			{FromNode: "pp_gas", ToNode: "bus", Attribute: "steps", Value: "-7", Type: domain.TagInt},
			{FromNode: "storage", ToNode: "", Attribute: "balanced", Value: "true", Type: domain.TagBool},
		},
		Sequences: []domain.SequenceRow{
			{FromNode: "pp_gas", ToNode: &to, Attribute: "fix", Value: []float64{0.1, 0.2, 0.3}, Type: domain.TagList},
			{FromNode: "demand", Attribute: "profile", Value: []float64{1, 2}, Type: domain.TagSeries},
		},
	}
	result := domain.DataBundle{
		Sequences: []domain.SequenceRow{
			{FromNode: "pp_gas", ToNode: &to, Attribute: "flow", Value: []float64{10, 20, 30}, Type: domain.TagSeries},
		},
	}
	return input, result
}

var ignoreIDs = cmp.Options{
	cmpopts.IgnoreFields(domain.ScalarRow{}, "ID"),
	cmpopts.IgnoreFields(domain.SequenceRow{}, "ID"),
	cmpopts.IgnoreFields(domain.DataBundle{}, "ID"),
	cmpopts.SortSlices(func(a, b domain.ScalarRow) bool { return a.FromNode+a.ToNode+a.Attribute < b.FromNode+b.ToNode+b.Attribute }),
	cmpopts.SortSlices(func(a, b domain.SequenceRow) bool { return a.FromNode+a.Attribute < b.FromNode+b.Attribute }),
	cmpopts.EquateEmpty(),
}

func testDatasetRoundTrip(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	input, result := SampleBundles()
	var created domain.Dataset
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateDataset(input, result)
		return err
	}); err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected dataset id to be assigned")
	}
	var loaded domain.Dataset
	if err := store.View(ctx, func(v domain.TransactionView) error {
		ds, ok, err := v.GetDataset(created.ID)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("dataset %d not found", created.ID)
		}
		loaded = ds
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if diff := cmp.Diff(input, loaded.Input, ignoreIDs); diff != "" {
		t.Fatalf("input bundle mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(result, loaded.Result, ignoreIDs); diff != "" {
		t.Fatalf("result bundle mismatch (-want +got):\n%s", diff)
	}
	if loaded.Input.ID == loaded.Result.ID {
		t.Fatalf("input and result bundles share id %d", loaded.Input.ID)
	}
}

func testSimulationIdentity(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	params := domain.Parameters{"demand": map[string]any{"amount": 10.0}}
	key, err := params.CanonicalKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	var first domain.Simulation
	err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		ds, err := tx.CreateDataset(SampleBundles())
		if err != nil {
			return err
		}
		first, err = tx.CreateSimulation(domain.Simulation{Scenario: "base", Parameters: params, ParametersKey: key, DatasetID: &ds.ID})
		return err
	})
	if err != nil {
		t.Fatalf("create simulation: %v", err)
	}
	if first.ID == 0 || first.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", first)
	}
	err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSimulation(domain.Simulation{Scenario: "base", Parameters: params, ParametersKey: key})
		return err
	})
	if err == nil {
		t.Fatalf("expected duplicate identity to be rejected")
	}
	err = store.View(ctx, func(v domain.TransactionView) error {
		found, ok, err := v.FindSimulation("base", key)
		if err != nil {
			return err
		}
		if !ok || found.ID != first.ID {
			t.Fatalf("expected to find simulation %d, got %+v ok=%v", first.ID, found, ok)
		}
		if !found.HasDataset() || *found.DatasetID != *first.DatasetID {
			t.Fatalf("dataset link lost: %+v", found)
		}
		if diff := cmp.Diff(params, found.Parameters); diff != "" {
			t.Fatalf("parameters mismatch (-want +got):\n%s", diff)
		}
		if _, ok, _ := v.FindSimulation("other", key); ok {
			t.Fatalf("identity must include scenario")
		}
		sims, err := v.ListSimulations("base")
		if err != nil {
			return err
		}
		if len(sims) != 1 {
			t.Fatalf("expected one simulation, got %d", len(sims))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func createBareSimulation(t *testing.T, store domain.PersistentStore, scenario string, params domain.Parameters) domain.Simulation {
	t.Helper()
	key, _ := params.CanonicalKey()
	var sim domain.Simulation
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		sim, err = tx.CreateSimulation(domain.Simulation{Scenario: scenario, Parameters: params, ParametersKey: key})
		return err
	})
	if err != nil {
		t.Fatalf("create simulation: %v", err)
	}
	return sim
}

func testResultConflict(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	sim := createBareSimulation(t, store, "base", domain.Parameters{})
	payload := []byte(`{"columns":["a"],"index":[0],"data":[[1]]}`)
	var first, second domain.Result
	var created1, created2 bool
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		first, created1, err = tx.CreateResult(domain.Result{SimulationID: sim.ID, Name: "summed_flows", DataType: domain.DataSeries, Data: payload})
		return err
	})
	if err != nil {
		t.Fatalf("create result: %v", err)
	}
	err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		second, created2, err = tx.CreateResult(domain.Result{SimulationID: sim.ID, Name: "summed_flows", DataType: domain.DataFrame, Data: []byte(`{}`)})
		return err
	})
	if err != nil {
		t.Fatalf("second create result: %v", err)
	}
	if !created1 || created2 {
		t.Fatalf("expected first insert to create and second to be ignored, got %v %v", created1, created2)
	}
	if second.ID != first.ID || string(second.Data) != string(payload) || second.DataType != domain.DataSeries {
		t.Fatalf("existing row must be returned unchanged, got %+v", second)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		all, err := v.ListResults(sim.ID)
		if err != nil {
			t.Fatalf("list results: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("expected one result row, got %d", len(all))
		}
		return nil
	})
}

func testDeleteCascade(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	var sim domain.Simulation
	var dsID int64
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		ds, err := tx.CreateDataset(SampleBundles())
		if err != nil {
			return err
		}
		dsID = ds.ID
		sim, err = tx.CreateSimulation(domain.Simulation{Scenario: "cascade", Parameters: domain.Parameters{}, ParametersKey: "{}"})
		if err != nil {
			return err
		}
		if err := tx.AttachDataset(sim.ID, ds.ID); err != nil {
			return err
		}
		_, _, err = tx.CreateResult(domain.Result{SimulationID: sim.ID, Name: "x", DataType: domain.DataSeries, Data: []byte(`{}`)})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	createBareSimulation(t, store, "cascade", domain.Parameters{"k": "v"})
	createBareSimulation(t, store, "keep", domain.Parameters{})

	var removed int
	err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		removed, err = tx.DeleteSimulations("cascade")
		return err
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected two simulations removed, got %d", removed)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if _, ok, _ := v.GetSimulation(sim.ID); ok {
			t.Fatalf("simulation survived delete")
		}
		if _, ok, _ := v.GetDataset(dsID); ok {
			t.Fatalf("dataset survived delete")
		}
		if res, _ := v.ListResults(sim.ID); len(res) != 0 {
			t.Fatalf("results survived delete: %d", len(res))
		}
		if rest, _ := v.ListSimulations(""); len(rest) != 1 || rest[0].Scenario != "keep" {
			t.Fatalf("unexpected remaining simulations: %+v", rest)
		}
		return nil
	})
	err = store.RunInTransaction(ctx, func(tx domain.Transaction) error { return tx.DeleteSimulation(sim.ID) })
	if !errors.Is(err, domain.ErrSimulationNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func testRollback(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateSimulation(domain.Simulation{Scenario: "rollback", Parameters: domain.Parameters{}, ParametersKey: "{}"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if sims, _ := v.ListSimulations("rollback"); len(sims) != 0 {
			t.Fatalf("rolled back simulation persisted: %+v", sims)
		}
		return nil
	})
}

func testMissing(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if _, ok, err := v.GetSimulation(999); ok || err != nil {
			t.Fatalf("expected miss without error, got ok=%v err=%v", ok, err)
		}
		if _, ok, err := v.GetDataset(999); ok || err != nil {
			t.Fatalf("expected miss without error, got ok=%v err=%v", ok, err)
		}
		if _, ok, err := v.FindResult(999, "x"); ok || err != nil {
			t.Fatalf("expected miss without error, got ok=%v err=%v", ok, err)
		}
		return nil
	})
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.AttachDataset(999, 1)
	})
	if !errors.Is(err, domain.ErrSimulationNotFound) {
		t.Fatalf("expected simulation not found, got %v", err)
	}
}
