package memory

import (
	"context"
	"testing"
	"time"

	"energycore/internal/infra/persistence/storetest"
	"energycore/pkg/domain"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) domain.PersistentStore { return NewStore() })
}

func TestExportStateIsAClone(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewStore()
	store.SetNowFunc(func() time.Time { return fixed })
	ctx := context.Background()
	if err := store.RunInTransaction(ctx, func(tx Transaction) error {
		ds, err := tx.CreateDataset(DataBundle{}, DataBundle{})
		if err != nil {
			return err
		}
		_, err = tx.CreateSimulation(Simulation{Scenario: "s", Parameters: domain.Parameters{"a": "b"}, ParametersKey: `{"a":"b"}`, DatasetID: &ds.ID})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	snap := store.ExportState()
	if len(snap.Simulations) != 1 || len(snap.Datasets) != 1 || len(snap.Results) != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	for _, sim := range snap.Simulations {
		if !sim.CreatedAt.Equal(fixed) {
			t.Fatalf("created_at = %v, want %v", sim.CreatedAt, fixed)
		}
		sim.Parameters["a"] = "mutated"
	}
	for _, sim := range store.ExportState().Simulations {
		if sim.Parameters["a"] != "b" {
			t.Fatalf("snapshot aliases store state: %v", sim.Parameters)
		}
	}
}

func TestViewIsolatedFromCallerMutation(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	_ = store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateSimulation(Simulation{Scenario: "s", Parameters: domain.Parameters{"a": "b"}, ParametersKey: `{"a":"b"}`})
		return err
	})
	_ = store.View(ctx, func(v TransactionView) error {
		sims, _ := v.ListSimulations("")
		sims[0].Parameters["a"] = "mutated"
		return nil
	})
	_ = store.View(ctx, func(v TransactionView) error {
		sims, _ := v.ListSimulations("")
		if sims[0].Parameters["a"] != "b" {
			t.Fatalf("stored parameters were mutated: %v", sims[0].Parameters)
		}
		return nil
	})
}

func TestCanceledContext(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.RunInTransaction(ctx, func(Transaction) error { return nil }); err == nil {
		t.Fatalf("expected canceled context error")
	}
}
