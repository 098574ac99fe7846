package hooks

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"energycore/pkg/domain"
)

func suffixHook(suffix string) Func {
	return func(_ context.Context, _ string, data any, _ Metadata) (any, error) {
		params := data.(map[string]any)
		out := make(map[string]any, len(params))
		for k, v := range params {
			out[k] = fmt.Sprintf("%v_%s", v, suffix)
		}
		return out, nil
	}
}

func TestApplyScopesHooksPerScenario(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Parameter, Scenario("1"), "h1", suffixHook("1"))
	reg.MustRegister(Parameter, Scenario("2"), "h2", suffixHook("2"))

	original := map[string]any{"a": "1", "b": "2"}
	ctx := context.Background()

	got, err := reg.Apply(ctx, Parameter, "1", original, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"a": "1_1", "b": "2_1"}, got); diff != "" {
		t.Fatalf("scenario 1 mismatch (-want +got):\n%s", diff)
	}
	got, err = reg.Apply(ctx, Parameter, "2", original, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"a": "1_2", "b": "2_2"}, got); diff != "" {
		t.Fatalf("scenario 2 mismatch (-want +got):\n%s", diff)
	}
	got, _ = reg.Apply(ctx, Parameter, "3", original, nil)
	if diff := cmp.Diff(original, got); diff != "" {
		t.Fatalf("unscoped scenario should pass through (-want +got):\n%s", diff)
	}
}

func TestApplyComposesInRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Setup, Scenario("1"), "h1", suffixHook("1"))
	reg.MustRegister(Setup, AllScenarios(), "h2", suffixHook("all"))

	got, err := reg.Apply(context.Background(), Setup, "1", map[string]any{"a": "1"}, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"a": "1_1_all"}, got); diff != "" {
		t.Fatalf("composition mismatch (-want +got):\n%s", diff)
	}

	reversed := NewRegistry()
	reversed.MustRegister(Setup, AllScenarios(), "h2", suffixHook("all"))
	reversed.MustRegister(Setup, Scenario("1"), "h1", suffixHook("1"))
	got, _ = reversed.Apply(context.Background(), Setup, "1", map[string]any{"a": "1"}, nil)
	if diff := cmp.Diff(map[string]any{"a": "1_all_1"}, got); diff != "" {
		t.Fatalf("reversed composition mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyCopiesSetupAndParameterData(t *testing.T) {
	mutating := func(_ context.Context, _ string, data any, _ Metadata) (any, error) {
		params := data.(map[string]any)
		params["a"] = "mutated"
		params["nested"].(map[string]any)["x"] = 99.0
		return params, nil
	}
	for _, point := range []ExtensionPoint{Setup, Parameter} {
		reg := NewRegistry()
		reg.MustRegister(point, AllScenarios(), "mutator", mutating)
		original := map[string]any{"a": "1", "nested": map[string]any{"x": 1.0}}
		if _, err := reg.Apply(context.Background(), point, "s", original, nil); err != nil {
			t.Fatalf("%s: apply: %v", point, err)
		}
		if original["a"] != "1" || original["nested"].(map[string]any)["x"] != 1.0 {
			t.Fatalf("%s: caller data was mutated: %v", point, original)
		}
	}
}

func TestApplyCopiesParametersType(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Setup, AllScenarios(), "mutator", func(_ context.Context, _ string, data any, _ Metadata) (any, error) {
		p := data.(domain.Parameters)
		p["k"] = "changed"
		return p, nil
	})
	original := domain.Parameters{"k": "v"}
	got, err := reg.Apply(context.Background(), Setup, "s", original, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if original["k"] != "v" || got.(domain.Parameters)["k"] != "changed" {
		t.Fatalf("unexpected values original=%v got=%v", original, got)
	}
}

type network struct{ touched []string }

func TestApplyPassesEnergySystemAndModelByReference(t *testing.T) {
	reg := NewRegistry()
	for _, point := range []ExtensionPoint{EnergySystem, Model} {
		p := point
		reg.MustRegister(point, AllScenarios(), "touch", func(_ context.Context, _ string, data any, _ Metadata) (any, error) {
			n := data.(*network)
			n.touched = append(n.touched, p.String())
			return n, nil
		})
	}
	n := &network{}
	for _, point := range []ExtensionPoint{EnergySystem, Model} {
		got, err := reg.Apply(context.Background(), point, "s", n, nil)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if got.(*network) != n {
			t.Fatalf("%s: expected the same instance back", point)
		}
	}
	if diff := cmp.Diff([]string{"energysystem", "model"}, n.touched); diff != "" {
		t.Fatalf("touch order mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyPropagatesHookError(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry()
	var laterCalled bool
	reg.MustRegister(Parameter, Scenario("s"), "broken", func(context.Context, string, any, Metadata) (any, error) {
		return nil, boom
	})
	reg.MustRegister(Parameter, AllScenarios(), "later", func(_ context.Context, _ string, data any, _ Metadata) (any, error) {
		laterCalled = true
		return data, nil
	})
	_, err := reg.Apply(context.Background(), Parameter, "s", map[string]any{}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error to be reachable, got %v", err)
	}
	var hookErr *HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("expected *HookError, got %T", err)
	}
	if hookErr.Name != "broken" || hookErr.Point != Parameter || hookErr.Scope.String() != "s" {
		t.Fatalf("unexpected attribution: %+v", hookErr)
	}
	if laterCalled {
		t.Fatalf("hooks after a failure must not run")
	}
}

func TestApplyForwardsMetadata(t *testing.T) {
	reg := NewRegistry()
	var seen Metadata
	var seenScenario string
	reg.MustRegister(Model, AllScenarios(), "meta", func(_ context.Context, scenario string, data any, meta Metadata) (any, error) {
		seen, seenScenario = meta, scenario
		return data, nil
	})
	meta := Metadata{"user": "alice"}
	if _, err := reg.Apply(context.Background(), Model, "dispatch", 1, meta); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if seen["user"] != "alice" || seenScenario != "dispatch" {
		t.Fatalf("metadata not forwarded: %v %s", seen, seenScenario)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(ExtensionPoint(9), AllScenarios(), "x", suffixHook("x")); !errors.Is(err, ErrInvalidExtensionPoint) {
		t.Fatalf("expected invalid point error, got %v", err)
	}
	if err := reg.Register(Setup, AllScenarios(), "x", nil); !errors.Is(err, ErrNilHook) {
		t.Fatalf("expected nil hook error, got %v", err)
	}
	if _, err := reg.Apply(context.Background(), ExtensionPoint(-1), "s", nil, nil); !errors.Is(err, ErrInvalidExtensionPoint) {
		t.Fatalf("expected invalid point error from Apply, got %v", err)
	}
	reg.MustRegister(Setup, Scenario("a"), "first", suffixHook("1"))
	reg.MustRegister(Setup, AllScenarios(), "second", suffixHook("2"))
	got := reg.Hooks(Setup)
	if len(got) != 2 || got[0].Name != "first" || got[1].Scope.String() != "*" {
		t.Fatalf("unexpected descriptors: %+v", got)
	}
	if len(reg.Hooks(Model)) != 0 {
		t.Fatalf("expected no model hooks")
	}
}

func TestApplyStopsOnCanceledContext(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Setup, AllScenarios(), "h", suffixHook("x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := reg.Apply(ctx, Setup, "s", map[string]any{}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
