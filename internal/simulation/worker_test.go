package simulation

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"energycore/internal/hooks"
	"energycore/internal/infra/persistence/memory"
	"energycore/internal/observability"
	"energycore/pkg/domain"
)

type stubSimulator struct {
	fn    func(ctx context.Context, scenario string) (Outcome, error)
	calls atomic.Int32
}

func (s *stubSimulator) SimulateScenario(ctx context.Context, scenario string, _ domain.Parameters, _ hooks.Metadata) (Outcome, error) {
	s.calls.Add(1)
	return s.fn(ctx, scenario)
}

func waitForTask(t *testing.T, w *Worker, id string) Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := w.Get(id)
		if !ok {
			t.Fatalf("task %s vanished", id)
		}
		if task.Status.Done() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish", id)
	return Task{}
}

func stopWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestWorkerRunsPipeline(t *testing.T) {
	persist := memory.NewStore()
	p := NewPipeline(persist, seededBlobs(t, "dispatch"), &fakeEngine{})
	w := NewWorker(p, WithWorkers(2))
	w.Start()
	defer stopWorker(t, w)

	params := domain.Parameters{"gas": map[string]any{"capacity": 4.0}}
	queued, err := w.Submit(context.Background(), Request{Scenario: "dispatch", Parameters: params})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := uuid.Parse(queued.ID); err != nil {
		t.Fatalf("task id %q is not a uuid: %v", queued.ID, err)
	}
	if queued.Status != TaskQueued {
		t.Fatalf("expected queued, got %s", queued.Status)
	}
	params["gas"] = "mutated"

	done := waitForTask(t, w, queued.ID)
	if done.Status != TaskSucceeded || done.SimulationID == 0 || done.CompletedAt == nil {
		t.Fatalf("unexpected task %+v", done)
	}
	if _, ok := done.Parameters["gas"].(map[string]any); !ok {
		t.Fatalf("task parameters alias the request: %v", done.Parameters)
	}
	if sims := listSimulations(t, persist, "dispatch"); len(sims) != 1 || sims[0].ID != done.SimulationID {
		t.Fatalf("worker result not stored: %+v", sims)
	}
}

func TestWorkerTaskStatuses(t *testing.T) {
	cases := map[string]struct {
		fn      func(ctx context.Context, scenario string) (Outcome, error)
		status  TaskStatus
		message string
	}{
		"infeasible": {
			fn: func(context.Context, string) (Outcome, error) {
				return Outcome{Status: StatusInfeasible, Termination: TerminationInfeasible}, nil
			},
			status:  TaskInfeasible,
			message: domain.ErrSimulationInfeasible.Error(),
		},
		"failed": {
			fn: func(context.Context, string) (Outcome, error) {
				return Outcome{}, errors.New("datapackage broken")
			},
			status:  TaskFailed,
			message: "datapackage broken",
		},
		"time limit": {
			fn: func(ctx context.Context, _ string) (Outcome, error) {
				<-ctx.Done()
				return Outcome{}, ctx.Err()
			},
			status:  TaskFailed,
			message: "time limit",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := NewWorker(&stubSimulator{fn: tc.fn}, WithTimeLimit(20*time.Millisecond))
			w.Start()
			defer stopWorker(t, w)
			task, err := w.Submit(context.Background(), Request{Scenario: "dispatch"})
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			done := waitForTask(t, w, task.ID)
			if done.Status != tc.status || !strings.Contains(done.Error, tc.message) {
				t.Fatalf("got status %s error %q", done.Status, done.Error)
			}
		})
	}
}

func TestWorkerTerminateRunningTask(t *testing.T) {
	started := make(chan struct{})
	sim := &stubSimulator{fn: func(ctx context.Context, _ string) (Outcome, error) {
		close(started)
		<-ctx.Done()
		return Outcome{}, ctx.Err()
	}}
	w := NewWorker(sim)
	w.Start()
	defer stopWorker(t, w)

	task, err := w.Submit(context.Background(), Request{Scenario: "dispatch"})
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if _, err := w.Terminate(task.ID); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if done := waitForTask(t, w, task.ID); done.Status != TaskTerminated {
		t.Fatalf("expected terminated, got %+v", done)
	}
}

func TestWorkerTerminateLeavesSharedSimulationRunning(t *testing.T) {
	persist := memory.NewStore()
	engine := &fakeEngine{block: make(chan struct{})}
	p := NewPipeline(persist, seededBlobs(t, "dispatch"), engine)
	w := NewWorker(p, WithWorkers(2))
	w.Start()
	defer stopWorker(t, w)

	req := Request{Scenario: "dispatch", Parameters: domain.Parameters{"gas": map[string]any{"capacity": 7.0}}}
	a, err := w.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := w.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	waitForWaiters(t, p, 2)

	if _, err := w.Terminate(a.ID); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if done := waitForTask(t, w, a.ID); done.Status != TaskTerminated {
		t.Fatalf("expected terminated, got %+v", done)
	}
	close(engine.block)
	done := waitForTask(t, w, b.ID)
	if done.Status != TaskSucceeded || done.SimulationID == 0 {
		t.Fatalf("task sharing the simulation must succeed, got %+v", done)
	}
	if engine.solves.Load() != 1 {
		t.Fatalf("expected one solve, got %d", engine.solves.Load())
	}
}

func TestWorkerTerminateQueuedTaskNeverRuns(t *testing.T) {
	sim := &stubSimulator{fn: func(context.Context, string) (Outcome, error) { return Outcome{SimulationID: 1}, nil }}
	w := NewWorker(sim)
	task, err := w.Submit(context.Background(), Request{Scenario: "dispatch"})
	if err != nil {
		t.Fatal(err)
	}
	terminated, err := w.Terminate(task.ID)
	if err != nil || terminated.Status != TaskTerminated {
		t.Fatalf("terminate queued: %+v %v", terminated, err)
	}
	w.Start()
	defer stopWorker(t, w)

	follow, err := w.Submit(context.Background(), Request{Scenario: "dispatch"})
	if err != nil {
		t.Fatal(err)
	}
	waitForTask(t, w, follow.ID)
	if sim.calls.Load() != 1 {
		t.Fatalf("terminated task must not run, simulator called %d times", sim.calls.Load())
	}
	if again, _ := w.Terminate(follow.ID); again.Status != TaskSucceeded {
		t.Fatalf("terminating a finished task must not change it, got %s", again.Status)
	}
}

func TestWorkerSubmitValidation(t *testing.T) {
	w := NewWorker(&stubSimulator{}, WithQueueSize(1))
	if _, err := w.Submit(context.Background(), Request{}); err == nil {
		t.Fatalf("expected missing scenario to fail")
	}
	if _, err := w.Submit(context.Background(), Request{Scenario: "a"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := w.Submit(context.Background(), Request{Scenario: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
	if _, err := w.Terminate("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected task not found, got %v", err)
	}
	if _, ok := w.Get("nope"); ok {
		t.Fatalf("unknown task reported")
	}
}

func TestWorkerCountsTaskTransitions(t *testing.T) {
	collector, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	sim := &stubSimulator{fn: func(context.Context, string) (Outcome, error) { return Outcome{Status: StatusSolved, SimulationID: 7}, nil }}
	w := NewWorker(sim, WithWorkerMetrics(collector))
	w.Start()
	defer stopWorker(t, w)
	task, _ := w.Submit(context.Background(), Request{Scenario: "dispatch"})
	waitForTask(t, w, task.ID)
	for _, status := range []TaskStatus{TaskQueued, TaskRunning, TaskSucceeded} {
		if got := testutil.ToFloat64(collector.WorkerTasks.WithLabelValues(string(status))); got != 1 {
			t.Fatalf("%s = %v, want 1", status, got)
		}
	}
}
