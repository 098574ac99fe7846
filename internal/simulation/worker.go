package simulation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"energycore/internal/hooks"
	"energycore/internal/logging"
	"energycore/internal/observability"
	"energycore/pkg/domain"
)

// DefaultTimeLimit bounds a single background solve.
const DefaultTimeLimit = 600 * time.Second

// TaskStatus describes the lifecycle stage of a background simulation.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskRunning    TaskStatus = "running"
	TaskSucceeded  TaskStatus = "succeeded"
	TaskInfeasible TaskStatus = "infeasible"
	TaskFailed     TaskStatus = "failed"
	TaskTerminated TaskStatus = "terminated"
)

// Done reports whether the status is terminal.
func (s TaskStatus) Done() bool {
	switch s {
	case TaskSucceeded, TaskInfeasible, TaskFailed, TaskTerminated:
		return true
	}
	return false
}

var (
	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("simulation task not found")
	// ErrQueueFull is returned by Submit when the backlog is at capacity.
	ErrQueueFull = errors.New("simulation queue full")
)

// Request is a background simulation request.
type Request struct {
	Scenario   string
	Parameters domain.Parameters
	Metadata   hooks.Metadata
}

// Task tracks a background simulation request.
type Task struct {
	ID           string            `json:"id"`
	Scenario     string            `json:"scenario"`
	Parameters   domain.Parameters `json:"parameters"`
	Status       TaskStatus        `json:"status"`
	Error        string            `json:"error,omitempty"`
	SimulationID int64             `json:"simulation_id,omitempty"`
	Termination  string            `json:"termination,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

func (t Task) copy() Task {
	dup := t
	dup.Parameters = t.Parameters.Clone()
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		dup.CompletedAt = &at
	}
	return dup
}

// Simulator runs one scenario; *Pipeline implements it.
type Simulator interface {
	SimulateScenario(ctx context.Context, scenario string, params domain.Parameters, meta hooks.Metadata) (Outcome, error)
}

type job struct {
	task       Task
	meta       hooks.Metadata
	cancel     context.CancelFunc
	terminated bool
}

// Worker executes simulations asynchronously on a fixed number of
// goroutines. Each solve runs under its own time limit and can be
// terminated individually.
type Worker struct {
	sim       Simulator
	log       logging.Logger
	metrics   *observability.Collector
	timeLimit time.Duration
	workers   int

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*job

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	now    func() time.Time
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithTimeLimit bounds each solve. Non-positive values keep the default.
func WithTimeLimit(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.timeLimit = d
		}
	}
}

// WithWorkers sets the number of concurrent solves.
func WithWorkers(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithQueueSize sets the backlog capacity.
func WithQueueSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// WithWorkerLogger sets the worker logger.
func WithWorkerLogger(l logging.Logger) WorkerOption {
	return func(w *Worker) { w.log = logging.OrNoop(l) }
}

// WithWorkerMetrics counts task transitions on the collector.
func WithWorkerMetrics(c *observability.Collector) WorkerOption {
	return func(w *Worker) { w.metrics = c }
}

// NewWorker constructs a worker; call Start to begin processing.
func NewWorker(sim Simulator, opts ...WorkerOption) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		sim:       sim,
		log:       logging.Noop(),
		timeLimit: DefaultTimeLimit,
		workers:   1,
		queue:     make(chan string, 32),
		jobs:      make(map[string]*job),
		ctx:       ctx,
		cancel:    cancel,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the worker goroutines.
func (w *Worker) Start() {
	for i := 0; i < w.workers; i++ {
		w.group.Go(func() error {
			w.loop()
			return nil
		})
	}
}

// Stop cancels running solves and waits for the goroutines to exit.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		_ = w.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Submit queues a simulation and returns the queued task.
func (w *Worker) Submit(ctx context.Context, req Request) (Task, error) {
	if strings.TrimSpace(req.Scenario) == "" {
		return Task{}, fmt.Errorf("scenario name required")
	}
	now := w.now()
	j := &job{
		task: Task{
			ID:         uuid.NewString(),
			Scenario:   req.Scenario,
			Parameters: req.Parameters.Clone(),
			Status:     TaskQueued,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		meta: req.Metadata,
	}
	w.mu.Lock()
	w.jobs[j.task.ID] = j
	snapshot := j.task.copy()
	w.mu.Unlock()

	select {
	case w.queue <- j.task.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, j.task.ID)
		w.mu.Unlock()
		return Task{}, ErrQueueFull
	}
	w.metrics.ObserveTask(string(TaskQueued))
	w.log.Info(ctx, "simulation queued", logging.String("task_id", snapshot.ID), logging.String("scenario", req.Scenario))
	return snapshot, nil
}

// Get returns a snapshot of the task.
func (w *Worker) Get(id string) (Task, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	j, ok := w.jobs[id]
	if !ok {
		return Task{}, false
	}
	return j.task.copy(), true
}

// Terminate stops a task. Queued tasks never start; running tasks have
// their context canceled, which the engine honours on a best-effort basis.
// Finished tasks are left untouched.
func (w *Worker) Terminate(id string) (Task, error) {
	w.mu.Lock()
	j, ok := w.jobs[id]
	if !ok {
		w.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	var transitioned bool
	switch {
	case j.task.Status.Done():
	case j.task.Status == TaskQueued:
		w.finishLocked(j, TaskTerminated, "terminated before start")
		transitioned = true
	default:
		j.terminated = true
		if j.cancel != nil {
			j.cancel()
		}
	}
	snapshot := j.task.copy()
	w.mu.Unlock()
	if transitioned {
		w.metrics.ObserveTask(string(TaskTerminated))
	}
	return snapshot, nil
}

func (w *Worker) process(id string) {
	ctx, cancel := context.WithTimeout(w.ctx, w.timeLimit)
	defer cancel()

	w.mu.Lock()
	j, ok := w.jobs[id]
	if !ok || j.task.Status != TaskQueued {
		w.mu.Unlock()
		return
	}
	j.cancel = cancel
	j.task.Status = TaskRunning
	j.task.UpdatedAt = w.now()
	req := Request{Scenario: j.task.Scenario, Parameters: j.task.Parameters.Clone(), Metadata: j.meta}
	w.mu.Unlock()
	w.metrics.ObserveTask(string(TaskRunning))

	outcome, err := w.sim.SimulateScenario(ctx, req.Scenario, req.Parameters, req.Metadata)

	w.mu.Lock()
	var status TaskStatus
	switch {
	case err == nil && outcome.Status == StatusInfeasible:
		status = TaskInfeasible
		w.finishLocked(j, status, domain.ErrSimulationInfeasible.Error())
	case err == nil:
		status = TaskSucceeded
		j.task.SimulationID = outcome.SimulationID
		w.finishLocked(j, status, "")
	case j.terminated || w.ctx.Err() != nil:
		status = TaskTerminated
		w.finishLocked(j, status, "terminated")
	case errors.Is(err, context.DeadlineExceeded):
		status = TaskFailed
		w.finishLocked(j, status, fmt.Sprintf("time limit of %s exceeded", w.timeLimit))
	default:
		status = TaskFailed
		w.finishLocked(j, status, err.Error())
	}
	j.task.Termination = outcome.Termination
	j.cancel = nil
	w.metrics.ObserveTask(string(status))
	w.mu.Unlock()

	fields := []logging.Field{logging.String("task_id", id), logging.String("status", string(status))}
	if err != nil {
		w.log.Warn(w.ctx, "simulation task ended", append(fields, logging.Err(err))...)
		return
	}
	w.log.Info(w.ctx, "simulation task ended", fields...)
}

func (w *Worker) finishLocked(j *job, status TaskStatus, message string) {
	now := w.now()
	j.task.Status = status
	j.task.Error = message
	j.task.UpdatedAt = now
	j.task.CompletedAt = &now
}
