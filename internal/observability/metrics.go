// Package observability exposes Prometheus metrics for the simulation
// pipeline, the calculation cache, and the background worker.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Simulation outcomes recorded by ObserveSimulation.
const (
	OutcomeSolved     = "solved"
	OutcomeReused     = "reused"
	OutcomeInfeasible = "infeasible"
	OutcomeFailed     = "failed"
)

// Calculation lookups recorded by ObserveCalculation.
const (
	CalculationHit  = "hit"
	CalculationMiss = "miss"
)

// Collector bundles the energycore Prometheus metrics. A nil *Collector is
// valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Simulations         *prometheus.CounterVec
	SimulationDurations prometheus.Histogram
	Calculations        *prometheus.CounterVec
	WorkerTasks         *prometheus.CounterVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// Prometheus registry when nil. Registering twice against the same registry
// returns the already registered collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	simulations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "energycore_simulations_total",
		Help: "Simulation requests handled by the pipeline, labeled by outcome.",
	}, []string{"outcome"}), "energycore_simulations_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "energycore_simulation_duration_seconds",
		Help:    "Wall time of pipeline runs that reached the solver.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}), "energycore_simulation_duration_seconds")
	if err != nil {
		return nil, err
	}

	calculations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "energycore_calculation_requests_total",
		Help: "Calculation lookups served by the cache, labeled hit or miss.",
	}, []string{"outcome"}), "energycore_calculation_requests_total")
	if err != nil {
		return nil, err
	}

	tasks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "energycore_worker_tasks_total",
		Help: "Background task status transitions, labeled by the status entered.",
	}, []string{"status"}), "energycore_worker_tasks_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:            gatherer,
		Simulations:         simulations,
		SimulationDurations: durations,
		Calculations:        calculations,
		WorkerTasks:         tasks,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveSimulation counts a pipeline outcome. A positive elapsed duration
// is also recorded in the duration histogram.
func (c *Collector) ObserveSimulation(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	if c.Simulations != nil {
		c.Simulations.WithLabelValues(outcome).Inc()
	}
	if c.SimulationDurations != nil && elapsed > 0 {
		c.SimulationDurations.Observe(elapsed.Seconds())
	}
}

// ObserveCalculation counts n cache lookups with the given outcome.
func (c *Collector) ObserveCalculation(outcome string, n int) {
	if c == nil || c.Calculations == nil || n <= 0 {
		return
	}
	c.Calculations.WithLabelValues(outcome).Add(float64(n))
}

// ObserveTask counts a worker task entering status.
func (c *Collector) ObserveTask(status string) {
	if c == nil || c.WorkerTasks == nil {
		return
	}
	c.WorkerTasks.WithLabelValues(status).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}
