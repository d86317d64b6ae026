// Package prometheus exposes runtime metrics for the worker fleet.
package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "shoal"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Worker metrics
	WorkerTripsTotal          *prometheus.CounterVec
	WorkerThunksTotal         *prometheus.CounterVec
	WorkerCallbackErrorsTotal *prometheus.CounterVec
	WorkerMailboxDepth        *prometheus.GaugeVec
	WorkersLive               prometheus.Gauge

	// Process metrics
	ProcessesLaunchedTotal prometheus.Counter
	ProcessesLive          prometheus.Gauge
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	return &Metrics{
		WorkerTripsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoal_worker_trips_total",
				Help: "Total number of transact trips completed per worker",
			},
			[]string{"worker"},
		),
		WorkerThunksTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoal_worker_thunks_total",
				Help: "Total number of cross-thread callbacks executed per worker",
			},
			[]string{"worker"},
		),
		WorkerCallbackErrorsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoal_worker_callback_errors_total",
				Help: "Total number of callbacks that failed and aborted a trip",
			},
			[]string{"worker"},
		),
		WorkerMailboxDepth: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shoal_worker_mailbox_depth",
				Help: "Number of cross-thread callbacks waiting to be drained",
			},
			[]string{"worker"},
		),
		WorkersLive: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "shoal_workers_live",
				Help: "Number of workers currently running their loop",
			},
		),
		ProcessesLaunchedTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "shoal_processes_launched_total",
				Help: "Total number of processes launched",
			},
		),
		ProcessesLive: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "shoal_processes_live",
				Help: "Number of processes launched but not yet terminated",
			},
		),
	}
}

// RecordTrip records one completed transact trip for a worker.
func (m *Metrics) RecordTrip(worker string) {
	m.WorkerTripsTotal.WithLabelValues(worker).Inc()
}

// RecordThunks records n executed cross-thread callbacks for a worker.
func (m *Metrics) RecordThunks(worker string, n int) {
	if n > 0 {
		m.WorkerThunksTotal.WithLabelValues(worker).Add(float64(n))
	}
}

// RecordCallbackError records a callback failure that aborted a trip.
func (m *Metrics) RecordCallbackError(worker string) {
	m.WorkerCallbackErrorsTotal.WithLabelValues(worker).Inc()
}

// SetMailboxDepth publishes the current mailbox backlog for a worker.
func (m *Metrics) SetMailboxDepth(worker string, depth int) {
	m.WorkerMailboxDepth.WithLabelValues(worker).Set(float64(depth))
}

// WorkerStarted marks a worker loop as live.
func (m *Metrics) WorkerStarted() { m.WorkersLive.Inc() }

// WorkerStopped marks a worker loop as ended.
func (m *Metrics) WorkerStopped() { m.WorkersLive.Dec() }

// ProcessLaunched records a process launch.
func (m *Metrics) ProcessLaunched() {
	m.ProcessesLaunchedTotal.Inc()
	m.ProcessesLive.Inc()
}

// ProcessTerminated records a process termination.
func (m *Metrics) ProcessTerminated() { m.ProcessesLive.Dec() }
