// Package metrics provides the Prometheus collectors of the reducer and
// worker processes. The reducer exposes them through the admin HTTP
// endpoint's /metrics route; the worker runs no HTTP endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector registered by a reducer or worker process.
type Metrics struct {
	StateCounter    prometheus.Gauge
	CurrentTick     prometheus.Gauge
	ActionsTotal    *prometheus.CounterVec
	ActionErrors    *prometheus.CounterVec
	EventsEmitted   *prometheus.CounterVec
	EventsApplied   *prometheus.CounterVec
	ResyncsTotal    prometheus.Counter
	WorkerCount     prometheus.Gauge
	StalledWorkers  prometheus.Gauge
	SubmissionsLag  prometheus.Gauge
	UsersTotal      prometheus.Gauge
	SubmitTotal     prometheus.Gauge
	BoardRenderSec  *prometheus.HistogramVec
	HeartbeatAge    *prometheus.GaugeVec
	LoadAverage     prometheus.Gauge
	MemUsedPercent  prometheus.Gauge
	DiskUsedPercent prometheus.Gauge
}

// New creates and registers a Metrics instance against the default registry.
func New(process string) *Metrics {
	return NewWithRegistry(process, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a custom
// registerer, so tests can use their own registry instead of the global one.
func NewWithRegistry(process string, reg prometheus.Registerer) *Metrics {
	constLabels := prometheus.Labels{"process": process}

	m := &Metrics{
		StateCounter: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "glitter_state_counter",
			Help:        "Last observed reducer state counter.",
			ConstLabels: constLabels,
		}),
		CurrentTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "glitter_current_tick",
			Help:        "Current contest tick.",
			ConstLabels: constLabels,
		}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "glitter_actions_total",
			Help:        "Action requests handled, by action type.",
			ConstLabels: constLabels,
		}, []string{"action"}),
		ActionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "glitter_action_errors_total",
			Help:        "Action requests that returned an error, by action type and error code.",
			ConstLabels: constLabels,
		}, []string{"action", "code"}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "glitter_events_emitted_total",
			Help:        "Events published by the reducer, by event type.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "glitter_events_applied_total",
			Help:        "Events applied by a worker, by event type.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		ResyncsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "glitter_resyncs_total",
			Help:        "Full projection resyncs triggered by a counter gap or projection exception.",
			ConstLabels: constLabels,
		}),
		WorkerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "glitter_workers_connected",
			Help:        "Workers currently heartbeating within the stall threshold.",
			ConstLabels: constLabels,
		}),
		StalledWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "glitter_workers_stalled",
			Help:        "Workers whose last heartbeat exceeds the stall threshold.",
			ConstLabels: constLabels,
		}),
		SubmissionsLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "glitter_submissions_lag",
			Help:        "Submissions known to the reducer but not yet observed by this worker.",
			ConstLabels: constLabels,
		}),
		UsersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "game_users_total",
			Help:        "Users currently in the projection.",
			ConstLabels: constLabels,
		}),
		SubmitTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "game_submissions_total",
			Help:        "Submissions currently in the projection.",
			ConstLabels: constLabels,
		}),
		BoardRenderSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "board_render_seconds",
			Help:        "Time spent rendering a board, by board name.",
			ConstLabels: constLabels,
			Buckets:     []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"board"}),
		HeartbeatAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "glitter_worker_heartbeat_age_seconds",
			Help:        "Seconds since a given worker client last heartbeated, as seen by the reducer.",
			ConstLabels: constLabels,
		}, []string{"client"}),
		LoadAverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "health_load_average_1m",
			Help:        "1-minute load average sampled by the health daemon.",
			ConstLabels: constLabels,
		}),
		MemUsedPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "health_mem_used_percent",
			Help:        "RAM utilization percentage sampled by the health daemon.",
			ConstLabels: constLabels,
		}),
		DiskUsedPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "health_disk_used_percent",
			Help:        "Disk utilization percentage sampled by the health daemon.",
			ConstLabels: constLabels,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.StateCounter, m.CurrentTick, m.ActionsTotal, m.ActionErrors,
		m.EventsEmitted, m.EventsApplied, m.ResyncsTotal, m.WorkerCount,
		m.StalledWorkers, m.SubmissionsLag, m.UsersTotal, m.SubmitTotal,
		m.BoardRenderSec, m.HeartbeatAge, m.LoadAverage, m.MemUsedPercent,
		m.DiskUsedPercent,
	} {
		_ = reg.Register(c)
	}

	return m
}
