// Package metrics exposes the control plane to Prometheus: a read-side
// collector over the live run and telemetry registries, plus instruments the
// gateway drives per request.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/crzyc98/planwise-navigator-sub000/internal/executor"
	"github.com/crzyc98/planwise-navigator-sub000/internal/telemetry"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

// Metrics owns the process registry and the gateway-driven instruments.
type Metrics struct {
	Registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RunsStarted     prometheus.Counter
	RunsFinished    *prometheus.CounterVec
	QueryDuration   prometheus.Histogram
	SocketsUpgraded prometheus.Counter
}

// New builds the registry: go/process collectors, the request instruments,
// and a state collector that reads the store, hub, and executor at scrape
// time.
func New(store *workspace.Store, hub *telemetry.Hub, exec *executor.Executor) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navigator_http_requests_total",
			Help: "HTTP requests handled by the gateway.",
		}, []string{"method", "route", "code"}),
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_runs_started_total",
			Help: "Simulation runs accepted for execution.",
		}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navigator_runs_finished_total",
			Help: "Simulation runs by terminal status.",
		}, []string{"status"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "navigator_results_query_seconds",
			Help:    "Wall time of results and comparison queries.",
			Buckets: prometheus.DefBuckets,
		}),
		SocketsUpgraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_websocket_upgrades_total",
			Help: "Telemetry WebSocket connections accepted.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests,
		m.RunsStarted,
		m.RunsFinished,
		m.QueryDuration,
		m.SocketsUpgraded,
		newStateCollector(store, hub, exec),
	)
	return m
}

// stateCollector reads live control-plane state at scrape time instead of
// mirroring it into gauges.
type stateCollector struct {
	store *workspace.Store
	hub   *telemetry.Hub
	exec  *executor.Executor

	activeRuns    *prometheus.Desc
	telemetryRuns *prometheus.Desc
	subscribers   *prometheus.Desc
	dropped       *prometheus.Desc
	storageBytes  *prometheus.Desc
	workspaces    *prometheus.Desc
}

func newStateCollector(store *workspace.Store, hub *telemetry.Hub, exec *executor.Executor) *stateCollector {
	return &stateCollector{
		store: store,
		hub:   hub,
		exec:  exec,
		activeRuns: prometheus.NewDesc("navigator_active_runs",
			"Simulations currently executing.", nil, nil),
		telemetryRuns: prometheus.NewDesc("navigator_telemetry_runs",
			"Runs with live telemetry state in the hub.", nil, nil),
		subscribers: prometheus.NewDesc("navigator_telemetry_subscribers",
			"Open telemetry subscriptions across all runs.", nil, nil),
		dropped: prometheus.NewDesc("navigator_telemetry_dropped_frames_total",
			"Snapshots dropped on slow subscribers.", nil, nil),
		storageBytes: prometheus.NewDesc("navigator_storage_used_bytes",
			"Bytes under the workspaces root.", nil, nil),
		workspaces: prometheus.NewDesc("navigator_workspaces",
			"Workspaces in the store.", nil, nil),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeRuns
	ch <- c.telemetryRuns
	ch <- c.subscribers
	ch <- c.dropped
	ch <- c.storageBytes
	ch <- c.workspaces
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.activeRuns, prometheus.GaugeValue,
		float64(len(c.exec.ActiveRuns())))

	st := c.hub.Stats()
	ch <- prometheus.MustNewConstMetric(c.telemetryRuns, prometheus.GaugeValue, float64(st.Runs))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(st.Subscribers))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(st.Dropped))

	ch <- prometheus.MustNewConstMetric(c.storageBytes, prometheus.GaugeValue,
		float64(c.store.TotalStorageBytes()))

	if summaries, err := c.store.ListWorkspaces(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.workspaces, prometheus.GaugeValue, float64(len(summaries)))
	}
}
