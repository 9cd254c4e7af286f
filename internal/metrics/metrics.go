// Package metrics exposes Prometheus counters and gauges for the
// supervisor's own lifecycle activity, scraped at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector groups the lifecycle metrics registered against one Registry.
type Collector struct {
	Starts           *prometheus.CounterVec
	Stops            *prometheus.CounterVec
	Restarts         *prometheus.CounterVec
	Crashes          *prometheus.CounterVec
	Mode             prometheus.Gauge
	RunningProcesses *prometheus.GaugeVec
}

// New builds and registers a Collector against reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcprun_process_starts_total",
			Help: "Number of times a supervised process has been spawned.",
		}, []string{"process"}),
		Stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcprun_process_stops_total",
			Help: "Number of graceful stops issued to a supervised process.",
		}, []string{"process"}),
		Restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcprun_process_restarts_total",
			Help: "Number of manual zero-downtime restarts completed.",
		}, []string{"process"}),
		Crashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcprun_process_crashes_total",
			Help: "Number of non-manual exits classified as crashes.",
		}, []string{"process"}),
		Mode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcprun_mode",
			Help: "Current supervisor mode: 0=release, 1=dev.",
		}),
		RunningProcesses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcprun_process_running",
			Help: "Whether a supervised process is currently running (1) or not (0).",
		}, []string{"process"}),
	}
	reg.MustRegister(c.Starts, c.Stops, c.Restarts, c.Crashes, c.Mode, c.RunningProcesses)
	return c
}
