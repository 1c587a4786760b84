// Package metrics exposes migration runs, persisted versions, version cache
// lookups, dual-write routing decisions and admin HTTP requests as
// Prometheus metrics on a dedicated registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/surrealdb/datamigration/pkg/migration"
	"github.com/surrealdb/datamigration/pkg/versioned"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "datamigration"

// Collector holds the metric vectors. It is a migration.Recorder and a
// versioned.RouteRecorder.
type Collector struct {
	registry *prometheus.Registry

	Runs            *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	Versions        *prometheus.GaugeVec
	CacheLookups    *prometheus.CounterVec
	Routes          *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPRequestTime *prometheus.HistogramVec
}

var (
	_ migration.Recorder      = (*Collector)(nil)
	_ versioned.RouteRecorder = (*Collector)(nil)
)

// New creates a collector with its own registry. An empty namespace selects
// DefaultNamespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_runs_total",
			Help:      "Total number of plugin runs by outcome",
		}, []string{"plugin", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plugin_run_duration_seconds",
			Help:      "Duration of plugin runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"plugin"}),
		Versions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugin_version",
			Help:      "Last persisted version of each plugin",
		}, []string{"plugin"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_cache_lookups_total",
			Help:      "Version cache lookups by result",
		}, []string{"plugin", "result"}),
		Routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Dual-write routing decisions by binding and target",
		}, []string{"binding", "target"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of admin HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of admin HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(c.Runs, c.RunDuration, c.Versions, c.CacheLookups, c.Routes, c.HTTPRequests, c.HTTPRequestTime)
	return c
}

// Registry returns the registry the metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveRun(plugin string, status migration.StatusCode, duration time.Duration) {
	c.Runs.WithLabelValues(plugin, status.String()).Inc()
	c.RunDuration.WithLabelValues(plugin).Observe(duration.Seconds())
}

func (c *Collector) ObserveVersion(plugin string, version int) {
	c.Versions.WithLabelValues(plugin).Set(float64(version))
}

func (c *Collector) ObserveCacheLookup(plugin string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookups.WithLabelValues(plugin, result).Inc()
}

func (c *Collector) ObserveRoute(binding string, target versioned.Target) {
	c.Routes.WithLabelValues(binding, target.String()).Inc()
}

// RecordHTTPRequest records one admin request.
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.HTTPRequestTime.WithLabelValues(method, route).Observe(duration.Seconds())
}
