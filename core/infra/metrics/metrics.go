package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics captures submission validation and review outcomes.
type PipelineMetrics interface {
	IncSubmissionsProcessed(status string)
	IncSecurityViolations()
	ObserveValidationDuration(durationSeconds float64)
	IncPrivilegedOps(op, outcome string)
}

// GatewayMetrics captures API traffic and live stream listeners.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
	SetStreamClients(n int)
}

// Noop implements PipelineMetrics and GatewayMetrics without emitting anything.
type Noop struct{}

func (Noop) IncSubmissionsProcessed(string)                 {}
func (Noop) IncSecurityViolations()                         {}
func (Noop) ObserveValidationDuration(float64)              {}
func (Noop) IncPrivilegedOps(string, string)                {}
func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) SetStreamClients(int)                           {}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
// Each binary owns one so tests never touch the global default.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Prom implements PipelineMetrics backed by Prometheus collectors.
type Prom struct {
	processed  *prometheus.CounterVec
	violations prometheus.Counter
	duration   prometheus.Histogram
	privileged *prometheus.CounterVec
}

func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	f := promauto.With(reg)
	return &Prom{
		processed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_processed_total",
			Help:      "Submissions validated by resulting status",
		}, []string{"status"}),
		violations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_violations_total",
			Help:      "Manifests rejected because a credential-shaped string was found",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Wall time of one validation run",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		privileged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "privileged_ops_total",
			Help:      "Privileged operations by name and outcome",
		}, []string{"op", "outcome"}),
	}
}

func (p *Prom) IncSubmissionsProcessed(status string) {
	p.processed.WithLabelValues(status).Inc()
}

func (p *Prom) IncSecurityViolations() { p.violations.Inc() }

func (p *Prom) ObserveValidationDuration(durationSeconds float64) {
	p.duration.Observe(durationSeconds)
}

func (p *Prom) IncPrivilegedOps(op, outcome string) {
	p.privileged.WithLabelValues(op, outcome).Inc()
}

// GatewayProm implements GatewayMetrics.
type GatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	streams  prometheus.Gauge
}

func NewGatewayProm(namespace string, reg prometheus.Registerer) *GatewayProm {
	f := promauto.With(reg)
	return &GatewayProm{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by method, route pattern and status code",
		}, []string{"method", "route", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API latency by method and route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		streams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Open admin websocket streams",
		}),
	}
}

func (g *GatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

func (g *GatewayProm) SetStreamClients(n int) { g.streams.Set(float64(n)) }

// RegisterBreakers exports one gauge per upstream host that reads 1 while the
// host's circuit breaker is open. states is read at scrape time.
func RegisterBreakers(reg prometheus.Registerer, namespace string, states func() map[string]string) {
	reg.MustRegister(&breakerCollector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "breaker_open"),
			"1 while the circuit breaker for an upstream host is open",
			[]string{"host"}, nil,
		),
		states: states,
	})
}

type breakerCollector struct {
	desc   *prometheus.Desc
	states func() map[string]string
}

func (c *breakerCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *breakerCollector) Collect(ch chan<- prometheus.Metric) {
	for host, state := range c.states() {
		open := 0.0
		if state == "open" {
			open = 1
		}
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, open, host)
	}
}
