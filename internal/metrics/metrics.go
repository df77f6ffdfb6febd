package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reportdesk"

// Metrics owns a dedicated registry so tests and multiple servers never collide.
type Metrics struct {
	Registry        *prometheus.Registry
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	RPCRequests     *prometheus.CounterVec
	RPCDuration     *prometheus.HistogramVec
	ReportsByStatus *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total number of JSON-RPC calls",
			},
			[]string{"method", "code"},
		),
		RPCDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "JSON-RPC call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ReportsByStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reports",
				Help:      "Number of error reports per status at the last statistics read",
			},
			[]string{"status"},
		),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveRPC records one call; code is 0 for success.
func (m *Metrics) ObserveRPC(method string, code int, elapsed time.Duration) {
	m.RPCRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordStatusCounts sets every known status, so statuses with no reports read zero.
func (m *Metrics) RecordStatusCounts(counts []domain.KeyCount) {
	seen := make(map[string]int64, len(counts))
	for _, kc := range counts {
		seen[kc.Key] = kc.Count
	}
	for _, status := range domain.Statuses {
		m.ReportsByStatus.WithLabelValues(string(status)).Set(float64(seen[string(status)]))
	}
}
