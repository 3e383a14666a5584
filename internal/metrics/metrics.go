// Package metrics exposes Prometheus HTTP metrics and records order business
// events to Prometheus and CloudWatch.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shivam349/codex1/internal/orders"
)

// Metrics owns a private registry so tests and multiple engines do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight   prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	ordersPlaced   prometheus.Counter
	orderRevenue   prometheus.Counter
	ordersRejected *prometheus.CounterVec
}

// New builds and registers the collectors under namespace.
func New(namespace string) *Metrics {
	ns := strings.ToLower(strings.TrimSpace(namespace))
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "route"}),
		ordersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "orders_placed_total",
			Help:      "Orders successfully placed.",
		}),
		orderRevenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "order_revenue_total",
			Help:      "Sum of placed order totals.",
		}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "orders_rejected_total",
			Help:      "Checkout attempts rejected, by reason.",
		}, []string{"reason"}),
	}
	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.ordersPlaced,
		m.orderRevenue,
		m.ordersRejected,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Instrument records request count, latency and in-flight requests per route.
func (m *Metrics) Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := strings.ToUpper(c.Request.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) OrderPlaced(_ context.Context, o orders.Order) {
	m.ordersPlaced.Inc()
	m.orderRevenue.Add(o.TotalAmount)
}

func (m *Metrics) OrderRejected(_ context.Context, reason string) {
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// Fanout forwards business events to several recorders.
type Fanout []orders.Recorder

func (f Fanout) OrderPlaced(ctx context.Context, o orders.Order) {
	for _, r := range f {
		r.OrderPlaced(ctx, o)
	}
}

func (f Fanout) OrderRejected(ctx context.Context, reason string) {
	for _, r := range f {
		r.OrderRejected(ctx, reason)
	}
}
