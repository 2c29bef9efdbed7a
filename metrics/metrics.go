package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	accounts "github.com/goliatone/go-accounts"
)

const defaultNamespace = "accounts"

// Collector holds the Prometheus collectors of the account service. Each
// collector owns its registry so tests can create as many as they need.
type Collector struct {
	registry *prometheus.Registry

	activityEvents *prometheus.CounterVec
	statusChanges  *prometheus.CounterVec
	httpInFlight   prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewCollector creates a collector using namespace, "accounts" when empty
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		activityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "activity",
				Name:      "events_total",
				Help:      "Total number of account activity events.",
			},
			[]string{"event"},
		),
		statusChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "status_changes_total",
				Help:      "Total number of account status transitions.",
			},
			[]string{"from", "to"},
		),
		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "route"},
		),
	}

	c.registry.MustRegister(
		c.activityEvents,
		c.statusChanges,
		c.httpInFlight,
		c.httpRequests,
		c.httpDuration,
	)

	return c
}

// Registry returns the registry holding the collectors
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WithRuntimeCollectors adds the process and Go runtime collectors
func (c *Collector) WithRuntimeCollectors() *Collector {
	c.registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// Record implements accounts.ActivitySink
func (c *Collector) Record(_ context.Context, event accounts.ActivityEvent) error {
	c.activityEvents.WithLabelValues(string(event.EventType)).Inc()
	if event.FromStatus != "" && event.ToStatus != "" && event.FromStatus != event.ToStatus {
		c.statusChanges.WithLabelValues(string(event.FromStatus), string(event.ToStatus)).Inc()
	}
	return nil
}

// Handler returns an HTTP handler exposing the registered metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per matched route
func (c *Collector) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		start := time.Now()

		c.httpInFlight.Inc()
		defer c.httpInFlight.Dec()

		err := ctx.Next()

		status := ctx.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		route := routeLabel(ctx)
		method := strings.ToUpper(ctx.Method())

		c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())

		return err
	}
}

func routeLabel(ctx *fiber.Ctx) string {
	if r := ctx.Route(); r != nil && r.Path != "" && r.Path != "/" {
		return r.Path
	}
	return "unmatched"
}

var _ accounts.ActivitySink = (*Collector)(nil)
