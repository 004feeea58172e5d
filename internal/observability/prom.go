package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// workflow handlers
	HandlerDuration  *prometheus.HistogramVec
	HandlerResults   *prometheus.CounterVec
	HandlersInFlight prometheus.Gauge

	// integration event bus
	EventsPublished *prometheus.CounterVec
	EventsConsumed  *prometheus.CounterVec

	// external job service
	ExternalCallDuration *prometheus.HistogramVec

	// intake discovery
	IntakeClaims *prometheus.CounterVec
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "steward",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "steward",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				// Sane initial defaults
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "steward",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "steward",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "steward",
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),

		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "steward",
				Subsystem: "handlers",
				Name:      "duration_seconds",
				Help:      "Handler invocation duration by handler and result",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"handler", "result"}, // result=completed|skipped|transient|validation
		),
		HandlerResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "steward",
				Subsystem: "handlers",
				Name:      "results_total",
				Help:      "Handler outcomes by handler and result.",
			},
			[]string{"handler", "result"},
		),
		HandlersInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "steward",
				Subsystem: "handlers",
				Name:      "in_flight",
				Help:      "Current number of executing handler invocations (per process)",
			},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "steward",
				Subsystem: "bus",
				Name:      "events_published_total",
				Help:      "Integration events published by type.",
			},
			[]string{"event_type"},
		),
		EventsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "steward",
				Subsystem: "bus",
				Name:      "events_consumed_total",
				Help:      "Integration events consumed by handler and outcome.",
			},
			[]string{"handler", "outcome"}, // outcome=ok|retry|poison
		),

		ExternalCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "steward",
				Subsystem: "external",
				Name:      "call_duration_seconds",
				Help:      "External job service call latency by op and status.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"op", "status"},
		),

		IntakeClaims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "steward",
				Subsystem: "intake",
				Name:      "claims_total",
				Help:      "Intake row claim attempts by result.",
			},
			[]string{"result"}, // result=claimed|contended
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.HandlerDuration, p.HandlerResults, p.HandlersInFlight,
		p.EventsPublished, p.EventsConsumed,
		p.ExternalCallDuration,
		p.IntakeClaims,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}

// ObserveHandler wraps one handler invocation with duration and result
// bookkeeping. The result string matches the failure taxonomy used by the
// handlers themselves.
func (p *Prom) ObserveHandler(handler string, fn func() string) {
	start := time.Now()
	p.HandlersInFlight.Inc()
	defer p.HandlersInFlight.Dec()

	result := fn()

	secs := time.Since(start).Seconds()
	p.HandlerResults.WithLabelValues(handler, result).Inc()
	p.HandlerDuration.WithLabelValues(handler, result).Observe(secs)
}
