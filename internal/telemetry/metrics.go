package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink receives controller telemetry. The poller and API depend on
// this interface so tests can run without a Prometheus registry.
type Sink interface {
	TickCompleted(d time.Duration)
	RampUpAdvanced()
	StatusTransition(status string)
	NotificationSent(event string)
	SetStaleFeatures(n int)
}

// Nop discards all telemetry.
type Nop struct{}

func (Nop) TickCompleted(time.Duration) {}
func (Nop) RampUpAdvanced()             {}
func (Nop) StatusTransition(string)     {}
func (Nop) NotificationSent(string)     {}
func (Nop) SetStaleFeatures(int)        {}

// Prometheus implements Sink on a caller-provided registry, so tests
// and multi-tenant embeddings never fight over global collectors.
type Prometheus struct {
	registry *prometheus.Registry

	httpReqs *prometheus.CounterVec
	httpDur  *prometheus.HistogramVec

	ticks       prometheus.Counter
	tickDur     prometheus.Histogram
	rampUps     prometheus.Counter
	transitions *prometheus.CounterVec
	notified    *prometheus.CounterVec
	stale       prometheus.Gauge
}

func NewPrometheus(registry *prometheus.Registry) *Prometheus {
	p := &Prometheus{
		registry: registry,
		httpReqs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rollout_ticks_total",
			Help: "Completed safe rollout controller ticks",
		}),
		tickDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rollout_tick_duration_seconds",
			Help:    "Duration of one controller tick",
			Buckets: prometheus.DefBuckets,
		}),
		rampUps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rollout_ramp_ups_total",
			Help: "Ramp up steps advanced",
		}),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollout_status_transitions_total",
				Help: "Safe rollout status transitions",
			},
			[]string{"status"},
		),
		notified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollout_notifications_total",
				Help: "Health notifications dispatched",
			},
			[]string{"event"},
		),
		stale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stale_features",
			Help: "Number of features currently classified stale",
		}),
	}
	registry.MustRegister(
		p.httpReqs, p.httpDur,
		p.ticks, p.tickDur, p.rampUps, p.transitions, p.notified, p.stale,
	)
	return p
}

func (p *Prometheus) TickCompleted(d time.Duration) {
	p.ticks.Inc()
	p.tickDur.Observe(d.Seconds())
}

func (p *Prometheus) RampUpAdvanced() { p.rampUps.Inc() }

func (p *Prometheus) StatusTransition(status string) {
	p.transitions.WithLabelValues(status).Inc()
}

func (p *Prometheus) NotificationSent(event string) {
	p.notified.WithLabelValues(event).Inc()
}

func (p *Prometheus) SetStaleFeatures(n int) { p.stale.Set(float64(n)) }

// Handler serves the registry in Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per chi route pattern.
func (p *Prometheus) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		p.httpReqs.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Inc()
		p.httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
