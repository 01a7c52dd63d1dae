package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/expense-ledger/ledger"
)

// Metrics owns its registry so several routers (tests) can coexist.
// It also implements tracker.Recorder.
type Metrics struct {
	registry         *prometheus.Registry
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	mutations        *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "expense_ledger",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "expense_ledger",
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		mutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "expense_ledger",
				Name:      "mutations_total",
				Help:      "Ledger mutations by operation and outcome",
			},
			[]string{"op", "result"},
		),
		mutationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "expense_ledger",
				Name:      "mutation_duration_seconds",
				Help:      "Duration of ledger mutations including the save",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency, labelled by route pattern
// rather than raw path to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveMutation implements tracker.Recorder.
func (m *Metrics) ObserveMutation(op string, d time.Duration, err error) {
	m.mutations.WithLabelValues(op, mutationResult(err)).Inc()
	m.mutationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func mutationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case ledger.IsClientError(err):
		return "invalid"
	case ledger.IsNotFound(err):
		return "not_found"
	case errors.Is(err, ledger.ErrConflict):
		return "conflict"
	case errors.Is(err, ledger.ErrStorage):
		return "storage"
	default:
		return "error"
	}
}
