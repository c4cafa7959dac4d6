package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/settlement_engine/internal/app/domain/market"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "settlement_engine",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement_engine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement_engine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement_engine",
			Subsystem: "market",
			Name:      "operations_total",
			Help:      "Total number of settlement operations by outcome.",
		},
		[]string{"operation", "status"},
	)

	settlementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement_engine",
			Subsystem: "market",
			Name:      "operation_duration_seconds",
			Help:      "Duration of settlement operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	marketEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement_engine",
			Subsystem: "market",
			Name:      "events_total",
			Help:      "Total number of settlement events published.",
		},
		[]string{"type"},
	)

	engineEscrow = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "settlement_engine",
			Subsystem: "ledger",
			Name:      "engine_escrow_units",
			Help:      "Escrow held by the engine account, in base units.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		settlements,
		settlementDuration,
		marketEvents,
		engineEscrow,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordSettlement records one settlement operation.
func RecordSettlement(operation, status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	settlements.WithLabelValues(operation, status).Inc()
	settlementDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordEvent counts one published settlement event.
func RecordEvent(event market.Event) {
	marketEvents.WithLabelValues(string(event.Type)).Inc()
}

// SetEngineEscrow publishes the engine account balance. Balances beyond
// float64 precision lose low-order digits; the gauge is indicative only.
func SetEngineEscrow(units float64) {
	engineEscrow.Set(units)
}

// EventSink counts published events; attach it to the event bus.
type EventSink struct{}

// Deliver implements events.Sink.
func (EventSink) Deliver(event market.Event) error {
	RecordEvent(event)
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return "/"
	}
	if parts[0] != "collections" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/collections"
	}
	if len(parts) == 2 {
		return "/collections/:address"
	}
	resource := parts[2]
	return "/collections/:address/" + resource
}
