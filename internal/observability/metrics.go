package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "planner"

var (
	isolationViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rls",
		Name:      "isolation_violations_total",
		Help:      "Writes rejected by a row level guard.",
	}, []string{"operation"})
	bypassWindows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rls",
		Name:      "bypass_windows_total",
		Help:      "Admin bypass windows by outcome (reinstated, failed, reinstate_failed).",
	}, []string{"outcome"})
	contextWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rls",
		Name:      "context_writes_total",
		Help:      "Tenant context writes by kind (set, clear, release, sweep) and result.",
	}, []string{"kind", "result"})
	httpRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route pattern and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(isolationViolations, bypassWindows, contextWrites, httpRequests)
}

// RecordIsolationViolation counts a guard rejection for op (insert, update, delete).
func RecordIsolationViolation(op string) {
	if op == "" {
		op = "unknown"
	}
	isolationViolations.WithLabelValues(op).Inc()
}

// RecordBypass counts a finished bypass window.
func RecordBypass(outcome string) {
	bypassWindows.WithLabelValues(outcome).Inc()
}

// RecordContextWrite counts a write to the persisted tenant context.
func RecordContextWrite(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	contextWrites.WithLabelValues(kind, result).Inc()
}

// RecordHTTPRequest observes one served request.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
