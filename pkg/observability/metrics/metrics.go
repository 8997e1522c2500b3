package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	signedRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vision",
		Subsystem: "transport",
		Name:      "requests_total",
		Help:      "Signed requests sent to the classification service by method and status code.",
	}, []string{"method", "code"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vision",
		Subsystem: "transport",
		Name:      "request_duration_seconds",
		Help:      "Latency of requests to the classification service.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"method"})

	uploadOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vision",
		Subsystem: "upload",
		Name:      "studies_total",
		Help:      "Study uploads by outcome (accepted, rejected, failed).",
	}, []string{"outcome"})

	uploadPasses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vision",
		Subsystem: "upload",
		Name:      "passes_total",
		Help:      "Bulk upload passes executed.",
	})

	pollStates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vision",
		Subsystem: "acquisition",
		Name:      "polls_total",
		Help:      "Classification status observations by state.",
	}, []string{"state"})

	acquisitionOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vision",
		Subsystem: "acquisition",
		Name:      "results_total",
		Help:      "Result acquisitions by outcome (complete, service_error, failed, cached).",
	}, []string{"outcome"})
)

func init() {
	registry.MustRegister(
		signedRequests,
		requestDuration,
		uploadOutcomes,
		uploadPasses,
		pollStates,
		acquisitionOutcomes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func ObserveRequest(method string, code int, elapsed time.Duration) {
	signedRequests.WithLabelValues(method, codeLabel(code)).Inc()
	requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func ObserveUpload(outcome string) {
	uploadOutcomes.WithLabelValues(outcome).Inc()
}

func ObservePass() {
	uploadPasses.Inc()
}

func ObservePoll(state string) {
	pollStates.WithLabelValues(state).Inc()
}

func ObserveAcquisition(outcome string) {
	acquisitionOutcomes.WithLabelValues(outcome).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func codeLabel(code int) string {
	if code == 0 {
		return "error"
	}
	return strconv.Itoa(code)
}
