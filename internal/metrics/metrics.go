package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: remote media served from the in-process fetch cache.
	MediaCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "media_cache_hits_total",
			Help: "Total number of remote media fetches served from cache.",
		},
	)

	// Counter: media references resolved, by part kind and source.
	MediaResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_resolved_total",
			Help: "Media references inlined by the content resolver.",
		},
		[]string{"kind", "source"},
	)

	// Counter: one per provider call made by the dispatcher.
	ProviderAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_attempts_total",
			Help: "Provider calls made by the dispatcher, by outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// Counter: requests that needed more than one provider.
	ProviderFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provider_fallbacks_total",
			Help: "Requests that fell back past their first candidate provider.",
		},
	)

	// Histogram: upstream call latency in seconds.
	ProviderLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_latency_seconds",
			Help:    "Latency of buffered provider calls in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	// Counter: registry rebuilds by result.
	RegistryReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_reloads_total",
			Help: "Provider registry rebuilds, by result.",
		},
		[]string{"result"},
	)

	// Histogram: gateway HTTP latency in seconds.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		MediaCacheHitsTotal,
		MediaResolvedTotal,
		ProviderAttemptsTotal,
		ProviderFallbacksTotal,
		ProviderLatencySeconds,
		RegistryReloadsTotal,
		GatewayLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		// route pattern keeps label cardinality bounded
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		GatewayLatencySeconds.
			WithLabelValues(path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streaming through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
