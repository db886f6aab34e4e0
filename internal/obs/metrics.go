package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every handler.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service reports ready, 0 otherwise.",
	})
)

// Auction domain metrics.
var (
	BidsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_bids_total",
		Help: "Accepted bids across all auctions.",
	})

	AuctionsEndedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_ended_total",
			Help: "Ended auctions by outcome.",
		},
		[]string{"outcome"},
	)

	CredentialsIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_credentials_issued_total",
		Help: "Access credentials minted at settlement.",
	})

	ProvisioningAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_provisioning_attempts_total",
			Help: "Downstream provisioning attempts by result.",
		},
		[]string{"result"},
	)

	ActiveAuctions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auction_active",
		Help: "Auctions currently accepting bids.",
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		BidsTotal, AuctionsEndedTotal, CredentialsIssuedTotal,
		ProvisioningAttemptsTotal, ActiveAuctions,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
