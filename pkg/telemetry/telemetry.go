// Package telemetry exposes the server's prometheus collectors and the
// request-timing middleware. Everything is registered on the default
// registry and served at /metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HeldPolls tracks currently suspended long-poll requests.
	HeldPolls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_held_polls",
		Help: "Long-poll requests currently suspended awaiting events.",
	})

	// ActiveSessions tracks registered sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_sessions_active",
		Help: "Registered long-poll sessions.",
	})

	// FanoutEnvelopes counts envelopes enqueued by fanout, by kind.
	FanoutEnvelopes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_fanout_envelopes_total",
		Help: "Envelopes enqueued onto recipient queues, by envelope kind.",
	}, []string{"kind"})

	// PollOutcomes counts finished polls by outcome
	// (delivered|timeout|cancelled|error).
	PollOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_poll_outcomes_total",
		Help: "Finished long-poll requests by outcome.",
	}, []string{"outcome"})

	// PollDuration observes how long polls were held.
	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatrelay_poll_duration_seconds",
		Help:    "Wall time a long-poll request was held.",
		Buckets: []float64{.05, .25, 1, 5, 10, 30, 60},
	})

	// NotificationsDropped counts side-effect records dropped on
	// notify-queue overflow.
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_notifications_dropped_total",
		Help: "Notification records dropped because the side-effect queue was full.",
	})

	// JanitorExpired counts sessions expired by the sweep.
	JanitorExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_janitor_sessions_expired_total",
		Help: "Sessions removed by the idle sweep.",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_http_requests_total",
		Help: "HTTP requests by method, path and status.",
	}, []string{"method", "path", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatrelay_http_request_duration_seconds",
		Help:    "HTTP request latency by path.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)

// statusRecorder captures the response code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latencies. Long-poll holds make
// the latency histogram bimodal; the poll-specific collectors above are
// the ones to alert on.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
