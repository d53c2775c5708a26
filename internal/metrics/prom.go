package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gaspardpetit/sidecar/internal/bridge"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "sidecar_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "host"},
		},
		[]string{"date", "sha", "version"},
	)

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidecar_requests_total",
			Help: "Outbound requests by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	requestsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sidecar_requests_inflight",
			Help: "Outbound requests awaiting a response",
		},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sidecar_request_duration_seconds",
			Help:    "Outbound request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	handled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidecar_handled_total",
			Help: "Inbound requests by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	eventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidecar_events_emitted_total",
			Help: "Events emitted by name",
		},
		[]string{"name"},
	)

	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidecar_handshakes_total",
			Help: "Handshake attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, requests, requestsInflight, requestDuration, handled, eventsEmitted, handshakes)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// Observer feeds bridge activity into the collectors above.
type Observer struct{}

var _ bridge.Observer = Observer{}

func (Observer) RequestStarted(string) {
	requestsInflight.Inc()
}

func (Observer) RequestFinished(op string, outcome bridge.Outcome, elapsed time.Duration) {
	requestsInflight.Dec()
	requests.WithLabelValues(op, string(outcome)).Inc()
	requestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (Observer) RequestHandled(op string, outcome bridge.Outcome) {
	handled.WithLabelValues(op, string(outcome)).Inc()
}

func (Observer) EventEmitted(name string) {
	eventsEmitted.WithLabelValues(name).Inc()
}

func (Observer) HandshakeFinished(connected bool) {
	outcome := "connected"
	if !connected {
		outcome = "standalone"
	}
	handshakes.WithLabelValues(outcome).Inc()
}
