// Package metrics is a handler that exports prometheus metrics.
package metrics

import (
	"errors"

	"github.com/kvmshare/securesocket/model"
	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "securesocket"

// Handler counts handshakes, fingerprint checks and disconnections.
type Handler struct {
	handshakes   *prometheus.CounterVec
	fingerprints *prometheus.CounterVec
	disconnects  prometheus.Counter
	retries      prometheus.Histogram
}

// New creates a new Handler and registers its collectors with the
// given registerer. Collectors that are already registered are reused.
func New(registerer prometheus.Registerer) *Handler {
	h := &Handler{
		handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "tls_handshakes_total",
				Help:      "TLS handshakes by role and result",
			},
			[]string{"role", "result"},
		),
		fingerprints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "fingerprint_checks_total",
				Help:      "Server fingerprint checks by outcome",
			},
			[]string{"trusted"},
		),
		disconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "disconnects_total",
				Help:      "Sockets disconnected after a fatal failure",
			},
		),
		retries: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      "tls_handshake_retries",
				Help:      "Flow-control retries needed before the handshake completed",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
	}
	h.handshakes = register(registerer, h.handshakes).(*prometheus.CounterVec)
	h.fingerprints = register(registerer, h.fingerprints).(*prometheus.CounterVec)
	h.disconnects = register(registerer, h.disconnects).(prometheus.Counter)
	h.retries = register(registerer, h.retries).(prometheus.Histogram)
	return h
}

func register(registerer prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
		return are.ExistingCollector
	}
	return c
}

// OnMeasurement implements model.Handler.OnMeasurement.
func (h *Handler) OnMeasurement(m model.Measurement) {
	if m.TLSHandshakeDone != nil {
		result := "success"
		if m.TLSHandshakeDone.Error != nil {
			result = "failure"
		}
		h.handshakes.WithLabelValues(m.TLSHandshakeDone.Role.String(), result).Inc()
		h.retries.Observe(float64(m.TLSHandshakeDone.Retries))
	}
	if m.Fingerprint != nil {
		trusted := "false"
		if m.Fingerprint.Trusted {
			trusted = "true"
		}
		h.fingerprints.WithLabelValues(trusted).Inc()
	}
	if m.Disconnected != nil {
		h.disconnects.Inc()
	}
}
