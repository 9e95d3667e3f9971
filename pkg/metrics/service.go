// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame outcomes.
const (
	FramePublished       = "published"
	FrameChecksumFailure = "checksum_failure"
	FrameIncomplete      = "incomplete"
	FrameOverflow        = "overflow"
)

var (
	registerOnce sync.Once

	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "p1relay",
			Subsystem: "framer",
			Name:      "frames_total",
			Help:      "Telegram frames by outcome.",
		},
		[]string{"outcome"},
	)
	lockTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "p1relay",
			Subsystem: "slot",
			Name:      "lock_timeouts_total",
			Help:      "Slot lock acquisitions that exceeded their bound.",
		},
		[]string{"op"},
	)
	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "p1relay",
			Subsystem: "relay",
			Name:      "sessions_total",
			Help:      "Relay sessions started.",
		},
		[]string{"transport"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "p1relay",
			Subsystem: "relay",
			Name:      "sessions_active",
			Help:      "Relay sessions currently streaming.",
		},
	)
	relayedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "p1relay",
			Subsystem: "relay",
			Name:      "bytes_total",
			Help:      "Telegram bytes written to relay peers.",
		},
		[]string{"transport"},
	)
	readErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "p1relay",
			Subsystem: "port",
			Name:      "read_errors_total",
			Help:      "Serial read errors other than timeouts.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(frames, lockTimeouts, sessions, activeSessions, relayedBytes, readErrors)
	})
}

func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordFrame(outcome string) {
	RegisterMetrics()
	frames.WithLabelValues(outcome).Inc()
}

func RecordLockTimeout(op string) {
	RegisterMetrics()
	lockTimeouts.WithLabelValues(op).Inc()
}

// SessionStarted returns the matching end hook.
func SessionStarted(transport string) func() {
	RegisterMetrics()
	sessions.WithLabelValues(transport).Inc()
	activeSessions.Inc()
	return func() { activeSessions.Dec() }
}

func RecordRelayedBytes(transport string, n int) {
	RegisterMetrics()
	relayedBytes.WithLabelValues(transport).Add(float64(n))
}

func RecordReadError() {
	RegisterMetrics()
	readErrors.Inc()
}
