// Package metrics exposes Prometheus collectors for client operations. A nil
// *Metrics is valid and records nothing, so instrumentation stays optional.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client's Prometheus collectors.
type Metrics struct {
	ops      *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytesIn  prometheus.Counter
	bytesOut prometheus.Counter
	inflight prometheus.Gauge
}

// New builds the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer for the process-global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "objstack",
			Name:      "operations_total",
			Help:      "Completed store operations by type and backend scheme.",
		}, []string{"op", "scheme"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "objstack",
			Name:      "operation_errors_total",
			Help:      "Failed store operations by type and backend scheme.",
		}, []string{"op", "scheme"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "objstack",
			Name:      "operation_duration_seconds",
			Help:      "Store operation latency by type and backend scheme.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"op", "scheme"}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "objstack",
			Name:      "bytes_read_total",
			Help:      "Object bytes read from backends.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "objstack",
			Name:      "bytes_written_total",
			Help:      "Object bytes written to backends.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "objstack",
			Name:      "operations_in_flight",
			Help:      "Store operations currently running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.errors, m.duration, m.bytesIn, m.bytesOut, m.inflight)
	}
	return m
}

// Observe records one finished operation. Safe on a nil receiver.
func (m *Metrics) Observe(op, scheme string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, scheme).Inc()
	m.duration.WithLabelValues(op, scheme).Observe(time.Since(start).Seconds())
	if err != nil {
		m.errors.WithLabelValues(op, scheme).Inc()
	}
}

// AddBytesRead accounts object bytes read. Safe on a nil receiver.
func (m *Metrics) AddBytesRead(n int) {
	if m == nil {
		return
	}
	m.bytesIn.Add(float64(n))
}

// AddBytesWritten accounts object bytes written. Safe on a nil receiver.
func (m *Metrics) AddBytesWritten(n int) {
	if m == nil {
		return
	}
	m.bytesOut.Add(float64(n))
}

// TrackInFlight bumps the in-flight gauge and returns the matching
// decrement. Safe on a nil receiver.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}
