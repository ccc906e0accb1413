// Package cdmmetrics holds the Prometheus collectors for the CDM server
// (SPEC_FULL §11): session lifecycle counters, a DRM call latency
// histogram, live-session gauges, a metric-retry-exhaustion counter, and
// the `ping` heartbeat gauge. Every method is nil-receiver safe, so a
// *Metrics obtained with metrics disabled (New(nil)) can be passed down
// through every CDM layer at zero cost.
package cdmmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects every CDM-server Prometheus metric. A nil *Metrics is
// valid and every method on it is a no-op, mirroring the teacher's own
// nil-safe cache-metrics collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessionsCreated        *prometheus.CounterVec
	sessionsClosed         *prometheus.CounterVec
	sessionsDeferredClosed *prometheus.CounterVec
	drmCallDuration        *prometheus.HistogramVec
	liveKeySessions        prometheus.Gauge
	liveMediaKeys          prometheus.Gauge
	metricRetryExhausted   prometheus.Counter
	lastHeartbeatUnix      prometheus.Gauge
}

// New builds a Metrics instance registered against reg. Passing nil
// disables metrics entirely: every recording method becomes a no-op, and
// Registry returns nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	return &Metrics{
		registry: reg,
		sessionsCreated: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdm_key_sessions_created_total",
				Help: "Total number of key sessions created, by key system",
			},
			[]string{"key_system"},
		),
		sessionsClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdm_key_sessions_closed_total",
				Help: "Total number of key sessions closed, by key system and how they were closed",
			},
			[]string{"key_system", "reason"}, // reason: "close", "release", "remove"
		),
		sessionsDeferredClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdm_key_sessions_deferred_closed_total",
				Help: "Total number of key session teardowns deferred because of an outstanding usage-counter pin",
			},
			[]string{"key_system"},
		),
		drmCallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "cdm_drm_call_duration_milliseconds",
				Help: "Duration of native DRM adapter calls in milliseconds, by operation and key system",
				Buckets: []float64{
					0.1,
					0.5,
					1,
					5,
					10,
					50,
					100,
					500,
					1000,
				},
			},
			[]string{"operation", "key_system"},
		),
		liveKeySessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "cdm_live_key_sessions",
				Help: "Current number of live KeySession instances",
			},
		),
		liveMediaKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "cdm_live_media_keys",
				Help: "Current number of live MediaKeys instances",
			},
		),
		metricRetryExhausted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "cdm_metric_system_data_retry_exhausted_total",
				Help: "Total number of getMetricSystemData calls that exhausted their buffer-growth retry budget",
			},
		),
		lastHeartbeatUnix: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "cdm_service_last_heartbeat_unix",
				Help: "Unix timestamp of the last successful ping",
			},
		),
	}
}

// Registry returns the underlying Prometheus registry, or nil if metrics
// are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordSessionCreated records a key session creation for keySystem.
func (m *Metrics) RecordSessionCreated(keySystem string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(keySystem).Inc()
}

// RecordSessionClosed records a key session teardown for keySystem,
// tagged with the operation that caused it.
func (m *Metrics) RecordSessionClosed(keySystem, reason string) {
	if m == nil {
		return
	}
	m.sessionsClosed.WithLabelValues(keySystem, reason).Inc()
}

// RecordDeferredClose records a close/release that was deferred because
// the session's usage counter was still pinned.
func (m *Metrics) RecordDeferredClose(keySystem string) {
	if m == nil {
		return
	}
	m.sessionsDeferredClosed.WithLabelValues(keySystem).Inc()
}

// ObserveDRMCall records the latency of one native DRM adapter call.
func (m *Metrics) ObserveDRMCall(operation, keySystem string, duration time.Duration) {
	if m == nil {
		return
	}
	m.drmCallDuration.WithLabelValues(operation, keySystem).Observe(float64(duration.Microseconds()) / 1000)
}

// SetLiveKeySessions sets the current count of live KeySession instances.
func (m *Metrics) SetLiveKeySessions(count int) {
	if m == nil {
		return
	}
	m.liveKeySessions.Set(float64(count))
}

// SetLiveMediaKeys sets the current count of live MediaKeys instances.
func (m *Metrics) SetLiveMediaKeys(count int) {
	if m == nil {
		return
	}
	m.liveMediaKeys.Set(float64(count))
}

// RecordMetricRetryExhausted records a getMetricSystemData call that gave
// up growing its buffer without satisfying the native library.
func (m *Metrics) RecordMetricRetryExhausted() {
	if m == nil {
		return
	}
	m.metricRetryExhausted.Inc()
}

// RecordHeartbeat records a successful ping at unixSeconds.
func (m *Metrics) RecordHeartbeat(unixSeconds int64) {
	if m == nil {
		return
	}
	m.lastHeartbeatUnix.Set(float64(unixSeconds))
}
