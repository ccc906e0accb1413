package cdmmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_NilRegistry_ReturnsNil(t *testing.T) {
	m := New(nil)
	if m != nil {
		t.Fatal("New(nil) should return a nil *Metrics")
	}
}

func TestNilMetrics_MethodsDoNotPanic(t *testing.T) {
	var m *Metrics
	m.RecordSessionCreated("com.widevine.alpha")
	m.RecordSessionClosed("com.widevine.alpha", "close")
	m.RecordDeferredClose("com.widevine.alpha")
	m.ObserveDRMCall("generateRequest", "com.widevine.alpha", time.Millisecond)
	m.SetLiveKeySessions(3)
	m.SetLiveMediaKeys(1)
	m.RecordMetricRetryExhausted()
	m.RecordHeartbeat(1234)
	if m.Registry() != nil {
		t.Error("nil Metrics Registry() should return nil")
	}
}

func TestRecordSessionCreated_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordSessionCreated("com.widevine.alpha")
	m.RecordSessionCreated("com.widevine.alpha")
	m.RecordSessionCreated("com.microsoft.playready")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "cdm_key_sessions_created_total" {
			found = true
			var total float64
			for _, metric := range mf.GetMetric() {
				total += metric.GetCounter().GetValue()
			}
			if total != 3 {
				t.Errorf("total created = %v, want 3", total)
			}
		}
	}
	if !found {
		t.Error("expected cdm_key_sessions_created_total metric")
	}
}

func TestRecordSessionClosed_LabelsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordSessionClosed("com.widevine.alpha", "close")
	m.RecordSessionClosed("com.widevine.alpha", "release")

	mfs, _ := reg.Gather()
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "cdm_key_sessions_closed_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Errorf("label combinations = %d, want 2", len(mf.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("expected cdm_key_sessions_closed_total metric")
	}
}

func TestObserveDRMCall_RecordsHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDRMCall("generateRequest", "com.widevine.alpha", 5*time.Millisecond)
	m.ObserveDRMCall("decrypt", "com.widevine.alpha", 500*time.Microsecond)

	mfs, _ := reg.Gather()
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "cdm_drm_call_duration_milliseconds" {
			found = true
			var sampleCount uint64
			for _, metric := range mf.GetMetric() {
				sampleCount += metric.GetHistogram().GetSampleCount()
			}
			if sampleCount != 2 {
				t.Errorf("sample count = %d, want 2", sampleCount)
			}
		}
	}
	if !found {
		t.Error("expected cdm_drm_call_duration_milliseconds metric")
	}
}

func TestLiveGauges_ReflectLastSetValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetLiveKeySessions(4)
	m.SetLiveKeySessions(7)
	m.SetLiveMediaKeys(2)

	mfs, _ := reg.Gather()
	for _, mf := range mfs {
		switch mf.GetName() {
		case "cdm_live_key_sessions":
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 7 {
				t.Errorf("live key sessions = %v, want 7", got)
			}
		case "cdm_live_media_keys":
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 2 {
				t.Errorf("live media keys = %v, want 2", got)
			}
		}
	}
}

func TestRecordMetricRetryExhausted_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordMetricRetryExhausted()
	m.RecordMetricRetryExhausted()

	mfs, _ := reg.Gather()
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "cdm_metric_system_data_retry_exhausted_total" {
			found = true
			if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 2 {
				t.Errorf("retry exhausted = %v, want 2", got)
			}
		}
	}
	if !found {
		t.Error("expected cdm_metric_system_data_retry_exhausted_total metric")
	}
}

func TestRecordHeartbeat_SetsGaugeToTimestamp(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordHeartbeat(1700000000)

	mfs, _ := reg.Gather()
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "cdm_service_last_heartbeat_unix" {
			found = true
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 1700000000 {
				t.Errorf("heartbeat gauge = %v, want 1700000000", got)
			}
		}
	}
	if !found {
		t.Error("expected cdm_service_last_heartbeat_unix metric")
	}
}
