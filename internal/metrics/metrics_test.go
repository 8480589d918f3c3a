package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Error("New() returned nil")
	}
}

func TestDefault(t *testing.T) {
	m1 := Default()
	m2 := Default()

	if m1 != m2 {
		t.Error("Default() should return same instance")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m := New()
	m.RecordHTTPRequest(true)
	m.RecordHTTPRequest(false)

	if m.httpRequests.Load() != 2 {
		t.Error("Total requests not incremented")
	}
	if m.httpFailed.Load() != 1 {
		t.Error("Failed requests not incremented")
	}
}

func TestRecordStoreOp(t *testing.T) {
	m := New()
	m.RecordStoreOp("patients", true)
	m.RecordStoreOp("patients", true)
	m.RecordStoreOp("carePlans", false)

	if m.storeOpsTotal.Load() != 3 {
		t.Error("Total store ops not incremented")
	}
	if m.storeOpsFailed.Load() != 1 {
		t.Error("Failed store ops not incremented")
	}
	if m.collectionOps["patients"].Load() != 2 {
		t.Error("Per-collection counter not incremented")
	}
}

func TestRecordFlush(t *testing.T) {
	m := New()
	m.RecordFlush(true)
	m.RecordFlush(false)

	if m.flushesTotal.Load() != 2 {
		t.Error("Total flushes not incremented")
	}
	if m.flushesFailed.Load() != 1 {
		t.Error("Failed flushes not incremented")
	}
}

func TestRecordUpstream(t *testing.T) {
	m := New()
	m.RecordUpstream(true)
	m.RecordUpstream(false)
	m.RecordUpstreamRejected()

	if m.upstreamRequests.Load() != 2 {
		t.Error("Upstream requests not incremented")
	}
	if m.upstreamFailed.Load() != 1 {
		t.Error("Failed upstream requests not incremented")
	}
	if m.upstreamRejected.Load() != 1 {
		t.Error("Rejected upstream requests not incremented")
	}
}

func TestSnapshot(t *testing.T) {
	m := New()
	m.RecordHTTPRequest(true)
	m.RecordStoreOp("patients", true)
	m.RecordResponseTime(10 * time.Millisecond)
	m.RecordResponseTime(30 * time.Millisecond)

	s := m.Snapshot()
	if s.HTTPRequests != 1 {
		t.Errorf("HTTPRequests = %d, want 1", s.HTTPRequests)
	}
	if s.StoreOpsTotal != 1 {
		t.Errorf("StoreOpsTotal = %d, want 1", s.StoreOpsTotal)
	}
	if s.AvgResponseTime != 20*time.Millisecond {
		t.Errorf("AvgResponseTime = %v, want 20ms", s.AvgResponseTime)
	}
	if s.CollectionOps["patients"] != 1 {
		t.Errorf("CollectionOps[patients] = %d, want 1", s.CollectionOps["patients"])
	}
}

func TestResponseTimeRingCap(t *testing.T) {
	m := New()
	for i := 0; i < 1500; i++ {
		m.RecordResponseTime(time.Millisecond)
	}

	m.responseTimesLock.Lock()
	n := len(m.responseTimes)
	m.responseTimesLock.Unlock()

	if n != 1000 {
		t.Errorf("response time buffer = %d entries, want 1000", n)
	}
}

func TestPrometheus(t *testing.T) {
	m := New()
	m.RecordHTTPRequest(true)
	m.RecordStoreOp("patients", true)

	out := m.Prometheus()
	for _, want := range []string{
		"clinicore_uptime_seconds",
		"clinicore_http_requests_total 1",
		"clinicore_store_ops_total 1",
		`clinicore_collection_ops_total{collection="patients"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Prometheus output missing %q", want)
		}
	}
}
