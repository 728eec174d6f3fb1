package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.CacheHit("local")
	m.CacheHit("local")
	m.CacheMiss()
	m.CacheRemoteError("get")
	m.Rotation("success")
	m.Revoked("token_reuse_detected", 3)
	m.Revoked("rotated", 0)
	m.CleanupDeleted(5)

	if got := testutil.ToFloat64(m.cacheHits.WithLabelValues("local")); got != 2 {
		t.Errorf("cache hits local = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.revocations.WithLabelValues("token_reuse_detected")); got != 3 {
		t.Errorf("revocations = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.cleanupDeleted); got != 5 {
		t.Errorf("cleanup deleted = %v, want 5", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.CacheHit("remote")
	m.CacheMiss()
	m.CacheRemoteError("set")
	m.Rotation("rejected")
	m.Revoked("expired", 1)
	m.CleanupDeleted(1)
	if m.Registry() != nil {
		t.Error("nil Metrics should have nil registry")
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Rotation("reuse_detected")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `session_lifecycle_auth_refresh_total{outcome="reuse_detected"} 1`) {
		t.Errorf("rotation counter missing from output")
	}
}
