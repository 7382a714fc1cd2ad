package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()
	m.Calculation(82, 150*time.Millisecond)
	m.GamingDetected()
	m.Recalculation(true)
	m.Recalculation(false)
	m.Recalculation(false)

	if got := testutil.ToFloat64(m.cacheHits); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheMisses); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.calculations); got != 1 {
		t.Errorf("calculations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.recalculation.WithLabelValues("false")); got != 2 {
		t.Errorf("recalculations{triggered=false} = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "coherence_gaming_detected_total 1") {
		t.Errorf("exposition lacks gaming counter:\n%s", rec.Body.String())
	}
}

func TestRecorder_Nil(t *testing.T) {
	var m *Recorder
	m.CacheHit()
	m.CacheMiss()
	m.Calculation(50, time.Second)
	m.GamingDetected()
	m.Recalculation(true)
}

func TestNew_PrivateRegistry(t *testing.T) {
	// Two recorders must not collide on registration.
	_ = New(nil)
	_ = New(nil)
}
