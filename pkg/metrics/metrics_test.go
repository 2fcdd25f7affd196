package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	r := New()
	r.ReconcilePasses.WithLabelValues("applied").Inc()
	r.ConnectionHealth.Set(HealthValue(true, false))

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "edged_reconcile_passes_total") {
		t.Errorf("expected reconcile passes counter in output, got:\n%s", body)
	}
	if !strings.Contains(body, "edged_cloud_connection_health 1") {
		t.Errorf("expected connection health gauge set to 1, got:\n%s", body)
	}
}

func TestHealthValue(t *testing.T) {
	cases := []struct {
		online, degraded bool
		want              float64
	}{
		{true, false, 1},
		{false, true, 0.5},
		{false, false, 0},
	}
	for _, c := range cases {
		if got := HealthValue(c.online, c.degraded); got != c.want {
			t.Errorf("HealthValue(%v,%v) = %v, want %v", c.online, c.degraded, got, c.want)
		}
	}
}
