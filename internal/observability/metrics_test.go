package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTurn(t *testing.T) {
	m := NewMetrics()
	m.RecordTurn("cli", "success", 1.2)
	m.RecordTurn("cli", "success", 0.4)
	m.RecordTurn("slack", "error", 2.0)

	if got := testutil.ToFloat64(m.TurnCounter.WithLabelValues("cli", "success")); got != 2 {
		t.Errorf("cli success turns = %v", got)
	}
	if got := testutil.ToFloat64(m.TurnCounter.WithLabelValues("slack", "error")); got != 1 {
		t.Errorf("slack error turns = %v", got)
	}
}

func TestSetPressure(t *testing.T) {
	m := NewMetrics()
	m.SetPressure(7, 3)
	if got := testutil.ToFloat64(m.QueueDepth); got != 7 {
		t.Errorf("queue depth = %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveLanes); got != 3 {
		t.Errorf("active lanes = %v", got)
	}
}

func TestIsolatedRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics()
	b := NewMetrics()
	a.RecordHTTPRequest("GET", "/api/state", "200", 0.01)
	if got := testutil.ToFloat64(b.HTTPRequestCounter.WithLabelValues("GET", "/api/state", "200")); got != 0 {
		t.Errorf("registries shared state: %v", got)
	}
}
