package metric

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/me/godnc/pkg/model"
)

func TestCycleCompleted(t *testing.T) {
	m := New()
	m.CycleCompleted(50*time.Millisecond, 3, 1)
	m.CycleCompleted(10*time.Millisecond, 0, 0)

	if got := testutil.ToFloat64(m.CyclesTotal); got != 2 {
		t.Errorf("cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TasksDispatched); got != 3 {
		t.Errorf("dispatched = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.TasksFailed); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestDispatchResult(t *testing.T) {
	m := New()
	m.DispatchResult("CNC001", "dispatched")
	m.DispatchResult("CNC001", "dispatched")
	m.DispatchResult("CNC002", "failed")

	if got := testutil.ToFloat64(m.DispatchesTotal.WithLabelValues("CNC001", "dispatched")); got != 2 {
		t.Errorf("CNC001 dispatched = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DispatchesTotal.WithLabelValues("CNC002", "failed")); got != 1 {
		t.Errorf("CNC002 failed = %v, want 1", got)
	}
}

func TestObserveMachines(t *testing.T) {
	m := New()
	m.ObserveMachines([]model.Machine{
		{ID: "a", Status: model.MachineIdle},
		{ID: "b", Status: model.MachineIdle},
		{ID: "c", Status: model.MachineAlarm},
	})

	if got := testutil.ToFloat64(m.MachinesByStatus.WithLabelValues("IDLE")); got != 2 {
		t.Errorf("idle = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.MachinesByStatus.WithLabelValues("ALARM")); got != 1 {
		t.Errorf("alarm = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MachinesByStatus.WithLabelValues("OFF")); got != 0 {
		t.Errorf("off = %v, want 0", got)
	}

	// Refresh replaces the previous counts.
	m.ObserveMachines([]model.Machine{{ID: "a", Status: model.MachineRunning}})
	if got := testutil.ToFloat64(m.MachinesByStatus.WithLabelValues("IDLE")); got != 0 {
		t.Errorf("idle after refresh = %v, want 0", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.CycleCompleted(time.Millisecond, 1, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "godnc_scheduler_cycles_total") {
		t.Error("exposition missing the cycle counter")
	}
}
