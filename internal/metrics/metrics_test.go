package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordCycle("alpha", "executed")
	m.RecordCycle("alpha", "executed")
	m.RecordCycle("alpha", "no_action")
	m.RecordSkip("alpha")
	m.RecordDecision("alpha", "EXECUTE_TASK", "market-research")
	m.CollaboratorError("awareness")

	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues("alpha", "executed")); got != 2 {
		t.Errorf("executed cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CyclesSkipped.WithLabelValues("alpha")); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("alpha", "EXECUTE_TASK", "market-research")); got != 1 {
		t.Errorf("decisions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CollaboratorErrors.WithLabelValues("awareness")); got != 1 {
		t.Errorf("collaborator errors = %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m := New(nil)

	m.CycleStarted()
	m.CycleStarted()
	m.CycleFinished()
	m.SetAgents(3)

	if got := testutil.ToFloat64(m.InFlightCycles); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AgentsRegistered); got != 3 {
		t.Errorf("agents = %v, want 3", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordCycle("a", "x")
	m.RecordSkip("a")
	m.RecordDecision("a", "k", "t")
	m.ObserveStage("base", 0.5)
	m.ObserveExecution("t", true, 1)
	m.CollaboratorError("c")
	m.CycleStarted()
	m.CycleFinished()
	m.SetAgents(1)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveStage("final", 0.42)
	m.ObserveExecution("market-research", true, 12)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{"taskpilot_stage_score_bucket", "taskpilot_execution_duration_seconds_count"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
