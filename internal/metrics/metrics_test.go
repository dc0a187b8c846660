package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	m := New()
	m.Observe("retrieve", nil)
	m.Observe("retrieve", nil)
	m.Observe("retrieve", errors.New("boom"))

	if got := testutil.ToFloat64(m.Operations.WithLabelValues("retrieve", "ok")); got != 2 {
		t.Fatalf("unexpected ok count %v", got)
	}
	if got := testutil.ToFloat64(m.Operations.WithLabelValues("retrieve", "error")); got != 1 {
		t.Fatalf("unexpected error count %v", got)
	}
}

func TestSessionGauge(t *testing.T) {
	m := New()
	release := m.SessionOpened("pop3")
	if got := testutil.ToFloat64(m.Sessions.WithLabelValues("pop3")); got != 1 {
		t.Fatalf("unexpected gauge %v", got)
	}
	release()
	if got := testutil.ToFloat64(m.Sessions.WithLabelValues("pop3")); got != 0 {
		t.Fatalf("unexpected gauge %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Observe("list", nil)
	m.SessionOpened("smtp")()
}

func TestHandler(t *testing.T) {
	m := New()
	m.Observe("list", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `mailgate_operations_total{operation="list",result="ok"} 1`) {
		t.Fatalf("metrics output missing counter:\n%s", rec.Body.String())
	}
}
