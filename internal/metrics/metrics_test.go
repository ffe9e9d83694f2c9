package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOrderRouted_IncrementsCounter(t *testing.T) {
	RecordOrderRouted("2454.TW", "buy")
	if got := testutil.ToFloat64(OrdersRouted.WithLabelValues("2454.TW", "buy")); got < 1 {
		t.Fatalf("expected the routed-orders counter to advance, got %v", got)
	}
}

func TestRecordRiskVeto_IncrementsByReason(t *testing.T) {
	RecordRiskVeto("kill_switch")
	if got := testutil.ToFloat64(RiskVetoes.WithLabelValues("kill_switch")); got < 1 {
		t.Fatalf("expected the risk-veto counter to advance, got %v", got)
	}
}

func TestSetIngestorQueueDepth_ReportsGaugeValue(t *testing.T) {
	SetIngestorQueueDepth(42)
	if got := testutil.ToFloat64(IngestorQueueDepth); got != 42 {
		t.Fatalf("expected queue depth gauge to read 42, got %v", got)
	}
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	Init()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200 from the metrics handler, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected a non-empty metrics exposition body")
	}
}
