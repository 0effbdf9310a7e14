package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOrderIncrementsCorrectOutcome(t *testing.T) {
	OrdersProcessed.Reset()
	RecordOrder("checkout", true)
	RecordOrder("checkout", false)

	if got := testutil.ToFloat64(OrdersProcessed.WithLabelValues("checkout", "commit")); got != 1 {
		t.Fatalf("commit count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(OrdersProcessed.WithLabelValues("checkout", "rollback")); got != 1 {
		t.Fatalf("rollback count = %v, want 1", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	RecordOrder("checkout", true)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pagekv_orders_processed_total") {
		t.Fatal("exposition output missing pagekv_orders_processed_total")
	}
}
