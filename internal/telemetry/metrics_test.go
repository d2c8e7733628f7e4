package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	rec := NewRecorder(prometheus.NewRegistry())

	rec.ObserveRun("default", domain.Metrics{
		TotalTransactions: 10,
		FlaggedCount:      3,
		ViolationsByRule: map[domain.RuleID]int{
			domain.RuleHighFrequency: 2,
			domain.RuleUnusualTime:   1,
		},
	}, 20*time.Millisecond)
	rec.ObserveRun("default", domain.Metrics{TotalTransactions: 5}, time.Millisecond)
	rec.ObserveFailure("strict")

	if got := testutil.ToFloat64(rec.runsTotal.WithLabelValues("default")); got != 2 {
		t.Errorf("runs_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(rec.transactionsAnalyzed); got != 15 {
		t.Errorf("transactions_analyzed_total = %v, want 15", got)
	}
	if got := testutil.ToFloat64(rec.transactionsFlagged); got != 3 {
		t.Errorf("transactions_flagged_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(rec.violationsTotal.WithLabelValues("HIGH_FREQUENCY")); got != 2 {
		t.Errorf("violations_total{HIGH_FREQUENCY} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(rec.runFailures.WithLabelValues("strict")); got != 1 {
		t.Errorf("run_failures_total = %v, want 1", got)
	}

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "kestrel_detection_runs_total") {
		t.Error("exposition output missing kestrel_detection_runs_total")
	}
}
