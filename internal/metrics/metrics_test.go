package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if runsTotal == nil || reservationsTotal == nil || upstreamErrorsTotal == nil ||
		scrapesTotal == nil || enrichDurationSeconds == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserversIncrementCounters(t *testing.T) {
	Init()

	before := testutil.ToFloat64(runsTotal.WithLabelValues("completed"))
	ObserveRun("completed")
	if got := testutil.ToFloat64(runsTotal.WithLabelValues("completed")); got != before+1 {
		t.Fatalf("expected runs_total to grow by 1, got %f -> %f", before, got)
	}

	before = testutil.ToFloat64(upstreamErrorsTotal.WithLabelValues("search", "quota"))
	ObserveUpstreamError("search", "quota")
	if got := testutil.ToFloat64(upstreamErrorsTotal.WithLabelValues("search", "quota")); got != before+1 {
		t.Fatalf("expected upstream errors to grow by 1, got %f -> %f", before, got)
	}

	before = testutil.ToFloat64(reservationsTotal.WithLabelValues("insufficient"))
	ObserveReservation("insufficient")
	if got := testutil.ToFloat64(reservationsTotal.WithLabelValues("insufficient")); got != before+1 {
		t.Fatalf("expected reservations to grow by 1, got %f -> %f", before, got)
	}

	ObserveScrape("ok")
	ObserveFundingEvent("applied")
	ObserveEnrichDuration(2 * time.Second)
	ObserveThrottleDelay("maps.googleapis.com", 10*time.Millisecond)
	if n := testutil.CollectAndCount(enrichDurationSeconds); n != 1 {
		t.Fatalf("expected enrich histogram to be collected, got %d", n)
	}
}
