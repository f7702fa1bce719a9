package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if crawlURLsTotal == nil || ingestMessagesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()

	before := testutil.ToFloat64(crawlURLsTotal.WithLabelValues("no_data"))
	rec.ObserveURL("no_data")
	if val := testutil.ToFloat64(crawlURLsTotal.WithLabelValues("no_data")); val != before+1 {
		t.Errorf("Expected no_data urls to be %f, got %f", before+1, val)
	}

	before = testutil.ToFloat64(ingestRowsPersistedTotal.WithLabelValues("sale"))
	rec.ObservePersisted("sale", 3)
	rec.ObservePersisted("sale", 0)
	if val := testutil.ToFloat64(ingestRowsPersistedTotal.WithLabelValues("sale")); val != before+3 {
		t.Errorf("Expected persisted rows to be %f, got %f", before+3, val)
	}

	before = testutil.ToFloat64(ingestRowsSkippedTotal.WithLabelValues("title", "missing_field"))
	rec.ObserveSkipped("title", "missing_field")
	if val := testutil.ToFloat64(ingestRowsSkippedTotal.WithLabelValues("title", "missing_field")); val != before+1 {
		t.Errorf("Expected skipped rows to be %f, got %f", before+1, val)
	}

	before = testutil.ToFloat64(ingestMessagesTotal.WithLabelValues(ResultDecodeError))
	rec.ObserveMessage(ResultDecodeError, 10*time.Millisecond)
	if val := testutil.ToFloat64(ingestMessagesTotal.WithLabelValues(ResultDecodeError)); val != before+1 {
		t.Errorf("Expected decode errors to be %f, got %f", before+1, val)
	}

	gauge := testutil.ToFloat64(crawlActiveWorkers)
	rec.WorkerStarted()
	rec.WorkerStopped()
	if val := testutil.ToFloat64(crawlActiveWorkers); val != gauge {
		t.Errorf("Expected active workers to return to %f, got %f", gauge, val)
	}
}
