package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAdmissionIncrementsLabeledCounter(t *testing.T) {
	m := New()
	m.RecordAdmission(true, "")
	m.RecordAdmission(false, "minute")

	if got := testutil.ToFloat64(m.admissions.WithLabelValues("true", "")); got != 1 {
		t.Fatalf("expected 1 allowed admission, got %v", got)
	}
	if got := testutil.ToFloat64(m.admissions.WithLabelValues("false", "minute")); got != 1 {
		t.Fatalf("expected 1 denied admission, got %v", got)
	}
}

func TestPipelineStartedTracksActiveGauge(t *testing.T) {
	m := New()
	done1 := m.PipelineStarted()
	done2 := m.PipelineStarted()

	if got := testutil.ToFloat64(m.activePipelines); got != 2 {
		t.Fatalf("expected gauge at 2, got %v", got)
	}
	done1()
	if got := testutil.ToFloat64(m.activePipelines); got != 1 {
		t.Fatalf("expected gauge at 1 after one completion, got %v", got)
	}
	done2()
	if got := testutil.ToFloat64(m.activePipelines); got != 0 {
		t.Fatalf("expected gauge at 0 after both complete, got %v", got)
	}
}

func TestObserveStreamDurationRecordsSample(t *testing.T) {
	m := New()
	m.ObserveStreamDuration(250 * time.Millisecond)

	if got := testutil.CollectAndCount(m.streamDuration); got != 1 {
		t.Fatalf("expected 1 histogram sample, got %d", got)
	}
}

func TestRecordShutdownLabelsByExitCode(t *testing.T) {
	m := New()
	m.RecordShutdown(0)
	m.RecordShutdown(1)

	if got := testutil.ToFloat64(m.shutdownOutcome.WithLabelValues("0")); got != 1 {
		t.Fatalf("expected 1 clean shutdown, got %v", got)
	}
	if got := testutil.ToFloat64(m.shutdownOutcome.WithLabelValues("1")); got != 1 {
		t.Fatalf("expected 1 forced shutdown, got %v", got)
	}
}
