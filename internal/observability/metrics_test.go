package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/healthz", "200", time.Millisecond)
	m.ObserveItem("complete", "", time.Second)
	m.ObserveStage("classify", nil, time.Second)
	m.AddBytesUploaded(10)
	m.SetPoolBusy(2)
	m.IncBackoff()
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("WritePrometheus on nil: %v", err)
	}
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ObserveItem("failed", "rate_limited", 3*time.Second)
	m.ObserveItem("complete", "", 2*time.Second)
	m.ObserveStage("upload", errors.New("x"), 200*time.Millisecond)
	m.AddBytesUploaded(2048)
	m.AddBytesUploaded(-5)

	if got := m.itemsTotal.Value("failed", "rate_limited"); got != 1 {
		t.Fatalf("failed items: %v", got)
	}
	if got := m.bytesUploaded.Value(); got != 2048 {
		t.Fatalf("bytes uploaded: %v", got)
	}
	if got := m.stageLatency.Count("upload", "error"); got != 1 {
		t.Fatalf("stage count: %v", got)
	}

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`ingest_items_total{state="complete",failure_class="none"} 1`,
		`ingest_items_total{state="failed",failure_class="rate_limited"} 1`,
		`ingest_bytes_uploaded_total 2048`,
		`ingest_stage_duration_seconds_bucket{stage="upload",status="error",le="0.25"} 1`,
		`ingest_stage_duration_seconds_count{stage="upload",status="error"} 1`,
		"# TYPE ingest_item_duration_seconds histogram",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q\n%s", want, out)
		}
	}
}

func TestLabelEscaping(t *testing.T) {
	got := labelString([]string{"a", "b"}, []string{`x"y`})
	if got != `{a="x\"y",b="unknown"}` {
		t.Fatalf("labelString: %s", got)
	}
	if withLe("", "1") != `{le="1"}` {
		t.Fatalf("withLe empty")
	}
}
