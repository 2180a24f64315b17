package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRecordWorkers(t *testing.T) {
	mc := NewMetricsCollector()
	mc.Start()
	mc.RecordWorker(2, 300, 30*time.Millisecond)
	mc.RecordWorker(0, 100, 10*time.Millisecond)
	mc.RecordWorker(1, 200, 20*time.Millisecond)
	mc.Stop()

	m := mc.GetMetrics()
	if m.TotalSamples != 600 {
		t.Errorf("TotalSamples = %d, want 600", m.TotalSamples)
	}
	if len(m.Workers) != 3 {
		t.Fatalf("got %d workers", len(m.Workers))
	}
	for i, w := range m.Workers {
		if w.Rank != i {
			t.Errorf("workers not sorted by rank: %+v", m.Workers)
		}
	}
	if m.SlowestWorker != 30*time.Millisecond || m.FastestWorker != 10*time.Millisecond {
		t.Errorf("slowest %v fastest %v", m.SlowestWorker, m.FastestWorker)
	}
	if got := m.Workers[0].SamplesPerSecond; got < 9999 || got > 10001 {
		t.Errorf("rank 0 rate = %v, want 10000", got)
	}
}

func TestSnapshotTracksMemory(t *testing.T) {
	mc := NewMetricsCollector()
	mc.TakeSnapshot()
	mc.TakeSnapshot()

	m := mc.GetMetrics()
	if len(m.MemorySnapshots) != 2 || len(m.GCSnapshots) != 2 {
		t.Fatalf("snapshots: %d memory, %d gc", len(m.MemorySnapshots), len(m.GCSnapshots))
	}
	if m.PeakMemoryUsage == 0 {
		t.Error("expected positive peak memory")
	}
	if m.MaxGoroutines <= 0 {
		t.Error("expected positive goroutine count")
	}
}

func TestExportToJSON(t *testing.T) {
	mc := NewMetricsCollector()
	id := uuid.New()
	mc.SetRunID(id)
	mc.RecordWorker(0, 10, time.Millisecond)
	mc.Stop()

	data, err := mc.ExportToJSON()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["run_id"] != id.String() {
		t.Errorf("run_id = %v, want %s", decoded["run_id"], id)
	}
	if decoded["total_samples"].(float64) != 10 {
		t.Errorf("total_samples = %v", decoded["total_samples"])
	}
}

func TestPrintSummary(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordWorker(0, 42, time.Millisecond)
	mc.Stop()

	var buf bytes.Buffer
	mc.PrintSummary(&buf)
	out := buf.String()
	if !strings.Contains(out, "Total Samples: 42") || !strings.Contains(out, "rank 0") {
		t.Errorf("summary missing fields:\n%s", out)
	}
}
