package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/krisarmstrong/omxconf/pkg/harness"
)

func TestRunStateProgress(t *testing.T) {
	tests := []struct {
		s    RunState
		want float64
	}{
		{RunState{}, 0},
		{RunState{Completed: 1, Total: 4}, 25},
		{RunState{Completed: 4, Total: 4}, 100},
	}
	for _, tc := range tests {
		if got := tc.s.Progress(); got != tc.want {
			t.Errorf("Progress(%d/%d) = %v, expected %v", tc.s.Completed, tc.s.Total, got, tc.want)
		}
	}
}

func TestRunValuesMatchLabels(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := RunState{
		RunID:     "run-1",
		Component: "OMX.CONF.tunnel.test",
		State:     "Running",
		Completed: 2,
		Total:     5,
		Passed:    1,
		Failed:    1,
		StartTime: start,
	}
	values := runValues(s, start.Add(90*time.Second))

	if len(values) != len(runLabels) {
		t.Fatalf("Expected %d values, got %d", len(runLabels), len(values))
	}
	if values[3] != "-" {
		t.Errorf("Expected idle current test as -, got %q", values[3])
	}
	if values[5] != "2 / 5" {
		t.Errorf("Expected completed 2 / 5, got %q", values[5])
	}
	if values[9] != "1m30s" {
		t.Errorf("Expected duration 1m30s, got %q", values[9])
	}

	if got := runValues(RunState{}, start)[9]; got != "-" {
		t.Errorf("Expected - before a run, got %q", got)
	}
}

func TestResultCells(t *testing.T) {
	pass := resultCells(harness.Record{Name: "BufferTest", Passed: true, DurationMS: 12.4})
	if pass[1].Text != "PASS" {
		t.Errorf("Expected PASS, got %q", pass[1].Text)
	}
	if pass[2].Text != "" {
		t.Errorf("Expected no error text, got %q", pass[2].Text)
	}
	if pass[3].Text != "12 ms" {
		t.Errorf("Expected 12 ms, got %q", pass[3].Text)
	}

	fail := resultCells(harness.Record{Name: "FlushTest", CodeName: "OMX_ErrorTimeout"})
	if fail[1].Text != "FAIL" || fail[2].Text != "OMX_ErrorTimeout" {
		t.Errorf("Expected FAIL with code name, got %q %q", fail[1].Text, fail[2].Text)
	}

	detail := resultCells(harness.Record{Name: "FlushTest", CodeName: "OMX_ErrorTimeout", Error: "flush port 1: timeout"})
	if detail[2].Text != "flush port 1: timeout" {
		t.Errorf("Expected error detail to win, got %q", detail[2].Text)
	}
}

func TestProgressText(t *testing.T) {
	tests := []struct {
		pct    float64
		filled int
		suffix string
	}{
		{0, 0, " 0.0%"},
		{50, 25, " 50.0%"},
		{100, 50, " 100.0%"},
		{150, 50, " 150.0%"},
	}
	for _, tc := range tests {
		got := progressText(tc.pct)
		if n := strings.Count(got, "█"); n != tc.filled {
			t.Errorf("progressText(%v): expected %d filled cells, got %d", tc.pct, tc.filled, n)
		}
		if n := strings.Count(got, "█") + strings.Count(got, "░"); n != 50 {
			t.Errorf("progressText(%v): expected 50 cells, got %d", tc.pct, n)
		}
		if !strings.HasSuffix(got, tc.suffix) {
			t.Errorf("progressText(%v) = %q, expected suffix %q", tc.pct, got, tc.suffix)
		}
	}
}
