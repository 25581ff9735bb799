package parser

import (
	"testing"

	"github.com/yourorg/speedbench/pkg/types"
)

func TestParseScenario(t *testing.T) {
	m := Parse("Time taken: 2.5000 seconds\nResult: 42")
	if m.ElapsedSeconds != 2.5 {
		t.Fatalf("expected 2.5, got %v", m.ElapsedSeconds)
	}
	if m.ResultSummary != "Result: 42" {
		t.Fatalf("unexpected summary %q", m.ResultSummary)
	}
}

func TestParseDefaults(t *testing.T) {
	inputs := []string{
		"",
		"hello world",
		"Time taken: soon",
		"time taken: 1.0 seconds",
		"❌ Error: exit status 1\nOutput: Traceback",
		"Result:42",
	}
	for _, in := range inputs {
		m := Parse(in)
		if m.ElapsedSeconds != 0 {
			t.Fatalf("Parse(%q) elapsed = %v, want 0", in, m.ElapsedSeconds)
		}
		if m.ResultSummary != types.NoResult {
			t.Fatalf("Parse(%q) summary = %q, want %q", in, m.ResultSummary, types.NoResult)
		}
	}
}

func TestParseToleratesSurroundingText(t *testing.T) {
	out := "rank 0 ready\r\nsorting 1000000 items\r\nResult: sorted=True first=0\r\nTime taken: 0.75 seconds (wall)\r\nTime taken: 9.0 seconds\r\n"
	m := Parse(out)
	if m.ElapsedSeconds != 0.75 {
		t.Fatalf("expected first match 0.75, got %v", m.ElapsedSeconds)
	}
	if m.ResultSummary != "Result: sorted=True first=0" {
		t.Fatalf("unexpected summary %q", m.ResultSummary)
	}
	if m.Raw != out {
		t.Fatalf("expected raw output to be kept")
	}
}

func TestElapsedSecondsLenientNumber(t *testing.T) {
	cases := map[string]float64{
		"Time taken: 3 seconds":     3,
		"Time taken: 1.2.3 seconds": 1.2,
		"Time taken: .5 seconds":    0.5,
		"Time taken: . seconds":     0,
		"Time taken: 10. seconds":   10,
	}
	for in, want := range cases {
		if got := ElapsedSeconds(in); got != want {
			t.Fatalf("ElapsedSeconds(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestResultSummaryMidLine(t *testing.T) {
	if got := ResultSummary("final Result: ok"); got != "Result: ok" {
		t.Fatalf("unexpected summary %q", got)
	}
}
