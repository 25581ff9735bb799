package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/speedbench/pkg/types"
)

func sample() *types.BenchmarkRecord {
	return &types.BenchmarkRecord{
		ID:         "bench_20260314_001",
		Source:     "print(1)",
		Artifact:   "# parallel\nprint(1)",
		Single:     types.ExecutionMetric{Mode: types.ModeSingle, ElapsedSeconds: 2.5, ResultSummary: "Result: 42", Raw: "noise"},
		Cluster:    types.ExecutionMetric{Mode: types.ModeCluster, ElapsedSeconds: 0.5, ResultSummary: "Result: 42"},
		Comparison: types.BenchmarkComparison{SingleSeconds: 2.5, ClusterSeconds: 0.5, WorkerCount: 4, Speedup: 5, Efficiency: 125},
		CreatedAt:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestRenderMarkdown(t *testing.T) {
	md, err := RenderMarkdown(sample())
	if err != nil {
		t.Fatalf("RenderMarkdown error: %v", err)
	}
	for _, want := range []string{"# bench_20260314_001", "| Single worker | 2.5000 | Result: 42 |", "Cluster (4 workers)", "**Speed-up:** 5.00x", "**Efficiency:** 125.0%", "# parallel"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
	if _, err := RenderMarkdown(nil); err == nil {
		t.Fatalf("expected error for nil record")
	}
}

func TestRenderYAMLOmitsRawOutput(t *testing.T) {
	data, err := RenderYAML(sample())
	if err != nil {
		t.Fatal(err)
	}
	var out types.BenchmarkRecord
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("invalid yaml: %v", err)
	}
	if out.Comparison.Speedup != 5 || out.Single.ResultSummary != "Result: 42" {
		t.Fatalf("unexpected record %+v", out)
	}
	if strings.Contains(string(data), "noise") {
		t.Fatalf("raw output must not be in yaml")
	}
}

func TestRenderFormats(t *testing.T) {
	for _, format := range Formats {
		data, ct, err := Render(sample(), format)
		if err != nil || len(data) == 0 || ct == "" {
			t.Fatalf("format %s: err=%v ct=%q", format, err, ct)
		}
	}
	data, _, _ := Render(sample(), "json")
	var rec types.BenchmarkRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.Comparison.Efficiency != 125 {
		t.Fatalf("json report not decodable: %v", err)
	}
	if _, _, err := Render(sample(), "pdf"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteFile(sample(), "yaml", dir)
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "bench_20260314_001.yaml") {
		t.Fatalf("unexpected path %s", path)
	}
	if data, err := os.ReadFile(path); err != nil || len(data) == 0 {
		t.Fatalf("report not written: %v", err)
	}
}
