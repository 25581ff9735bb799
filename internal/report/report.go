// Package report renders benchmark records for people and for tools.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/speedbench/pkg/types"
)

// Formats lists the supported output formats.
var Formats = []string{"markdown", "yaml", "json"}

// RenderMarkdown renders a human-readable summary of rec.
func RenderMarkdown(rec *types.BenchmarkRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("record is nil")
	}
	b := &strings.Builder{}
	title := rec.ID
	if title == "" {
		title = "Benchmark"
	}
	fmt.Fprintf(b, "# %s\n\n", title)
	if !rec.CreatedAt.IsZero() {
		fmt.Fprintf(b, "Recorded %s\n\n", rec.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}

	fmt.Fprintln(b, "## Comparison")
	fmt.Fprintln(b)
	fmt.Fprintln(b, "| Path | Elapsed (s) | Result |")
	fmt.Fprintln(b, "|---|---|---|")
	fmt.Fprintf(b, "| Single worker | %.4f | %s |\n", rec.Single.ElapsedSeconds, cell(rec.Single.ResultSummary))
	fmt.Fprintf(b, "| Cluster (%d workers) | %.4f | %s |\n", rec.Comparison.WorkerCount, rec.Cluster.ElapsedSeconds, cell(rec.Cluster.ResultSummary))
	fmt.Fprintln(b)
	fmt.Fprintf(b, "- **Speed-up:** %.2fx\n", rec.Comparison.Speedup)
	fmt.Fprintf(b, "- **Efficiency:** %.1f%%\n", rec.Comparison.Efficiency)

	if rec.Source != "" {
		fmt.Fprintf(b, "\n## Source\n\n```python\n%s\n```\n", strings.TrimRight(rec.Source, "\n"))
	}
	if rec.Artifact != "" {
		fmt.Fprintf(b, "\n## Optimized\n\n```python\n%s\n```\n", strings.TrimRight(rec.Artifact, "\n"))
	}
	return b.String(), nil
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// RenderYAML renders rec as YAML.
func RenderYAML(rec *types.BenchmarkRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("record is nil")
	}
	return yaml.Marshal(rec)
}

// RenderJSON renders rec as indented JSON.
func RenderJSON(rec *types.BenchmarkRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("record is nil")
	}
	return json.MarshalIndent(rec, "", "  ")
}

// Render renders rec in format and returns the matching content type.
func Render(rec *types.BenchmarkRecord, format string) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case "", "markdown", "md":
		s, err := RenderMarkdown(rec)
		return []byte(s), "text/markdown; charset=utf-8", err
	case "yaml", "yml":
		data, err := RenderYAML(rec)
		return data, "application/yaml", err
	case "json":
		data, err := RenderJSON(rec)
		return data, "application/json", err
	default:
		return nil, "", fmt.Errorf("unsupported report format %q", format)
	}
}

// WriteFile renders rec into outputDir as <id>.<ext> and returns the path.
func WriteFile(rec *types.BenchmarkRecord, format, outputDir string) (string, error) {
	data, _, err := Render(rec, format)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}
	name := rec.ID
	if name == "" {
		name = "benchmark"
	}
	path := filepath.Join(outputDir, name+"."+extension(format))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func extension(format string) string {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return "yaml"
	case "json":
		return "json"
	default:
		return "md"
	}
}
