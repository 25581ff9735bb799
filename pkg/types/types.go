package types

import "time"

// NoResult is the summary placeholder of an absent or unparseable result.
const NoResult = "No Result Found"

// Mode names one execution path.
type Mode string

const (
	ModeSingle  Mode = "single"
	ModeCluster Mode = "cluster"
)

// Valid reports whether m is a known execution path.
func (m Mode) Valid() bool {
	return m == ModeSingle || m == ModeCluster
}

// Phase is the primary state of a session.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseOptimizing Phase = "optimizing"
	PhaseReady      Phase = "ready"
)

// ExecutionMetric is the typed result of one backend run.
type ExecutionMetric struct {
	Mode               Mode    `json:"mode,omitempty" yaml:"mode,omitempty"`
	ResultSummary      string  `json:"result_summary" yaml:"result_summary"`
	ElapsedSeconds     float64 `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	WorkerCount        int     `json:"worker_count,omitempty" yaml:"worker_count,omitempty"`
	ArtifactGeneration uint64  `json:"artifact_generation,omitempty" yaml:"-"`
	Raw                string  `json:"raw,omitempty" yaml:"-"`
}

// EmptyMetric returns the absent metric for mode.
func EmptyMetric(mode Mode) ExecutionMetric {
	return ExecutionMetric{Mode: mode, ResultSummary: NoResult}
}

// Present reports whether the metric carries a usable timing.
func (m ExecutionMetric) Present() bool {
	return m.ElapsedSeconds > 0
}

// BenchmarkComparison is derived from a single and a cluster metric.
type BenchmarkComparison struct {
	SingleSeconds  float64 `json:"single_seconds" yaml:"single_seconds"`
	ClusterSeconds float64 `json:"cluster_seconds" yaml:"cluster_seconds"`
	WorkerCount    int     `json:"worker_count" yaml:"worker_count"`
	Speedup        float64 `json:"speedup" yaml:"speedup"`
	Efficiency     float64 `json:"efficiency" yaml:"efficiency"`
}

// NotificationLevel grades a user-visible notification.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a one-shot user-visible message.
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Action  string            `json:"action"`
	Message string            `json:"message"`
	At      time.Time         `json:"at"`
}

// BenchmarkRecord is one persisted comparison.
type BenchmarkRecord struct {
	ID         string              `json:"id" yaml:"id"`
	Source     string              `json:"source" yaml:"source"`
	Artifact   string              `json:"artifact" yaml:"artifact"`
	Single     ExecutionMetric     `json:"single" yaml:"single"`
	Cluster    ExecutionMetric     `json:"cluster" yaml:"cluster"`
	Comparison BenchmarkComparison `json:"comparison" yaml:"comparison"`
	CreatedAt  time.Time           `json:"created_at" yaml:"created_at"`
}
