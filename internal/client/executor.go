package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yourorg/speedbench/internal/parser"
	"github.com/yourorg/speedbench/pkg/types"
)

// RunInput is what a run may send to its backend.
type RunInput struct {
	Source   string
	Artifact string
}

// Executor runs one execution path and returns its metric.
type Executor interface {
	Run(ctx context.Context, mode types.Mode, in RunInput) (types.ExecutionMetric, error)
}

// ExecutionClient calls the single and cluster execution backends over HTTP.
type ExecutionClient struct {
	BaseURL     string
	SinglePath  string
	ClusterPath string
	// Variant "bare" posts no body (the backend runs what it last optimized);
	// "source" posts the code to run with its mode.
	Variant     string
	WorkerCount int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Execute performs the raw request for mode.
func (c *ExecutionClient) Execute(ctx context.Context, mode types.Mode, in RunInput) (types.RunResponse, error) {
	var path string
	var body any
	switch mode {
	case types.ModeSingle:
		path = c.SinglePath
		if c.Variant == "source" {
			body = types.RunRequest{Code: in.Source, Mode: "single"}
		}
	case types.ModeCluster:
		path = c.ClusterPath
		if c.Variant == "source" {
			body = types.RunRequest{Code: in.Artifact, Mode: "cluster_run_only", WorkerCount: c.WorkerCount}
		}
	default:
		return types.RunResponse{}, fmt.Errorf("unknown execution mode %q", mode)
	}

	p := poster{baseURL: c.BaseURL, httpClient: c.HTTPClient, logger: c.Logger}
	var resp types.RunResponse
	if err := p.postJSON(ctx, path, body, &resp); err != nil {
		return types.RunResponse{}, err
	}
	if strings.TrimSpace(resp.Error) != "" {
		return types.RunResponse{}, &ServiceError{StatusCode: http.StatusOK, Message: resp.Error}
	}
	return resp, nil
}

// Run executes mode and converts the reply into a metric.
func (c *ExecutionClient) Run(ctx context.Context, mode types.Mode, in RunInput) (types.ExecutionMetric, error) {
	resp, err := c.Execute(ctx, mode, in)
	if err != nil {
		return types.ExecutionMetric{}, err
	}
	m := ToMetric(resp, mode)
	if c.Logger != nil {
		c.Logger.Debug("execution metric", "mode", mode, "elapsed_seconds", m.ElapsedSeconds, "result", m.ResultSummary)
	}
	return m, nil
}

// ToMetric prefers the structured reply fields and scrapes Output for the rest.
func ToMetric(resp types.RunResponse, mode types.Mode) types.ExecutionMetric {
	m := parser.Parse(resp.Output)
	m.Mode = mode
	if resp.ElapsedSeconds != nil && *resp.ElapsedSeconds > 0 {
		m.ElapsedSeconds = *resp.ElapsedSeconds
	}
	if resp.ResultSummary != nil {
		m.ResultSummary = *resp.ResultSummary
		if strings.TrimSpace(m.ResultSummary) == "" {
			m.ResultSummary = types.NoResult
		}
	}
	if mode == types.ModeCluster {
		m.WorkerCount = resp.WorkerCount
	}
	return m
}
